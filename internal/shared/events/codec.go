package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

var ErrUnknownEventType = errors.New("unknown event type")

// DecodeError reports an envelope that cannot be trusted. EventID is filled in
// when the envelope header was readable.
type DecodeError struct {
	EventID string
	Reason  string
	Err     error
}

func (e *DecodeError) Error() string {
	msg := "decode envelope: " + e.Reason
	if e.EventID != "" {
		msg += " (event_id=" + e.EventID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

type wireEnvelope struct {
	EventID       string          `json:"eventId"`
	EventType     Type            `json:"eventType"`
	SourceService Source          `json:"sourceService"`
	OwnerID       string          `json:"ownerId"`
	OccurredAt    wireTime        `json:"occurredAt"`
	Payload       json.RawMessage `json:"payload"`
}

// epochMillisFloor separates epoch seconds from epoch milliseconds: 1e12
// seconds is tens of millennia away, 1e12 millis is September 2001.
const epochMillisFloor = 1e12

// wireTime writes RFC 3339 and reads either RFC 3339 or a JSON number of
// epoch seconds or milliseconds.
type wireTime time.Time

func (t wireTime) MarshalJSON() ([]byte, error) {
	return time.Time(t).MarshalJSON()
}

func (t *wireTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v time.Time
		if err := v.UnmarshalJSON(b); err != nil {
			return err
		}
		*t = wireTime(v)
		return nil
	}

	n, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("occurredAt: want RFC 3339 string or epoch number, got %s", b)
	}
	if n >= epochMillisFloor {
		*t = wireTime(time.UnixMilli(int64(n)).UTC())
		return nil
	}
	sec, frac := math.Modf(n)
	*t = wireTime(time.Unix(int64(sec), int64(frac*1e9)).UTC())
	return nil
}

func Encode(e Envelope) ([]byte, error) {
	if e.ID == "" {
		return nil, errors.New("encode envelope: empty event id")
	}
	if e.Payload == nil {
		return nil, fmt.Errorf("encode envelope %s: nil payload", e.ID)
	}
	if e.Type != e.Payload.EventType() {
		return nil, fmt.Errorf("encode envelope %s: type %s does not match payload %s", e.ID, e.Type, e.Payload.EventType())
	}

	body, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode envelope %s payload: %w", e.ID, err)
	}

	return json.Marshal(wireEnvelope{
		EventID:       e.ID,
		EventType:     e.Type,
		SourceService: e.SourceService,
		OwnerID:       e.OwnerID,
		OccurredAt:    wireTime(e.OccurredAt.UTC()),
		Payload:       body,
	})
}

// Decode parses one envelope. It never coerces: a malformed envelope is a
// *DecodeError, an unrecognized type is ErrUnknownEventType. In the latter case
// the returned envelope still carries the header fields for logging.
func Decode(b []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(b, &w); err != nil {
		return Envelope{}, &DecodeError{Reason: "malformed json", Err: err}
	}
	if w.EventID == "" {
		return Envelope{}, &DecodeError{Reason: "missing eventId"}
	}
	if w.EventType == "" {
		return Envelope{}, &DecodeError{EventID: w.EventID, Reason: "missing eventType"}
	}

	env := Envelope{
		ID:            w.EventID,
		Type:          w.EventType,
		SourceService: w.SourceService,
		OwnerID:       w.OwnerID,
		OccurredAt:    time.Time(w.OccurredAt),
	}

	p, err := decodePayload(w.EventType, w.Payload)
	if err != nil {
		if errors.Is(err, ErrUnknownEventType) {
			return env, err
		}
		return env, &DecodeError{EventID: w.EventID, Reason: "malformed payload", Err: err}
	}
	if p.PartitionKey() == "" {
		return env, &DecodeError{EventID: w.EventID, Reason: "payload has no entity id"}
	}

	env.Payload = p
	return env, nil
}

func decodePayload(t Type, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		if !isKnown(t) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, t)
		}
		return nil, errors.New("empty payload")
	}

	switch t {
	case BucketUpdatedType:
		return unmarshalAs[BucketUpdated](raw)
	case BucketDeletedType:
		return unmarshalAs[BucketDeleted](raw)
	case ObjectCreatedType:
		return unmarshalAs[ObjectCreated](raw)
	case ObjectUpdatedType:
		return unmarshalAs[ObjectUpdated](raw)
	case ObjectDeletedType:
		return unmarshalAs[ObjectDeleted](raw)
	case MetadataCreatedType:
		return unmarshalAs[MetadataCreated](raw)
	case MetadataUpdatedType:
		return unmarshalAs[MetadataUpdated](raw)
	case MetadataDeletedType:
		return unmarshalAs[MetadataDeleted](raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, t)
	}
}

func unmarshalAs[T Payload](raw json.RawMessage) (Payload, error) {
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}

func isKnown(t Type) bool {
	switch t {
	case BucketUpdatedType, BucketDeletedType,
		ObjectCreatedType, ObjectUpdatedType, ObjectDeletedType,
		MetadataCreatedType, MetadataUpdatedType, MetadataDeletedType:
		return true
	}
	return false
}
