package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sukirti1329/s3-system/internal/bus"
	"github.com/sukirti1329/s3-system/internal/shared/config"
	"github.com/sukirti1329/s3-system/internal/shared/events"
	"github.com/sukirti1329/s3-system/internal/shared/logger"
)

var (
	ErrMissingEventID = errors.New("publish: envelope has no event id")
	ErrPartitionKey   = errors.New("publish: partition key does not match payload entity id")
	ErrUnknownTopic   = errors.New("publish: unknown topic key")
)

// DeliveryError means the envelope was valid but the bus did not take it.
type DeliveryError struct {
	Topic   string
	EventID string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("publish %s to %s: %v", e.EventID, e.Topic, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

type Publisher struct {
	sink   bus.Sink
	topics config.Topics
	log    *slog.Logger
}

func New(sink bus.Sink, topics config.Topics, log *slog.Logger) *Publisher {
	return &Publisher{sink: sink, topics: topics, log: log}
}

// Publish sends env to the topic registered under topicKey, keyed by
// partitionKey. It is called after the producer's local commit and never
// rolls that commit back; the returned error is for logging and metrics.
func (p *Publisher) Publish(ctx context.Context, topicKey, partitionKey string, env events.Envelope) error {
	if env.ID == "" {
		return ErrMissingEventID
	}
	if partitionKey == "" || partitionKey != env.PartitionKey() {
		return fmt.Errorf("%w: key %q, entity %q", ErrPartitionKey, partitionKey, env.PartitionKey())
	}
	topic, ok := p.topics.Resolve(topicKey)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTopic, topicKey)
	}

	b, err := events.Encode(env)
	if err != nil {
		return err
	}

	log := logger.FromContext(ctx, p.log)
	if err := p.sink.Publish(ctx, topic, []byte(partitionKey), b); err != nil {
		log.Error("event_publish_failed",
			slog.String("event_id", env.ID),
			slog.String("event_type", string(env.Type)),
			slog.String("topic", topic),
			slog.String("err", err.Error()),
		)
		return &DeliveryError{Topic: topic, EventID: env.ID, Err: err}
	}

	log.Info("event_published",
		slog.String("event_id", env.ID),
		slog.String("event_type", string(env.Type)),
		slog.String("topic", topic),
		slog.String("key", partitionKey),
	)
	return nil
}
