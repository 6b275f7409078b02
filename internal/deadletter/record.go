package deadletter

import (
	"context"
	"errors"
	"time"

	"github.com/sukirti1329/s3-system/internal/bus"
)

var (
	ErrNotFound     = errors.New("dead letter not found")
	ErrInvalidState = errors.New("dead letter is not in the expected state")
)

type Status string

const (
	StatusQuarantined Status = "quarantined"
	StatusRequeued    Status = "requeued"
	StatusReplaying   Status = "replaying"
	StatusReplayed    Status = "replayed"
)

const (
	ReasonDecodeError   = "decode_error"
	ReasonHandlerFailed = "handler_failed"
)

// Record is a message the dispatcher gave up on. Key and Value are the
// original bytes, so a replay carries the same event id.
type Record struct {
	ID        string `json:"id"`
	Group     string `json:"consumer_group"`
	Topic     string `json:"topic"`
	Partition int    `json:"partition"`
	Offset    int64  `json:"offset"`
	Key       []byte `json:"key"`
	Value     []byte `json:"value"`

	EventID   string `json:"event_id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Reason    string `json:"reason"`
	LastError string `json:"last_error,omitempty"`
	Attempts  int    `json:"attempts"`

	Status              Status     `json:"status"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
	ReplayedAt          *time.Time `json:"replayed_at,omitempty"`
}

// FromMessage captures msg for quarantine.
func FromMessage(group string, msg bus.Message) Record {
	return Record{
		Group:     group,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       append([]byte(nil), msg.Key...),
		Value:     append([]byte(nil), msg.Value...),
	}
}

type Filter struct {
	Status Status
	Limit  int
}

// Store lifecycle: quarantined -> requeued (operator) -> replaying (relay
// claim) -> replayed, or back to requeued when a replay fails or stalls.
type Store interface {
	Quarantine(ctx context.Context, r Record) (Record, error)
	Get(ctx context.Context, id string) (Record, error)
	List(ctx context.Context, f Filter) ([]Record, error)
	Requeue(ctx context.Context, id string) error
	ClaimRequeued(ctx context.Context, limit int) ([]Record, error)
	MarkReplayed(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	ResetStuck(ctx context.Context, processingTimeout time.Duration) (int64, error)
}
