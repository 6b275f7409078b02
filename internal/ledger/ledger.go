// Package ledger records which events a consumer has already applied. The
// dispatcher checks it before running a handler and writes to it only after
// the handler succeeded, which turns at-least-once delivery into
// effectively-once side effects.
package ledger

import (
	"context"
	"time"

	"github.com/sukirti1329/s3-system/internal/shared/events"
)

type Entry struct {
	EventID       string        `json:"eventId"`
	EventType     events.Type   `json:"eventType"`
	SourceService events.Source `json:"sourceService"`
	ProcessedAt   time.Time     `json:"processedAt"`
}

func EntryFor(env events.Envelope, now time.Time) Entry {
	return Entry{
		EventID:       env.ID,
		EventType:     env.Type,
		SourceService: env.SourceService,
		ProcessedAt:   now.UTC(),
	}
}

// Ledger is insert-once. Recording an id that is already present is a no-op
// and not an error.
type Ledger interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, e Entry) error
}
