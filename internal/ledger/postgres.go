package ledger

import (
	"context"
	"database/sql"
	"fmt"
)

// Postgres keeps the ledger in processed_events, next to the service's own
// tables.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) Seen(ctx context.Context, eventID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1);`

	var ok bool
	if err := p.db.QueryRowContext(ctx, q, eventID).Scan(&ok); err != nil {
		return false, fmt.Errorf("ledger seen %s: %w", eventID, err)
	}
	return ok, nil
}

func (p *Postgres) Record(ctx context.Context, e Entry) error {
	// Two consumers racing on one id both succeed; the first row wins.
	const q = `
INSERT INTO processed_events (event_id, event_type, source_service, processed_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (event_id) DO NOTHING;
`
	if _, err := p.db.ExecContext(ctx, q, e.EventID, string(e.EventType), string(e.SourceService), e.ProcessedAt); err != nil {
		return fmt.Errorf("ledger record %s: %w", e.EventID, err)
	}
	return nil
}
