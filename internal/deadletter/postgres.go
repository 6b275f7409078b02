package deadletter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgInvalidText is invalid_text_representation, raised for a malformed uuid.
const pgInvalidText = "22P02"

// notFoundIfMalformed maps a malformed record id to ErrNotFound: no record
// can have it.
func notFoundIfMalformed(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgInvalidText {
		return ErrNotFound
	}
	return err
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const recordColumns = `id, consumer_group, topic, partition, msg_offset, msg_key, msg_value,
       event_id, event_type, reason, last_error, attempts, status,
       created_at, updated_at, processing_started_at, replayed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		r         Record
		status    string
		eventID   sql.NullString
		eventType sql.NullString
		lastError sql.NullString
		started   sql.NullTime
		replayed  sql.NullTime
	)
	if err := row.Scan(
		&r.ID, &r.Group, &r.Topic, &r.Partition, &r.Offset, &r.Key, &r.Value,
		&eventID, &eventType, &r.Reason, &lastError, &r.Attempts, &status,
		&r.CreatedAt, &r.UpdatedAt, &started, &replayed,
	); err != nil {
		return Record{}, err
	}
	r.Status = Status(status)
	r.EventID = eventID.String
	r.EventType = eventType.String
	r.LastError = lastError.String
	if started.Valid {
		t := started.Time
		r.ProcessingStartedAt = &t
	}
	if replayed.Valid {
		t := replayed.Time
		r.ReplayedAt = &t
	}
	return r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *PostgresStore) Quarantine(ctx context.Context, r Record) (Record, error) {
	const q = `
INSERT INTO dead_letters (id, consumer_group, topic, partition, msg_offset, msg_key, msg_value,
                          event_id, event_type, reason, last_error, attempts, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,'quarantined')
RETURNING ` + recordColumns + `;`

	r.ID = uuid.NewString()
	row := s.db.QueryRowContext(ctx, q,
		r.ID, r.Group, r.Topic, r.Partition, r.Offset, r.Key, r.Value,
		nullString(r.EventID), nullString(r.EventType), r.Reason, nullString(r.LastError), r.Attempts,
	)
	out, err := scanRecord(row)
	if err != nil {
		return Record{}, fmt.Errorf("quarantine %s/%d@%d: %w", r.Topic, r.Partition, r.Offset, err)
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	if uuid.Validate(id) != nil {
		return Record{}, ErrNotFound
	}
	q := `SELECT ` + recordColumns + ` FROM dead_letters WHERE id = $1;`
	r, err := scanRecord(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, notFoundIfMalformed(err)
	}
	return r, nil
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]Record, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + recordColumns + `
FROM dead_letters
WHERE ($1 = '' OR status = $1)
ORDER BY created_at, id
LIMIT $2;`

	rows, err := s.db.QueryContext(ctx, q, string(f.Status), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collect(rows)
}

func collect(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) Requeue(ctx context.Context, id string) error {
	const q = `
UPDATE dead_letters
SET status = 'requeued', updated_at = now()
WHERE id = $1 AND status = 'quarantined';
`
	return s.transition(ctx, id, q, id)
}

func (s *PostgresStore) ClaimRequeued(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
WITH cte AS (
  SELECT id
  FROM dead_letters
  WHERE status = 'requeued'
  ORDER BY created_at
  LIMIT $1
  FOR UPDATE SKIP LOCKED
)
UPDATE dead_letters d
SET status = 'replaying',
    processing_started_at = now(),
    attempts = d.attempts + 1,
    updated_at = now()
FROM cte
WHERE d.id = cte.id
RETURNING d.id, d.consumer_group, d.topic, d.partition, d.msg_offset, d.msg_key, d.msg_value,
          d.event_id, d.event_type, d.reason, d.last_error, d.attempts, d.status,
          d.created_at, d.updated_at, d.processing_started_at, d.replayed_at;`

	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collect(rows)
}

func (s *PostgresStore) MarkReplayed(ctx context.Context, id string) error {
	const q = `
UPDATE dead_letters
SET status = 'replayed',
    replayed_at = now(),
    processing_started_at = NULL,
    last_error = NULL,
    updated_at = now()
WHERE id = $1 AND status = 'replaying';
`
	return s.transition(ctx, id, q, id)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id string, errMsg string) error {
	const q = `
UPDATE dead_letters
SET status = 'requeued',
    processing_started_at = NULL,
    last_error = $2,
    updated_at = now()
WHERE id = $1 AND status = 'replaying';
`
	return s.transition(ctx, id, q, id, errMsg)
}

func (s *PostgresStore) ResetStuck(ctx context.Context, processingTimeout time.Duration) (int64, error) {
	if processingTimeout <= 0 {
		processingTimeout = 30 * time.Second
	}
	const q = `
UPDATE dead_letters
SET status = 'requeued',
    processing_started_at = NULL,
    last_error = 'processing timeout',
    updated_at = now()
WHERE status = 'replaying'
  AND processing_started_at IS NOT NULL
  AND processing_started_at < now() - $1::interval;
`
	res, err := s.db.ExecContext(ctx, q, fmt.Sprintf("%fs", processingTimeout.Seconds()))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PostgresStore) transition(ctx context.Context, id, q string, args ...any) error {
	if uuid.Validate(id) != nil {
		return ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return notFoundIfMalformed(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return ErrInvalidState
}
