package ledger_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sukirti1329/s3-system/internal/ledger"
	"github.com/sukirti1329/s3-system/internal/shared/db/dbtest"
	"github.com/sukirti1329/s3-system/internal/shared/events"
)

func exercise(t *testing.T, l ledger.Ledger) {
	t.Helper()
	ctx := context.Background()

	env := events.New(events.ObjectService, "u1", events.ObjectDeleted{ObjectID: "o1", BucketName: "b"})

	seen, err := l.Seen(ctx, env.ID)
	require.NoError(t, err)
	assert.False(t, seen)

	first := ledger.EntryFor(env, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, l.Record(ctx, first))
	// second insert is a harmless no-op
	require.NoError(t, l.Record(ctx, ledger.EntryFor(env, time.Now())))

	seen, err = l.Seen(ctx, env.ID)
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = l.Seen(ctx, "other")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestMemoryLedger(t *testing.T) {
	l := ledger.NewMemory()
	exercise(t, l)
	assert.Equal(t, 1, l.Len())
}

func TestPostgresLedger(t *testing.T) {
	exercise(t, ledger.NewPostgres(dbtest.Open(t)))
}

func TestMemoryLedgerKeepsFirstEntry(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()
	first := ledger.Entry{EventID: "e1", EventType: events.ObjectCreatedType, ProcessedAt: time.Unix(1, 0)}
	require.NoError(t, l.Record(ctx, first))
	require.NoError(t, l.Record(ctx, ledger.Entry{EventID: "e1", EventType: events.ObjectDeletedType}))

	got, ok := l.Get("e1")
	require.True(t, ok)
	assert.Equal(t, events.ObjectCreatedType, got.EventType)
}

func TestBoltLedgerSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	l, err := ledger.OpenBolt(path)
	require.NoError(t, err)
	exercise(t, l)

	env := events.New(events.BucketService, "u1", events.BucketDeleted{BucketName: "b"})
	require.NoError(t, l.Record(context.Background(), ledger.EntryFor(env, time.Now())))
	require.NoError(t, l.Close())

	l, err = ledger.OpenBolt(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	got, ok, err := l.Get(env.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, events.BucketDeletedType, got.EventType)
	assert.Equal(t, events.BucketService, got.SourceService)
}

func TestBoltLedgerRespectsContext(t *testing.T) {
	l, err := ledger.OpenBolt(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Seen(ctx, "e1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, l.Record(ctx, ledger.Entry{EventID: "e1"}), context.Canceled)
}
