package deadletter_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sukirti1329/s3-system/internal/bus"
	"github.com/sukirti1329/s3-system/internal/deadletter"
	"github.com/sukirti1329/s3-system/internal/shared/db/dbtest"
	"github.com/sukirti1329/s3-system/internal/shared/logger"
)

func quarantine(t *testing.T, s deadletter.Store, value string) deadletter.Record {
	t.Helper()
	rec := deadletter.FromMessage("metadata-service", bus.Message{
		Topic: "s3.object.events", Partition: 2, Offset: 41,
		Key: []byte("obj-1"), Value: []byte(value),
	})
	rec.Reason = deadletter.ReasonHandlerFailed
	rec.LastError = "db down"
	rec.Attempts = 5

	out, err := s.Quarantine(context.Background(), rec)
	require.NoError(t, err)
	return out
}

func lifecycle(t *testing.T, s deadletter.Store) {
	t.Helper()
	ctx := context.Background()

	rec := quarantine(t, s, "v1")
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, deadletter.StatusQuarantined, rec.Status)

	// not requeued yet, nothing to claim
	claimed, err := s.ClaimRequeued(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	require.NoError(t, s.Requeue(ctx, rec.ID))
	assert.ErrorIs(t, s.Requeue(ctx, rec.ID), deadletter.ErrInvalidState)
	assert.ErrorIs(t, s.Requeue(ctx, "missing"), deadletter.ErrNotFound)
	assert.ErrorIs(t, s.Requeue(ctx, uuid.NewString()), deadletter.ErrNotFound)
	_, err = s.Get(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, deadletter.ErrNotFound)

	claimed, err = s.ClaimRequeued(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, deadletter.StatusReplaying, claimed[0].Status)
	assert.Equal(t, 6, claimed[0].Attempts)

	require.NoError(t, s.MarkReplayed(ctx, rec.ID))
	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, deadletter.StatusReplayed, got.Status)
	assert.NotNil(t, got.ReplayedAt)

	list, err := s.List(ctx, deadletter.Filter{Status: deadletter.StatusQuarantined})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMemoryLifecycle(t *testing.T) {
	lifecycle(t, deadletter.NewMemoryStore())
}

func TestPostgresLifecycle(t *testing.T) {
	lifecycle(t, deadletter.NewPostgresStore(dbtest.Open(t)))
}

func TestMemoryResetStuck(t *testing.T) {
	resetStuck(t, deadletter.NewMemoryStore())
}

func TestPostgresResetStuck(t *testing.T) {
	resetStuck(t, deadletter.NewPostgresStore(dbtest.Open(t)))
}

// A typo'd id on the command line must read as "no such record", not as a
// driver error. No connection is needed to reject it.
func TestPostgresMalformedIDIsNotFound(t *testing.T) {
	pool, err := sql.Open("pgx", "postgres://nobody@127.0.0.1:1/none?connect_timeout=1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	s := deadletter.NewPostgresStore(pool)
	ctx := context.Background()

	_, err = s.Get(ctx, "5f1c")
	assert.ErrorIs(t, err, deadletter.ErrNotFound)
	assert.ErrorIs(t, s.Requeue(ctx, "5f1c"), deadletter.ErrNotFound)
	assert.ErrorIs(t, s.MarkReplayed(ctx, "5f1c"), deadletter.ErrNotFound)
}

func resetStuck(t *testing.T, s deadletter.Store) {
	t.Helper()
	ctx := context.Background()
	rec := quarantine(t, s, "v1")
	require.NoError(t, s.Requeue(ctx, rec.ID))
	_, err := s.ClaimRequeued(ctx, 1)
	require.NoError(t, err)

	n, err := s.ResetStuck(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	time.Sleep(20 * time.Millisecond)
	n, err = s.ResetStuck(ctx, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, _ := s.Get(ctx, rec.ID)
	assert.Equal(t, deadletter.StatusRequeued, got.Status)
	assert.Equal(t, "processing timeout", got.LastError)
}

type flakySink struct {
	fail int
	b    *bus.Memory
}

func (f *flakySink) Publish(ctx context.Context, topic string, key, value []byte) error {
	if f.fail > 0 {
		f.fail--
		return errors.New("broker unavailable")
	}
	return f.b.Publish(ctx, topic, key, value)
}

func TestRelayRepublishesOriginalBytes(t *testing.T) {
	ctx := context.Background()
	store := deadletter.NewMemoryStore()
	b := bus.NewMemory(4)
	sink := &flakySink{fail: 1, b: b}
	reg := prometheus.NewRegistry()

	relay := &deadletter.Relay{
		Store:     store,
		Sink:      sink,
		Log:       logger.Discard(),
		Metrics:   deadletter.NewMetrics(reg),
		BatchSize: 10,
	}

	rec := quarantine(t, store, `{"eventId":"e1"}`)
	require.NoError(t, store.Requeue(ctx, rec.ID))

	// first attempt fails and goes back to requeued
	assert.Equal(t, 0, relay.Tick(ctx))
	got, _ := store.Get(ctx, rec.ID)
	assert.Equal(t, deadletter.StatusRequeued, got.Status)
	assert.Equal(t, "broker unavailable", got.LastError)

	assert.Equal(t, 1, relay.Tick(ctx))
	got, _ = store.Get(ctx, rec.ID)
	assert.Equal(t, deadletter.StatusReplayed, got.Status)

	msgs := b.Messages("s3.object.events")
	require.Len(t, msgs, 1)
	assert.Equal(t, "obj-1", string(msgs[0].Key))
	assert.Equal(t, `{"eventId":"e1"}`, string(msgs[0].Value))

	assert.Equal(t, 1.0, testutil.ToFloat64(relay.Metrics.ReplayedTotal.WithLabelValues("s3.object.events")))
	assert.Equal(t, 1.0, testutil.ToFloat64(relay.Metrics.FailedTotal.WithLabelValues("s3.object.events")))
}

func TestRelayRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	relay := &deadletter.Relay{
		Store:        deadletter.NewMemoryStore(),
		Sink:         bus.NewMemory(1),
		Log:          logger.Discard(),
		PollInterval: time.Millisecond,
	}

	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
