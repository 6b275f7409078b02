package metadata_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sukirti1329/s3-system/internal/bus"
	"github.com/sukirti1329/s3-system/internal/deadletter"
	"github.com/sukirti1329/s3-system/internal/dispatch"
	"github.com/sukirti1329/s3-system/internal/ledger"
	"github.com/sukirti1329/s3-system/internal/metadata"
	"github.com/sukirti1329/s3-system/internal/shared/events"
	"github.com/sukirti1329/s3-system/internal/shared/logger"
)

type recordingNotifier struct {
	mu   sync.Mutex
	envs []events.Envelope
	fail error
}

func (n *recordingNotifier) Publish(_ context.Context, _ string, _ string, env events.Envelope) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.envs = append(n.envs, env)
	return nil
}

func (n *recordingNotifier) types() []events.Type {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]events.Type, 0, len(n.envs))
	for _, e := range n.envs {
		out = append(out, e.Type)
	}
	return out
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	n.envs = nil
	n.mu.Unlock()
}

type harness struct {
	svc    *metadata.Service
	store  *metadata.InMemoryStore
	notes  *recordingNotifier
	d      *dispatch.Dispatcher
	ledger *ledger.Memory
	dl     *deadletter.MemoryStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:  metadata.NewInMemoryStore(),
		notes:  &recordingNotifier{},
		ledger: ledger.NewMemory(),
		dl:     deadletter.NewMemoryStore(),
	}
	h.svc = metadata.NewService(h.store, h.notes, logger.Discard())

	d, err := dispatch.New(dispatch.Config{
		Service:      "metadata-service",
		MaxAttempts:  2,
		RetryInitial: time.Millisecond,
		RetryMax:     time.Millisecond,
	}, h.svc.Routes(), h.ledger, h.dl, dispatch.NewMetrics(prometheus.NewRegistry()), logger.Discard())
	require.NoError(t, err)
	h.d = d
	return h
}

// deliver runs env through the dispatcher the way the consumer would.
func (h *harness) deliver(t *testing.T, env events.Envelope) dispatch.Outcome {
	t.Helper()
	raw, err := events.Encode(env)
	require.NoError(t, err)
	out, err := h.d.Handle(context.Background(), bus.Message{
		Topic: "s3.object.events",
		Key:   []byte(env.PartitionKey()),
		Value: raw,
	})
	require.NoError(t, err)
	return out
}

func boolPtr(b bool) *bool { return &b }

func strPtr(s string) *string { return &s }

// tagsPtr never yields a nil slice, which would encode as null and read back
// as "unchanged".
func tagsPtr(t ...string) *[]string {
	out := append([]string{}, t...)
	return &out
}

func created(objectID, bucket string) events.Envelope {
	return events.New(events.ObjectService, "u1", events.ObjectCreated{
		ObjectID:    objectID,
		BucketName:  bucket,
		ObjectKey:   objectID + ".txt",
		Size:        10,
		Checksum:    "c1",
		Tags:        []string{"b", "a", "a"},
		AccessLevel: "public_read",
	})
}

func updated(objectID string) events.Envelope {
	return events.New(events.ObjectService, "u1", events.ObjectUpdated{
		ObjectID:   objectID,
		BucketName: "b1",
		Checksum:   "c2",
	})
}

func bucketUpdated(bucket string, versioning bool) events.Envelope {
	return events.New(events.BucketService, "u1", events.BucketUpdated{BucketName: bucket, VersioningEnabled: versioning})
}

func TestObjectCreatedBuildsAggregateAndFirstVersion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	assert.Equal(t, dispatch.OutcomeApplied, h.deliver(t, created("o1", "b1")))

	md, err := h.svc.GetMetadata(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "u1", md.OwnerID)
	assert.Equal(t, metadata.PublicRead, md.AccessLevel)
	assert.Equal(t, []string{"a", "b"}, md.Tags)
	assert.Equal(t, 1, md.ActiveVersion)
	assert.True(t, md.VersioningEnabled)

	v, err := h.svc.ActiveVersion(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 1, v.VersionNumber)
	assert.Equal(t, "c1", v.Checksum)

	assert.Equal(t, []events.Type{events.MetadataCreatedType}, h.notes.types())
}

func TestReplayedObjectCreatedIsAppliedOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	env := created("o1", "b1")

	assert.Equal(t, dispatch.OutcomeApplied, h.deliver(t, env))
	assert.Equal(t, dispatch.OutcomeDuplicate, h.deliver(t, env))

	// same object under a new event id is a no-op in the handler itself
	again := env
	again.ID = "another-id"
	assert.Equal(t, dispatch.OutcomeApplied, h.deliver(t, again))

	vs, err := h.svc.ListVersions(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, vs, 1)
	assert.Len(t, h.notes.types(), 1)
	assert.Equal(t, 2, h.ledger.Len())
}

func TestTwoUpdatesAddVersionsAndRollbackRestores(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.deliver(t, created("o1", "b1"))
	h.deliver(t, updated("o1"))
	h.deliver(t, updated("o1"))

	vs, err := h.svc.ListVersions(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2, 1}, numbers(vs))
	assert.Equal(t, []bool{true, false, false}, actives(vs))

	md, _ := h.svc.GetMetadata(ctx, "o1")
	assert.Equal(t, 3, md.ActiveVersion)

	v, err := h.svc.Rollback(ctx, "o1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, v.VersionNumber)

	md, _ = h.svc.GetMetadata(ctx, "o1")
	assert.Equal(t, 2, md.ActiveVersion)
	active, _ := h.svc.ActiveVersion(ctx, "o1")
	assert.Equal(t, 2, active.VersionNumber)
	vs, _ = h.svc.ListVersions(ctx, "o1")
	assert.Len(t, vs, 3)

	_, err = h.svc.Rollback(ctx, "o1", 7)
	require.ErrorIs(t, err, metadata.ErrRollbackTargetNotFound)
}

func TestObjectUpdatedAppliesOnlyGivenFields(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.deliver(t, created("o1", "b1"))

	env := events.New(events.ObjectService, "u1", events.ObjectUpdated{
		ObjectID:    "o1",
		BucketName:  "b1",
		Description: strPtr("new"),
		Tags:        tagsPtr(),
		AccessLevel: strPtr("PRIVATE"),
	})
	assert.Equal(t, dispatch.OutcomeApplied, h.deliver(t, env))

	md, err := h.svc.GetMetadata(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "new", md.Description)
	assert.Equal(t, "o1.txt", md.ObjectKey)
	assert.Empty(t, md.Tags)
	assert.Equal(t, metadata.Private, md.AccessLevel)
}

func TestObjectUpdatedWithoutVersioningKeepsActiveVersion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	env := events.New(events.ObjectService, "u1", events.ObjectCreated{
		ObjectID: "o1", BucketName: "b1", ObjectKey: "k", VersionEnabled: boolPtr(false),
	})
	h.deliver(t, env)
	h.deliver(t, updated("o1"))

	vs, err := h.svc.ListVersions(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, numbers(vs))
}

func TestObjectCreatedInheritsBucketVersioning(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.deliver(t, bucketUpdated("b1", false))
	h.deliver(t, created("o1", "b1"))

	md, err := h.svc.GetMetadata(ctx, "o1")
	require.NoError(t, err)
	assert.False(t, md.VersioningEnabled)
}

func TestMissingAggregateIsAcknowledged(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, dispatch.OutcomeMissing, h.deliver(t, updated("ghost")))
	assert.Equal(t, dispatch.OutcomeMissing, h.deliver(t,
		events.New(events.ObjectService, "u1", events.ObjectDeleted{ObjectID: "ghost", BucketName: "b1"})))

	assert.Equal(t, 2, h.ledger.Len())
	assert.Empty(t, h.notes.types())
}

func TestInvalidAccessLevelIsQuarantined(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	env := events.New(events.ObjectService, "u1", events.ObjectCreated{
		ObjectID: "o1", BucketName: "b1", ObjectKey: "k", AccessLevel: "world_writable",
	})
	assert.Equal(t, dispatch.OutcomeQuarantined, h.deliver(t, env))

	recs, err := h.dl.List(ctx, deadletter.Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, env.ID, recs[0].EventID)
	assert.Equal(t, 1, recs[0].Attempts)

	_, err = h.svc.GetMetadata(ctx, "o1")
	assert.ErrorIs(t, err, metadata.ErrNotFound)
}

func TestObjectDeletedRemovesVersions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.deliver(t, created("o1", "b1"))
	h.deliver(t, updated("o1"))

	assert.Equal(t, dispatch.OutcomeApplied, h.deliver(t,
		events.New(events.ObjectService, "u1", events.ObjectDeleted{ObjectID: "o1", BucketName: "b1"})))

	_, err := h.svc.GetMetadata(ctx, "o1")
	assert.ErrorIs(t, err, metadata.ErrNotFound)
	_, err = h.svc.ListVersions(ctx, "o1")
	assert.ErrorIs(t, err, metadata.ErrNotFound)
	_, err = h.svc.ActiveVersion(ctx, "o1")
	assert.ErrorIs(t, err, metadata.ErrNotFound)
}

func TestBucketCascade(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.deliver(t, created("o1", "b1"))
	h.deliver(t, created("o2", "b1"))
	h.deliver(t, created("o3", "b2"))
	other := events.New(events.ObjectService, "u2", events.ObjectCreated{ObjectID: "o4", BucketName: "b1", ObjectKey: "k"})
	h.deliver(t, other)
	h.notes.reset()

	assert.Equal(t, dispatch.OutcomeApplied, h.deliver(t, bucketUpdated("b1", false)))

	for id, want := range map[string]bool{"o1": false, "o2": false, "o3": true, "o4": true} {
		md, err := h.svc.GetMetadata(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, md.VersioningEnabled, id)
	}
	assert.Equal(t, []events.Type{events.MetadataUpdatedType, events.MetadataUpdatedType}, h.notes.types())

	bs, err := h.store.GetBucketSettings(ctx, "b1", "u1")
	require.NoError(t, err)
	assert.False(t, bs.VersioningEnabled)

	t.Run("same setting again is suppressed", func(t *testing.T) {
		h.notes.reset()
		assert.Equal(t, dispatch.OutcomeApplied, h.deliver(t, bucketUpdated("b1", false)))
		assert.Empty(t, h.notes.types())
	})

	t.Run("updates after cascade do not add versions", func(t *testing.T) {
		h.deliver(t, updated("o1"))
		vs, err := h.svc.ListVersions(ctx, "o1")
		require.NoError(t, err)
		assert.Len(t, vs, 1)
	})
}

func TestBucketDeletedRemovesOwnersObjects(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.deliver(t, bucketUpdated("b1", true))
	h.deliver(t, created("o1", "b1"))
	h.deliver(t, created("o2", "b1"))
	h.deliver(t, created("o3", "b2"))
	h.notes.reset()

	env := events.New(events.BucketService, "u1", events.BucketDeleted{BucketName: "b1"})
	assert.Equal(t, dispatch.OutcomeApplied, h.deliver(t, env))

	for _, id := range []string{"o1", "o2"} {
		_, err := h.svc.GetMetadata(ctx, id)
		assert.ErrorIs(t, err, metadata.ErrNotFound, id)
	}
	_, err := h.svc.GetMetadata(ctx, "o3")
	assert.NoError(t, err)
	_, err = h.store.GetBucketSettings(ctx, "b1", "u1")
	assert.ErrorIs(t, err, metadata.ErrNotFound)
	assert.Equal(t, []events.Type{events.MetadataDeletedType, events.MetadataDeletedType}, h.notes.types())
}

// Bucket names are only unique per owner, so one owner's bucket events must
// not leak into another owner's bucket of the same name.
func TestBucketProjectionIsPerOwner(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.deliver(t, events.New(events.BucketService, "u1", events.BucketUpdated{BucketName: "b1", VersioningEnabled: false}))
	h.deliver(t, events.New(events.BucketService, "u2", events.BucketUpdated{BucketName: "b1", VersioningEnabled: true}))
	h.deliver(t, created("o1", "b1"))

	md, err := h.svc.GetMetadata(ctx, "o1")
	require.NoError(t, err)
	assert.False(t, md.VersioningEnabled, "u1's object follows u1's bucket")

	h.deliver(t, updated("o1"))
	vs, err := h.svc.ListVersions(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, vs, 1)

	h.deliver(t, events.New(events.BucketService, "u2", events.BucketDeleted{BucketName: "b1"}))

	bs, err := h.store.GetBucketSettings(ctx, "b1", "u1")
	require.NoError(t, err)
	assert.False(t, bs.VersioningEnabled)
	_, err = h.store.GetBucketSettings(ctx, "b1", "u2")
	assert.ErrorIs(t, err, metadata.ErrNotFound)
	_, err = h.svc.GetMetadata(ctx, "o1")
	assert.NoError(t, err)
}

func TestNotifyFailureDoesNotFailEvent(t *testing.T) {
	h := newHarness(t)
	h.notes.fail = errors.New("broker down")

	assert.Equal(t, dispatch.OutcomeApplied, h.deliver(t, created("o1", "b1")))
	_, err := h.svc.GetMetadata(context.Background(), "o1")
	assert.NoError(t, err)
}

func TestSearchAndListByOwner(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.deliver(t, created("o1", "b1"))
	h.deliver(t, created("o2", "b1"))
	h.deliver(t, events.New(events.ObjectService, "u2", events.ObjectCreated{
		ObjectID: "o3", BucketName: "b9", ObjectKey: "k", Tags: []string{"a"},
	}))

	all, err := h.svc.SearchByTag(ctx, "", "a")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	mine, err := h.svc.SearchByTag(ctx, "u1", " a ")
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	_, err = h.svc.SearchByTag(ctx, "u1", "  ")
	assert.Error(t, err)

	owned, err := h.svc.ListByOwner(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, "o3", owned[0].ObjectID)
}
