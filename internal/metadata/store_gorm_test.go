package metadata_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sukirti1329/s3-system/internal/metadata"
	"github.com/sukirti1329/s3-system/internal/shared/db"
	"github.com/sukirti1329/s3-system/internal/shared/db/dbtest"
	"github.com/sukirti1329/s3-system/internal/shared/events"
	"github.com/sukirti1329/s3-system/internal/shared/logger"
)

func TestGormStoreAgainstPostgres(t *testing.T) {
	ctx := context.Background()
	g, err := db.OpenGorm(dbtest.Open(t))
	require.NoError(t, err)
	store := metadata.NewGormStore(g)
	svc := metadata.NewService(store, nil, logger.Discard())
	routes := svc.Routes()
	apply := func(env events.Envelope) {
		t.Helper()
		require.NoError(t, routes[env.Type](ctx, env))
	}

	apply(created("o1", "b1"))
	apply(updated("o1"))
	apply(updated("o1"))

	md, err := svc.GetMetadata(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, md.Tags)
	assert.Equal(t, 3, md.ActiveVersion)

	t.Run("rollback", func(t *testing.T) {
		_, err := svc.Rollback(ctx, "o1", 2)
		require.NoError(t, err)
		vs, err := svc.ListVersions(ctx, "o1")
		require.NoError(t, err)
		assert.Equal(t, []int{3, 2, 1}, numbers(vs))
		assert.Equal(t, []bool{false, true, false}, actives(vs))

		_, err = svc.Rollback(ctx, "o1", 9)
		assert.ErrorIs(t, err, metadata.ErrRollbackTargetNotFound)
	})

	t.Run("concurrent updates keep one active version", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- routes[events.ObjectUpdatedType](ctx, updated("o1"))
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		vs, err := svc.ListVersions(ctx, "o1")
		require.NoError(t, err)
		require.Len(t, vs, 11)
		assert.Equal(t, 11, vs[0].VersionNumber)
		active, err := svc.ActiveVersion(ctx, "o1")
		require.NoError(t, err)
		assert.Equal(t, 11, active.VersionNumber)
	})

	t.Run("bucket projection is per owner", func(t *testing.T) {
		apply(events.New(events.BucketService, "u1", events.BucketUpdated{BucketName: "b1", VersioningEnabled: false}))
		apply(events.New(events.BucketService, "u2", events.BucketUpdated{BucketName: "b1", VersioningEnabled: true}))

		md, err := svc.GetMetadata(ctx, "o1")
		require.NoError(t, err)
		assert.False(t, md.VersioningEnabled)

		bs, err := store.GetBucketSettings(ctx, "b1", "u2")
		require.NoError(t, err)
		assert.True(t, bs.VersioningEnabled)

		found, err := svc.SearchByTag(ctx, "u1", "a")
		require.NoError(t, err)
		assert.Len(t, found, 1)
	})

	t.Run("bucket delete", func(t *testing.T) {
		apply(events.New(events.BucketService, "u1", events.BucketDeleted{BucketName: "b1"}))

		_, err := svc.GetMetadata(ctx, "o1")
		assert.ErrorIs(t, err, metadata.ErrNotFound)
		_, err = svc.ActiveVersion(ctx, "o1")
		assert.ErrorIs(t, err, metadata.ErrNotFound)
		_, err = store.GetBucketSettings(ctx, "b1", "u1")
		assert.ErrorIs(t, err, metadata.ErrNotFound)
		_, err = store.GetBucketSettings(ctx, "b1", "u2")
		assert.NoError(t, err)
	})
}
