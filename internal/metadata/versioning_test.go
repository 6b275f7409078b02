package metadata_test

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sukirti1329/s3-system/internal/metadata"
)

func src(objectID string) metadata.VersionSource {
	return metadata.VersionSource{ObjectID: objectID, OwnerID: "u1", BucketName: "b1"}
}

func inTx[T any](t *testing.T, s *metadata.InMemoryStore, fn func(tx metadata.Tx) (T, error)) (T, error) {
	t.Helper()
	var out T
	err := s.InTx(context.Background(), func(tx metadata.Tx) error {
		var err error
		out, err = fn(tx)
		return err
	})
	return out, err
}

func TestCreateInitialRefusesExistingVersions(t *testing.T) {
	ctx := context.Background()
	s := metadata.NewInMemoryStore()
	m := metadata.NewVersionMachine()

	v, err := inTx(t, s, func(tx metadata.Tx) (metadata.Version, error) { return m.CreateInitial(ctx, tx, src("o1")) })
	require.NoError(t, err)
	assert.Equal(t, 1, v.VersionNumber)
	assert.True(t, v.Active)

	_, err = inTx(t, s, func(tx metadata.Tx) (metadata.Version, error) { return m.CreateInitial(ctx, tx, src("o1")) })
	require.ErrorIs(t, err, metadata.ErrVersionsExist)

	vs, err := s.ListVersions(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, vs, 1)
}

func TestCreateNextDeactivatesPrevious(t *testing.T) {
	ctx := context.Background()
	s := metadata.NewInMemoryStore()
	m := metadata.NewVersionMachine()

	for i := 0; i < 3; i++ {
		_, err := inTx(t, s, func(tx metadata.Tx) (metadata.Version, error) { return m.CreateNext(ctx, tx, src("o1")) })
		require.NoError(t, err)
	}

	vs, err := s.ListVersions(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, vs, 3)
	assert.Equal(t, []int{3, 2, 1}, numbers(vs))
	assert.Equal(t, []bool{true, false, false}, actives(vs))
}

func TestRollback(t *testing.T) {
	ctx := context.Background()
	s := metadata.NewInMemoryStore()
	m := metadata.NewVersionMachine()
	for i := 0; i < 3; i++ {
		_, err := inTx(t, s, func(tx metadata.Tx) (metadata.Version, error) { return m.CreateNext(ctx, tx, src("o1")) })
		require.NoError(t, err)
	}

	t.Run("to existing version", func(t *testing.T) {
		v, err := inTx(t, s, func(tx metadata.Tx) (metadata.Version, error) { return m.Rollback(ctx, tx, "o1", 2) })
		require.NoError(t, err)
		assert.Equal(t, 2, v.VersionNumber)

		active, err := s.ActiveVersion(ctx, "o1")
		require.NoError(t, err)
		assert.Equal(t, 2, active.VersionNumber)
	})

	t.Run("to active version is a no-op", func(t *testing.T) {
		_, err := inTx(t, s, func(tx metadata.Tx) (metadata.Version, error) { return m.Rollback(ctx, tx, "o1", 2) })
		require.NoError(t, err)
		vs, _ := s.ListVersions(ctx, "o1")
		assert.Equal(t, []bool{false, true, false}, actives(vs))
	})

	t.Run("to unknown version leaves state alone", func(t *testing.T) {
		_, err := inTx(t, s, func(tx metadata.Tx) (metadata.Version, error) { return m.Rollback(ctx, tx, "o1", 9) })
		require.ErrorIs(t, err, metadata.ErrRollbackTargetNotFound)
		active, err := s.ActiveVersion(ctx, "o1")
		require.NoError(t, err)
		assert.Equal(t, 2, active.VersionNumber)
	})

	t.Run("next version continues after the maximum", func(t *testing.T) {
		v, err := inTx(t, s, func(tx metadata.Tx) (metadata.Version, error) { return m.CreateNext(ctx, tx, src("o1")) })
		require.NoError(t, err)
		assert.Equal(t, 4, v.VersionNumber)
		vs, _ := s.ListVersions(ctx, "o1")
		assert.Equal(t, []bool{true, false, false, false}, actives(vs))
	})
}

func TestDeleteAll(t *testing.T) {
	ctx := context.Background()
	s := metadata.NewInMemoryStore()
	m := metadata.NewVersionMachine()
	for i := 0; i < 2; i++ {
		_, err := inTx(t, s, func(tx metadata.Tx) (metadata.Version, error) { return m.CreateNext(ctx, tx, src("o1")) })
		require.NoError(t, err)
	}

	n, err := inTx(t, s, func(tx metadata.Tx) (int64, error) { return m.DeleteAll(ctx, tx, "o1") })
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, err = s.ActiveVersion(ctx, "o1")
	assert.ErrorIs(t, err, metadata.ErrNotFound)
}

// Random create/rollback sequences must keep exactly one active version and
// never reuse or lower a version number.
func TestVersionInvariantsUnderRandomOperations(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(1, 2))
	s := metadata.NewInMemoryStore()
	m := metadata.NewVersionMachine()

	maxSeen := 0
	for i := 0; i < 300; i++ {
		if maxSeen == 0 || rng.IntN(3) > 0 {
			v, err := inTx(t, s, func(tx metadata.Tx) (metadata.Version, error) { return m.CreateNext(ctx, tx, src("o1")) })
			require.NoError(t, err)
			require.Equal(t, maxSeen+1, v.VersionNumber)
			maxSeen = v.VersionNumber
		} else {
			target := 1 + rng.IntN(maxSeen+1)
			_, err := inTx(t, s, func(tx metadata.Tx) (metadata.Version, error) { return m.Rollback(ctx, tx, "o1", target) })
			if target > maxSeen {
				require.ErrorIs(t, err, metadata.ErrRollbackTargetNotFound)
			} else {
				require.NoError(t, err)
			}
		}

		vs, err := s.ListVersions(ctx, "o1")
		require.NoError(t, err)
		require.Len(t, vs, maxSeen)
		active := 0
		seen := map[int]bool{}
		for _, v := range vs {
			if v.Active {
				active++
			}
			require.False(t, seen[v.VersionNumber], "duplicate version %d", v.VersionNumber)
			seen[v.VersionNumber] = true
		}
		require.Equal(t, 1, active, "step %d", i)
	}
}

func numbers(vs []metadata.Version) []int {
	out := make([]int, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.VersionNumber)
	}
	return out
}

func actives(vs []metadata.Version) []bool {
	out := make([]bool, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Active)
	}
	return out
}
