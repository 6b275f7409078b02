package metadata

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// VersionSource describes the object a new version row belongs to.
type VersionSource struct {
	ObjectID   string
	OwnerID    string
	BucketName string
	Checksum   string
	Size       int64
}

// VersionMachine owns the version rows of an object. Its four operations are
// the only way versions change. Each one runs inside the caller's transaction
// and starts by locking the object's rows, which is what keeps at most one
// version active and numbers strictly increasing.
type VersionMachine struct {
	NewID func() string
	Now   func() time.Time
}

func NewVersionMachine() VersionMachine {
	return VersionMachine{
		NewID: uuid.NewString,
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

// CreateInitial inserts version 1 as active. The object must have no versions.
func (m VersionMachine) CreateInitial(ctx context.Context, tx Tx, src VersionSource) (Version, error) {
	vs, err := tx.LockVersions(ctx, src.ObjectID)
	if err != nil {
		return Version{}, err
	}
	if len(vs) > 0 {
		return Version{}, fmt.Errorf("object %s: %w", src.ObjectID, ErrVersionsExist)
	}
	return m.insert(ctx, tx, src, 1)
}

// CreateNext deactivates the active version and inserts max+1 as active, or
// version 1 if the object has none.
func (m VersionMachine) CreateNext(ctx context.Context, tx Tx, src VersionSource) (Version, error) {
	vs, err := tx.LockVersions(ctx, src.ObjectID)
	if err != nil {
		return Version{}, err
	}

	next := 1
	for _, v := range vs {
		if v.Active {
			if err := tx.SetVersionActive(ctx, v.ID, false); err != nil {
				return Version{}, err
			}
		}
		if v.VersionNumber >= next {
			next = v.VersionNumber + 1
		}
	}
	return m.insert(ctx, tx, src, next)
}

// Rollback makes an existing version the active one. It never creates a
// version number.
func (m VersionMachine) Rollback(ctx context.Context, tx Tx, objectID string, number int) (Version, error) {
	vs, err := tx.LockVersions(ctx, objectID)
	if err != nil {
		return Version{}, err
	}

	var (
		target Version
		found  bool
	)
	for _, v := range vs {
		if v.VersionNumber == number {
			target, found = v, true
			break
		}
	}
	if !found {
		return Version{}, fmt.Errorf("object %s version %d: %w", objectID, number, ErrRollbackTargetNotFound)
	}
	if target.Active {
		return target, nil
	}

	for _, v := range vs {
		if v.Active {
			if err := tx.SetVersionActive(ctx, v.ID, false); err != nil {
				return Version{}, err
			}
		}
	}
	if err := tx.SetVersionActive(ctx, target.ID, true); err != nil {
		return Version{}, err
	}
	target.Active = true
	return target, nil
}

// DeleteAll removes every version of the object.
func (m VersionMachine) DeleteAll(ctx context.Context, tx Tx, objectID string) (int64, error) {
	if _, err := tx.LockVersions(ctx, objectID); err != nil {
		return 0, err
	}
	return tx.DeleteVersions(ctx, objectID)
}

func (m VersionMachine) insert(ctx context.Context, tx Tx, src VersionSource, number int) (Version, error) {
	v := Version{
		ID:            m.NewID(),
		ObjectID:      src.ObjectID,
		VersionNumber: number,
		Active:        true,
		OwnerID:       src.OwnerID,
		BucketName:    src.BucketName,
		Checksum:      src.Checksum,
		Size:          src.Size,
		CreatedAt:     m.Now(),
	}
	if err := tx.InsertVersion(ctx, v); err != nil {
		return Version{}, err
	}
	return v, nil
}
