package metadata

import "context"

// Reader is the query side. Reads outside a transaction see committed state.
type Reader interface {
	GetMetadata(ctx context.Context, objectID string) (Metadata, error)
	// ListVersions returns versions newest first.
	ListVersions(ctx context.Context, objectID string) ([]Version, error)
	ActiveVersion(ctx context.Context, objectID string) (Version, error)
	SearchByTag(ctx context.Context, ownerID, tag string) ([]Metadata, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Metadata, error)
	GetBucketSettings(ctx context.Context, bucket, ownerID string) (BucketSettings, error)
}

type Store interface {
	Reader
	// InTx runs fn atomically. Any error from fn rolls everything back.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write side. GetMetadata and LockVersions take row locks that are
// held until the transaction ends.
type Tx interface {
	GetMetadata(ctx context.Context, objectID string) (Metadata, error)
	InsertMetadata(ctx context.Context, md Metadata) error
	// UpdateMetadata overwrites every mutable field and replaces the tag set.
	UpdateMetadata(ctx context.Context, md Metadata) error
	DeleteMetadata(ctx context.Context, objectID string) error

	ListObjectIDsByBucket(ctx context.Context, bucket, ownerID string) ([]string, error)
	// SetBucketVersioning flips the flag on every object of bucket/owner whose
	// flag differs and returns the objects it changed.
	SetBucketVersioning(ctx context.Context, bucket, ownerID string, enabled bool) ([]Metadata, error)

	GetBucketSettings(ctx context.Context, bucket, ownerID string) (BucketSettings, error)
	UpsertBucketSettings(ctx context.Context, bs BucketSettings) error
	DeleteBucketSettings(ctx context.Context, bucket, ownerID string) error

	// LockVersions returns the object's versions in ascending order.
	LockVersions(ctx context.Context, objectID string) ([]Version, error)
	InsertVersion(ctx context.Context, v Version) error
	SetVersionActive(ctx context.Context, versionID string, active bool) error
	DeleteVersions(ctx context.Context, objectID string) (int64, error)
}
