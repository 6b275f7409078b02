package metadata

import (
	"context"
	"sort"
	"sync"
	"time"
)

// bucketKey identifies a bucket projection; bucket names are unique per owner.
type bucketKey struct{ bucket, owner string }

type memState struct {
	byObject map[string]Metadata
	versions map[string][]Version
	buckets  map[bucketKey]BucketSettings
}

func (s memState) clone() memState {
	out := memState{
		byObject: make(map[string]Metadata, len(s.byObject)),
		versions: make(map[string][]Version, len(s.versions)),
		buckets:  make(map[bucketKey]BucketSettings, len(s.buckets)),
	}
	for k, v := range s.byObject {
		v.Tags = append([]string(nil), v.Tags...)
		out.byObject[k] = v
	}
	for k, v := range s.versions {
		out.versions[k] = append([]Version(nil), v...)
	}
	for k, v := range s.buckets {
		out.buckets[k] = v
	}
	return out
}

// InMemoryStore serializes transactions behind one lock and rolls back by
// restoring a snapshot.
type InMemoryStore struct {
	mu    sync.RWMutex
	state memState
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{state: memState{
		byObject: make(map[string]Metadata),
		versions: make(map[string][]Version),
		buckets:  make(map[bucketKey]BucketSettings),
	}}
}

func (s *InMemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(&memTx{st: &s.state}); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func copyMetadata(md Metadata) Metadata {
	md.Tags = append([]string{}, md.Tags...)
	return md
}

func (s *InMemoryStore) GetMetadata(_ context.Context, objectID string) (Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	md, ok := s.state.byObject[objectID]
	if !ok {
		return Metadata{}, ErrNotFound
	}
	return copyMetadata(md), nil
}

func (s *InMemoryStore) ListVersions(_ context.Context, objectID string) ([]Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs := append([]Version(nil), s.state.versions[objectID]...)
	sort.Slice(vs, func(i, j int) bool { return vs[i].VersionNumber > vs[j].VersionNumber })
	return vs, nil
}

func (s *InMemoryStore) ActiveVersion(_ context.Context, objectID string) (Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.state.versions[objectID] {
		if v.Active {
			return v, nil
		}
	}
	return Version{}, ErrNotFound
}

func (s *InMemoryStore) SearchByTag(_ context.Context, ownerID, tag string) ([]Metadata, error) {
	return s.filter(func(md Metadata) bool {
		return (ownerID == "" || md.OwnerID == ownerID) && hasTag(md.Tags, tag)
	}), nil
}

func (s *InMemoryStore) ListByOwner(_ context.Context, ownerID string) ([]Metadata, error) {
	return s.filter(func(md Metadata) bool { return md.OwnerID == ownerID }), nil
}

func (s *InMemoryStore) filter(keep func(Metadata) bool) []Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Metadata{}
	for _, md := range s.state.byObject {
		if keep(md) {
			out = append(out, copyMetadata(md))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ObjectID < out[j].ObjectID })
	return out
}

func (s *InMemoryStore) GetBucketSettings(_ context.Context, bucket, ownerID string) (BucketSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bs, ok := s.state.buckets[bucketKey{bucket, ownerID}]
	if !ok {
		return BucketSettings{}, ErrNotFound
	}
	return bs, nil
}

type memTx struct {
	st *memState
}

func (t *memTx) GetMetadata(_ context.Context, objectID string) (Metadata, error) {
	md, ok := t.st.byObject[objectID]
	if !ok {
		return Metadata{}, ErrNotFound
	}
	return copyMetadata(md), nil
}

func (t *memTx) InsertMetadata(_ context.Context, md Metadata) error {
	if _, ok := t.st.byObject[md.ObjectID]; ok {
		return ErrAlreadyExists
	}
	t.st.byObject[md.ObjectID] = copyMetadata(md)
	return nil
}

func (t *memTx) UpdateMetadata(_ context.Context, md Metadata) error {
	if _, ok := t.st.byObject[md.ObjectID]; !ok {
		return ErrNotFound
	}
	t.st.byObject[md.ObjectID] = copyMetadata(md)
	return nil
}

func (t *memTx) DeleteMetadata(_ context.Context, objectID string) error {
	if _, ok := t.st.byObject[objectID]; !ok {
		return ErrNotFound
	}
	delete(t.st.byObject, objectID)
	return nil
}

func (t *memTx) ListObjectIDsByBucket(_ context.Context, bucket, ownerID string) ([]string, error) {
	var ids []string
	for id, md := range t.st.byObject {
		if md.BucketName == bucket && md.OwnerID == ownerID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (t *memTx) SetBucketVersioning(_ context.Context, bucket, ownerID string, enabled bool) ([]Metadata, error) {
	now := time.Now().UTC()
	var changed []Metadata
	for id, md := range t.st.byObject {
		if md.BucketName != bucket || md.OwnerID != ownerID || md.VersioningEnabled == enabled {
			continue
		}
		md.VersioningEnabled = enabled
		md.UpdatedAt = now
		t.st.byObject[id] = md
		changed = append(changed, copyMetadata(md))
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].ObjectID < changed[j].ObjectID })
	return changed, nil
}

func (t *memTx) GetBucketSettings(_ context.Context, bucket, ownerID string) (BucketSettings, error) {
	bs, ok := t.st.buckets[bucketKey{bucket, ownerID}]
	if !ok {
		return BucketSettings{}, ErrNotFound
	}
	return bs, nil
}

func (t *memTx) UpsertBucketSettings(_ context.Context, bs BucketSettings) error {
	t.st.buckets[bucketKey{bs.BucketName, bs.OwnerID}] = bs
	return nil
}

func (t *memTx) DeleteBucketSettings(_ context.Context, bucket, ownerID string) error {
	delete(t.st.buckets, bucketKey{bucket, ownerID})
	return nil
}

func (t *memTx) LockVersions(_ context.Context, objectID string) ([]Version, error) {
	vs := append([]Version(nil), t.st.versions[objectID]...)
	sort.Slice(vs, func(i, j int) bool { return vs[i].VersionNumber < vs[j].VersionNumber })
	return vs, nil
}

func (t *memTx) InsertVersion(_ context.Context, v Version) error {
	for _, cur := range t.st.versions[v.ObjectID] {
		if cur.VersionNumber == v.VersionNumber {
			return ErrAlreadyExists
		}
	}
	t.st.versions[v.ObjectID] = append(t.st.versions[v.ObjectID], v)
	return nil
}

func (t *memTx) SetVersionActive(_ context.Context, versionID string, active bool) error {
	for objectID, vs := range t.st.versions {
		for i := range vs {
			if vs[i].ID == versionID {
				vs[i].Active = active
				t.st.versions[objectID] = vs
				return nil
			}
		}
	}
	return ErrNotFound
}

func (t *memTx) DeleteVersions(_ context.Context, objectID string) (int64, error) {
	n := int64(len(t.st.versions[objectID]))
	delete(t.st.versions, objectID)
	return n, nil
}
