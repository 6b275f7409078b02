package deadletter

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Quarantine(_ context.Context, r Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	r.ID = uuid.NewString()
	r.Status = StatusQuarantined
	r.CreatedAt = now
	r.UpdatedAt = now
	s.records[r.ID] = r
	return r, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(f.Status, f.Limit), nil
}

func (s *MemoryStore) listLocked(status Status, limit int) []Record {
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryStore) Requeue(_ context.Context, id string) error {
	return s.transition(id, StatusQuarantined, func(r *Record) {
		r.Status = StatusRequeued
	})
}

func (s *MemoryStore) ClaimRequeued(_ context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	claimed := s.listLocked(StatusRequeued, limit)
	for i := range claimed {
		r := claimed[i]
		r.Status = StatusReplaying
		r.Attempts++
		r.ProcessingStartedAt = &now
		r.UpdatedAt = now
		s.records[r.ID] = r
		claimed[i] = r
	}
	return claimed, nil
}

func (s *MemoryStore) MarkReplayed(_ context.Context, id string) error {
	return s.transition(id, StatusReplaying, func(r *Record) {
		now := s.now()
		r.Status = StatusReplayed
		r.ReplayedAt = &now
		r.ProcessingStartedAt = nil
		r.LastError = ""
	})
}

func (s *MemoryStore) MarkFailed(_ context.Context, id string, errMsg string) error {
	return s.transition(id, StatusReplaying, func(r *Record) {
		r.Status = StatusRequeued
		r.ProcessingStartedAt = nil
		r.LastError = errMsg
	})
}

func (s *MemoryStore) ResetStuck(_ context.Context, processingTimeout time.Duration) (int64, error) {
	if processingTimeout <= 0 {
		processingTimeout = 30 * time.Second
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var n int64
	for id, r := range s.records {
		if r.Status != StatusReplaying || r.ProcessingStartedAt == nil {
			continue
		}
		if now.Sub(*r.ProcessingStartedAt) < processingTimeout {
			continue
		}
		r.Status = StatusRequeued
		r.ProcessingStartedAt = nil
		r.LastError = "processing timeout"
		r.UpdatedAt = now
		s.records[id] = r
		n++
	}
	return n, nil
}

func (s *MemoryStore) transition(id string, from Status, apply func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if r.Status != from {
		return ErrInvalidState
	}
	apply(&r)
	r.UpdatedAt = s.now()
	s.records[id] = r
	return nil
}
