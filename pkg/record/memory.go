package record

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*MemoryRecord
	order   []string
}

// NewMemoryStore creates an empty in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*MemoryRecord)}
}

// Add stores a copy of the record in Pending state.
func (s *MemoryStore) Add(ctx context.Context, rec *MemoryRecord) error {
	if rec.Content == "" {
		return ErrInvalidContent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = "obs_" + uuid.New().String()[:8]
	}
	rec.Status = StatusPending

	stored := *rec
	s.records[rec.ID] = &stored
	s.order = append(s.order, rec.ID)
	return nil
}

// Get returns a copy of the record by ID.
func (s *MemoryStore) Get(ctx context.Context, id string) (*MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *rec
	return &out, nil
}

// ListPending returns Pending records in insertion order.
func (s *MemoryStore) ListPending(ctx context.Context) ([]*MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []*MemoryRecord
	for _, id := range s.order {
		if rec := s.records[id]; rec.Status == StatusPending {
			out := *rec
			pending = append(pending, &out)
		}
	}
	return pending, nil
}

// MarkEmbedded transitions a record to Embedded.
func (s *MemoryStore) MarkEmbedded(ctx context.Context, id, timeRange string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.Status = StatusEmbedded
	rec.TimeRange = timeRange
	rec.Error = ""
	return nil
}

// MarkFailed transitions a record to Failed.
func (s *MemoryStore) MarkFailed(ctx context.Context, id string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.Status = StatusFailed
	if cause != nil {
		rec.Error = cause.Error()
	}
	return nil
}

// ResetFailed returns Failed records to Pending.
func (s *MemoryStore) ResetFailed(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, rec := range s.records {
		if rec.Status == StatusFailed {
			rec.Status = StatusPending
			rec.Error = ""
			n++
		}
	}
	return n, nil
}

// Statuses returns a sorted id -> status snapshot (for tests).
func (s *MemoryStore) Statuses() map[string]Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Status, len(s.records))
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		out[id] = s.records[id].Status
	}
	return out
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
