package conversation

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used in development and tests. It
// honors the same version-CAS contract as the PostgreSQL store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[Key]Record
}

// NewMemoryStore creates an empty in-memory conversation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[Key]Record)}
}

func (s *MemoryStore) Read(_ context.Context, key Key) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	copied := rec
	return &copied, nil
}

func (s *MemoryStore) Write(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[record.Key]
	if record.Version == 0 {
		if ok {
			return ErrConflict
		}
	} else if !ok || existing.Version != record.Version {
		return ErrConflict
	}

	record.Version++
	record.UpdatedAt = time.Now().UTC()
	s.records[record.Key] = *record
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, key)
	return nil
}
