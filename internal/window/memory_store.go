package window

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devmuse/automaton/internal/conversation"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[conversation.Key]*Window
}

// NewMemoryStore creates an empty in-memory pending-window store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[conversation.Key]*Window)}
}

func (s *MemoryStore) Upsert(_ context.Context, key conversation.Key, fragment Fragment, armedUntil time.Time) (*Window, bool, error) {
	if key.IsZero() {
		return nil, false, errors.New("window: key required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	created := !ok
	if created {
		w = &Window{
			Key:         key,
			Token:       uuid.NewString(),
			FirstSeenAt: fragment.ReceivedAt,
		}
		s.windows[key] = w
	}
	w.Fragments = append(w.Fragments, fragment)
	w.LastSeenAt = fragment.ReceivedAt
	w.ArmedUntil = armedUntil

	snapshot := s.snapshot(w)
	return snapshot, created, nil
}

func (s *MemoryStore) Remove(_ context.Context, key conversation.Key) (*Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		return nil, nil
	}
	delete(s.windows, key)
	return s.snapshot(w), nil
}

func (s *MemoryStore) Restore(_ context.Context, win *Window) error {
	if win == nil || win.Key.IsZero() {
		return errors.New("window: window required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.windows[win.Key] = s.snapshot(win)
	return nil
}

func (s *MemoryStore) ListAbandoned(_ context.Context, olderThan time.Time) ([]*Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Window
	for _, w := range s.windows {
		if w.LastSeenAt.Before(olderThan) {
			out = append(out, s.snapshot(w))
		}
	}
	return out, nil
}

func (s *MemoryStore) snapshot(w *Window) *Window {
	copied := *w
	copied.Fragments = append([]Fragment(nil), w.Fragments...)
	return &copied
}
