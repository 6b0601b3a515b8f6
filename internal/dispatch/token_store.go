// Package dispatch turns settled windows and classified commands into
// conversation mutations and outbound messages. A dispatch token is claimed
// exactly once per window so a redelivered settle never produces a second
// reply.
package dispatch

import (
	"context"
	"sync"
)

// TokenStore claims dispatch tokens. Claim returns true exactly once per
// token; every later call for the same token returns false.
type TokenStore interface {
	Claim(ctx context.Context, token string) (bool, error)
}

// MemoryTokenStore is a TokenStore for tests and single-process deployments.
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]struct{}
}

// NewMemoryTokenStore creates an empty in-memory token store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]struct{})}
}

// Claim records the token, reporting whether this call was the first.
func (s *MemoryTokenStore) Claim(_ context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.tokens[token]; seen {
		return false, nil
	}
	s.tokens[token] = struct{}{}
	return true, nil
}
