package window

import (
	"context"
	"strings"
	"time"

	"github.com/devmuse/automaton/internal/conversation"
)

// Fragment is one raw inbound message awaiting coalescing.
type Fragment struct {
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

// Window buffers the fragments of one conversation key while its quiet
// window is open. At most one active window exists per key; the window is
// removed atomically when it settles or when the janitor reclaims it.
type Window struct {
	Key         conversation.Key `json:"key"`
	Token       string           `json:"token"`
	Fragments   []Fragment       `json:"fragments"`
	FirstSeenAt time.Time        `json:"first_seen_at"`
	LastSeenAt  time.Time        `json:"last_seen_at"`
	ArmedUntil  time.Time        `json:"armed_until"`
}

// MergedText concatenates fragment texts in arrival order, separated by a
// single newline. The separator is part of the engine contract.
func (w *Window) MergedText() string {
	parts := make([]string, 0, len(w.Fragments))
	for _, f := range w.Fragments {
		parts = append(parts, f.Text)
	}
	return strings.Join(parts, "\n")
}

// Store is the durable pending-window buffer. Implementations must make
// Upsert and Remove atomic per key; Remove is fetch-and-delete so a window
// is handed to exactly one caller.
type Store interface {
	// Upsert appends the fragment to the key's window, creating the window
	// if none exists, and pushes ArmedUntil forward. The returned created
	// flag is true when a new window was started.
	Upsert(ctx context.Context, key conversation.Key, fragment Fragment, armedUntil time.Time) (*Window, bool, error)

	// Remove atomically fetches and deletes the key's window. It returns
	// nil when no window exists, which callers treat as "already settled".
	Remove(ctx context.Context, key conversation.Key) (*Window, error)

	// Restore puts a removed window back unchanged. Callers must hold the
	// key's guard across the Remove/Restore pair so no writer can slip in
	// between.
	Restore(ctx context.Context, win *Window) error

	// ListAbandoned returns snapshots of windows whose LastSeenAt is older
	// than the cutoff. Callers must still Remove each window before acting
	// on it.
	ListAbandoned(ctx context.Context, olderThan time.Time) ([]*Window, error)
}
