package conversation

import (
	"context"
	"errors"
	"time"
)

// ErrConflict is returned by Store.Write when the record changed since it
// was read. Callers are expected to re-read and retry once.
var ErrConflict = errors.New("conversation: record modified concurrently")

// Record is the long-lived per-key conversation state mutated by the
// dispatcher. HumanMode suppresses all AI replies for the key until an
// explicit release command is processed.
type Record struct {
	Key         Key
	Stage       string
	ConvLast    string
	ConvCurrent string
	HumanMode   bool
	Detail      string
	Version     int64
	UpdatedAt   time.Time
}

// Advance shifts the current merged turn into ConvLast and records the new
// one, the bookkeeping applied on every settled customer turn.
func (r *Record) Advance(mergedText string) {
	if r.Stage == "" {
		r.Stage = "greeting"
	}
	r.ConvLast = r.ConvCurrent
	r.ConvCurrent = mergedText
}

// Store persists conversation records with per-key atomic read-modify-write.
// Write must fail with ErrConflict when the stored version no longer matches
// the version the caller read.
type Store interface {
	Read(ctx context.Context, key Key) (*Record, error)
	Write(ctx context.Context, record *Record) error
	Delete(ctx context.Context, key Key) error
}
