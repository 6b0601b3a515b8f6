// Package coalesce buffers inbound fragments per conversation key and fires
// a settle callback once a key has been quiet for the configured window.
// Every fragment re-arms the key's timer; only the timer armed by the last
// fragment settles the window.
package coalesce

import (
	"context"
	"sync"
	"time"

	"github.com/devmuse/automaton/internal/conversation"
	"github.com/devmuse/automaton/internal/observability/metrics"
	"github.com/devmuse/automaton/internal/window"
	"github.com/devmuse/automaton/pkg/logging"
)

const settleTimeout = 30 * time.Second

// SettleFunc receives the atomically removed window of a settled key. It
// runs outside the key's guard, so slow AI or delivery calls never block
// fragment ingestion.
type SettleFunc func(ctx context.Context, win *window.Window)

// keyGuard serializes window operations for one key. The epoch increments
// on every submit; a timer firing with a stale epoch lost the race to a
// newer fragment and must not settle.
type keyGuard struct {
	mu    sync.Mutex
	epoch uint64
	timer *time.Timer
}

// Coalescer owns the per-key timers over a durable window store.
type Coalescer struct {
	store    window.Store
	quiet    time.Duration
	onSettle SettleFunc
	logger   *logging.Logger
	metrics  *metrics.EngineMetrics

	mu     sync.Mutex
	guards map[string]*keyGuard

	settles sync.WaitGroup
}

// Option customizes a Coalescer.
type Option func(*Coalescer)

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.EngineMetrics) Option {
	return func(c *Coalescer) { c.metrics = m }
}

// New creates a Coalescer firing onSettle after quiet with no new fragments.
func New(store window.Store, quiet time.Duration, onSettle SettleFunc, logger *logging.Logger, opts ...Option) *Coalescer {
	if quiet <= 0 {
		quiet = 4 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	c := &Coalescer{
		store:    store,
		quiet:    quiet,
		onSettle: onSettle,
		logger:   logger,
		guards:   make(map[string]*keyGuard),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit buffers one fragment and re-arms the key's quiet timer. It returns
// the pending fragment count for the key.
func (c *Coalescer) Submit(ctx context.Context, key conversation.Key, fragment window.Fragment) (int, error) {
	g := c.guard(key)
	g.mu.Lock()
	defer g.mu.Unlock()

	win, created, err := c.store.Upsert(ctx, key, fragment, time.Now().Add(c.quiet))
	if err != nil {
		return 0, err
	}

	g.epoch++
	epoch := g.epoch
	if g.timer != nil {
		g.timer.Stop()
	}
	g.timer = time.AfterFunc(c.quiet, func() {
		c.fire(key, epoch)
	})

	if created {
		c.logger.Debug("window opened",
			"conversation", key.String(),
			"token", win.Token)
	}
	return len(win.Fragments), nil
}

// Discard removes the key's pending window without dispatching it. Used by
// the janitor and by data resets. Returns nil when no window was pending.
func (c *Coalescer) Discard(ctx context.Context, key conversation.Key) (*window.Window, error) {
	g := c.guard(key)
	g.mu.Lock()
	defer g.mu.Unlock()

	g.epoch++
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	return c.store.Remove(ctx, key)
}

// DiscardIfIdle removes the key's pending window only when its last fragment
// arrived at or before cutoff. A window touched after cutoff is put back
// untouched and nil is returned, so a fragment landing between a janitor's
// listing and its reclaim is never dropped.
func (c *Coalescer) DiscardIfIdle(ctx context.Context, key conversation.Key, cutoff time.Time) (*window.Window, error) {
	g := c.guard(key)
	g.mu.Lock()
	defer g.mu.Unlock()

	win, err := c.store.Remove(ctx, key)
	if err != nil || win == nil {
		return nil, err
	}
	if win.LastSeenAt.After(cutoff) {
		if err := c.store.Restore(ctx, win); err != nil {
			return nil, err
		}
		return nil, nil
	}

	g.epoch++
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	return win, nil
}

// Flush settles every pending window immediately, synchronously, then waits
// for settles already in flight. Called during shutdown so buffered
// fragments are not lost.
func (c *Coalescer) Flush(ctx context.Context) {
	// Every open window has LastSeenAt in the past, so a cutoff one quiet
	// period in the future lists them all.
	pending, err := c.store.ListAbandoned(ctx, time.Now().Add(c.quiet))
	if err != nil {
		c.logger.Error("flush failed to list pending windows", "error", err)
	}

	for _, snapshot := range pending {
		win, err := c.Discard(ctx, snapshot.Key)
		if err != nil {
			c.logger.Error("flush failed to remove window", "error", err, "conversation", snapshot.Key.String())
			continue
		}
		if win == nil {
			continue
		}
		c.logger.Info("window flushed on shutdown",
			"conversation", win.Key.String(),
			"token", win.Token,
			"fragments", len(win.Fragments))
		c.metrics.ObserveSettled(len(win.Fragments))
		c.onSettle(ctx, win)
	}

	done := make(chan struct{})
	go func() {
		c.settles.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn("flush timed out waiting for in-flight settles", "error", ctx.Err())
	}
}

// fire runs in the timer goroutine once a key has been quiet long enough.
func (c *Coalescer) fire(key conversation.Key, epoch uint64) {
	g := c.guard(key)
	g.mu.Lock()
	if g.epoch != epoch {
		// A newer fragment re-armed the window.
		g.mu.Unlock()
		return
	}
	g.timer = nil

	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()

	win, err := c.store.Remove(ctx, key)
	if err == nil && win != nil {
		// Register the in-flight settle before releasing the guard so a
		// concurrent Flush cannot return between the remove and the settle.
		c.settles.Add(1)
	}
	g.mu.Unlock()

	if err != nil {
		c.logger.Error("failed to remove settled window", "error", err, "conversation", key.String())
		return
	}
	if win == nil {
		// Reclaimed or reset before the timer fired.
		return
	}
	defer c.settles.Done()

	c.logger.Info("window settled",
		"conversation", key.String(),
		"token", win.Token,
		"fragments", len(win.Fragments))
	c.metrics.ObserveSettled(len(win.Fragments))

	c.onSettle(ctx, win)
}

func (c *Coalescer) guard(key conversation.Key) *keyGuard {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.guards[key.String()]
	if !ok {
		g = &keyGuard{}
		c.guards[key.String()] = g
	}
	return g
}
