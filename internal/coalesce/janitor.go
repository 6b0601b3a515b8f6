package coalesce

import (
	"context"
	"time"

	"github.com/devmuse/automaton/internal/observability/metrics"
	"github.com/devmuse/automaton/internal/window"
	"github.com/devmuse/automaton/pkg/logging"
)

// Janitor periodically reclaims windows whose timers never fired, typically
// after a crash or restart lost the in-process timer state. Reclaimed
// windows are dropped, never dispatched.
type Janitor struct {
	store     window.Store
	coalescer *Coalescer
	threshold time.Duration
	interval  time.Duration
	logger    *logging.Logger
	metrics   *metrics.EngineMetrics
}

// JanitorOption customizes a Janitor.
type JanitorOption func(*Janitor)

// WithJanitorMetrics sets the metrics recorder.
func WithJanitorMetrics(m *metrics.EngineMetrics) JanitorOption {
	return func(j *Janitor) { j.metrics = m }
}

// NewJanitor creates a Janitor sweeping every interval for windows idle
// longer than threshold.
func NewJanitor(store window.Store, coalescer *Coalescer, threshold, interval time.Duration, logger *logging.Logger, opts ...JanitorOption) *Janitor {
	if threshold <= 0 {
		threshold = 10 * time.Minute
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if logger == nil {
		logger = logging.Default()
	}
	j := &Janitor{
		store:     store,
		coalescer: coalescer,
		threshold: threshold,
		interval:  interval,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run sweeps on a ticker until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("janitor started",
		"threshold", j.threshold.String(),
		"interval", j.interval.String())

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("janitor stopping")
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep reclaims all currently abandoned windows and returns the count.
func (j *Janitor) Sweep(ctx context.Context) int {
	cutoff := time.Now().Add(-j.threshold)
	abandoned, err := j.store.ListAbandoned(ctx, cutoff)
	if err != nil {
		j.logger.Error("janitor failed to list abandoned windows", "error", err)
		return 0
	}

	reclaimed := 0
	for _, snapshot := range abandoned {
		win, err := j.coalescer.DiscardIfIdle(ctx, snapshot.Key, cutoff)
		if err != nil {
			j.logger.Error("janitor failed to remove window", "error", err, "conversation", snapshot.Key.String())
			continue
		}
		if win == nil {
			// Settled, or touched again, between the list and the remove.
			continue
		}
		j.logger.Warn("reclaimed abandoned window",
			"conversation", win.Key.String(),
			"token", win.Token,
			"fragments", len(win.Fragments),
			"idle", time.Since(win.LastSeenAt).String())
		reclaimed++
	}

	if reclaimed > 0 {
		j.metrics.CountJanitorReclaimed(reclaimed)
	}
	return reclaimed
}
