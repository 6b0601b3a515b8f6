// Package engine is the inbound entry point: it classifies each fragment,
// routes commands straight to the dispatcher, and buffers plain content in
// the coalescer until the conversation goes quiet.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devmuse/automaton/internal/coalesce"
	"github.com/devmuse/automaton/internal/command"
	"github.com/devmuse/automaton/internal/conversation"
	"github.com/devmuse/automaton/internal/dispatch"
	"github.com/devmuse/automaton/internal/observability/metrics"
	"github.com/devmuse/automaton/internal/window"
	"github.com/devmuse/automaton/pkg/logging"
)

// Inbound is one raw message delivered by the WhatsApp gateway webhook.
type Inbound struct {
	DeviceID string
	// From is the sender identifier as the gateway reports it, usually a
	// JID like "5215551234567@c.us".
	From string
	Text string
	// FromSelf marks messages the device owner sent from their own phone
	// inside a customer chat.
	FromSelf bool
	// EventID is the gateway's message id, when it sends one. Commands use
	// it to stay idempotent across gateway redelivery.
	EventID    string
	ReceivedAt time.Time
}

// Engine routes inbound messages. Commands execute immediately; plain
// content waits out the quiet window.
type Engine struct {
	coalescer     *coalesce.Coalescer
	dispatcher    *dispatch.Dispatcher
	controlNumber string
	logger        *logging.Logger
	metrics       *metrics.EngineMetrics
}

// Option customizes an Engine.
type Option func(*Engine)

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.EngineMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New wires an Engine. controlNumber may be empty, disabling all remote
// commands.
func New(coalescer *coalesce.Coalescer, dispatcher *dispatch.Dispatcher, controlNumber string, logger *logging.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	e := &Engine{
		coalescer:     coalescer,
		dispatcher:    dispatcher,
		controlNumber: conversation.CleanPhone(controlNumber),
		logger:        logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit processes one inbound message. Malformed remote commands are
// dropped with a log line; they never reach a conversation.
func (e *Engine) Submit(ctx context.Context, msg Inbound) error {
	phone := conversation.CleanPhone(msg.From)
	if msg.DeviceID == "" || phone == "" {
		return fmt.Errorf("engine: message missing device or sender")
	}
	key := conversation.NewKey(msg.DeviceID, phone)

	cmd, err := command.Classify(msg.Text, command.Context{
		FromOperator: msg.FromSelf,
		FromControl:  e.controlNumber != "" && phone == e.controlNumber,
	})
	if err != nil {
		if errors.Is(err, command.ErrMalformed) {
			e.logger.Warn("dropping malformed remote command",
				"conversation", key.String(),
				"text", msg.Text)
			e.metrics.CountClassificationFailure()
			return nil
		}
		return fmt.Errorf("engine: classify: %w", err)
	}

	e.metrics.CountFragment(string(cmd.Kind))

	if cmd.Kind != command.PlainContent {
		cmd.EventID = msg.EventID
		return e.runCommand(ctx, key, cmd)
	}

	// The operator chatting with a customer from their own phone is
	// outbound traffic, not a fragment for the bot.
	if msg.FromSelf {
		return nil
	}

	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	count, err := e.coalescer.Submit(ctx, key, window.Fragment{
		Text:       msg.Text,
		ReceivedAt: receivedAt,
	})
	if err != nil {
		return fmt.Errorf("engine: buffer fragment for %s: %w", key, err)
	}
	e.logger.Debug("fragment buffered",
		"conversation", key.String(),
		"pending", count)
	return nil
}

func (e *Engine) runCommand(ctx context.Context, key conversation.Key, cmd command.Command) error {
	// A reset also abandons anything still buffering for the key, so no
	// stale merged turn can settle after the wipe.
	if cmd.Kind == command.ResetData {
		if _, err := e.coalescer.Discard(ctx, key); err != nil {
			e.logger.Warn("failed to discard pending window on reset",
				"error", err,
				"conversation", key.String())
		}
	}

	action, err := e.dispatcher.HandleCommand(ctx, key, cmd)
	if err != nil {
		return err
	}
	e.logger.Info("command executed",
		"conversation", key.String(),
		"kind", string(cmd.Kind),
		"action", string(action))
	return nil
}

// Flush drains pending windows during shutdown.
func (e *Engine) Flush(ctx context.Context) {
	e.coalescer.Flush(ctx)
}
