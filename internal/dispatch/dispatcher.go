package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devmuse/automaton/internal/command"
	"github.com/devmuse/automaton/internal/conversation"
	"github.com/devmuse/automaton/internal/observability/metrics"
	"github.com/devmuse/automaton/internal/responder"
	"github.com/devmuse/automaton/internal/send"
	"github.com/devmuse/automaton/internal/window"
	"github.com/devmuse/automaton/pkg/logging"
)

// Action names what the dispatcher did with one settled window or command.
type Action string

const (
	ActionReplied         Action = "replied"
	ActionSuppressed      Action = "suppressed"
	ActionDuplicate       Action = "duplicate"
	ActionReset           Action = "reset"
	ActionTakeover        Action = "takeover"
	ActionRelease         Action = "release"
	ActionFollowUp        Action = "follow_up"
	ActionOperatorMessage Action = "operator_message"
)

const historyLimit = 50

// Notifier is told when an operator takes over or releases a conversation.
type Notifier interface {
	HumanModeChanged(ctx context.Context, key conversation.Key, humanMode bool, source string)
}

// Dispatcher applies settled windows and classified commands to conversation
// state, asks the responder for replies and enqueues outbound messages. It
// holds no per-key locks; conflicting record writes are resolved by re-read
// and one retry.
type Dispatcher struct {
	records     conversation.Store
	transcripts *conversation.TranscriptStore
	tokens      TokenStore
	responder   responder.Client
	queue       send.Queue
	notifier    Notifier
	metrics     *metrics.EngineMetrics
	logger      *logging.Logger

	resetAck       string
	followUpPhrase string
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithNotifier sets the takeover notifier.
func WithNotifier(n Notifier) Option {
	return func(d *Dispatcher) { d.notifier = n }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.EngineMetrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithResetAck overrides the acknowledgement sent after a data reset.
func WithResetAck(text string) Option {
	return func(d *Dispatcher) {
		if text != "" {
			d.resetAck = text
		}
	}
}

// WithFollowUpPhrase overrides the synthetic turn used for remote follow-ups.
func WithFollowUpPhrase(text string) Option {
	return func(d *Dispatcher) {
		if text != "" {
			d.followUpPhrase = text
		}
	}
}

// New wires a Dispatcher. transcripts may be nil when Redis is not
// configured; transcript calls become no-ops.
func New(
	records conversation.Store,
	transcripts *conversation.TranscriptStore,
	tokens TokenStore,
	client responder.Client,
	queue send.Queue,
	logger *logging.Logger,
	opts ...Option,
) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	d := &Dispatcher{
		records:        records,
		transcripts:    transcripts,
		tokens:         tokens,
		responder:      client,
		queue:          queue,
		logger:         logger,
		resetAck:       "Your conversation data has been reset.",
		followUpPhrase: "Hello, I wanted to follow up on our conversation.",
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HandleSettled processes one settled window: claim its token, fold the
// merged turn into the record, and reply unless an operator owns the chat.
func (d *Dispatcher) HandleSettled(ctx context.Context, win *window.Window) (Action, error) {
	claimed, err := d.tokens.Claim(ctx, win.Token)
	if err != nil {
		return "", fmt.Errorf("dispatch: settle %s: %w", win.Key, err)
	}
	if !claimed {
		d.logger.Warn("dispatch token already claimed, skipping",
			"conversation", win.Key.String(),
			"token", win.Token)
		d.countDispatch(ActionDuplicate, true)
		return ActionDuplicate, nil
	}

	merged := win.MergedText()

	// History is read before the new turn is appended so the responder
	// sees the turn exactly once, as the final message.
	history := d.history(ctx, win.Key)
	d.appendTranscript(ctx, win.Key, conversation.RoleUser, merged)

	rec, err := d.mutateRecord(ctx, win.Key, func(r *conversation.Record) {
		r.Advance(merged)
	})
	if err != nil {
		d.countDispatch(ActionReplied, false)
		return "", fmt.Errorf("dispatch: settle %s: %w", win.Key, err)
	}

	if rec.HumanMode {
		d.logger.Info("reply suppressed, operator owns conversation",
			"conversation", win.Key.String(),
			"token", win.Token)
		d.countDispatch(ActionSuppressed, true)
		return ActionSuppressed, nil
	}

	reply, err := d.reply(ctx, responder.Request{
		Key:      win.Key,
		Text:     merged,
		Previous: rec.ConvLast,
		Detail:   rec.Detail,
		History:  history,
	})
	if err != nil {
		d.countDispatch(ActionReplied, false)
		return "", fmt.Errorf("dispatch: settle %s: %w", win.Key, err)
	}

	d.appendTranscript(ctx, win.Key, conversation.RoleAssistant, reply)
	if err := d.enqueue(ctx, win.Key, reply, win.Token); err != nil {
		d.countDispatch(ActionReplied, false)
		return "", err
	}

	d.countDispatch(ActionReplied, true)
	return ActionReplied, nil
}

// HandleCommand applies one classified command. key identifies the chat the
// command arrived in; remote commands redirect to the target conversation on
// the same device. When the gateway supplied an event id, a token claim
// makes redelivery of the same command a no-op.
func (d *Dispatcher) HandleCommand(ctx context.Context, key conversation.Key, cmd command.Command) (Action, error) {
	if cmd.EventID != "" {
		claimed, err := d.tokens.Claim(ctx, "cmd:"+cmd.EventID)
		if err != nil {
			return "", fmt.Errorf("dispatch: command %s: %w", cmd.Kind, err)
		}
		if !claimed {
			d.logger.Warn("command already executed, skipping",
				"conversation", key.String(),
				"event_id", cmd.EventID,
				"kind", string(cmd.Kind))
			d.countDispatch(ActionDuplicate, true)
			return ActionDuplicate, nil
		}
	}

	switch cmd.Kind {
	case command.LocalTakeover:
		return d.setHumanMode(ctx, key, true, "chat")
	case command.LocalRelease:
		return d.setHumanMode(ctx, key, false, "chat")
	case command.ResetData:
		return d.reset(ctx, key)
	case command.RemoteTakeover:
		return d.setHumanMode(ctx, d.remoteKey(key, cmd), true, "control")
	case command.RemoteRelease:
		return d.setHumanMode(ctx, d.remoteKey(key, cmd), false, "control")
	case command.RemoteFollowUp:
		return d.followUp(ctx, d.remoteKey(key, cmd))
	case command.RemoteMessage:
		return d.operatorMessage(ctx, d.remoteKey(key, cmd), cmd.Payload)
	default:
		return "", fmt.Errorf("dispatch: %q is not a command", cmd.Kind)
	}
}

func (d *Dispatcher) remoteKey(origin conversation.Key, cmd command.Command) conversation.Key {
	return conversation.NewKey(origin.DeviceID, cmd.TargetPhone)
}

func (d *Dispatcher) setHumanMode(ctx context.Context, key conversation.Key, humanMode bool, source string) (Action, error) {
	action := ActionTakeover
	if !humanMode {
		action = ActionRelease
	}

	_, err := d.mutateRecord(ctx, key, func(r *conversation.Record) {
		r.HumanMode = humanMode
	})
	if err != nil {
		d.countDispatch(action, false)
		return "", fmt.Errorf("dispatch: %s %s: %w", action, key, err)
	}

	d.logger.Info("human mode changed",
		"conversation", key.String(),
		"human_mode", humanMode,
		"source", source)
	if d.notifier != nil {
		d.notifier.HumanModeChanged(ctx, key, humanMode, source)
	}
	d.countDispatch(action, true)
	return action, nil
}

func (d *Dispatcher) reset(ctx context.Context, key conversation.Key) (Action, error) {
	if err := d.records.Delete(ctx, key); err != nil {
		d.countDispatch(ActionReset, false)
		return "", fmt.Errorf("dispatch: reset %s: %w", key, err)
	}
	if err := d.transcripts.Clear(ctx, key); err != nil {
		d.logger.Warn("failed to clear transcript", "error", err, "conversation", key.String())
	}
	if err := d.enqueue(ctx, key, d.resetAck, ""); err != nil {
		d.countDispatch(ActionReset, false)
		return "", err
	}

	d.logger.Info("conversation data reset", "conversation", key.String())
	d.countDispatch(ActionReset, true)
	return ActionReset, nil
}

// followUp always delivers the trigger phrase. The phrase then re-enters the
// AI path as if the customer had sent it, unless an operator owns the chat,
// in which case only the phrase goes out.
func (d *Dispatcher) followUp(ctx context.Context, key conversation.Key) (Action, error) {
	rec, err := d.records.Read(ctx, key)
	if err != nil {
		d.countDispatch(ActionFollowUp, false)
		return "", fmt.Errorf("dispatch: follow up %s: %w", key, err)
	}

	history := d.history(ctx, key)
	if err := d.enqueue(ctx, key, d.followUpPhrase, ""); err != nil {
		d.countDispatch(ActionFollowUp, false)
		return "", err
	}
	d.appendTranscript(ctx, key, conversation.RoleAssistant, d.followUpPhrase)

	if rec != nil && rec.HumanMode {
		d.logger.Info("follow-up sent without AI reply, operator owns conversation",
			"conversation", key.String())
		d.countDispatch(ActionFollowUp, true)
		return ActionFollowUp, nil
	}

	req := responder.Request{
		Key:     key,
		Text:    d.followUpPhrase,
		History: history,
	}
	if rec != nil {
		req.Previous = rec.ConvLast
		req.Detail = rec.Detail
	}

	reply, err := d.reply(ctx, req)
	if err != nil {
		d.countDispatch(ActionFollowUp, false)
		return "", fmt.Errorf("dispatch: follow up %s: %w", key, err)
	}

	if _, err := d.mutateRecord(ctx, key, func(r *conversation.Record) {
		r.Advance(d.followUpPhrase)
	}); err != nil {
		d.countDispatch(ActionFollowUp, false)
		return "", fmt.Errorf("dispatch: follow up %s: %w", key, err)
	}

	d.appendTranscript(ctx, key, conversation.RoleAssistant, reply)
	if err := d.enqueue(ctx, key, reply, ""); err != nil {
		d.countDispatch(ActionFollowUp, false)
		return "", err
	}

	d.countDispatch(ActionFollowUp, true)
	return ActionFollowUp, nil
}

// operatorMessage forwards text verbatim. Outside human mode the text is
// also folded into the record so the next AI turn sees it as context.
func (d *Dispatcher) operatorMessage(ctx context.Context, key conversation.Key, text string) (Action, error) {
	if err := d.enqueue(ctx, key, text, ""); err != nil {
		d.countDispatch(ActionOperatorMessage, false)
		return "", err
	}
	d.appendTranscript(ctx, key, conversation.RoleOperator, text)

	rec, err := d.records.Read(ctx, key)
	if err != nil {
		d.countDispatch(ActionOperatorMessage, false)
		return "", fmt.Errorf("dispatch: operator message %s: %w", key, err)
	}
	if rec == nil || !rec.HumanMode {
		if _, err := d.mutateRecord(ctx, key, func(r *conversation.Record) {
			r.Advance(text)
		}); err != nil {
			d.countDispatch(ActionOperatorMessage, false)
			return "", fmt.Errorf("dispatch: operator message %s: %w", key, err)
		}
	}

	d.logger.Info("operator message forwarded", "conversation", key.String())
	d.countDispatch(ActionOperatorMessage, true)
	return ActionOperatorMessage, nil
}

// mutateRecord applies fn under the store's version check, re-reading and
// retrying once when another writer got there first.
func (d *Dispatcher) mutateRecord(ctx context.Context, key conversation.Key, fn func(*conversation.Record)) (*conversation.Record, error) {
	for attempt := 0; ; attempt++ {
		rec, err := d.records.Read(ctx, key)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			rec = &conversation.Record{Key: key}
		}
		fn(rec)

		err = d.records.Write(ctx, rec)
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, conversation.ErrConflict) && attempt == 0 {
			continue
		}
		return nil, err
	}
}

func (d *Dispatcher) reply(ctx context.Context, req responder.Request) (string, error) {
	start := time.Now()
	reply, err := d.responder.Reply(ctx, req)
	if d.metrics != nil {
		d.metrics.ObserveResponderLatency(time.Since(start))
	}
	return reply, err
}

func (d *Dispatcher) enqueue(ctx context.Context, key conversation.Key, text, token string) error {
	err := send.Enqueue(ctx, d.queue, send.Payload{
		DeviceID: key.DeviceID,
		Phone:    key.Phone,
		Text:     text,
		Token:    token,
	})
	if err != nil {
		return fmt.Errorf("dispatch: enqueue reply for %s: %w", key, err)
	}
	return nil
}

func (d *Dispatcher) history(ctx context.Context, key conversation.Key) []conversation.TranscriptMessage {
	history, err := d.transcripts.List(ctx, key, historyLimit)
	if err != nil {
		d.logger.Warn("failed to load transcript", "error", err, "conversation", key.String())
		return nil
	}
	return history
}

func (d *Dispatcher) appendTranscript(ctx context.Context, key conversation.Key, role, body string) {
	err := d.transcripts.Append(ctx, key, conversation.TranscriptMessage{
		Role:      role,
		Body:      body,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		d.logger.Warn("failed to append transcript", "error", err, "conversation", key.String())
	}
}

func (d *Dispatcher) countDispatch(action Action, ok bool) {
	if d.metrics != nil {
		d.metrics.CountDispatch(string(action), ok)
	}
}
