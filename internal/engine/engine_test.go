package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devmuse/automaton/internal/coalesce"
	"github.com/devmuse/automaton/internal/conversation"
	"github.com/devmuse/automaton/internal/dispatch"
	"github.com/devmuse/automaton/internal/responder"
	"github.com/devmuse/automaton/internal/send"
	"github.com/devmuse/automaton/internal/window"
	"github.com/devmuse/automaton/pkg/logging"
)

const controlNumber = "5210000000001"

type echoResponder struct {
	mu    sync.Mutex
	calls []responder.Request
}

func (r *echoResponder) Reply(_ context.Context, req responder.Request) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, req)
	return "echo: " + req.Text, nil
}

func (r *echoResponder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *echoResponder) lastRequest() responder.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

func newTestEngine(t *testing.T, quiet time.Duration) (*Engine, *conversation.MemoryStore, *echoResponder, *send.MemoryQueue) {
	t.Helper()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	records := conversation.NewMemoryStore()
	transcripts := conversation.NewTranscriptStore(redisClient, time.Hour)
	client := &echoResponder{}
	queue := send.NewMemoryQueue(32)
	logger := logging.New("error")

	dispatcher := dispatch.New(records, transcripts, dispatch.NewMemoryTokenStore(), client, queue, logger)

	coalescer := coalesce.New(window.NewMemoryStore(), quiet, func(ctx context.Context, win *window.Window) {
		if _, err := dispatcher.HandleSettled(ctx, win); err != nil {
			t.Logf("settle failed: %v", err)
		}
	}, logger)

	return New(coalescer, dispatcher, controlNumber, logger), records, client, queue
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func drainPayloads(t *testing.T, queue *send.MemoryQueue) []send.Payload {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var out []send.Payload
	for {
		msgs, err := queue.Receive(ctx, 10, 0)
		if err != nil || len(msgs) == 0 {
			return out
		}
		for _, msg := range msgs {
			var p send.Payload
			require.NoError(t, json.Unmarshal([]byte(msg.Body), &p))
			out = append(out, p)
		}
	}
}

func inbound(phone, text string) Inbound {
	return Inbound{
		DeviceID:   "dev-1",
		From:       phone + "@c.us",
		Text:       text,
		ReceivedAt: time.Now(),
	}
}

func operatorInbound(phone, text string) Inbound {
	msg := inbound(phone, text)
	msg.FromSelf = true
	return msg
}

func TestBurstMergesIntoOneReply(t *testing.T) {
	ctx := context.Background()
	e, _, client, queue := newTestEngine(t, 40*time.Millisecond)

	for _, text := range []string{"a", "b", "c"} {
		require.NoError(t, e.Submit(ctx, inbound("5215551234567", text)))
		time.Sleep(10 * time.Millisecond)
	}

	waitFor(t, func() bool { return client.callCount() == 1 })
	assert.Equal(t, "a\nb\nc", client.lastRequest().Text)

	payloads := drainPayloads(t, queue)
	require.Len(t, payloads, 1)
	assert.Equal(t, "echo: a\nb\nc", payloads[0].Text)
	assert.Equal(t, "5215551234567", payloads[0].Phone)
}

func TestMessageAfterSettleStartsFreshTurn(t *testing.T) {
	ctx := context.Background()
	e, records, client, _ := newTestEngine(t, 30*time.Millisecond)

	require.NoError(t, e.Submit(ctx, inbound("5215551234567", "first")))
	waitFor(t, func() bool { return client.callCount() == 1 })

	require.NoError(t, e.Submit(ctx, inbound("5215551234567", "second")))
	waitFor(t, func() bool { return client.callCount() == 2 })

	rec, err := records.Read(ctx, conversation.NewKey("dev-1", "5215551234567"))
	require.NoError(t, err)
	assert.Equal(t, "first", rec.ConvLast)
	assert.Equal(t, "second", rec.ConvCurrent)
}

func TestOperatorTakeoverSuppressesReplies(t *testing.T) {
	ctx := context.Background()
	e, _, client, queue := newTestEngine(t, 30*time.Millisecond)

	// Operator types "cmd" in the customer chat.
	require.NoError(t, e.Submit(ctx, operatorInbound("5215551234567", "cmd")))

	require.NoError(t, e.Submit(ctx, inbound("5215551234567", "hello?")))
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, client.callCount())
	assert.Empty(t, drainPayloads(t, queue))

	// "dmc" hands the chat back.
	require.NoError(t, e.Submit(ctx, operatorInbound("5215551234567", "dmc")))
	require.NoError(t, e.Submit(ctx, inbound("5215551234567", "still there?")))
	waitFor(t, func() bool { return client.callCount() == 1 })
}

func TestDeleteResetsConversation(t *testing.T) {
	ctx := context.Background()
	e, records, client, queue := newTestEngine(t, 30*time.Millisecond)
	key := conversation.NewKey("dev-1", "5215551234567")

	require.NoError(t, e.Submit(ctx, inbound("5215551234567", "remember me")))
	waitFor(t, func() bool { return client.callCount() == 1 })
	drainPayloads(t, queue)

	require.NoError(t, e.Submit(ctx, inbound("5215551234567", "DELETE")))

	rec, err := records.Read(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, rec, "record wiped")

	payloads := drainPayloads(t, queue)
	require.Len(t, payloads, 1)
	assert.Equal(t, "Your conversation data has been reset.", payloads[0].Text)
}

func TestDeleteDiscardsBufferedFragments(t *testing.T) {
	ctx := context.Background()
	e, _, client, queue := newTestEngine(t, 50*time.Millisecond)

	require.NoError(t, e.Submit(ctx, inbound("5215551234567", "half-typed thought")))
	require.NoError(t, e.Submit(ctx, inbound("5215551234567", "DELETE")))

	time.Sleep(120 * time.Millisecond)
	assert.Zero(t, client.callCount(), "buffered fragments die with the reset")

	payloads := drainPayloads(t, queue)
	require.Len(t, payloads, 1)
	assert.Equal(t, "Your conversation data has been reset.", payloads[0].Text)
}

func TestRemoteCommandsFromControlNumber(t *testing.T) {
	ctx := context.Background()
	e, records, client, queue := newTestEngine(t, 30*time.Millisecond)
	target := conversation.NewKey("dev-1", "5215551234567")

	// Takeover via "/" from the control number executes immediately.
	require.NoError(t, e.Submit(ctx, inbound(controlNumber, "/5215551234567")))
	rec, err := records.Read(ctx, target)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.HumanMode)

	// "%" forwards an operator message without an AI reply.
	require.NoError(t, e.Submit(ctx, inbound(controlNumber, "%5215551234567 back in 5 minutes")))
	payloads := drainPayloads(t, queue)
	require.Len(t, payloads, 1)
	assert.Equal(t, "back in 5 minutes", payloads[0].Text)
	assert.Equal(t, "5215551234567", payloads[0].Phone)
	assert.Zero(t, client.callCount())

	// "?" releases the conversation again.
	require.NoError(t, e.Submit(ctx, inbound(controlNumber, "?5215551234567")))
	rec, err = records.Read(ctx, target)
	require.NoError(t, err)
	assert.False(t, rec.HumanMode)

	// "#" sends the follow-up phrase and an AI reply now that the bot
	// owns the chat again.
	require.NoError(t, e.Submit(ctx, inbound(controlNumber, "#5215551234567")))
	waitFor(t, func() bool { return client.callCount() == 1 })
	payloads = drainPayloads(t, queue)
	require.Len(t, payloads, 2)
	assert.Equal(t, "5215551234567", payloads[0].Phone)
	assert.Equal(t, "5215551234567", payloads[1].Phone)
}

func TestMalformedRemoteCommandDropped(t *testing.T) {
	ctx := context.Background()
	e, _, client, queue := newTestEngine(t, 30*time.Millisecond)

	require.NoError(t, e.Submit(ctx, inbound(controlNumber, "/not-a-phone")))
	require.NoError(t, e.Submit(ctx, inbound(controlNumber, "%5215551234567")))

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, client.callCount())
	assert.Empty(t, drainPayloads(t, queue))
}

func TestCommandPrefixesFromCustomersAreContent(t *testing.T) {
	ctx := context.Background()
	e, _, client, _ := newTestEngine(t, 30*time.Millisecond)

	require.NoError(t, e.Submit(ctx, inbound("5215559999999", "/5215551234567")))
	waitFor(t, func() bool { return client.callCount() == 1 })
	assert.Equal(t, "/5215551234567", client.lastRequest().Text)
}

func TestOperatorPlainChatterIsNotBuffered(t *testing.T) {
	ctx := context.Background()
	e, _, client, queue := newTestEngine(t, 30*time.Millisecond)

	require.NoError(t, e.Submit(ctx, operatorInbound("5215551234567", "let me check that for you")))
	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, client.callCount())
	assert.Empty(t, drainPayloads(t, queue))
}

func TestSubmitRejectsIncompleteMessages(t *testing.T) {
	e, _, _, _ := newTestEngine(t, 30*time.Millisecond)
	assert.Error(t, e.Submit(context.Background(), Inbound{DeviceID: "", From: "5215551234567@c.us", Text: "x"}))
	assert.Error(t, e.Submit(context.Background(), Inbound{DeviceID: "dev-1", From: "", Text: "x"}))
}
