// Package responder generates assistant replies for settled conversation
// turns. Implementations wrap a specific model provider behind the Client
// interface so the dispatcher never depends on a vendor SDK.
package responder

import (
	"context"
	"strings"

	"github.com/devmuse/automaton/internal/conversation"
)

// Request carries everything a model needs to answer one merged turn.
type Request struct {
	Key conversation.Key

	// Text is the merged content of the settled window, fragments joined
	// in arrival order.
	Text string

	// Previous holds the prior turn's merged text, when one exists.
	Previous string

	// Detail is free-form conversation state accumulated by the dispatcher.
	Detail string

	// History is the stored transcript, oldest first.
	History []conversation.TranscriptMessage
}

// Client produces one assistant reply for a merged turn.
type Client interface {
	Reply(ctx context.Context, req Request) (string, error)
}

const defaultSystemPrompt = "You are a helpful WhatsApp assistant for a small business. " +
	"Answer in the customer's language, keep replies short enough to read on a phone, " +
	"and never invent order details you were not given."

// systemPrompt folds the conversation detail into the base instruction.
func systemPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(defaultSystemPrompt)
	if strings.TrimSpace(req.Detail) != "" {
		b.WriteString("\n\nKnown context for this customer:\n")
		b.WriteString(req.Detail)
	}
	return b.String()
}

// chatTurn is a provider-neutral transcript entry used while building
// model input from Request.History.
type chatTurn struct {
	fromAssistant bool
	text          string
}

// chatTurns flattens the stored history into alternating turns, dropping
// blanks. Operator messages read as assistant turns so the model sees a
// consistent two-party thread.
func chatTurns(req Request) []chatTurn {
	turns := make([]chatTurn, 0, len(req.History)+1)
	for _, msg := range req.History {
		body := strings.TrimSpace(msg.Body)
		if body == "" {
			continue
		}
		turns = append(turns, chatTurn{
			fromAssistant: msg.Role != conversation.RoleUser,
			text:          body,
		})
	}
	turns = append(turns, chatTurn{text: req.Text})
	return turns
}
