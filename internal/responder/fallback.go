package responder

import (
	"context"

	"github.com/devmuse/automaton/pkg/logging"
)

// Fallback wraps a Client and substitutes a fixed reply when the inner
// client fails. The customer always gets an answer even when the model
// provider is down; the failure is logged, never surfaced to the chat.
type Fallback struct {
	inner  Client
	reply  string
	logger *logging.Logger
}

// NewFallback wraps inner with a fixed fallback reply.
func NewFallback(inner Client, reply string, logger *logging.Logger) *Fallback {
	return &Fallback{inner: inner, reply: reply, logger: logger}
}

// Reply delegates to the wrapped client and masks its errors.
func (f *Fallback) Reply(ctx context.Context, req Request) (string, error) {
	text, err := f.inner.Reply(ctx, req)
	if err != nil {
		if f.logger != nil {
			f.logger.Error("responder failed, using fallback reply",
				"error", err,
				"conversation", req.Key.String())
		}
		return f.reply, nil
	}
	return text, nil
}
