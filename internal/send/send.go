// Package send delivers outbound WhatsApp messages. Dispatch enqueues a
// Payload, worker goroutines drain the queue and hand each payload to the
// configured gateway provider.
package send

import (
	"context"
	"fmt"

	"github.com/devmuse/automaton/pkg/logging"
)

// Payload is one outbound message, serialized as the queue message body.
type Payload struct {
	DeviceID string `json:"device_id"`
	Phone    string `json:"phone"`
	Text     string `json:"text"`

	// Token identifies the dispatch that produced this payload. Carried
	// for log correlation across the queue hop.
	Token string `json:"token,omitempty"`
}

// Message is one received queue entry.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// Queue is the transport between the dispatcher and the send workers.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Provider talks to a WhatsApp gateway.
type Provider interface {
	Send(ctx context.Context, p Payload) error
}

// NewProvider builds the gateway provider named by kind. An empty kind
// selects whacenter; unknown kinds fail loudly so a typo in configuration
// never silently falls back to the wrong gateway.
func NewProvider(kind, baseURL, apiKey string, logger *logging.Logger) (Provider, error) {
	switch kind {
	case "", "whacenter":
		return NewWhacenterProvider(baseURL, apiKey, logger)
	default:
		return nil, fmt.Errorf("send: unknown WhatsApp provider %q", kind)
	}
}
