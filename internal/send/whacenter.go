package send

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/devmuse/automaton/pkg/logging"
)

// WhacenterProvider delivers messages through a whacenter-style WhatsApp
// gateway: POST {base}/api/send with a JSON body naming the device, the
// destination number and the message text.
type WhacenterProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *logging.Logger
}

// WhacenterOption customizes a WhacenterProvider.
type WhacenterOption func(*WhacenterProvider)

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(client *http.Client) WhacenterOption {
	return func(p *WhacenterProvider) {
		if client != nil {
			p.client = client
		}
	}
}

// NewWhacenterProvider creates a gateway provider. apiKey may be empty;
// whacenter itself does not require one but compatible gateways do.
func NewWhacenterProvider(baseURL, apiKey string, logger *logging.Logger, opts ...WhacenterOption) (*WhacenterProvider, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("send: gateway base URL is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	p := &WhacenterProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

type whacenterSendRequest struct {
	DeviceID string `json:"device_id"`
	Number   string `json:"number"`
	Message  string `json:"message"`
}

// Send posts one message to the gateway.
func (p *WhacenterProvider) Send(ctx context.Context, payload Payload) error {
	body, err := json.Marshal(whacenterSendRequest{
		DeviceID: payload.DeviceID,
		Number:   payload.Phone,
		Message:  payload.Text,
	})
	if err != nil {
		return fmt.Errorf("send: marshal gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("send: build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("send: gateway returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	p.logger.Debug("gateway accepted message",
		"device_id", payload.DeviceID,
		"to", payload.Phone,
		"token", payload.Token)
	return nil
}
