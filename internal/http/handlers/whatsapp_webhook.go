package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/devmuse/automaton/internal/engine"
	"github.com/devmuse/automaton/pkg/logging"
)

// WhatsAppWebhookHandler receives inbound message events from the gateway.
// One device posts to /webhooks/whatsapp/{deviceID}.
type WhatsAppWebhookHandler struct {
	engine *engine.Engine
	logger *logging.Logger
}

// NewWhatsAppWebhookHandler creates the webhook handler.
func NewWhatsAppWebhookHandler(eng *engine.Engine, logger *logging.Logger) *WhatsAppWebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WhatsAppWebhookHandler{
		engine: eng,
		logger: logger,
	}
}

// whatsappEvent mirrors the gateway's webhook body. Gateways disagree on
// the text field name, so both "message" and "body" are accepted.
type whatsappEvent struct {
	Event     string `json:"event,omitempty"`
	ID        string `json:"id,omitempty"`
	From      string `json:"from"`
	Message   string `json:"message,omitempty"`
	Body      string `json:"body,omitempty"`
	FromMe    bool   `json:"fromMe,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

func (e whatsappEvent) text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Body
}

// HandleMessage ingests one gateway event.
// POST /webhooks/whatsapp/{deviceID}
func (h *WhatsAppWebhookHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "device id is required")
		return
	}

	var event whatsappEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// Status callbacks and other non-message events are acknowledged and
	// ignored so the gateway does not retry them.
	if event.Event != "" && event.Event != "message" {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "ignored": true})
		return
	}
	if strings.TrimSpace(event.From) == "" || event.text() == "" {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "ignored": true})
		return
	}

	receivedAt := time.Now()
	if event.Timestamp > 0 {
		receivedAt = time.Unix(event.Timestamp, 0)
	}

	err := h.engine.Submit(r.Context(), engine.Inbound{
		DeviceID:   deviceID,
		From:       event.From,
		Text:       event.text(),
		FromSelf:   event.FromMe,
		EventID:    event.ID,
		ReceivedAt: receivedAt,
	})
	if err != nil {
		h.logger.Error("webhook ingestion failed", "error", err, "device_id", deviceID)
		writeError(w, http.StatusInternalServerError, "failed to process message")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}
