package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/devmuse/automaton/internal/conversation"
	"github.com/devmuse/automaton/pkg/logging"
)

// AdminConversationsHandler exposes conversation state to the operator UI:
// record inspection, human-mode toggling and transcript reads.
type AdminConversationsHandler struct {
	records     conversation.Store
	transcripts *conversation.TranscriptStore
	logger      *logging.Logger
}

// NewAdminConversationsHandler creates a new admin conversations handler.
func NewAdminConversationsHandler(records conversation.Store, transcripts *conversation.TranscriptStore, logger *logging.Logger) *AdminConversationsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminConversationsHandler{
		records:     records,
		transcripts: transcripts,
		logger:      logger,
	}
}

// ConversationResponse is the admin view of one conversation record.
type ConversationResponse struct {
	DeviceID    string `json:"device_id"`
	Phone       string `json:"phone"`
	Stage       string `json:"stage,omitempty"`
	ConvLast    string `json:"conv_last,omitempty"`
	ConvCurrent string `json:"conv_current,omitempty"`
	HumanMode   bool   `json:"human_mode"`
	Detail      string `json:"detail,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// TranscriptEntry is one transcript message in admin responses.
type TranscriptEntry struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Body      string `json:"body"`
	Timestamp string `json:"timestamp"`
}

func keyFromRequest(r *http.Request) conversation.Key {
	return conversation.NewKey(chi.URLParam(r, "deviceID"), chi.URLParam(r, "phone"))
}

// GetConversation returns the record for one key.
// GET /admin/conversations/{deviceID}/{phone}
func (h *AdminConversationsHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	key := keyFromRequest(r)
	if key.IsZero() {
		writeError(w, http.StatusBadRequest, "device id and phone are required")
		return
	}

	rec, err := h.records.Read(r.Context(), key)
	if err != nil {
		h.logger.Error("failed to read conversation", "error", err, "conversation", key.String())
		writeError(w, http.StatusInternalServerError, "failed to read conversation")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	writeJSON(w, http.StatusOK, recordResponse(rec))
}

// SetHumanMode toggles operator ownership of a conversation.
// PUT /admin/conversations/{deviceID}/{phone}/human
func (h *AdminConversationsHandler) SetHumanMode(w http.ResponseWriter, r *http.Request) {
	key := keyFromRequest(r)
	if key.IsZero() {
		writeError(w, http.StatusBadRequest, "device id and phone are required")
		return
	}

	var req struct {
		HumanMode bool `json:"human_mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rec, err := h.records.Read(r.Context(), key)
	if err != nil {
		h.logger.Error("failed to read conversation", "error", err, "conversation", key.String())
		writeError(w, http.StatusInternalServerError, "failed to read conversation")
		return
	}
	if rec == nil {
		rec = &conversation.Record{Key: key}
	}
	rec.HumanMode = req.HumanMode

	if err := h.records.Write(r.Context(), rec); err != nil {
		h.logger.Error("failed to update conversation", "error", err, "conversation", key.String())
		writeError(w, http.StatusInternalServerError, "failed to update conversation")
		return
	}

	h.logger.Info("human mode changed via admin API",
		"conversation", key.String(),
		"human_mode", req.HumanMode)
	writeJSON(w, http.StatusOK, recordResponse(rec))
}

// GetTranscript returns the stored transcript, oldest first.
// GET /admin/conversations/{deviceID}/{phone}/transcript
func (h *AdminConversationsHandler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	key := keyFromRequest(r)
	if key.IsZero() {
		writeError(w, http.StatusBadRequest, "device id and phone are required")
		return
	}

	messages, err := h.transcripts.List(r.Context(), key, 200)
	if err != nil {
		h.logger.Error("failed to read transcript", "error", err, "conversation", key.String())
		writeError(w, http.StatusInternalServerError, "failed to read transcript")
		return
	}

	entries := make([]TranscriptEntry, 0, len(messages))
	for _, msg := range messages {
		entries = append(entries, TranscriptEntry{
			ID:        msg.ID,
			Role:      msg.Role,
			Body:      msg.Body,
			Timestamp: msg.Timestamp.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": entries, "total": len(entries)})
}

// DeleteConversation wipes record and transcript without messaging the
// customer. The in-chat DELETE keyword is the customer-facing reset.
// DELETE /admin/conversations/{deviceID}/{phone}
func (h *AdminConversationsHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	key := keyFromRequest(r)
	if key.IsZero() {
		writeError(w, http.StatusBadRequest, "device id and phone are required")
		return
	}

	if err := h.records.Delete(r.Context(), key); err != nil {
		h.logger.Error("failed to delete conversation", "error", err, "conversation", key.String())
		writeError(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}
	if err := h.transcripts.Clear(r.Context(), key); err != nil {
		h.logger.Warn("failed to clear transcript", "error", err, "conversation", key.String())
	}

	h.logger.Info("conversation deleted via admin API", "conversation", key.String())
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func recordResponse(rec *conversation.Record) ConversationResponse {
	resp := ConversationResponse{
		DeviceID:    rec.Key.DeviceID,
		Phone:       rec.Key.Phone,
		Stage:       rec.Stage,
		ConvLast:    rec.ConvLast,
		ConvCurrent: rec.ConvCurrent,
		HumanMode:   rec.HumanMode,
		Detail:      rec.Detail,
	}
	if !rec.UpdatedAt.IsZero() {
		resp.UpdatedAt = rec.UpdatedAt.Format(time.RFC3339)
	}
	return resp
}
