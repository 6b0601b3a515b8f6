package notify

import (
	"context"
	"fmt"

	"github.com/devmuse/automaton/internal/conversation"
	"github.com/devmuse/automaton/pkg/logging"
)

// Service emails the operator when a conversation changes hands. Delivery
// failures are logged and swallowed; a lost alert must never fail the
// dispatch that caused it.
type Service struct {
	email         EmailSender
	operatorEmail string
	logger        *logging.Logger
}

// NewService creates a notification service. email may be nil, in which
// case all notifications become log lines.
func NewService(email EmailSender, operatorEmail string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:         email,
		operatorEmail: operatorEmail,
		logger:        logger,
	}
}

// HumanModeChanged alerts the operator that a conversation was taken over
// or released, and through which channel.
func (s *Service) HumanModeChanged(ctx context.Context, key conversation.Key, humanMode bool, source string) {
	if s == nil {
		return
	}

	subject := fmt.Sprintf("Conversation %s released to the bot", key.Phone)
	body := fmt.Sprintf(
		"The conversation with %s on device %s was handed back to the automatic responder (via %s).",
		key.Phone, key.DeviceID, source)
	if humanMode {
		subject = fmt.Sprintf("Conversation %s needs a human", key.Phone)
		body = fmt.Sprintf(
			"The conversation with %s on device %s was taken over by an operator (via %s). "+
				"Automatic replies are paused until it is released.",
			key.Phone, key.DeviceID, source)
	}

	if s.email == nil || s.operatorEmail == "" {
		s.logger.Info("operator notification skipped, email not configured",
			"conversation", key.String(),
			"human_mode", humanMode)
		return
	}

	err := s.email.Send(ctx, EmailMessage{
		To:      s.operatorEmail,
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		s.logger.Error("operator notification failed",
			"error", err,
			"conversation", key.String(),
			"human_mode", humanMode)
	}
}
