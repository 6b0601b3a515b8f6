package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const transcriptKeyPrefix = "transcript:"

// Transcript roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleOperator  = "operator"
)

// TranscriptMessage is one turn in a conversation transcript.
type TranscriptMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"` // RoleUser, RoleAssistant or RoleOperator
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptStore keeps a rolling per-key transcript in Redis. It is the
// conversation history handed to the AI responder; entries expire with the
// conversation.
type TranscriptStore struct {
	redis       *redis.Client
	tracer      trace.Tracer
	ttl         time.Duration
	maxMessages int64
}

// NewTranscriptStore creates a transcript store. A nil client yields a nil
// store whose methods are no-ops.
func NewTranscriptStore(redisClient *redis.Client, ttl time.Duration) *TranscriptStore {
	if redisClient == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 14 * 24 * time.Hour
	}
	return &TranscriptStore{
		redis:       redisClient,
		tracer:      otel.Tracer("automaton.internal.conversation.transcript"),
		ttl:         ttl,
		maxMessages: 200,
	}
}

// Append adds one message to the key's transcript, trimming to the most
// recent maxMessages entries.
func (s *TranscriptStore) Append(ctx context.Context, key Key, msg TranscriptMessage) error {
	if s == nil || s.redis == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if key.IsZero() {
		return errors.New("conversation: transcript key required")
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("conversation: marshal transcript message: %w", err)
	}

	ctx, span := s.tracer.Start(ctx, "conversation.transcript.append")
	defer span.End()

	redisKey := transcriptKey(key)
	pipe := s.redis.TxPipeline()
	pipe.RPush(ctx, redisKey, data)
	pipe.Expire(ctx, redisKey, s.ttl)
	if s.maxMessages > 0 {
		pipe.LTrim(ctx, redisKey, -s.maxMessages, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: append transcript message: %w", err)
	}
	return nil
}

// List returns up to limit most recent messages in chronological order; a
// limit of zero returns the full retained transcript.
func (s *TranscriptStore) List(ctx context.Context, key Key, limit int64) ([]TranscriptMessage, error) {
	if s == nil || s.redis == nil {
		return nil, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if key.IsZero() {
		return nil, errors.New("conversation: transcript key required")
	}

	ctx, span := s.tracer.Start(ctx, "conversation.transcript.list")
	defer span.End()

	start := int64(0)
	if limit > 0 {
		start = -limit
	}

	raw, err := s.redis.LRange(ctx, transcriptKey(key), start, -1).Result()
	if err != nil {
		span.RecordError(err)
		if err == redis.Nil {
			return []TranscriptMessage{}, nil
		}
		return nil, fmt.Errorf("conversation: list transcript: %w", err)
	}

	out := make([]TranscriptMessage, 0, len(raw))
	for _, item := range raw {
		var msg TranscriptMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			span.RecordError(err)
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Clear drops the key's transcript, used when conversation data is reset.
func (s *TranscriptStore) Clear(ctx context.Context, key Key) error {
	if s == nil || s.redis == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.redis.Del(ctx, transcriptKey(key)).Err(); err != nil {
		return fmt.Errorf("conversation: clear transcript: %w", err)
	}
	return nil
}

func transcriptKey(key Key) string {
	return transcriptKeyPrefix + key.String()
}
