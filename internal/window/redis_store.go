package window

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

	"github.com/devmuse/automaton/internal/conversation"
)

const (
	windowKeyPrefix  = "pending_window:"
	upsertMaxRetries = 3

	// Windows self-expire well past the abandonment threshold as a backstop
	// against janitor outages.
	windowTTL = 24 * time.Hour
)

// RedisStore keeps pending windows in Redis so coalescing state survives a
// process restart. Upsert uses WATCH-based CAS for per-key atomicity and
// Remove uses GETDEL so only one caller ever receives a given window.
type RedisStore struct {
	redis  *redis.Client
	tracer trace.Tracer
}

// NewRedisStore creates a pending-window store on the given Redis client.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("window: redis client required")
	}
	return &RedisStore{
		redis:  redisClient,
		tracer: otel.Tracer("automaton.internal.window.redis"),
	}
}

func (s *RedisStore) Upsert(ctx context.Context, key conversation.Key, fragment Fragment, armedUntil time.Time) (*Window, bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if key.IsZero() {
		return nil, false, errors.New("window: key required")
	}

	ctx, span := s.tracer.Start(ctx, "window.redis.upsert")
	defer span.End()

	redisKey := storeKey(key)
	var (
		result  *Window
		created bool
	)

	txn := func(tx *redis.Tx) error {
		w, err := s.load(ctx, tx, redisKey)
		if err != nil {
			return err
		}
		if w == nil {
			created = true
			w = &Window{
				Key:         key,
				Token:       uuid.NewString(),
				FirstSeenAt: fragment.ReceivedAt,
			}
		} else {
			created = false
		}
		w.Fragments = append(w.Fragments, fragment)
		w.LastSeenAt = fragment.ReceivedAt
		w.ArmedUntil = armedUntil

		data, err := json.Marshal(w)
		if err != nil {
			return fmt.Errorf("window: marshal window: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, data, windowTTL)
			return nil
		})
		if err != nil {
			return err
		}
		result = w
		return nil
	}

	var err error
	for attempt := 0; attempt < upsertMaxRetries; attempt++ {
		err = s.redis.Watch(ctx, txn, redisKey)
		if err == nil {
			return result, created, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	span.RecordError(err)
	return nil, false, fmt.Errorf("window: upsert window: %w", err)
}

func (s *RedisStore) Remove(ctx context.Context, key conversation.Key) (*Window, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if key.IsZero() {
		return nil, errors.New("window: key required")
	}

	ctx, span := s.tracer.Start(ctx, "window.redis.remove")
	defer span.End()

	raw, err := s.redis.GetDel(ctx, storeKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("window: remove window: %w", err)
	}

	var w Window
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("window: decode window: %w", err)
	}
	return &w, nil
}

func (s *RedisStore) Restore(ctx context.Context, win *Window) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if win == nil || win.Key.IsZero() {
		return errors.New("window: window required")
	}

	ctx, span := s.tracer.Start(ctx, "window.redis.restore")
	defer span.End()

	data, err := json.Marshal(win)
	if err != nil {
		return fmt.Errorf("window: marshal window: %w", err)
	}
	if err := s.redis.Set(ctx, storeKey(win.Key), data, windowTTL).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("window: restore window: %w", err)
	}
	return nil
}

func (s *RedisStore) ListAbandoned(ctx context.Context, olderThan time.Time) ([]*Window, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := s.tracer.Start(ctx, "window.redis.list_abandoned")
	defer span.End()

	var out []*Window
	iter := s.redis.Scan(ctx, 0, windowKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := s.redis.Get(ctx, iter.Val()).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			span.RecordError(err)
			return nil, fmt.Errorf("window: scan window %s: %w", iter.Val(), err)
		}
		var w Window
		if err := json.Unmarshal([]byte(raw), &w); err != nil {
			span.RecordError(err)
			continue
		}
		if w.LastSeenAt.Before(olderThan) {
			copied := w
			out = append(out, &copied)
		}
	}
	if err := iter.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("window: scan windows: %w", err)
	}
	return out, nil
}

func (s *RedisStore) load(ctx context.Context, tx *redis.Tx, redisKey string) (*Window, error) {
	raw, err := tx.Get(ctx, redisKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("window: load window: %w", err)
	}
	var w Window
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, fmt.Errorf("window: decode window: %w", err)
	}
	return &w, nil
}

func storeKey(key conversation.Key) string {
	return windowKeyPrefix + key.String()
}
