package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyStore tracks processed event IDs so the same event is never
// handled twice. Marking happens only after successful processing so a
// failed handler attempt can be retried.
type IdempotencyStore interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
}

// MemoryIdempotencyStore is an in-memory IdempotencyStore with TTL-based
// eviction. Suitable for tests and single-instance deployments.
type MemoryIdempotencyStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

// NewMemoryIdempotencyStore creates an in-memory store. Entries older than
// ttl are evicted lazily on write.
func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// Seen reports whether the event ID was already processed.
func (s *MemoryIdempotencyStore) Seen(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.seen[eventID]
	if !ok {
		return false, nil
	}
	if time.Since(at) > s.ttl {
		delete(s.seen, eventID)
		return false, nil
	}
	return true, nil
}

// MarkProcessed records the event ID.
func (s *MemoryIdempotencyStore) MarkProcessed(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, at := range s.seen {
		if now.Sub(at) > s.ttl {
			delete(s.seen, id)
		}
	}
	s.seen[eventID] = now
	return nil
}

// RedisIdempotencyStore is a Redis-backed IdempotencyStore shared across
// orchestrator instances, so duplicate detection survives restarts.
type RedisIdempotencyStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisIdempotencyStore creates a Redis-backed store.
func NewRedisIdempotencyStore(client *redis.Client, prefix string, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisIdempotencyStore) key(eventID string) string {
	return fmt.Sprintf("%s:event:%s", s.prefix, eventID)
}

// Seen reports whether the event ID was already processed.
func (s *RedisIdempotencyStore) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency exists: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed records the event ID with a TTL.
func (s *RedisIdempotencyStore) MarkProcessed(ctx context.Context, eventID string) error {
	if err := s.client.Set(ctx, s.key(eventID), 1, s.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency set: %w", err)
	}
	return nil
}

// IdempotentHandler wraps a handler so each event ID is processed at most
// once. Duplicates are acknowledged without invoking the inner handler.
// The processed mark is written only after the handler succeeds, so failed
// attempts stay retryable. If the store itself fails the event is processed
// anyway; double processing is preferred over dropping a message.
func IdempotentHandler(store IdempotencyStore, logger *slog.Logger, next Handler) Handler {
	return func(ctx context.Context, event *Event) error {
		seen, err := store.Seen(ctx, event.EventID)
		if err != nil {
			logger.Warn("idempotency check failed, processing anyway",
				slog.String("event_id", event.EventID),
				slog.String("error", err.Error()),
			)
			return next(ctx, event)
		}
		if seen {
			logger.Debug("duplicate event skipped",
				slog.String("event_id", event.EventID),
				slog.String("event_type", event.EventType),
				slog.String("aggregate_id", event.AggregateID),
			)
			return nil
		}

		if err := next(ctx, event); err != nil {
			return err
		}

		if err := store.MarkProcessed(ctx, event.EventID); err != nil {
			logger.Warn("failed to record processed event",
				slog.String("event_id", event.EventID),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}
}
