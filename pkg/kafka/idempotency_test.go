package kafka

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIdempotencyStore(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Minute)
	ctx := context.Background()

	seen, err := store.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.MarkProcessed(ctx, "evt-1"))

	seen, err = store.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = store.Seen(ctx, "evt-2")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestMemoryIdempotencyStore_TTLEviction(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Nanosecond)
	ctx := context.Background()

	require.NoError(t, store.MarkProcessed(ctx, "evt-1"))
	time.Sleep(time.Millisecond)

	// The old entry expired, so the ID no longer counts as seen.
	seen, err := store.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
}

func TestIdempotentHandler_SkipsDuplicates(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Minute)
	calls := 0
	handler := IdempotentHandler(store, testLogger(), func(context.Context, *Event) error {
		calls++
		return nil
	})

	evt, err := NewEvent("saga.step.succeeded", "tx-1", "saga_transaction", "payment-service", nil)
	require.NoError(t, err)

	require.NoError(t, handler(context.Background(), evt))
	require.NoError(t, handler(context.Background(), evt))
	assert.Equal(t, 1, calls)
}

func TestIdempotentHandler_FailedAttemptRetryable(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Minute)
	calls := 0
	handler := IdempotentHandler(store, testLogger(), func(context.Context, *Event) error {
		calls++
		if calls == 1 {
			return errors.New("transient failure")
		}
		return nil
	})

	evt, err := NewEvent("saga.step.succeeded", "tx-1", "saga_transaction", "payment-service", nil)
	require.NoError(t, err)

	require.Error(t, handler(context.Background(), evt))
	// The failure did not mark the event processed; a redelivery goes through.
	require.NoError(t, handler(context.Background(), evt))
	assert.Equal(t, 2, calls)
}

type failingStore struct{}

func (failingStore) Seen(context.Context, string) (bool, error) {
	return false, errors.New("store unavailable")
}

func (failingStore) MarkProcessed(context.Context, string) error {
	return errors.New("store unavailable")
}

func TestIdempotentHandler_StoreFailureProcessesAnyway(t *testing.T) {
	calls := 0
	handler := IdempotentHandler(failingStore{}, testLogger(), func(context.Context, *Event) error {
		calls++
		return nil
	})

	evt, err := NewEvent("saga.step.succeeded", "tx-1", "saga_transaction", "payment-service", nil)
	require.NoError(t, err)

	require.NoError(t, handler(context.Background(), evt))
	assert.Equal(t, 1, calls)
}
