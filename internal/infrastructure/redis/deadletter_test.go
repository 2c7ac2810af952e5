package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/etiennerc-wobz/payement-item-association/internal/domain/deadletter"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestDeadLetterStore_PushAndList(t *testing.T) {
	_, client := setupTestRedis(t)
	store := NewDeadLetterStore(client, "dl")
	ctx := context.Background()
	evictedAt := time.Date(2024, 5, 14, 10, 0, 0, 0, time.UTC)

	for _, kind := range []string{deadletter.KindTransaction, deadletter.KindItemBatch} {
		require.NoError(t, store.Push(ctx, &deadletter.Entry{
			Kind:      kind,
			Reason:    "no counterpart within 1h0m0s",
			Event:     json.RawMessage(`{"id":"x"}`),
			EvictedAt: evictedAt,
		}))
	}

	entries, err := store.List(ctx, 10)

	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, deadletter.KindItemBatch, entries[0].Kind, "newest first")
	assert.Equal(t, deadletter.KindTransaction, entries[1].Kind)
	assert.JSONEq(t, `{"id":"x"}`, string(entries[1].Event))
	assert.True(t, evictedAt.Equal(entries[1].EvictedAt))
}

func TestDeadLetterStore_Capped(t *testing.T) {
	mr, client := setupTestRedis(t)
	store := NewDeadLetterStore(client, "dl")
	store.cap = 3
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Push(ctx, &deadletter.Entry{Kind: deadletter.KindTransaction, Event: json.RawMessage(`{}`)}))
	}

	items, err := mr.List("dl")
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestDeadLetterStore_ListLimit(t *testing.T) {
	_, client := setupTestRedis(t)
	store := NewDeadLetterStore(client, "dl")
	ctx := context.Background()

	entries, err := store.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = store.List(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNewClient_Ping(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClient(context.Background(), Config{Addr: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	mr.Close()
	_, err = NewClient(context.Background(), Config{Addr: mr.Addr()})
	assert.Error(t, err)
}
