package data

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sa32552/regtech-engine/internal/core"
	"github.com/sa32552/regtech-engine/internal/domain/model"
	"github.com/sa32552/regtech-engine/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a Redis client for testing.
// Tests will be skipped if Redis is not available.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	return testutil.SetupTestRedis(t)
}

func TestRedisCacheRepo_Set_Get_Delete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client := setupTestRedis(t)
	defer client.Close()

	repo := NewRedisCacheRepo(client)
	ctx := context.Background()

	t.Run("set and get", func(t *testing.T) {
		key := "test:key:1"
		value := []byte("test value")
		ttl := 5 * time.Minute

		require.NoError(t, repo.Set(ctx, key, value, ttl))

		result, err := repo.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, value, result)

		actualTTL := client.TTL(ctx, key).Val()
		assert.True(t, actualTTL > 0 && actualTTL <= ttl)
	})

	t.Run("get non-existent key", func(t *testing.T) {
		result, err := repo.Get(ctx, "non:existent:key")
		require.NoError(t, err)
		assert.Nil(t, result)
	})

	t.Run("delete existing key", func(t *testing.T) {
		key := "test:key:2"
		require.NoError(t, repo.Set(ctx, key, []byte("to be deleted"), time.Minute))

		deleted, err := repo.Delete(ctx, key)
		require.NoError(t, err)
		assert.True(t, deleted)

		result, err := repo.Get(ctx, key)
		require.NoError(t, err)
		assert.Nil(t, result)
	})

	t.Run("delete non-existent key", func(t *testing.T) {
		deleted, err := repo.Delete(ctx, "non:existent:key")
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("set if not exists - existing key", func(t *testing.T) {
		key := "test:key:6"
		original := []byte("original value")
		require.NoError(t, repo.Set(ctx, key, original, time.Minute))

		wasSet, err := repo.SetIfNotExists(ctx, key, []byte("new value"), time.Minute)
		require.NoError(t, err)
		assert.False(t, wasSet)

		result, err := repo.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, original, result)
	})

	t.Run("health check", func(t *testing.T) {
		assert.NoError(t, repo.Health(ctx))
	})
}

func TestRedisCacheRepo_AlertGate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client := setupTestRedis(t)
	defer client.Close()

	gate := core.NewCacheAlertGate(NewRedisCacheRepo(client), "test:gate:")
	ctx := context.Background()

	first, err := gate.Acquire(ctx, "client-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := gate.Acquire(ctx, "client-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, second, "a second alert inside the window is suppressed")

	other, err := gate.Acquire(ctx, "client-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, other)

	ttl := client.TTL(ctx, "test:gate:client-1").Val()
	assert.True(t, ttl > 0 && ttl <= time.Minute)
}

func TestRedisCacheRepo_EmptyKey(t *testing.T) {
	// Validation fails before any command is sent, so no server is needed.
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	repo := NewRedisCacheRepo(client)
	ctx := context.Background()

	err := repo.Set(ctx, "", []byte("value"), time.Minute)
	require.ErrorContains(t, err, "key cannot be empty")

	_, err = repo.Get(ctx, "")
	require.ErrorContains(t, err, "key cannot be empty")

	_, err = repo.Delete(ctx, "")
	require.ErrorContains(t, err, "key cannot be empty")

	_, err = repo.SetIfNotExists(ctx, "", []byte("value"), time.Minute)
	require.ErrorContains(t, err, "key cannot be empty")
}

func TestRedisEventPublisher_Publish(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client := setupTestRedis(t)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := client.Subscribe(ctx, "test:events")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	pub := NewRedisEventPublisher(RedisEventPublisherOptions{Client: client, Channel: "test:events"})
	pub.Publish(ctx, model.Event{
		Type:       model.EventAlertRaised,
		SubjectID:  "client-9",
		Severity:   model.SeverityHigh,
		OccurredAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	})

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got model.Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, model.EventAlertRaised, got.Type)
	assert.Equal(t, "client-9", got.SubjectID)
	assert.Equal(t, model.SeverityHigh, got.Severity)
}

func TestRedisEventPublisher_NilClient(t *testing.T) {
	pub := NewRedisEventPublisher(RedisEventPublisherOptions{})
	assert.NotPanics(t, func() {
		pub.Publish(context.Background(), model.Event{Type: model.EventJobFailed})
	})
}
