package middleware

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisLimitClient connects to a local Redis instance, or skips the test
// when none is available.
func redisLimitClient(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping integration test")
	}
	t.Cleanup(func() { client.Close() })

	return client
}

// TestRedisRateLimitStore_Allow tests the Redis rate limiter with a real Redis instance.
func TestRedisRateLimitStore_Allow(t *testing.T) {
	client := redisLimitClient(t)
	store := NewRedisRateLimitStore(client)
	config := RateLimitConfig{
		RequestsPerWindow: 5,
		WindowDuration:    time.Minute,
	}

	testKey := "test-redis-key-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	ctx := context.Background()

	// Requests up to the limit are allowed
	for i := 0; i < 5; i++ {
		allowed, _ := store.Allow(ctx, testKey, config)
		if !allowed {
			t.Errorf("request %d should be allowed", i+1)
		}
	}

	// The 6th request is blocked with a sane retry hint
	allowed, retryAfter := store.Allow(ctx, testKey, config)
	if allowed {
		t.Error("6th request should be blocked")
	}
	if retryAfter <= 0 || retryAfter > 60 {
		t.Errorf("expected retryAfter between 1 and 60, got %d", retryAfter)
	}

	// Cleanup
	client.Del(ctx, "eldjournal:ratelimit:"+testKey)
}

// TestRedisRateLimitStore_DifferentKeys tests that different keys have independent limits.
func TestRedisRateLimitStore_DifferentKeys(t *testing.T) {
	client := redisLimitClient(t)
	store := NewRedisRateLimitStore(client)
	config := RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    time.Minute,
	}

	key1 := "test-redis-key1-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	key2 := "test-redis-key2-" + strconv.FormatInt(time.Now().UnixNano()+1, 10)
	ctx := context.Background()

	// Each key should have its own limit
	allowed1, _ := store.Allow(ctx, key1, config)
	allowed2, _ := store.Allow(ctx, key2, config)

	if !allowed1 || !allowed2 {
		t.Error("both keys should be allowed their first request")
	}

	// Both should now be at their limit
	blocked1, _ := store.Allow(ctx, key1, config)
	blocked2, _ := store.Allow(ctx, key2, config)

	if blocked1 || blocked2 {
		t.Error("both keys should be blocked after reaching limit")
	}

	// Cleanup
	client.Del(ctx, "eldjournal:ratelimit:"+key1, "eldjournal:ratelimit:"+key2)
}

// TestRedisRateLimitStore_WindowExpiry tests that limits reset after the window expires.
func TestRedisRateLimitStore_WindowExpiry(t *testing.T) {
	client := redisLimitClient(t)
	store := NewRedisRateLimitStore(client)
	config := RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    time.Second,
	}

	key := "test-redis-expiry-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	ctx := context.Background()

	if allowed, _ := store.Allow(ctx, key, config); !allowed {
		t.Fatal("first request should be allowed")
	}
	if allowed, _ := store.Allow(ctx, key, config); allowed {
		t.Fatal("second request in the window should be blocked")
	}

	time.Sleep(1100 * time.Millisecond)

	if allowed, _ := store.Allow(ctx, key, config); !allowed {
		t.Error("request after window expiry should be allowed")
	}

	// Cleanup
	client.Del(ctx, "eldjournal:ratelimit:"+key)
}
