package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/cargolink/tracker/errs"
)

func newCacheFixture(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	cache, err := NewRedis(server.Addr(), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache, server
}

func TestNewRedisRejectsBadOptions(t *testing.T) {
	_, err := NewRedis("", time.Minute)
	require.True(t, errs.IsValidation(err))

	_, err = NewRedis("localhost:6379", 0)
	require.True(t, errs.IsValidation(err))
}

func TestGetAndSetRoundTrip(t *testing.T) {
	cache, _ := newCacheFixture(t, time.Minute)
	ctx := context.Background()

	_, ok := cache.Get(ctx, "125-12345678")
	require.False(t, ok)

	cache.Set(ctx, "125-12345678", []byte(`{"awb":"125-12345678"}`))
	payload, ok := cache.Get(ctx, "125-12345678")
	require.True(t, ok)
	require.JSONEq(t, `{"awb":"125-12345678"}`, string(payload))
}

func TestSetExpiresAfterTTL(t *testing.T) {
	cache, server := newCacheFixture(t, 30*time.Second)
	ctx := context.Background()

	cache.Set(ctx, "125-12345678", []byte(`{}`))
	server.FastForward(31 * time.Second)

	_, ok := cache.Get(ctx, "125-12345678")
	require.False(t, ok)
}

func TestInvalidateDropsEntry(t *testing.T) {
	cache, _ := newCacheFixture(t, time.Minute)
	ctx := context.Background()

	cache.Set(ctx, "125-12345678", []byte(`{}`))
	cache.Invalidate(ctx, "125-12345678")

	_, ok := cache.Get(ctx, "125-12345678")
	require.False(t, ok)
}

func TestGetTreatsServerFailureAsMiss(t *testing.T) {
	cache, server := newCacheFixture(t, time.Minute)
	ctx := context.Background()

	cache.Set(ctx, "125-12345678", []byte(`{}`))
	server.Close()

	_, ok := cache.Get(ctx, "125-12345678")
	require.False(t, ok)
}

func TestPingReportsUnreachableServer(t *testing.T) {
	cache, server := newCacheFixture(t, time.Minute)
	require.NoError(t, cache.Ping(context.Background()))

	server.Close()
	err := cache.Ping(context.Background())
	require.True(t, errs.IsTransient(err))
}
