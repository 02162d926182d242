// Package cache provides the Redis-backed response cache for the public
// tracking endpoint.
package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cargolink/tracker/errs"
	"github.com/cargolink/tracker/internal/observability"
)

const keyPrefix = "tracker:awb:"

// Redis caches rendered tracking responses keyed by AWB with a bounded TTL.
// Cache failures degrade to misses; the endpoint stays correct without Redis.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects a cache to the given endpoint (host:port).
func NewRedis(endpoint string, ttl time.Duration) (*Redis, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errs.Validation("cache", "endpoint required")
	}
	if ttl <= 0 {
		return nil, errs.Validation("cache", "ttl must be positive")
	}
	client := redis.NewClient(&redis.Options{Addr: endpoint})
	return &Redis{client: client, ttl: ttl}, nil
}

// Ping verifies connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return errs.New("cache", errs.KindTransientUpstream,
			errs.WithMessage("redis ping failed"), errs.WithCause(err))
	}
	return nil
}

// Get returns the cached payload for an AWB, reporting a miss on any failure.
func (r *Redis) Get(ctx context.Context, awb string) ([]byte, bool) {
	payload, err := r.client.Get(ctx, keyPrefix+awb).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			observability.Log().Warn("cache read failed",
				observability.Field{Key: "awb", Value: awb},
				observability.Field{Key: "error", Value: err.Error()})
		}
		return nil, false
	}
	return payload, true
}

// Set stores the payload for an AWB until the TTL expires.
func (r *Redis) Set(ctx context.Context, awb string, payload []byte) {
	if err := r.client.Set(ctx, keyPrefix+awb, payload, r.ttl).Err(); err != nil {
		observability.Log().Warn("cache write failed",
			observability.Field{Key: "awb", Value: awb},
			observability.Field{Key: "error", Value: err.Error()})
	}
}

// Invalidate drops the cached payload for an AWB.
func (r *Redis) Invalidate(ctx context.Context, awb string) {
	if err := r.client.Del(ctx, keyPrefix+awb).Err(); err != nil {
		observability.Log().Warn("cache invalidate failed",
			observability.Field{Key: "awb", Value: awb},
			observability.Field{Key: "error", Value: err.Error()})
	}
}

// Close releases the client connections.
func (r *Redis) Close() error {
	return r.client.Close()
}
