// Package dedupe suppresses repeated webhook deliveries. LINE may redeliver an
// event it believes was not acknowledged; each event carries a stable
// webhookEventId that is claimed here before the event is handled.
package dedupe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/groupguard/groupguard/internal/config"
)

const (
	keyPrefix  = "groupguard:webhook-event:"
	defaultTTL = 10 * time.Minute
)

// Deduper claims event ids
type Deduper interface {
	// FirstSeen reports whether eventID has not been claimed before. Events
	// without an id and lookup failures count as first seen.
	FirstSeen(ctx context.Context, eventID string) bool
}

// Noop treats every event as new
type Noop struct{}

// FirstSeen always returns true
func (Noop) FirstSeen(context.Context, string) bool { return true }

type setNXer interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisDeduper claims ids with SET NX and a TTL
type RedisDeduper struct {
	client setNXer
	ttl    time.Duration
}

// NewRedisDeduper creates a RedisDeduper. A non-positive ttl uses ten minutes.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return newRedisDeduper(client, ttl)
}

func newRedisDeduper(client setNXer, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

// FirstSeen claims eventID. Redis failures fail open so events are never dropped.
func (d *RedisDeduper) FirstSeen(ctx context.Context, eventID string) bool {
	if eventID == "" {
		return true
	}
	ok, err := d.client.SetNX(ctx, keyPrefix+eventID, 1, d.ttl).Result()
	if err != nil {
		slog.Warn("webhook dedupe lookup failed; handling event anyway", "event_id", eventID, "error", err)
		return true
	}
	return ok
}

// OpenRedis connects to redis and verifies the connection
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}
