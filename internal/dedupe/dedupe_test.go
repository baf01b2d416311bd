package dedupe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeRedis struct {
	keys map[string]time.Duration
	err  error
}

func (f *fakeRedis) SetNX(_ context.Context, key string, _ interface{}, exp time.Duration) *redis.BoolCmd {
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = exp
	return redis.NewBoolResult(true, nil)
}

func TestRedisDeduper_FirstSeen(t *testing.T) {
	fake := &fakeRedis{keys: map[string]time.Duration{}}
	d := newRedisDeduper(fake, time.Minute)
	ctx := context.Background()

	if !d.FirstSeen(ctx, "evt-1") {
		t.Error("first delivery should be new")
	}
	if d.FirstSeen(ctx, "evt-1") {
		t.Error("redelivery should be a duplicate")
	}
	if !d.FirstSeen(ctx, "evt-2") {
		t.Error("different id should be new")
	}
	if ttl := fake.keys[keyPrefix+"evt-1"]; ttl != time.Minute {
		t.Errorf("ttl = %v, want 1m", ttl)
	}
}

func TestRedisDeduper_EmptyIDAlwaysNew(t *testing.T) {
	fake := &fakeRedis{keys: map[string]time.Duration{}}
	d := newRedisDeduper(fake, 0)
	if !d.FirstSeen(context.Background(), "") || !d.FirstSeen(context.Background(), "") {
		t.Error("events without an id are never deduplicated")
	}
	if len(fake.keys) != 0 {
		t.Errorf("no keys should be written, got %v", fake.keys)
	}
	if d.ttl != defaultTTL {
		t.Errorf("ttl = %v, want default %v", d.ttl, defaultTTL)
	}
}

func TestRedisDeduper_FailsOpen(t *testing.T) {
	d := newRedisDeduper(&fakeRedis{err: errors.New("connection refused")}, time.Minute)
	for i := 0; i < 2; i++ {
		if !d.FirstSeen(context.Background(), "evt-1") {
			t.Error("redis errors must not drop events")
		}
	}
}

func TestNoop(t *testing.T) {
	var d Deduper = Noop{}
	if !d.FirstSeen(context.Background(), "x") || !d.FirstSeen(context.Background(), "x") {
		t.Error("Noop should treat every event as new")
	}
}
