package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisLock_AcquireRelease(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	lock := NewRedisLock(client, "tick:ws-1", time.Minute)

	ok, err := lock.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if !ok {
		t.Fatal("first Acquire() = false, want true")
	}

	// A second holder cannot take the same key while held.
	other := NewRedisLock(client, "tick:ws-1", time.Minute)
	ok, err = other.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if ok {
		t.Error("second Acquire() = true, want false while lock held")
	}

	if err := lock.Release(ctx); err != nil {
		t.Fatalf("Release() error: %v", err)
	}

	ok, err = other.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() after release error: %v", err)
	}
	if !ok {
		t.Error("Acquire() after release = false, want true")
	}
}

func TestRedisLock_ReleaseOnlyIfOwned(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	first := NewRedisLock(client, "tick:ws-2", time.Minute)
	if ok, _ := first.Acquire(ctx); !ok {
		t.Fatal("setup: could not acquire")
	}

	// A lock instance that never acquired must not release the holder's key.
	impostor := NewRedisLock(client, "tick:ws-2", time.Minute)
	if err := impostor.Release(ctx); err != nil {
		t.Fatalf("Release() error: %v", err)
	}

	stillHeld := NewRedisLock(client, "tick:ws-2", time.Minute)
	if ok, _ := stillHeld.Acquire(ctx); ok {
		t.Error("lock was released by a non-owner")
	}
}

func TestNewLock_PrefersRedis(t *testing.T) {
	client := newTestRedis(t)

	l := NewLock(client, nil, "tick:ws-3", time.Minute)
	if _, ok := l.(*RedisLock); !ok {
		t.Errorf("NewLock with redis client returned %T, want *RedisLock", l)
	}

	l = NewLock(nil, nil, "tick:ws-3", time.Minute)
	if _, ok := l.(*PGAdvisoryLock); !ok {
		t.Errorf("NewLock without redis returned %T, want *PGAdvisoryLock", l)
	}
}
