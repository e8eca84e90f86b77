package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisLockerExclusive(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	a := NewRedisLocker(rdb, time.Minute)
	b := NewRedisLocker(rdb, time.Minute)

	unlock, err := a.TryLock(ctx, "thread-1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := b.TryLock(ctx, "thread-1"); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked from second locker, got %v", err)
	}
	unlock()
	if mr.Exists("research:lock:thread-1") {
		t.Fatalf("lock key should be released")
	}
	if _, err := b.TryLock(ctx, "thread-1"); err != nil {
		t.Fatalf("second locker should acquire after release: %v", err)
	}
}

func TestRedisLockerDoesNotReleaseForeignToken(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	l := NewRedisLocker(rdb, time.Second)
	unlock, err := l.TryLock(ctx, "thread-2")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	// expire our lock and let someone else take it
	mr.FastForward(2 * time.Second)
	if _, err := l.TryLock(ctx, "thread-2"); err != nil {
		t.Fatalf("relock after expiry: %v", err)
	}
	unlock()
	if !mr.Exists("research:lock:thread-2") {
		t.Fatalf("stale unlock must not delete the new holder's key")
	}
}
