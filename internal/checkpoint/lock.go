package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when another caller holds the thread lock.
var ErrLocked = errors.New("thread locked")

// Locker serializes work on a thread. TryLock never waits.
type Locker interface {
	TryLock(ctx context.Context, threadID string) (unlock func(), err error)
}

// MemoryLocker is a process-local Locker.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

func (l *MemoryLocker) TryLock(ctx context.Context, threadID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[threadID]; ok {
		return nil, ErrLocked
	}
	l.held[threadID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, threadID)
			l.mu.Unlock()
		})
	}, nil
}

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker shares thread locks across processes.
type RedisLocker struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisLocker creates a RedisLocker. The ttl bounds how long a crashed
// holder can keep a thread locked.
func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{rdb: rdb, prefix: "research:lock:", ttl: ttl}
}

func (l *RedisLocker) TryLock(ctx context.Context, threadID string) (func(), error) {
	key := l.prefix + threadID
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", threadID, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			_ = releaseScript.Run(context.Background(), l.rdb, []string{key}, token).Err()
		})
	}, nil
}

var (
	_ Locker = (*MemoryLocker)(nil)
	_ Locker = (*RedisLocker)(nil)
)
