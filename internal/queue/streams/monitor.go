package streams

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backlog is the delivered-but-unacked state of one consumer group.
type Backlog struct {
	Pending    int64
	Consumers  int
	OldestID   string
	OldestIdle time.Duration
}

// PendingBacklog summarises the pending entries list of stream/group.
func PendingBacklog(ctx context.Context, client redis.UniversalClient, stream, group string) (Backlog, error) {
	if client == nil {
		return Backlog{}, errors.New("redis client is nil")
	}
	if stream == "" || group == "" {
		return Backlog{}, errors.New("stream and group are required")
	}

	summary, err := client.XPending(ctx, stream, group).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Backlog{}, nil
		}
		return Backlog{}, fmt.Errorf("xpending: %w", err)
	}
	b := Backlog{Pending: summary.Count, Consumers: len(summary.Consumers), OldestID: summary.Lower}
	if b.Pending == 0 {
		return b, nil
	}

	oldest, err := client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  summary.Lower,
		End:    summary.Lower,
		Count:  1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Backlog{}, fmt.Errorf("xpending oldest: %w", err)
	}
	if len(oldest) > 0 {
		b.OldestIdle = oldest[0].Idle
	}
	return b, nil
}
