package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/researchd/config"
	"github.com/mohammad-safakhou/researchd/internal/queue/streams"
	"github.com/mohammad-safakhou/researchd/models"
)

// Consumer applies progress events from the stream to the job store.
// A message whose apply fails stays pending and is reclaimed after
// MinIdle; unknown jobs are acked and logged.
type Consumer struct {
	client   redis.UniversalClient
	consumer *streams.Consumer
	store    JobStore
	logger   *zap.Logger

	stream  string
	group   string
	block   time.Duration
	minIdle time.Duration
	count   int64
	cursor  string
}

func NewConsumer(client redis.UniversalClient, registry *streams.SchemaRegistry, store JobStore, cfg config.EventsConfig, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := cfg.Consumer
	if name == "" {
		name = "researchd-" + uuid.NewString()[:8]
	}
	return &Consumer{
		client:   client,
		consumer: streams.NewConsumer(client, registry, cfg.Group, name, logger),
		store:    store,
		logger:   logger.With(zap.String("stream", cfg.Stream), zap.String("consumer", name)),
		stream:   cfg.Stream,
		group:    cfg.Group,
		block:    cfg.Block,
		minIdle:  cfg.MinIdle,
		count:    32,
		cursor:   "0-0",
	}
}

// Apply decodes one message and writes it to the store.
func (c *Consumer) Apply(ctx context.Context, msg streams.Message) error {
	var evt models.ProgressEvent
	if err := msg.Envelope.Decode(&evt); err != nil {
		c.logger.Warn("dropping undecodable progress event", zap.String("id", msg.ID), zap.Error(err))
		return nil
	}
	ok, err := c.store.ApplyProgress(ctx, evt)
	if err != nil {
		return fmt.Errorf("apply progress for job %s: %w", evt.JobID, err)
	}
	if !ok {
		c.logger.Warn("progress event for unknown job", zap.String("job_id", evt.JobID), zap.String("id", msg.ID))
	}
	return nil
}

// Poll reclaims stale pending messages, reads new ones and applies both.
// It returns the number of messages acked.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	var batch []streams.Message
	if c.minIdle > 0 {
		claimed, next, err := c.consumer.AutoClaim(ctx, c.stream, c.minIdle, c.cursor, c.count)
		if err != nil {
			return 0, err
		}
		c.cursor = next
		if c.cursor == "" {
			c.cursor = "0-0"
		}
		batch = append(batch, claimed...)
	}
	fresh, err := c.consumer.Read(ctx, c.stream, streams.WithCount(c.count), streams.WithBlock(c.block))
	if err != nil {
		return 0, err
	}
	batch = append(batch, fresh...)

	acked := 0
	for _, msg := range batch {
		if err := c.Apply(ctx, msg); err != nil {
			c.logger.Error("progress event left pending", zap.String("id", msg.ID), zap.Error(err))
			continue
		}
		if err := c.consumer.Ack(ctx, c.stream, msg.ID); err != nil {
			return acked, err
		}
		acked++
	}
	return acked, nil
}

// Run creates the group and polls until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	if err := streams.EnsureGroup(ctx, c.client, c.stream, c.group); err != nil {
		return err
	}
	c.logger.Info("progress consumer started", zap.String("group", c.group))
	for {
		if ctx.Err() != nil {
			return nil
		}
		_, err := c.Poll(ctx)
		if err == nil {
			c.reportBacklog(ctx)
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		c.logger.Error("progress consumer poll failed", zap.Error(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
}

// Backlog reports the progress events delivered but not yet acked.
func (c *Consumer) Backlog(ctx context.Context) (streams.Backlog, error) {
	return c.consumer.Backlog(ctx, c.stream)
}

func (c *Consumer) reportBacklog(ctx context.Context) {
	b, err := c.Backlog(ctx)
	if err != nil {
		c.logger.Debug("backlog check failed", zap.Error(err))
		return
	}
	pendingEvents.WithLabelValues(c.stream, c.group).Set(float64(b.Pending))
	oldestPending.WithLabelValues(c.stream, c.group).Set(b.OldestIdle.Seconds())
}
