package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Consumer reads envelopes from Redis Streams using consumer groups.
// Entries that cannot be decoded or fail schema validation are acked and
// dropped so they are never redelivered.
type Consumer struct {
	client   redis.UniversalClient
	registry *SchemaRegistry
	group    string
	name     string
	logger   *zap.Logger
}

// ReadOption configures a group read.
type ReadOption func(*redis.XReadGroupArgs)

// WithBlock sets the maximum blocking duration when reading.
func WithBlock(d time.Duration) ReadOption {
	return func(args *redis.XReadGroupArgs) {
		if d > 0 {
			args.Block = d
		}
	}
}

// WithCount caps the number of messages returned in a single read.
func WithCount(n int64) ReadOption {
	return func(args *redis.XReadGroupArgs) {
		if n > 0 {
			args.Count = n
		}
	}
}

// NewConsumer builds a consumer for the specified group and name.
func NewConsumer(client redis.UniversalClient, registry *SchemaRegistry, group, name string, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{client: client, registry: registry, group: group, name: name, logger: logger}
}

// EnsureGroup creates the consumer group (and stream) if it does not exist.
func EnsureGroup(ctx context.Context, client redis.UniversalClient, stream, group string) error {
	if stream == "" || group == "" {
		return fmt.Errorf("stream and group must be provided")
	}
	if err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err(); err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return fmt.Errorf("xgroup create: %w", err)
	}
	return nil
}

// Message represents a consumed stream entry.
type Message struct {
	ID       string
	Envelope Envelope
}

// Read pulls new messages for this consumer. It does not block unless
// WithBlock is given.
func (c *Consumer) Read(ctx context.Context, stream string, opts ...ReadOption) ([]Message, error) {
	if stream == "" {
		return nil, fmt.Errorf("stream name is required")
	}
	if c.group == "" || c.name == "" {
		return nil, fmt.Errorf("consumer group and name must be configured")
	}

	args := &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{stream, ">"},
		Block:    -1,
	}
	for _, opt := range opts {
		opt(args)
	}

	res, err := c.client.XReadGroup(ctx, args).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	var out []Message
	for _, st := range res {
		for _, msg := range st.Messages {
			if decoded, ok := c.decodeMessage(ctx, stream, msg); ok {
				out = append(out, decoded)
			}
		}
	}
	return out, nil
}

// Ack acknowledges processing of the provided message IDs.
func (c *Consumer) Ack(ctx context.Context, stream string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.client.XAck(ctx, stream, c.group, ids...).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

// Backlog reports the pending entries of this consumer's group.
func (c *Consumer) Backlog(ctx context.Context, stream string) (Backlog, error) {
	return PendingBacklog(ctx, c.client, stream, c.group)
}

// AutoClaim reclaims pending messages older than minIdle for this consumer.
// The returned cursor should be passed back to continue claiming.
func (c *Consumer) AutoClaim(ctx context.Context, stream string, minIdle time.Duration, start string, count int64) ([]Message, string, error) {
	if stream == "" {
		return nil, "", fmt.Errorf("stream name is required")
	}
	if start == "" {
		start = "0-0"
	}
	args := &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    c.group,
		Consumer: c.name,
		MinIdle:  minIdle,
		Start:    start,
	}
	if count > 0 {
		args.Count = count
	}
	msgs, next, err := c.client.XAutoClaim(ctx, args).Result()
	if err != nil {
		return nil, "", fmt.Errorf("xautoclaim: %w", err)
	}
	var out []Message
	for _, msg := range msgs {
		if decoded, ok := c.decodeMessage(ctx, stream, msg); ok {
			out = append(out, decoded)
		}
	}
	return out, next, nil
}

func (c *Consumer) decodeMessage(ctx context.Context, stream string, msg redis.XMessage) (Message, bool) {
	drop := func(reason string, err error) (Message, bool) {
		c.logger.Warn("dropping stream entry",
			zap.String("stream", stream),
			zap.String("id", msg.ID),
			zap.String("reason", reason),
			zap.Error(err),
		)
		_ = c.client.XAck(ctx, stream, c.group, msg.ID).Err()
		return Message{}, false
	}

	raw, ok := msg.Values["envelope"]
	if !ok {
		return drop("missing envelope field", nil)
	}
	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return drop("unencodable envelope", err)
		}
		data = encoded
	}

	env, err := UnmarshalEnvelope(data)
	if err != nil {
		return drop("invalid envelope", err)
	}
	if c.registry != nil {
		if err := c.registry.Validate(env.EventType, env.PayloadVersion, env.Data); err != nil {
			return drop("schema validation", err)
		}
	}
	return Message{ID: msg.ID, Envelope: env}, true
}
