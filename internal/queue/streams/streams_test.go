package streams

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestPublishReadAck(t *testing.T) {
	ctx := context.Background()
	_, client := newTestClient(t)
	reg, err := NewBaseRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	const stream, group = "progress", "status"
	if err := EnsureGroup(ctx, client, stream, group); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	if err := EnsureGroup(ctx, client, stream, group); err != nil {
		t.Fatalf("ensure group should be idempotent: %v", err)
	}

	pub := NewPublisher(client, reg)
	if _, err := pub.Publish(ctx, stream, Envelope{
		EventType:      EventJobProgress,
		PayloadVersion: PayloadVersionV1,
		Data:           progressPayload(t, nil),
	}, WithMaxLenApprox(100)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	cons := NewConsumer(client, reg, group, "c1", nil)
	msgs, err := cons.Read(ctx, stream, WithCount(10), WithBlock(10*time.Millisecond))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	var payload struct {
		JobID    string  `json:"job_id"`
		Progress float64 `json:"progress"`
	}
	if err := msgs[0].Envelope.Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.JobID != "job-1" || payload.Progress != 0.4 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if msgs[0].Envelope.EventID == "" {
		t.Fatalf("expected generated event id")
	}
	if err := cons.Ack(ctx, stream, msgs[0].ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	pending, err := client.XPending(ctx, stream, group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected no pending entries, got %d", pending.Count)
	}
}

func TestPublishRejectsInvalidPayload(t *testing.T) {
	ctx := context.Background()
	_, client := newTestClient(t)
	reg, _ := NewBaseRegistry()
	pub := NewPublisher(client, reg)
	_, err := pub.Publish(ctx, "progress", Envelope{
		EventType:      EventJobProgress,
		PayloadVersion: PayloadVersionV1,
		Data:           progressPayload(t, map[string]interface{}{"progress": 2}),
	})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if n, _ := client.XLen(ctx, "progress").Result(); n != 0 {
		t.Fatalf("expected nothing appended, got %d", n)
	}
}

func TestReadDropsMalformedEntries(t *testing.T) {
	ctx := context.Background()
	_, client := newTestClient(t)
	reg, _ := NewBaseRegistry()
	const stream, group = "progress", "status"
	if err := EnsureGroup(ctx, client, stream, group); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: map[string]interface{}{"envelope": "{not json"}})
	client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: map[string]interface{}{"other": "x"}})

	cons := NewConsumer(client, reg, group, "c1", nil)
	msgs, err := cons.Read(ctx, stream, WithCount(10))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected malformed entries dropped, got %d", len(msgs))
	}
	pending, err := client.XPending(ctx, stream, group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected malformed entries acked, got %d pending", pending.Count)
	}
}

func TestAutoClaimRedeliversUnacked(t *testing.T) {
	ctx := context.Background()
	_, client := newTestClient(t)
	reg, _ := NewBaseRegistry()
	const stream, group = "progress", "status"
	if err := EnsureGroup(ctx, client, stream, group); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	pub := NewPublisher(client, reg)
	if _, err := pub.PublishPayload(ctx, stream, EventJobProgress, PayloadVersionV1, map[string]interface{}{
		"job_id":    "job-9",
		"status":    "running",
		"progress":  0.2,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	first := NewConsumer(client, reg, group, "c1", nil)
	msgs, err := first.Read(ctx, stream)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("read: %v (%d msgs)", err, len(msgs))
	}

	second := NewConsumer(client, reg, group, "c2", nil)
	claimed, _, err := second.AutoClaim(ctx, stream, 0, "0-0", 10)
	if err != nil {
		t.Fatalf("autoclaim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != msgs[0].ID {
		t.Fatalf("expected unacked message to be claimed, got %+v", claimed)
	}
}
