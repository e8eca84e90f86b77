// Package events bridges workflow progress to job state through Redis Streams.
package events

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/researchd/internal/queue/streams"
	"github.com/mohammad-safakhou/researchd/models"
)

// Publisher delivers a progress event to whatever tracks job state.
type Publisher interface {
	PublishProgress(ctx context.Context, evt models.ProgressEvent) error
}

// JobStore is the side of the store the bridge writes to.
type JobStore interface {
	ApplyProgress(ctx context.Context, evt models.ProgressEvent) (bool, error)
}

// StreamPublisher appends progress events to a Redis stream.
type StreamPublisher struct {
	pub    *streams.Publisher
	stream string
	maxLen int64
}

func NewStreamPublisher(pub *streams.Publisher, stream string, maxLen int64) *StreamPublisher {
	return &StreamPublisher{pub: pub, stream: stream, maxLen: maxLen}
}

func (p *StreamPublisher) PublishProgress(ctx context.Context, evt models.ProgressEvent) error {
	_, err := p.pub.PublishPayload(ctx, p.stream, streams.EventJobProgress, streams.PayloadVersionV1, evt, streams.WithMaxLenApprox(p.maxLen))
	if err != nil {
		return fmt.Errorf("publish progress for job %s: %w", evt.JobID, err)
	}
	return nil
}

// DirectPublisher applies events to the job store in-process, for
// deployments running without Redis.
type DirectPublisher struct {
	store JobStore
}

func NewDirectPublisher(store JobStore) *DirectPublisher {
	return &DirectPublisher{store: store}
}

func (p *DirectPublisher) PublishProgress(ctx context.Context, evt models.ProgressEvent) error {
	ok, err := p.store.ApplyProgress(ctx, evt)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("job %s: %w", evt.JobID, models.ErrJobNotFound)
	}
	return nil
}

// NoopPublisher discards events.
type NoopPublisher struct{}

func (NoopPublisher) PublishProgress(context.Context, models.ProgressEvent) error { return nil }
