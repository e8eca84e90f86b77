package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/researchd/models"
)

// Emitter is the producer half of the bridge. It never reports progress
// lower than what it has already sent for a job, and send failures are
// logged and swallowed so the workflow keeps going. Sends for one job are
// serialized, so the stream sees a job's progress in non-decreasing order.
type Emitter struct {
	pub     Publisher
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time

	mu    sync.Mutex
	last  map[string]float64
	lanes map[string]*lane
}

// lane orders the sends of one job. refs counts Emit calls holding or
// waiting on it.
type lane struct {
	sync.Mutex
	refs int
}

type EmitterOption func(*Emitter)

func WithTimeout(d time.Duration) EmitterOption {
	return func(e *Emitter) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithLogger(l *zap.Logger) EmitterOption {
	return func(e *Emitter) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithClock(now func() time.Time) EmitterOption {
	return func(e *Emitter) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEmitter(pub Publisher, opts ...EmitterOption) *Emitter {
	if pub == nil {
		pub = NoopPublisher{}
	}
	e := &Emitter{
		pub:     pub,
		timeout: 2 * time.Second,
		logger:  zap.NewNop(),
		now:     func() time.Time { return time.Now().UTC() },
		last:    make(map[string]float64),
		lanes:   make(map[string]*lane),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit sends one progress update. Events without a job id are ignored.
func (e *Emitter) Emit(ctx context.Context, jobID string, status models.JobStatus, progress float64, details map[string]any) {
	if e == nil || jobID == "" {
		return
	}
	l := e.acquire(jobID)
	defer e.release(jobID, l)

	progress = e.clamp(jobID, status, progress)
	evt := models.ProgressEvent{
		JobID:     jobID,
		Status:    status,
		Progress:  progress,
		Timestamp: e.now(),
		Details:   details,
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.pub.PublishProgress(sendCtx, evt); err != nil {
		e.logger.Warn("progress event not delivered",
			zap.String("job_id", jobID),
			zap.String("status", string(status)),
			zap.Float64("progress", progress),
			zap.Error(err),
		)
	}
}

// Last returns the highest progress sent for a job in this process.
func (e *Emitter) Last(jobID string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last[jobID]
}

func (e *Emitter) acquire(jobID string) *lane {
	e.mu.Lock()
	l, ok := e.lanes[jobID]
	if !ok {
		l = &lane{}
		e.lanes[jobID] = l
	}
	l.refs++
	e.mu.Unlock()
	l.Lock()
	return l
}

func (e *Emitter) release(jobID string, l *lane) {
	l.Unlock()
	e.mu.Lock()
	if l.refs--; l.refs == 0 {
		delete(e.lanes, jobID)
	}
	e.mu.Unlock()
}

func (e *Emitter) clamp(jobID string, status models.JobStatus, progress float64) float64 {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if prev, ok := e.last[jobID]; ok && prev > progress {
		progress = prev
	}
	if status == models.JobCompleted {
		delete(e.last, jobID)
	} else {
		e.last[jobID] = progress
	}
	return progress
}
