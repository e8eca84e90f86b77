// Package worker invokes named worker capabilities through a static
// dispatch table with rate limiting and structured call logging.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/researchd/internal/capability"
	"github.com/mohammad-safakhou/researchd/internal/logging"
	"github.com/mohammad-safakhou/researchd/internal/ratelimit"
)

// ErrUnknownCapability is returned for a worker operation that is not
// declared by the worker's card or has no bound handler.
var ErrUnknownCapability = errors.New("unknown capability")

// ErrBadArguments is returned when a handler receives the wrong argument type.
var ErrBadArguments = errors.New("bad capability arguments")

// CallError wraps a failure returned by a worker. It unwraps to the
// original error.
type CallError struct {
	Worker     string
	Capability string
	Err        error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("worker %s.%s: %v", e.Worker, e.Capability, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Handler executes one capability.
type Handler func(ctx context.Context, args any) (any, error)

type key struct {
	worker     string
	capability string
}

// Dispatcher owns the dispatch table. Bindings are made once at startup.
type Dispatcher struct {
	registry *capability.Registry
	limiter  *ratelimit.Limiter
	logger   *zap.Logger

	mu    sync.RWMutex
	table map[key]Handler
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the call logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = logging.OrNop(l) }
}

// WithLimiter overrides the limiter derived from the registry budgets.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(d *Dispatcher) { d.limiter = l }
}

// NewDispatcher builds an empty dispatch table over a registry.
func NewDispatcher(reg *capability.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: reg,
		logger:   zap.NewNop(),
		table:    make(map[key]Handler),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.limiter == nil {
		d.limiter = ratelimit.New(reg.RateLimits())
	}
	return d
}

// Bind registers the handler for a declared capability. Capabilities not
// present on the worker's card are rejected here rather than per call.
func (d *Dispatcher) Bind(workerID, op string, h Handler) error {
	card, ok := d.registry.Worker(workerID)
	if !ok || !card.Declares(op) {
		return fmt.Errorf("%w: %s.%s", ErrUnknownCapability, workerID, op)
	}
	if h == nil {
		return fmt.Errorf("nil handler for %s.%s", workerID, op)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.table[key{workerID, op}] = h
	return nil
}

// Bound reports whether a handler exists for the capability.
func (d *Dispatcher) Bound(workerID, op string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.table[key{workerID, op}]
	return ok
}

// Invoke acquires the worker's rate limit and dispatches the call. The
// start record is written before dispatch so a call that never returns
// still leaves a trace.
func (d *Dispatcher) Invoke(ctx context.Context, workerID, op string, args any) (any, error) {
	d.mu.RLock()
	h, ok := d.table[key{workerID, op}]
	d.mu.RUnlock()
	if !ok {
		callsTotal.WithLabelValues(workerID, op, "unknown").Inc()
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownCapability, workerID, op)
	}

	start := time.Now()
	if err := d.limiter.Acquire(ctx, workerID); err != nil {
		return nil, fmt.Errorf("rate limit %s: %w", workerID, err)
	}

	d.logger.Info("worker call started",
		zap.String("worker", workerID),
		zap.String("capability", op),
		zap.Any("args", args),
	)
	result, err := h(ctx, args)
	elapsed := time.Since(start)
	callDuration.WithLabelValues(workerID, op).Observe(elapsed.Seconds())
	if err != nil {
		callsTotal.WithLabelValues(workerID, op, "error").Inc()
		d.logger.Warn("worker call failed",
			zap.String("worker", workerID),
			zap.String("capability", op),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		return nil, &CallError{Worker: workerID, Capability: op, Err: err}
	}
	callsTotal.WithLabelValues(workerID, op, "ok").Inc()
	d.logger.Info("worker call completed",
		zap.String("worker", workerID),
		zap.String("capability", op),
		zap.Duration("duration", elapsed),
		zap.Any("result", result),
	)
	return result, nil
}

// Call is a typed Invoke.
func Call[R any](ctx context.Context, d *Dispatcher, workerID, op string, args any) (R, error) {
	var zero R
	out, err := d.Invoke(ctx, workerID, op, args)
	if err != nil {
		return zero, err
	}
	if out == nil {
		return zero, nil
	}
	r, ok := out.(R)
	if !ok {
		return zero, fmt.Errorf("%s.%s returned %T", workerID, op, out)
	}
	return r, nil
}

// Typed adapts a typed function into a Handler.
func Typed[A, R any](fn func(ctx context.Context, args A) (R, error)) Handler {
	return func(ctx context.Context, raw any) (any, error) {
		args, ok := raw.(A)
		if !ok {
			return nil, fmt.Errorf("%w: got %T", ErrBadArguments, raw)
		}
		return fn(ctx, args)
	}
}
