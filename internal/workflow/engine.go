// Package workflow runs the research pipeline as a checkpointed state
// machine with a single human approval suspension.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/researchd/internal/checkpoint"
	"github.com/mohammad-safakhou/researchd/internal/events"
	"github.com/mohammad-safakhou/researchd/models"
)

// Status is the caller-facing state of a thread.
type Status string

const (
	StatusRunning            Status = "RUNNING"
	StatusWaitingForApproval Status = "WAITING_FOR_APPROVAL"
	StatusFinished           Status = "FINISHED"
)

// DefaultMaxSteps bounds the steps one invocation may execute.
const DefaultMaxSteps = 20

// stepProgress is the job progress reported when a step starts.
var stepProgress = map[Step]float64{
	StepResearch:  0.2,
	StepSynthesis: 0.4,
	StepCitation:  0.6,
	StepReport:    0.9,
}

const suspendedProgress = 0.75

type SubmitRequest struct {
	Query    string `json:"query"`
	ThreadID string `json:"thread_id,omitempty"`
	JobID    string `json:"job_id,omitempty"`
}

type Result struct {
	ThreadID  string                `json:"thread_id"`
	Version   int                   `json:"version"`
	Status    Status                `json:"status"`
	Interrupt *checkpoint.Interrupt `json:"interrupt,omitempty"`
	State     State                 `json:"state"`
}

// TraceEntry is one checkpoint as reported by Trace.
type TraceEntry struct {
	Version     int                   `json:"version"`
	CreatedAt   time.Time             `json:"created_at"`
	PendingStep string                `json:"pending_step"`
	Messages    []Message             `json:"messages"`
	Artifacts   Artifacts             `json:"artifacts"`
	Interrupt   *checkpoint.Interrupt `json:"interrupt,omitempty"`
}

// Engine drives threads through the pipeline. Every step's merged state
// is appended as a new checkpoint version; the compliance step suspends
// by persisting an interrupt and returning.
type Engine struct {
	checkpoints checkpoint.Store
	locker      checkpoint.Locker
	supervisor  Supervisor
	nodes       *nodes
	emitter     *events.Emitter
	maxSteps    int
	logger      *zap.Logger
	tracer      trace.Tracer
	newID       func() string
}

type Option func(*Engine)

func WithLocker(l checkpoint.Locker) Option {
	return func(e *Engine) {
		if l != nil {
			e.locker = l
		}
	}
}

func WithSupervisor(s Supervisor) Option {
	return func(e *Engine) {
		if s != nil {
			e.supervisor = s
		}
	}
}

func WithEmitter(em *events.Emitter) Option {
	return func(e *Engine) {
		if em != nil {
			e.emitter = em
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithRefineThreshold(t float64) Option {
	return func(e *Engine) { e.nodes.refineThreshold = t }
}

func WithWebMaxResults(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.nodes.webMaxResults = n
		}
	}
}

func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// New builds an engine. The default supervisor is linear and the default
// locker is process-local.
func New(workers Workers, reports ReportStore, store checkpoint.Store, opts ...Option) *Engine {
	e := &Engine{
		checkpoints: store,
		locker:      checkpoint.NewMemoryLocker(),
		supervisor:  LinearSupervisor{},
		nodes: &nodes{
			workers:         workers,
			reports:         reports,
			refineThreshold: DefaultRefineThreshold,
			webMaxResults:   5,
		},
		emitter:  events.NewEmitter(nil),
		maxSteps: DefaultMaxSteps,
		logger:   zap.NewNop(),
		tracer:   otel.Tracer("researchd/workflow"),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.nodes.logger = e.logger
	return e
}

// Submit starts a new thread and runs it until it suspends or finishes.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (Result, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return Result{}, ErrEmptyQuery
	}
	threadID := req.ThreadID
	if threadID == "" {
		threadID = e.newID()
	}
	unlock, err := e.lock(ctx, threadID)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	if _, err := e.checkpoints.Latest(ctx, threadID); err == nil {
		return Result{}, fmt.Errorf("%w: %s", ErrThreadExists, threadID)
	} else if !errors.Is(err, checkpoint.ErrNotFound) {
		return Result{}, err
	}

	s := NewState(query, req.JobID)
	s.NextStep = e.supervisor.Next(ctx, StepStart, s)
	cp, err := e.save(ctx, threadID, 0, s, nil)
	if err != nil {
		return Result{}, err
	}
	e.logger.Info("thread submitted", zap.String("thread_id", threadID), zap.String("job_id", req.JobID))
	return e.drive(ctx, threadID, cp.Version, s, nil)
}

// Resume answers a pending suspension and continues the thread.
func (e *Engine) Resume(ctx context.Context, threadID string, value ResumeValue) (Result, error) {
	value.Action = strings.ToLower(strings.TrimSpace(value.Action))
	if value.Action != ActionApprove && value.Action != ActionDeny {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidAction, value.Action)
	}
	unlock, err := e.lock(ctx, threadID)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	cp, s, err := e.latest(ctx, threadID)
	if err != nil {
		return Result{}, err
	}
	if cp.Interrupt == nil {
		return Result{}, fmt.Errorf("%w: %s", ErrNoPendingInterrupt, threadID)
	}
	e.logger.Info("thread resumed", zap.String("thread_id", threadID), zap.String("action", value.Action), zap.Int("version", cp.Version))
	return e.drive(ctx, threadID, cp.Version, s, &value)
}

// Continue re-drives a thread that stopped between steps. Suspended and
// finished threads are reported unchanged.
func (e *Engine) Continue(ctx context.Context, threadID string) (Result, error) {
	unlock, err := e.lock(ctx, threadID)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	cp, s, err := e.latest(ctx, threadID)
	if err != nil {
		return Result{}, err
	}
	if cp.Interrupt != nil || s.NextStep == StepEnd {
		return resultFor(threadID, cp, s), nil
	}
	e.logger.Info("thread continued", zap.String("thread_id", threadID), zap.String("step", string(s.NextStep)), zap.Int("version", cp.Version))
	return e.drive(ctx, threadID, cp.Version, s, nil)
}

// Status reports the latest checkpoint of a thread.
func (e *Engine) Status(ctx context.Context, threadID string) (Result, error) {
	cp, s, err := e.latest(ctx, threadID)
	if err != nil {
		return Result{}, err
	}
	return resultFor(threadID, cp, s), nil
}

// Trace returns every checkpoint of a thread in version order.
func (e *Engine) Trace(ctx context.Context, threadID string) ([]TraceEntry, error) {
	cps, err := e.checkpoints.List(ctx, threadID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
		}
		return nil, err
	}
	if len(cps) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	out := make([]TraceEntry, 0, len(cps))
	for _, cp := range cps {
		s, err := decodeState(cp.State)
		if err != nil {
			return nil, fmt.Errorf("decode checkpoint %d: %w", cp.Version, err)
		}
		out = append(out, TraceEntry{
			Version:     cp.Version,
			CreatedAt:   cp.CreatedAt,
			PendingStep: cp.PendingStep,
			Messages:    s.Messages,
			Artifacts:   s.Artifacts,
			Interrupt:   cp.Interrupt,
		})
	}
	return out, nil
}

// drive executes steps from s.NextStep until the thread suspends, ends
// or fails. resume is handed to the first step only.
func (e *Engine) drive(ctx context.Context, threadID string, version int, s State, resume *ResumeValue) (Result, error) {
	for executed := 0; ; executed++ {
		step := s.NextStep
		if step == StepEnd {
			e.finish(ctx, s)
			return Result{ThreadID: threadID, Version: version, Status: StatusFinished, State: s}, nil
		}
		if executed >= e.maxSteps {
			err := fmt.Errorf("%w: %d", ErrStepLimit, e.maxSteps)
			e.fail(ctx, s, step, err)
			return Result{}, err
		}

		if p, ok := stepProgress[step]; ok {
			e.emitter.Emit(ctx, s.JobID, models.JobRunning, p, map[string]any{"stage": string(step), "thread_id": threadID})
		}
		res, runErr := e.runStep(ctx, threadID, step, s, resume)
		resume = nil

		if res.interrupt != nil {
			cp, err := e.save(ctx, threadID, version, s, res.interrupt)
			if err != nil {
				return Result{}, err
			}
			e.emitter.Emit(ctx, s.JobID, models.JobWaitingForApproval, suspendedProgress, map[string]any{"stage": string(step), "thread_id": threadID})
			return Result{ThreadID: threadID, Version: cp.Version, Status: StatusWaitingForApproval, Interrupt: res.interrupt, State: s}, nil
		}
		if runErr != nil && !errors.Is(runErr, ErrExport) {
			e.fail(ctx, s, step, runErr)
			return Result{}, runErr
		}

		s = Merge(s, res.update)
		if runErr == nil {
			s.NextStep = e.supervisor.Next(ctx, step, s)
		}
		cp, err := e.save(ctx, threadID, version, s, nil)
		if err != nil {
			return Result{}, err
		}
		version = cp.Version
		e.logger.Info("workflow step completed",
			zap.String("thread_id", threadID),
			zap.String("step", string(step)),
			zap.String("next", string(s.NextStep)),
			zap.Int("version", version),
		)
		if runErr != nil {
			e.fail(ctx, s, step, runErr)
			return Result{}, runErr
		}
	}
}

func (e *Engine) runStep(ctx context.Context, threadID string, step Step, s State, resume *ResumeValue) (stepResult, error) {
	ctx, span := e.tracer.Start(ctx, "workflow."+string(step), trace.WithAttributes(
		attribute.String("thread_id", threadID),
		attribute.String("step", string(step)),
	))
	defer span.End()
	stepsTotal.WithLabelValues(string(step)).Inc()

	res, err := e.nodes.run(ctx, step, threadID, s, resume)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (e *Engine) finish(ctx context.Context, s State) {
	details := map[string]any{"stage": string(StepEnd)}
	if s.Artifacts.Compliance == ComplianceDenied {
		details["outcome"] = "blocked"
	}
	e.emitter.Emit(ctx, s.JobID, models.JobCompleted, 1.0, details)
}

func (e *Engine) fail(ctx context.Context, s State, step Step, err error) {
	e.logger.Error("workflow step failed", zap.String("step", string(step)), zap.String("job_id", s.JobID), zap.Error(err))
	e.emitter.Emit(ctx, s.JobID, models.JobFailed, e.emitter.Last(s.JobID), map[string]any{"stage": string(step), "error": err.Error()})
}

func (e *Engine) lock(ctx context.Context, threadID string) (func(), error) {
	unlock, err := e.locker.TryLock(ctx, threadID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrLocked) {
			return nil, fmt.Errorf("%w: %s", ErrThreadBusy, threadID)
		}
		return nil, err
	}
	return unlock, nil
}

func (e *Engine) latest(ctx context.Context, threadID string) (checkpoint.Checkpoint, State, error) {
	cp, err := e.checkpoints.Latest(ctx, threadID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return cp, State{}, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
		}
		return cp, State{}, err
	}
	s, err := decodeState(cp.State)
	if err != nil {
		return cp, State{}, fmt.Errorf("decode checkpoint %d: %w", cp.Version, err)
	}
	return cp, s, nil
}

// save appends s as version+1.
func (e *Engine) save(ctx context.Context, threadID string, version int, s State, interrupt *checkpoint.Interrupt) (checkpoint.Checkpoint, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("encode state: %w", err)
	}
	cp, err := e.checkpoints.Append(ctx, checkpoint.Checkpoint{
		ThreadID:    threadID,
		Version:     version + 1,
		State:       raw,
		PendingStep: string(s.NextStep),
		Interrupt:   interrupt,
	})
	if err != nil {
		if errors.Is(err, checkpoint.ErrVersionConflict) {
			return cp, fmt.Errorf("%w: %s: %w", ErrThreadBusy, threadID, err)
		}
		return cp, err
	}
	return cp, nil
}

func decodeState(raw json.RawMessage) (State, error) {
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return State{}, err
	}
	return s, nil
}

func resultFor(threadID string, cp checkpoint.Checkpoint, s State) Result {
	r := Result{ThreadID: threadID, Version: cp.Version, State: s, Status: StatusRunning}
	switch {
	case cp.Interrupt != nil:
		r.Status = StatusWaitingForApproval
		r.Interrupt = cp.Interrupt
	case s.NextStep == StepEnd:
		r.Status = StatusFinished
	}
	return r
}
