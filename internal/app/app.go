// Package app assembles the research service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/researchd/config"
	"github.com/mohammad-safakhou/researchd/internal/capability"
	"github.com/mohammad-safakhou/researchd/internal/checkpoint"
	"github.com/mohammad-safakhou/researchd/internal/events"
	"github.com/mohammad-safakhou/researchd/internal/logging"
	"github.com/mohammad-safakhou/researchd/internal/queue/streams"
	"github.com/mohammad-safakhou/researchd/internal/ratelimit"
	"github.com/mohammad-safakhou/researchd/internal/server"
	"github.com/mohammad-safakhou/researchd/internal/store"
	"github.com/mohammad-safakhou/researchd/internal/store/inmemory"
	"github.com/mohammad-safakhou/researchd/internal/worker"
	"github.com/mohammad-safakhou/researchd/internal/workflow"
	"github.com/mohammad-safakhou/researchd/provider"
	"github.com/mohammad-safakhou/researchd/tools/citation"
	"github.com/mohammad-safakhou/researchd/tools/compliance"
	"github.com/mohammad-safakhou/researchd/tools/export"
	"github.com/mohammad-safakhou/researchd/tools/retrieval"
	"github.com/mohammad-safakhou/researchd/tools/synthesis"
	web_search "github.com/mohammad-safakhou/researchd/tools/web_search"
)

// Persistence is the job, report and progress surface shared by the
// engine, the HTTP API and the event consumer.
type Persistence interface {
	workflow.ReportStore
	server.JobStore
	server.ReportReader
	events.JobStore
}

// Container holds the process-wide dependencies. It is built once.
type Container struct {
	Config      *config.Config
	Logger      *zap.Logger
	Engine      *workflow.Engine
	Persistence Persistence
	Checkpoints checkpoint.Store
	Index       *retrieval.Index
	Workers     *worker.Workers
	Redis       redis.UniversalClient
	Schemas     *streams.SchemaRegistry

	closers []func() error
}

type Option func(*buildOptions)

type buildOptions struct {
	logger   *zap.Logger
	redis    redis.UniversalClient
	inMemory bool
}

// WithLogger overrides the logger built from the general config section.
func WithLogger(l *zap.Logger) Option {
	return func(o *buildOptions) { o.logger = l }
}

// WithRedis supplies an existing client instead of dialing storage.redis.
func WithRedis(c redis.UniversalClient) Option {
	return func(o *buildOptions) { o.redis = c }
}

// InMemory keeps jobs, reports and checkpoints in process memory even
// when postgres is configured.
func InMemory() Option {
	return func(o *buildOptions) { o.inMemory = true }
}

// New builds the container. Close releases whatever was opened, also
// when New fails part way.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *Container, err error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	c := &Container{Config: cfg, Logger: bo.logger}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()
	if c.Logger == nil {
		if c.Logger, err = logging.New(cfg.General); err != nil {
			return nil, err
		}
	}

	if err = c.openPersistence(ctx, bo.inMemory); err != nil {
		return nil, err
	}
	if err = c.openRedis(ctx, bo.redis); err != nil {
		return nil, err
	}
	if c.Schemas, err = streams.NewBaseRegistry(); err != nil {
		return nil, fmt.Errorf("schema registry: %w", err)
	}

	completer, err := provider.New(cfg.LLM)
	if err != nil && !errors.Is(err, provider.ErrDisabled) {
		return nil, fmt.Errorf("llm provider: %w", err)
	}

	workers, err := c.buildWorkers(ctx, completer)
	if err != nil {
		return nil, err
	}
	emitter, err := c.buildEmitter()
	if err != nil {
		return nil, err
	}

	engineOpts := []workflow.Option{
		workflow.WithLogger(c.Logger.Named("workflow")),
		workflow.WithEmitter(emitter),
		workflow.WithSupervisor(c.buildSupervisor(completer)),
		workflow.WithRefineThreshold(cfg.Workflow.RefineThreshold),
		workflow.WithWebMaxResults(cfg.Workflow.WebMaxResults),
		workflow.WithMaxSteps(cfg.Workflow.MaxSteps),
	}
	if c.Redis != nil {
		engineOpts = append(engineOpts, workflow.WithLocker(checkpoint.NewRedisLocker(c.Redis, lockTTL(cfg.Server.RunTimeout))))
	}
	c.Engine = workflow.New(workers, c.Persistence, c.Checkpoints, engineOpts...)
	return c, nil
}

func (c *Container) openPersistence(ctx context.Context, inMemory bool) error {
	pg := c.Config.Storage.Postgres
	if inMemory || !pg.Configured() {
		c.Persistence = inmemory.New()
		c.Checkpoints = checkpoint.NewMemoryStore()
		c.Logger.Info("using in-memory persistence")
		return nil
	}
	dsn, err := pg.DSN()
	if err != nil {
		return err
	}
	if pg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pg.Timeout)
		defer cancel()
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	c.closers = append(c.closers, st.Close)
	c.Persistence = st
	c.Checkpoints = checkpoint.NewStoreBacked(st)
	return nil
}

func (c *Container) openRedis(ctx context.Context, injected redis.UniversalClient) error {
	if injected != nil {
		c.Redis = injected
		return nil
	}
	rc := c.Config.Storage.Redis
	if !rc.Configured() {
		if c.Config.Events.Enabled {
			return errors.New("events.enabled requires storage.redis")
		}
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:        rc.Addr(),
		Password:    rc.Password,
		DB:          rc.DB,
		DialTimeout: rc.Timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis connection failed (%s): %w", rc.Addr(), err)
	}
	c.closers = append(c.closers, client.Close)
	c.Redis = client
	return nil
}

func (c *Container) buildWorkers(ctx context.Context, completer provider.Completer) (*worker.Workers, error) {
	cfg := c.Config
	cards := capability.DefaultWorkerCards(cfg.Workers.RateLimitPerMinute)
	secret := cfg.Capability.SigningSecret
	cards, err := capability.SignCards(cards, secret)
	if err != nil {
		return nil, fmt.Errorf("sign worker cards: %w", err)
	}
	reg, err := capability.NewRegistry(cards, secret, nil)
	if err != nil {
		return nil, fmt.Errorf("worker registry: %w", err)
	}
	dispatcher := worker.NewDispatcher(reg,
		worker.WithLogger(c.Logger.Named("worker")),
		worker.WithLimiter(ratelimit.New(reg.RateLimits())),
	)

	idx, err := openIndex(cfg.Storage.File.IndexPath, retrieval.WithLogger(c.Logger.Named("retrieval")))
	if err != nil {
		return nil, fmt.Errorf("retrieval index: %w", err)
	}
	c.Index = idx
	c.closers = append(c.closers, idx.Close)

	web, err := web_search.FromConfig(cfg.Sources.WebSearch)
	if err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}

	var (
		synth    worker.Synthesizer     = synthesis.Extractive{}
		verifier worker.CitationVerifier = citation.Heuristic{}
	)
	if completer != nil {
		synth = synthesis.NewLLM(completer)
		verifier = citation.NewLLM(completer)
	}

	workers, err := worker.NewWorkers(dispatcher, worker.Collaborators{
		Retriever:   idx,
		WebSearcher: web,
		Synthesizer: synth,
		Verifier:    verifier,
		Redactor:    compliance.Redactor{},
		Exporter:    export.NewFiles(cfg.Storage.File.ReportDir),
	})
	if err != nil {
		return nil, err
	}
	c.Workers = workers
	if dir := cfg.Storage.File.CorpusDir; dir != "" {
		n, err := retrieval.IndexDir(ctx, dir, workers)
		if err != nil {
			return nil, fmt.Errorf("index corpus: %w", err)
		}
		c.Logger.Info("corpus indexed", zap.String("dir", dir), zap.Int("documents", n))
	}
	return workers, nil
}

func openIndex(path string, opts ...retrieval.Option) (*retrieval.Index, error) {
	if path == "" {
		return retrieval.NewMemIndex(opts...)
	}
	return retrieval.Open(path, opts...)
}

func (c *Container) buildEmitter() (*events.Emitter, error) {
	var pub events.Publisher = events.NewDirectPublisher(c.Persistence)
	if c.Config.Events.Enabled {
		if c.Redis == nil {
			return nil, errors.New("events.enabled requires storage.redis")
		}
		pub = events.NewStreamPublisher(streams.NewPublisher(c.Redis, c.Schemas), c.Config.Events.Stream, c.Config.Events.MaxLen)
	}
	return events.NewEmitter(pub,
		events.WithTimeout(c.Config.Workflow.EventTimeout),
		events.WithLogger(c.Logger.Named("events")),
	), nil
}

func (c *Container) buildSupervisor(completer provider.Completer) workflow.Supervisor {
	if c.Config.Workflow.Supervisor != "llm" {
		return workflow.LinearSupervisor{}
	}
	if completer == nil {
		c.Logger.Warn("llm supervisor requested without llm.api_key, routing linearly")
		return workflow.LinearSupervisor{}
	}
	return workflow.NewClassifierSupervisor(completer, c.Config.Workflow.HistoryWindow, c.Logger.Named("supervisor"))
}

// Server builds the HTTP API over the container's engine.
func (c *Container) Server() *server.Server {
	return server.New(server.Options{
		Engine:     c.Engine,
		Jobs:       c.Persistence,
		Reports:    c.Persistence,
		Documents:  c.Workers,
		Logger:     c.Logger.Named("http"),
		JWTSecret:  []byte(c.Config.Server.JWTSecret),
		RunTimeout: c.Config.Server.RunTimeout,
	})
}

// EventConsumer builds the stream consumer that applies progress events
// to the job store.
func (c *Container) EventConsumer() (*events.Consumer, error) {
	if c.Redis == nil {
		return nil, errors.New("event consumer requires storage.redis")
	}
	return events.NewConsumer(c.Redis, c.Schemas, c.Persistence, c.Config.Events, c.Logger.Named("consumer")), nil
}

// Close releases opened resources in reverse order and flushes the logger.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	if c.Logger != nil {
		_ = c.Logger.Sync()
	}
	return errors.Join(errs...)
}

func lockTTL(runTimeout time.Duration) time.Duration {
	if runTimeout <= 0 {
		return 5 * time.Minute
	}
	return runTimeout + 30*time.Second
}
