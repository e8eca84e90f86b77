// Package server exposes the research workflow over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/researchd/internal/workflow"
	"github.com/mohammad-safakhou/researchd/models"
)

// Engine is the workflow surface the handlers drive.
type Engine interface {
	Submit(ctx context.Context, req workflow.SubmitRequest) (workflow.Result, error)
	Resume(ctx context.Context, threadID string, value workflow.ResumeValue) (workflow.Result, error)
	Continue(ctx context.Context, threadID string) (workflow.Result, error)
	Status(ctx context.Context, threadID string) (workflow.Result, error)
	Trace(ctx context.Context, threadID string) ([]workflow.TraceEntry, error)
}

// JobStore creates and reads job rows.
type JobStore interface {
	CreateJob(ctx context.Context, query string) (models.Job, error)
	GetJob(ctx context.Context, id string) (models.Job, bool, error)
	ListJobs(ctx context.Context, limit, offset int) ([]models.Job, error)
}

// ReportReader reads the report rows written by the report step.
type ReportReader interface {
	FindReport(ctx context.Context, threadID string) (models.ReportRecord, bool, error)
	ListReports(ctx context.Context, jobID string, limit int) ([]models.ReportRecord, error)
}

// DocumentIndexer adds plain-text evidence to the retrieval store.
type DocumentIndexer interface {
	Index(ctx context.Context, doc models.Document) error
}

// Options wires the server's collaborators.
type Options struct {
	Engine     Engine
	Jobs       JobStore
	Reports    ReportReader
	Documents  DocumentIndexer
	Logger     *zap.Logger
	JWTSecret  []byte // empty disables auth on /api
	RunTimeout time.Duration
	NewID      func() string
}

// Server owns the echo instance and the background runs it started.
type Server struct {
	Echo     *echo.Echo
	research *ResearchHandler
	logger   *zap.Logger
}

// New builds the echo router with all routes mounted.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = errorHandler(logger)
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	if len(opts.JWTSecret) > 0 {
		api.Use(AuthMiddleware(opts.JWTSecret))
	}
	rh := newResearchHandler(opts, logger)
	rh.Register(api.Group("/research"))
	jh := &JobsHandler{Jobs: opts.Jobs}
	jh.Register(api.Group("/jobs"))
	rp := &ReportsHandler{Reports: opts.Reports}
	rp.Register(api.Group("/reports"))
	dh := &DocumentsHandler{Documents: opts.Documents, logger: logger}
	dh.Register(api.Group("/documents"))

	return &Server{Echo: e, research: rh, logger: logger}
}

// Start serves on addr until ctx is cancelled, then drains in-flight
// requests and background runs.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		errCh <- s.Echo.Start(addr)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.research.Wait()
	return nil
}

// Wait blocks until background runs have returned.
func (s *Server) Wait() { s.research.Wait() }

// errorHandler renders every failure as {"error": msg} and logs it.
func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		fields := []zap.Field{
			zap.Int("status", code),
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.String("remote", c.RealIP()),
			zap.Error(err),
		}
		if code >= http.StatusInternalServerError {
			logger.Error("request failed", fields...)
		} else {
			logger.Info("request rejected", fields...)
		}
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
}

// toHTTPError maps workflow errors onto status codes.
func toHTTPError(err error) *echo.HTTPError {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, workflow.ErrEmptyQuery), errors.Is(err, workflow.ErrInvalidAction):
		code = http.StatusBadRequest
	case errors.Is(err, workflow.ErrThreadNotFound):
		code = http.StatusNotFound
	case errors.Is(err, workflow.ErrThreadBusy), errors.Is(err, workflow.ErrNoPendingInterrupt), errors.Is(err, workflow.ErrThreadExists):
		code = http.StatusConflict
	case errors.Is(err, workflow.ErrExport):
		code = http.StatusBadGateway
	}
	return echo.NewHTTPError(code, err.Error()).SetInternal(err)
}
