package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/researchd/internal/workflow"
	"github.com/mohammad-safakhou/researchd/models"
)

// ResearchHandler serves the thread lifecycle endpoints.
type ResearchHandler struct {
	Engine     Engine
	Jobs       JobStore
	RunTimeout time.Duration

	logger *zap.Logger
	newID  func() string
	wg     sync.WaitGroup
}

func newResearchHandler(opts Options, logger *zap.Logger) *ResearchHandler {
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &ResearchHandler{
		Engine:     opts.Engine,
		Jobs:       opts.Jobs,
		RunTimeout: opts.RunTimeout,
		logger:     logger,
		newID:      newID,
	}
}

func (h *ResearchHandler) Register(g *echo.Group) {
	g.POST("", h.submit)
	g.GET("/:thread_id", h.status)
	g.GET("/:thread_id/trace", h.trace)
	g.POST("/:thread_id/resume", h.resume)
	g.POST("/:thread_id/continue", h.continueRun)
}

// Wait blocks until every asynchronous run has returned.
func (h *ResearchHandler) Wait() { h.wg.Wait() }

func (h *ResearchHandler) submit(c echo.Context) error {
	var req SubmitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}
	sub := workflow.SubmitRequest{Query: req.Query, ThreadID: req.ThreadID, JobID: req.JobID}
	if !req.Async {
		ctx, cancel := h.runContext(c.Request().Context())
		defer cancel()
		res, err := h.Engine.Submit(ctx, sub)
		if err != nil {
			return toHTTPError(err)
		}
		return c.JSON(http.StatusOK, res)
	}

	if h.Jobs == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "job store not configured")
	}
	if sub.JobID == "" {
		job, err := h.Jobs.CreateJob(c.Request().Context(), req.Query)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		sub.JobID = job.ID
	}
	if sub.ThreadID == "" {
		sub.ThreadID = h.newID()
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := h.runContext(context.Background())
		defer cancel()
		res, err := h.Engine.Submit(ctx, sub)
		if err != nil {
			h.logger.Error("background run failed", zap.String("thread_id", sub.ThreadID), zap.String("job_id", sub.JobID), zap.Error(err))
			return
		}
		h.logger.Info("background run returned", zap.String("thread_id", sub.ThreadID), zap.String("status", string(res.Status)))
	}()
	return c.JSON(http.StatusAccepted, AcceptedResponse{ThreadID: sub.ThreadID, JobID: sub.JobID})
}

func (h *ResearchHandler) resume(c echo.Context) error {
	var req ResumeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx, cancel := h.runContext(c.Request().Context())
	defer cancel()
	res, err := h.Engine.Resume(ctx, c.Param("thread_id"), workflow.ResumeValue{Action: req.Action})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *ResearchHandler) continueRun(c echo.Context) error {
	ctx, cancel := h.runContext(c.Request().Context())
	defer cancel()
	res, err := h.Engine.Continue(ctx, c.Param("thread_id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *ResearchHandler) status(c echo.Context) error {
	res, err := h.Engine.Status(c.Request().Context(), c.Param("thread_id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *ResearchHandler) trace(c echo.Context) error {
	entries, err := h.Engine.Trace(c.Request().Context(), c.Param("thread_id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *ResearchHandler) runContext(parent context.Context) (context.Context, context.CancelFunc) {
	if h.RunTimeout > 0 {
		return context.WithTimeout(parent, h.RunTimeout)
	}
	return context.WithCancel(parent)
}

// JobsHandler serves job progress rows.
type JobsHandler struct {
	Jobs JobStore
}

func (h *JobsHandler) Register(g *echo.Group) {
	g.GET("", h.list)
	g.GET("/:id", h.get)
}

func (h *JobsHandler) list(c echo.Context) error {
	if h.Jobs == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "job store not configured")
	}
	limit, err := intParam(c, "limit", 10)
	if err != nil {
		return err
	}
	offset, err := intParam(c, "skip", 0)
	if err != nil {
		return err
	}
	jobs, err := h.Jobs.ListJobs(c.Request().Context(), limit, offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	return c.JSON(http.StatusOK, jobs)
}

func (h *JobsHandler) get(c echo.Context) error {
	if h.Jobs == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "job store not configured")
	}
	job, ok, err := h.Jobs.GetJob(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	return c.JSON(http.StatusOK, job)
}

// intParam reads a non-negative integer query parameter.
func intParam(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be a non-negative integer")
	}
	return n, nil
}
