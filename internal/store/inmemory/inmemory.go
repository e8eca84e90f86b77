// Package inmemory provides process-local job and report stores with the
// same semantics as the Postgres store.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/researchd/models"
)

// Store keeps jobs and reports in memory.
type Store struct {
	mu       sync.RWMutex
	jobs     map[string]models.Job
	reports  map[string]models.ReportRecord // keyed by thread id
	reportID map[string]string             // report id -> thread id
}

func New() *Store {
	return &Store{
		jobs:     make(map[string]models.Job),
		reports:  make(map[string]models.ReportRecord),
		reportID: make(map[string]string),
	}
}

func (s *Store) CreateJob(ctx context.Context, query string) (models.Job, error) {
	if strings.TrimSpace(query) == "" {
		return models.Job{}, fmt.Errorf("query required")
	}
	now := time.Now().UTC()
	job := models.Job{ID: uuid.NewString(), Query: query, Status: models.JobPending, CreatedAt: now, UpdatedAt: now}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	return job, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (models.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok, nil
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(ctx context.Context, limit, offset int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 10
	}
	s.mu.RLock()
	out := make([]models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if offset >= len(out) || offset < 0 {
		return []models.Job{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ApplyProgress mirrors the SQL update: last-write-wins status and
// monotonic-max progress.
func (s *Store) ApplyProgress(ctx context.Context, evt models.ProgressEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[evt.JobID]
	if !ok {
		return false, nil
	}
	if evt.Status != "" {
		job.Status = evt.Status
	}
	if evt.Progress > job.Progress {
		job.Progress = evt.Progress
	}
	if len(evt.Details) > 0 {
		job.Details = evt.Details
	}
	job.UpdatedAt = time.Now().UTC()
	s.jobs[job.ID] = job
	return true, nil
}

func (s *Store) CreateReport(ctx context.Context, threadID, jobID string) (models.ReportRecord, error) {
	if threadID == "" {
		return models.ReportRecord{}, fmt.Errorf("thread_id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.reports[threadID]; ok {
		return existing, nil
	}
	now := time.Now().UTC()
	rec := models.ReportRecord{ID: uuid.NewString(), JobID: jobID, ThreadID: threadID, Status: models.ReportGenerating, CreatedAt: now, UpdatedAt: now}
	s.reports[threadID] = rec
	s.reportID[rec.ID] = threadID
	return rec, nil
}

func (s *Store) FindReport(ctx context.Context, threadID string) (models.ReportRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.reports[threadID]
	return rec, ok, nil
}

// ListReports returns report rows newest first, optionally only those of
// one job.
func (s *Store) ListReports(ctx context.Context, jobID string, limit int) ([]models.ReportRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	out := []models.ReportRecord{}
	for _, rec := range s.Reports() {
		if jobID == "" || rec.JobID == jobID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ThreadID < out[j].ThreadID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CompleteReport(ctx context.Context, id, fileURL string, paths map[string]string, content, metadata map[string]any) error {
	return s.updateReport(id, func(rec *models.ReportRecord) {
		rec.Status = models.ReportCompleted
		rec.FileURL = fileURL
		rec.Paths = paths
		rec.Content = content
		rec.Metadata = metadata
		rec.Error = ""
	})
}

func (s *Store) FailReport(ctx context.Context, id, errMsg string) error {
	return s.updateReport(id, func(rec *models.ReportRecord) {
		rec.Status = models.ReportFailed
		rec.Error = errMsg
	})
}

// Reports returns every report row, for inspection in tests and the CLI.
func (s *Store) Reports() []models.ReportRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ReportRecord, 0, len(s.reports))
	for _, rec := range s.reports {
		out = append(out, rec)
	}
	return out
}

func (s *Store) updateReport(id string, fn func(*models.ReportRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	threadID, ok := s.reportID[id]
	if !ok {
		return models.ErrReportNotFound
	}
	rec := s.reports[threadID]
	fn(&rec)
	rec.UpdatedAt = time.Now().UTC()
	s.reports[threadID] = rec
	return nil
}
