package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/researchd/models"
)

// CreateJob inserts a pending job for a query.
func (s *Store) CreateJob(ctx context.Context, query string) (models.Job, error) {
	if strings.TrimSpace(query) == "" {
		return models.Job{}, fmt.Errorf("query required")
	}
	job := models.Job{ID: uuid.NewString(), Query: query, Status: models.JobPending}
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO jobs (id, query, status, progress)
VALUES ($1, $2, $3, 0)
RETURNING created_at, updated_at
`, job.ID, job.Query, string(job.Status)).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return models.Job{}, err
	}
	return job, nil
}

// GetJob fetches a job by id. The bool indicates whether a record was found.
func (s *Store) GetJob(ctx context.Context, id string) (models.Job, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id::text, query, status, progress, details, created_at, updated_at
FROM jobs
WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.Job{}, false, nil
		}
		return models.Job{}, false, err
	}
	return job, true, nil
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(ctx context.Context, limit, offset int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id::text, query, status, progress, details, created_at, updated_at
FROM jobs
ORDER BY created_at DESC
LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func scanJob(row rowScanner) (models.Job, error) {
	var (
		job     models.Job
		status  string
		details []byte
	)
	if err := row.Scan(&job.ID, &job.Query, &status, &job.Progress, &details, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return models.Job{}, err
	}
	job.Status = models.JobStatus(status)
	if len(details) > 0 {
		_ = json.Unmarshal(details, &job.Details)
	}
	return job, nil
}

// ApplyProgress applies a progress event: status is last-write-wins and
// progress only ever increases. It reports whether the job exists.
func (s *Store) ApplyProgress(ctx context.Context, evt models.ProgressEvent) (bool, error) {
	if evt.JobID == "" {
		return false, fmt.Errorf("job_id required")
	}
	var details interface{}
	if len(evt.Details) > 0 {
		raw, err := json.Marshal(evt.Details)
		if err != nil {
			return false, fmt.Errorf("marshal details: %w", err)
		}
		details = raw
	}
	res, err := s.DB.ExecContext(ctx, `
UPDATE jobs SET
  status     = COALESCE(NULLIF($2, ''), status),
  progress   = GREATEST(progress, $3),
  details    = COALESCE($4, details),
  updated_at = NOW()
WHERE id = $1`, evt.JobID, string(evt.Status), evt.Progress, details)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
