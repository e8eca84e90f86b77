package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/researchd/models"
)

// CreateReport inserts a generating report row for a thread. When a row
// already exists for the thread it is returned instead.
func (s *Store) CreateReport(ctx context.Context, threadID, jobID string) (models.ReportRecord, error) {
	if threadID == "" {
		return models.ReportRecord{}, fmt.Errorf("thread_id required")
	}
	var job interface{}
	if jobID != "" {
		job = jobID
	}
	rec := models.ReportRecord{ID: uuid.NewString(), JobID: jobID, ThreadID: threadID, Status: models.ReportGenerating}
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO reports (id, job_id, thread_id, status)
VALUES ($1, $2, $3, $4)
ON CONFLICT (thread_id) DO NOTHING
RETURNING created_at, updated_at
`, rec.ID, job, threadID, string(rec.Status)).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		existing, ok, err := s.FindReport(ctx, threadID)
		if err != nil {
			return models.ReportRecord{}, err
		}
		if !ok {
			return models.ReportRecord{}, models.ErrReportNotFound
		}
		return existing, nil
	}
	if err != nil {
		return models.ReportRecord{}, err
	}
	return rec, nil
}

const reportColumns = `id::text, COALESCE(job_id::text, ''), thread_id, status, COALESCE(file_url, ''),
       report_paths, content, metadata, COALESCE(error, ''), created_at, updated_at`

// FindReport returns the report row for a thread.
func (s *Store) FindReport(ctx context.Context, threadID string) (models.ReportRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+reportColumns+`
FROM reports
WHERE thread_id = $1`, threadID)
	rec, err := scanReport(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.ReportRecord{}, false, nil
		}
		return models.ReportRecord{}, false, err
	}
	return rec, true, nil
}

// ListReports returns report rows newest first, optionally only those of
// one job.
func (s *Store) ListReports(ctx context.Context, jobID string, limit int) ([]models.ReportRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var job interface{}
	if jobID != "" {
		job = jobID
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+reportColumns+`
FROM reports
WHERE ($1::uuid IS NULL OR job_id = $1::uuid)
ORDER BY created_at DESC
LIMIT $2`, job, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ReportRecord
	for rows.Next() {
		rec, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (models.ReportRecord, error) {
	var (
		rec                      models.ReportRecord
		status                   string
		paths, content, metadata []byte
	)
	if err := row.Scan(&rec.ID, &rec.JobID, &rec.ThreadID, &status, &rec.FileURL, &paths, &content, &metadata, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return models.ReportRecord{}, err
	}
	rec.Status = models.ReportStatus(status)
	if len(paths) > 0 {
		_ = json.Unmarshal(paths, &rec.Paths)
	}
	if len(content) > 0 {
		_ = json.Unmarshal(content, &rec.Content)
	}
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &rec.Metadata)
	}
	return rec, nil
}

// CompleteReport marks a report completed with its export locations and
// content snapshot.
func (s *Store) CompleteReport(ctx context.Context, id, fileURL string, paths map[string]string, content, metadata map[string]any) error {
	pathsJSON, err := json.Marshal(paths)
	if err != nil {
		return fmt.Errorf("marshal report paths: %w", err)
	}
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("marshal report content: %w", err)
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal report metadata: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
UPDATE reports SET
  status       = $2,
  file_url     = $3,
  report_paths = $4,
  content      = $5,
  metadata     = $6,
  error        = NULL,
  updated_at   = NOW()
WHERE id = $1`, id, string(models.ReportCompleted), fileURL, pathsJSON, contentJSON, metaJSON)
	return err
}

// FailReport marks a report failed with the raw error text.
func (s *Store) FailReport(ctx context.Context, id, errMsg string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE reports SET status=$2, error=$3, updated_at=NOW() WHERE id=$1`, id, string(models.ReportFailed), errMsg)
	return err
}
