package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CheckpointRow is one persisted workflow checkpoint version.
type CheckpointRow struct {
	ThreadID    string
	Version     int
	State       json.RawMessage
	PendingStep string
	Interrupt   json.RawMessage
	CreatedAt   time.Time
}

// AppendCheckpoint inserts row only if it extends the thread's latest
// version by one. The bool is false when another writer got there first.
func (s *Store) AppendCheckpoint(ctx context.Context, row CheckpointRow) (CheckpointRow, bool, error) {
	if row.ThreadID == "" || row.Version <= 0 {
		return CheckpointRow{}, false, fmt.Errorf("thread_id and positive version are required")
	}
	var interrupt interface{}
	if len(row.Interrupt) > 0 {
		interrupt = []byte(row.Interrupt)
	}
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO workflow_checkpoints (thread_id, version, state, pending_step, interrupt)
SELECT $1, $2, $3, $4, $5
WHERE (SELECT COALESCE(MAX(version), 0) FROM workflow_checkpoints WHERE thread_id = $1) = $2 - 1
RETURNING created_at
`, row.ThreadID, row.Version, []byte(row.State), row.PendingStep, interrupt).Scan(&row.CreatedAt)
	if err == sql.ErrNoRows || isUniqueViolation(err) {
		metricsOnce.Do(initStoreMetrics)
		if conflictCounter != nil {
			conflictCounter.Add(ctx, 1)
		}
		return CheckpointRow{}, false, nil
	}
	if err != nil {
		return CheckpointRow{}, false, err
	}
	return row, true, nil
}

// LatestCheckpoint returns the highest version for a thread.
func (s *Store) LatestCheckpoint(ctx context.Context, threadID string) (CheckpointRow, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT thread_id, version, state, pending_step, interrupt, created_at
FROM workflow_checkpoints
WHERE thread_id = $1
ORDER BY version DESC
LIMIT 1
`, threadID)
	return scanCheckpoint(row)
}

// ListCheckpoints returns every version for a thread in ascending order.
func (s *Store) ListCheckpoints(ctx context.Context, threadID string) ([]CheckpointRow, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT thread_id, version, state, pending_step, interrupt, created_at
FROM workflow_checkpoints
WHERE thread_id = $1
ORDER BY version ASC
`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CheckpointRow
	for rows.Next() {
		cp, _, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func scanCheckpoint(row interface {
	Scan(dest ...interface{}) error
}) (CheckpointRow, bool, error) {
	var (
		cp               CheckpointRow
		state, interrupt []byte
	)
	if err := row.Scan(&cp.ThreadID, &cp.Version, &state, &cp.PendingStep, &interrupt, &cp.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return CheckpointRow{}, false, nil
		}
		return CheckpointRow{}, false, err
	}
	cp.State = append(json.RawMessage{}, state...)
	if len(interrupt) > 0 {
		cp.Interrupt = append(json.RawMessage{}, interrupt...)
	}
	return cp, true, nil
}
