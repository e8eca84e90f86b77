package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mohammad-safakhou/researchd/internal/store"
)

// checkpointRows captures the store methods the adapter needs.
type checkpointRows interface {
	AppendCheckpoint(ctx context.Context, row store.CheckpointRow) (store.CheckpointRow, bool, error)
	LatestCheckpoint(ctx context.Context, threadID string) (store.CheckpointRow, bool, error)
	ListCheckpoints(ctx context.Context, threadID string) ([]store.CheckpointRow, error)
}

// StoreBacked persists checkpoints in Postgres through store.Store.
type StoreBacked struct {
	rows checkpointRows
}

// NewStoreBacked constructs a Store backed by the shared store.
func NewStoreBacked(rows checkpointRows) *StoreBacked {
	return &StoreBacked{rows: rows}
}

func (s *StoreBacked) Append(ctx context.Context, cp Checkpoint) (Checkpoint, error) {
	row, err := toRow(cp)
	if err != nil {
		return Checkpoint{}, err
	}
	saved, inserted, err := s.rows.AppendCheckpoint(ctx, row)
	if err != nil {
		return Checkpoint{}, err
	}
	if !inserted {
		return Checkpoint{}, ErrVersionConflict
	}
	return fromRow(saved)
}

func (s *StoreBacked) Latest(ctx context.Context, threadID string) (Checkpoint, error) {
	row, ok, err := s.rows.LatestCheckpoint(ctx, threadID)
	if err != nil {
		return Checkpoint{}, err
	}
	if !ok {
		return Checkpoint{}, ErrNotFound
	}
	return fromRow(row)
}

func (s *StoreBacked) List(ctx context.Context, threadID string) ([]Checkpoint, error) {
	rows, err := s.rows.ListCheckpoints(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	out := make([]Checkpoint, 0, len(rows))
	for _, row := range rows {
		cp, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func toRow(cp Checkpoint) (store.CheckpointRow, error) {
	row := store.CheckpointRow{
		ThreadID:    cp.ThreadID,
		Version:     cp.Version,
		State:       cp.State,
		PendingStep: cp.PendingStep,
	}
	if cp.Interrupt != nil {
		raw, err := json.Marshal(cp.Interrupt)
		if err != nil {
			return store.CheckpointRow{}, fmt.Errorf("marshal interrupt: %w", err)
		}
		row.Interrupt = raw
	}
	return row, nil
}

func fromRow(row store.CheckpointRow) (Checkpoint, error) {
	cp := Checkpoint{
		ThreadID:    row.ThreadID,
		Version:     row.Version,
		State:       row.State,
		PendingStep: row.PendingStep,
		CreatedAt:   row.CreatedAt,
	}
	if len(row.Interrupt) > 0 && string(row.Interrupt) != "null" {
		var in Interrupt
		if err := json.Unmarshal(row.Interrupt, &in); err != nil {
			return Checkpoint{}, fmt.Errorf("decode interrupt: %w", err)
		}
		cp.Interrupt = &in
	}
	return cp, nil
}

var _ Store = (*StoreBacked)(nil)
