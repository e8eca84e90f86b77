// Package checkpoint persists versioned workflow snapshots per thread.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when a thread has no checkpoints.
	ErrNotFound = errors.New("checkpoint not found")
	// ErrVersionConflict is returned when an append does not extend the
	// latest version by exactly one.
	ErrVersionConflict = errors.New("checkpoint version conflict")
)

// Interrupt is the resumption context of a suspended step.
type Interrupt struct {
	Step    string         `json:"step"`
	Payload map[string]any `json:"payload"`
}

// Checkpoint is one immutable snapshot of a thread's state.
type Checkpoint struct {
	ThreadID    string          `json:"thread_id"`
	Version     int             `json:"version"`
	State       json.RawMessage `json:"state"`
	PendingStep string          `json:"pending_step"`
	Interrupt   *Interrupt      `json:"interrupt,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Store appends and reads checkpoints. Append must reject a checkpoint
// whose Version is not latest+1 with ErrVersionConflict.
type Store interface {
	Append(ctx context.Context, cp Checkpoint) (Checkpoint, error)
	Latest(ctx context.Context, threadID string) (Checkpoint, error)
	List(ctx context.Context, threadID string) ([]Checkpoint, error)
}

// MemoryStore keeps checkpoints in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]Checkpoint
	now     func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string][]Checkpoint), now: time.Now}
}

func (m *MemoryStore) Append(ctx context.Context, cp Checkpoint) (Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return Checkpoint{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	history := m.threads[cp.ThreadID]
	if cp.Version != len(history)+1 {
		return Checkpoint{}, ErrVersionConflict
	}
	cp.CreatedAt = m.now().UTC()
	cp.State = append(json.RawMessage(nil), cp.State...)
	m.threads[cp.ThreadID] = append(history, cp)
	return cp, nil
}

func (m *MemoryStore) Latest(ctx context.Context, threadID string) (Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := m.threads[threadID]
	if len(history) == 0 {
		return Checkpoint{}, ErrNotFound
	}
	return history[len(history)-1], nil
}

func (m *MemoryStore) List(ctx context.Context, threadID string) ([]Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := m.threads[threadID]
	if len(history) == 0 {
		return nil, ErrNotFound
	}
	out := append([]Checkpoint(nil), history...)
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
