// Package store persists workflow runner snapshots between processes.
//
// A Record is the only state a host has to keep: the current state value and
// the context. Runners save a record after every committed step when a Store
// is attached.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/amp-labs/workflow-core/merge"
)

var (
	ErrNotFound       = errors.New("workflow record not found")
	ErrEmptyRuntimeID = errors.New("runtime id is required")
)

// Record is a persisted snapshot of one workflow runtime.
type Record struct {
	State     string         `json:"state"`
	Context   map[string]any `json:"context"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Store saves and loads records by workflow runtime id.
type Store interface {
	Save(ctx context.Context, runtimeID string, record Record) error
	Load(ctx context.Context, runtimeID string) (Record, error)
	Delete(ctx context.Context, runtimeID string) error
}

// Memory is a Store backed by a map. Records are deep-copied on the way in
// and out.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

func (m *Memory) Save(_ context.Context, runtimeID string, record Record) error {
	if runtimeID == "" {
		return ErrEmptyRuntimeID
	}

	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}

	record.Context = merge.CloneMap(record.Context)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[runtimeID] = record

	return nil
}

func (m *Memory) Load(_ context.Context, runtimeID string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[runtimeID]
	if !ok {
		return Record{}, ErrNotFound
	}

	record.Context = merge.CloneMap(record.Context)

	return record, nil
}

func (m *Memory) Delete(_ context.Context, runtimeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, runtimeID)

	return nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.records)
}
