package store

import (
	"context"
	"sync"
)

// Memory is an in-process store for tests and local development.
type Memory struct {
	mutex     sync.Mutex
	records   map[string]Record
	snapshots map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{
		records:   make(map[string]Record),
		snapshots: make(map[string][]byte),
	}
}

func (m *Memory) PutSession(record Record) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.records[record.ID] = record
}

func (m *Memory) GetSession(_ context.Context, id string) (*Record, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	record, ok := m.records[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &record, nil
}

func (m *Memory) UpdateSessionStatus(_ context.Context, id string, status Status) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	record, ok := m.records[id]
	if !ok {
		return ErrSessionNotFound
	}
	record.Status = status
	m.records[id] = record
	return nil
}

func (m *Memory) SaveArtifactSnapshot(_ context.Context, id string, artifact string, value []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.snapshots[id+"/"+artifact] = value
	return nil
}

// Snapshot returns a previously saved artifact snapshot, if any.
func (m *Memory) Snapshot(id, artifact string) ([]byte, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	value, ok := m.snapshots[id+"/"+artifact]
	return value, ok
}
