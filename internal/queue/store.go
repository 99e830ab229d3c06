package queue

import (
	"encoding/json"
	"sync"
)

// ---------------------------------------------------------------------------
// Durable store
// The queue persists every task transition so a restart can rebuild its
// in-memory state. The same store carries restart snapshots for other
// components (bot registry state).
// ---------------------------------------------------------------------------

// Store is the persistence boundary behind the queue.
type Store interface {
	// SaveTask upserts a task record.
	SaveTask(t *Task) error
	// DeleteTask removes a task record.
	DeleteTask(id string) error
	// LoadTasks returns all persisted task records.
	LoadTasks() ([]*Task, error)

	// SaveSnapshot persists an opaque component snapshot under key.
	SaveSnapshot(key string, value []byte) error
	// LoadSnapshot returns the snapshot stored under key, if any.
	LoadSnapshot(key string) ([]byte, bool, error)
	// Snapshots returns all snapshot keys with the given prefix.
	Snapshots(prefix string) (map[string][]byte, error)
	// DeleteSnapshot removes the snapshot stored under key.
	DeleteSnapshot(key string) error

	Close() error
}

// MemoryStore is a non-durable Store for tests and dry runs.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string][]byte
	snaps map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string][]byte),
		snaps: make(map[string][]byte),
	}
}

func (s *MemoryStore) SaveTask(t *Task) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = raw
	return nil
}

func (s *MemoryStore) DeleteTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func (s *MemoryStore) LoadTasks() ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Task, 0, len(s.tasks))
	for _, raw := range s.tasks {
		t := &Task{}
		if err := json.Unmarshal(raw, t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *MemoryStore) SaveSnapshot(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.snaps[key] = cp
	return nil
}

func (s *MemoryStore) LoadSnapshot(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.snaps[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (s *MemoryStore) Snapshots(prefix string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte)
	for k, v := range s.snaps {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			cp := make([]byte, len(v))
			copy(cp, v)
			out[k] = cp
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteSnapshot(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, key)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
