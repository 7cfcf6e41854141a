// Package memory implements an in-process store.CheckpointStore.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/smallnest/hilagent/store"
)

// MemoryCheckpointStore keeps checkpoints in a map guarded by a RWMutex.
type MemoryCheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*store.Checkpoint
	threads     map[string]map[string]struct{}
}

var _ store.CheckpointStore = (*MemoryCheckpointStore)(nil)

// NewMemoryCheckpointStore creates an empty store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		checkpoints: make(map[string]*store.Checkpoint),
		threads:     make(map[string]map[string]struct{}),
	}
}

func clone(cp *store.Checkpoint) *store.Checkpoint {
	c := *cp
	if cp.State != nil {
		c.State = append([]byte(nil), cp.State...)
	}
	if cp.Metadata != nil {
		c.Metadata = make(map[string]any, len(cp.Metadata))
		for k, v := range cp.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func (m *MemoryCheckpointStore) Save(_ context.Context, checkpoint *store.Checkpoint) error {
	if checkpoint == nil || checkpoint.ID == "" {
		return fmt.Errorf("checkpoint id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.checkpoints[checkpoint.ID]; ok && old.ThreadID != checkpoint.ThreadID {
		delete(m.threads[old.ThreadID], old.ID)
	}
	m.checkpoints[checkpoint.ID] = clone(checkpoint)

	ids, ok := m.threads[checkpoint.ThreadID]
	if !ok {
		ids = make(map[string]struct{})
		m.threads[checkpoint.ThreadID] = ids
	}
	ids[checkpoint.ID] = struct{}{}
	return nil
}

func (m *MemoryCheckpointStore) Load(_ context.Context, checkpointID string) (*store.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, ok := m.checkpoints[checkpointID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrCheckpointNotFound, checkpointID)
	}
	return clone(cp), nil
}

func (m *MemoryCheckpointStore) Latest(ctx context.Context, threadID string) (*store.Checkpoint, error) {
	list, err := m.List(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: thread %s", store.ErrCheckpointNotFound, threadID)
	}
	return list[len(list)-1], nil
}

func (m *MemoryCheckpointStore) List(_ context.Context, threadID string) ([]*store.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*store.Checkpoint, 0, len(m.threads[threadID]))
	for id := range m.threads[threadID] {
		out = append(out, clone(m.checkpoints[id]))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Version == out[j].Version {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

func (m *MemoryCheckpointStore) Delete(_ context.Context, checkpointID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, ok := m.checkpoints[checkpointID]
	if !ok {
		return nil
	}
	delete(m.checkpoints, checkpointID)
	delete(m.threads[cp.ThreadID], checkpointID)
	if len(m.threads[cp.ThreadID]) == 0 {
		delete(m.threads, cp.ThreadID)
	}
	return nil
}

func (m *MemoryCheckpointStore) Clear(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.threads[threadID] {
		delete(m.checkpoints, id)
	}
	delete(m.threads, threadID)
	return nil
}
