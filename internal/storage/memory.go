package storage

import (
	"context"
	"sync"

	"github.com/bytedance/sonic"

	"arogya/internal/graph"
	"arogya/internal/state"
)

// MemorySessionStore is the in-process fallback session store. Records are
// stored as serialized bytes so load/save semantics match the Redis store.
type MemorySessionStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{data: make(map[string][]byte)}
}

func (m *MemorySessionStore) Save(ctx context.Context, sess *state.Session) error {
	data, err := sonic.Marshal(sess)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[sess.ID] = data
	return nil
}

func (m *MemorySessionStore) Load(ctx context.Context, id string) (*state.Session, error) {
	m.mu.RLock()
	data, ok := m.data[id]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var sess state.Session
	if err := sonic.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (m *MemorySessionStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

func (m *MemorySessionStore) Exists(ctx context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[id]
	return ok, nil
}

// MemoryCheckpointStore is the in-process fallback checkpoint store.
type MemoryCheckpointStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{data: make(map[string][]byte)}
}

func (m *MemoryCheckpointStore) Save(ctx context.Context, chk *graph.Checkpoint) error {
	data, err := sonic.Marshal(chk)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[chk.Key()] = data
	return nil
}

func (m *MemoryCheckpointStore) Load(ctx context.Context, sessionID, workflow string) (*graph.Checkpoint, error) {
	m.mu.RLock()
	data, ok := m.data[graph.CheckpointKey(sessionID, workflow)]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var chk graph.Checkpoint
	if err := sonic.Unmarshal(data, &chk); err != nil {
		return nil, err
	}
	return &chk, nil
}

func (m *MemoryCheckpointStore) Delete(ctx context.Context, sessionID, workflow string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, graph.CheckpointKey(sessionID, workflow))
	return nil
}
