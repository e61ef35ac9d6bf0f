package tokenstore

import (
	"context"
	"sync"
)

// Backend is one storage slot of the Store. A missing key is reported with
// ok == false, never as an error.
type Backend interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// SetMany writes all values or none of them.
	SetMany(ctx context.Context, values map[string]string) error
	// Delete must not fail on keys that are not present.
	Delete(ctx context.Context, keys ...string) error
}

// Memory is a process-scoped backend: it lives exactly as long as the
// process, which is what the ephemeral slot wants.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

var _ Backend = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) SetMany(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		m.data[k] = v
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
