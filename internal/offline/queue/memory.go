package queue

import (
	"context"
	"sync"
)

// MemoryBackend keeps items in a slice. It is used by tests and as the
// backend of throwaway agents. Setting Err makes every call fail with it.
type MemoryBackend struct {
	mu    sync.Mutex
	items []Item
	Err   error
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// SetErr injects (or clears, with nil) a storage failure
func (m *MemoryBackend) SetErr(err error) {
	m.mu.Lock()
	m.Err = err
	m.mu.Unlock()
}

func (m *MemoryBackend) Put(ctx context.Context, item Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for _, it := range m.items {
		if it.ID == item.ID {
			return ErrDuplicateID
		}
	}
	m.items = append(m.items, item.Clone())
	return nil
}

func (m *MemoryBackend) List(ctx context.Context) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]Item, len(m.items))
	for i, it := range m.items {
		out[i] = it.Clone()
	}
	return out, nil
}

func (m *MemoryBackend) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for i, it := range m.items {
		if it.ID == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *MemoryBackend) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.items = nil
	return nil
}

func (m *MemoryBackend) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	return len(m.items), nil
}

func (m *MemoryBackend) Close() error { return nil }
