package lock

import (
	"context"
	"sync"
)

// MemoryLocker is a process-local Locker for tests and single-instance runs.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]bool)}
}

func (m *MemoryLocker) Acquire(_ context.Context, key string) (func(context.Context) error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] {
		return nil, ErrNotAcquired
	}
	m.held[key] = true
	return func(context.Context) error {
		m.mu.Lock()
		delete(m.held, key)
		m.mu.Unlock()
		return nil
	}, nil
}
