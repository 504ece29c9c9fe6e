package challenge

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	code      string
	expiresAt time.Time
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	opts options

	mu      sync.Mutex
	entries map[string]entry
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{opts: buildOptions(opts), entries: make(map[string]entry)}
}

func (m *MemoryStore) Issue(_ context.Context, phone string) (string, error) {
	code, err := m.opts.generate()
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.entries[phone] = entry{code: code, expiresAt: m.opts.now().Add(m.opts.ttl)}
	m.mu.Unlock()
	return code, nil
}

func (m *MemoryStore) Verify(_ context.Context, phone, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[phone]
	if !ok {
		return false, nil
	}
	if m.opts.now().After(e.expiresAt) {
		delete(m.entries, phone)
		return false, nil
	}
	if !codesEqual(e.code, code) {
		return false, nil
	}
	if m.opts.singleUse {
		delete(m.entries, phone)
	}
	return true, nil
}

// Len reports stored entries, expired ones included until read.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
