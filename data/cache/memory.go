package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	payload   []byte
	fetchedAt time.Time
}

// Memory is the default market-data cache backend: a process-local map
// guarded by an RWMutex. Entries are kept past their freshness window
// (the gateway decides staleness) and evicted only after the retention
// period, so expired values remain available as degraded fallbacks.
type Memory struct {
	mu        sync.RWMutex
	items     map[string]memoryEntry
	retention time.Duration
	done      chan struct{}
	closeOnce sync.Once
}

func NewMemory(retention time.Duration) *Memory {
	m := &Memory{
		items:     make(map[string]memoryEntry),
		retention: retention,
		done:      make(chan struct{}),
	}
	go m.cleanup()
	return m
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.items[key]
	if !ok {
		return nil, time.Time{}, ErrCacheMiss
	}
	return entry.payload, entry.fetchedAt, nil
}

func (m *Memory) Set(_ context.Context, key string, payload []byte, fetchedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[key] = memoryEntry{payload: payload, fetchedAt: fetchedAt}
	return nil
}

func (m *Memory) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

func (m *Memory) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-m.retention)
			m.mu.Lock()
			for key, entry := range m.items {
				if entry.fetchedAt.Before(cutoff) {
					delete(m.items, key)
				}
			}
			m.mu.Unlock()
		}
	}
}
