package tally

// staging.go holds staged changesets between Stage and Confirm.
//
// The store only sees opaque JSON bytes, so a session store, a cache or the
// in-memory implementation below can all hold a changeset.

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// StagingStore holds an opaque staged changeset across two calls.
// Get returns ErrStagedNotFound for unknown or expired ids.
type StagingStore interface {
	Put(ctx context.Context, id string, data []byte, ttl time.Duration) error
	Get(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
}

// DefaultStageTTL is how long a staged changeset waits for confirmation.
const DefaultStageTTL = 30 * time.Minute

type stagedEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStaging is a process-local StagingStore.
type MemoryStaging struct {
	mu      sync.RWMutex
	entries map[string]stagedEntry
	now     func() time.Time
}

// NewMemoryStaging returns an empty in-memory staging store.
func NewMemoryStaging() *MemoryStaging {
	return &MemoryStaging{
		entries: make(map[string]stagedEntry),
		now:     time.Now,
	}
}

func (m *MemoryStaging) Put(_ context.Context, id string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultStageTTL
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	m.mu.Lock()
	m.entries[id] = stagedEntry{data: buf, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStaging) Get(_ context.Context, id string) ([]byte, error) {
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok || !m.now().Before(e.expiresAt) {
		return nil, ErrStagedNotFound
	}
	return e.data, nil
}

func (m *MemoryStaging) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
	return nil
}

// Sweep drops expired entries and returns how many were removed.
func (m *MemoryStaging) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, id)
			n++
		}
	}
	return n
}

// Len returns the number of held entries, expired or not.
func (m *MemoryStaging) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *MemoryStaging) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				slog.Debug("expired staged changesets removed", "count", n)
			}
		}
	}
}
