package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned by Store.Load for unknown or expired sessions.
var ErrNotFound = errors.New("session not found")

const DefaultCleanupInterval = time.Minute

// Store persists session states between requests.
type Store interface {
	Load(ctx context.Context, id string) (*State, error)
	Save(ctx context.Context, state *State) error
	Delete(ctx context.Context, id string) error
}

type memoryEntry struct {
	state   *State
	expires time.Time
}

// MemoryStore keeps states in process memory; an entry expires after ttl
// without a Save.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (m *MemoryStore) Load(_ context.Context, id string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if m.expired(entry) {
		delete(m.entries, id)
		return nil, ErrNotFound
	}
	return entry.state.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, state *State) error {
	if state == nil || state.ID == "" {
		return errors.New("session id required")
	}
	m.mu.Lock()
	m.entries[state.ID] = memoryEntry{state: state.Clone(), expires: m.now().Add(m.ttl)}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
	return nil
}

// Len reports the number of stored sessions, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// StartJanitor evicts expired sessions every interval until ctx is done.
func (m *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.purgeExpired()
			}
		}
	}()
}

func (m *MemoryStore) purgeExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	purged := 0
	for id, entry := range m.entries {
		if m.expired(entry) {
			delete(m.entries, id)
			purged++
		}
	}
	return purged
}

func (m *MemoryStore) expired(entry memoryEntry) bool {
	return m.ttl > 0 && !m.now().Before(entry.expires)
}
