package dedupe

import (
	"sync"
	"time"
)

// memoryStore is the in-process fallback used when the shared store is
// unavailable. Expired entries are evicted lazily on access; when the map
// grows past maxEntries a best-effort sweep removes everything expired.
type memoryStore struct {
	mu         sync.Mutex
	entries    map[string]time.Time
	maxEntries int
	now        func() time.Time
}

func newMemoryStore(maxEntries int) *memoryStore {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &memoryStore{
		entries:    make(map[string]time.Time),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (m *memoryStore) tryClaim(key string, ttl time.Duration) bool {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	if expiry, ok := m.entries[key]; ok {
		if now.Before(expiry) {
			return false
		}
		delete(m.entries, key)
	}

	m.entries[key] = now.Add(ttl)
	if len(m.entries) > m.maxEntries {
		m.sweepLocked(now)
	}
	return true
}

// claim marks a key seen without reporting prior state. Used to mirror
// successful shared-store claims.
func (m *memoryStore) claim(key string, ttl time.Duration) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = now.Add(ttl)
	if len(m.entries) > m.maxEntries {
		m.sweepLocked(now)
	}
}

func (m *memoryStore) release(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

func (m *memoryStore) sweepLocked(now time.Time) {
	for k, expiry := range m.entries {
		if !now.Before(expiry) {
			delete(m.entries, k)
		}
	}
}

func (m *memoryStore) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
