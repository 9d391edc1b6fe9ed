package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

const sweepInterval = time.Minute

// MemoryCache keeps entries in process. It serves a single SCP; run the Redis
// cache when several acceptors share bindings.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

type entry struct {
	value []byte
	// zero means the entry never expires
	expires time.Time
}

func (e entry) live(now time.Time) bool {
	return e.expires.IsZero() || now.Before(e.expires)
}

// NewMemoryCache creates an in-memory cache and starts its sweeper
func NewMemoryCache() *MemoryCache {
	m := &MemoryCache{
		entries: make(map[string]entry),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go m.sweep(sweepInterval)
	return m
}

func (m *MemoryCache) lookup(key string) (entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok || !e.live(m.now()) {
		return entry{}, false
	}
	return e, true
}

// Get returns a copy of the value stored under key
func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := m.lookup(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), e.value...), nil
}

// Set stores value under key. A ttl of zero or less keeps it until deleted.
func (m *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.lookup(key)
	return ok, nil
}

// Clear drops the keys matching pattern, either an exact key or a prefix
// ending in "*" such as Key("tenant", "*").
func (m *MemoryCache) Clear(_ context.Context, pattern string) error {
	prefix, glob := strings.CutSuffix(pattern, "*")
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.entries {
		if key == pattern || (glob && strings.HasPrefix(key, prefix)) {
			delete(m.entries, key)
		}
	}
	return nil
}

func (m *MemoryCache) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.evictExpired()
		}
	}
}

func (m *MemoryCache) evictExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for key, e := range m.entries {
		if !e.live(now) {
			delete(m.entries, key)
		}
	}
}

// Close stops the sweeper. The entries stay readable.
func (m *MemoryCache) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	return nil
}

// Len returns the number of entries, expired ones included
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
