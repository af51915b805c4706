package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryProvider is an in-process Provider with per-entry TTL and a bounded
// entry count. The core performs no network I/O, so explanation caching
// stays inside the process.
type MemoryProvider struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry
	maxEntries int
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryProvider creates a provider holding up to maxEntries values.
func NewMemoryProvider(maxEntries int) *MemoryProvider {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	return &MemoryProvider{
		entries:    make(map[string]memoryEntry),
		maxEntries: maxEntries,
	}
}

// Get fetches bytes by key, returning ErrCacheMiss when absent or expired.
func (p *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(p.entries, key)
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), entry.value...), nil
}

// Set stores a value with optional TTL (zero means no expiry). When the
// entry bound is reached, expired entries are swept first and an arbitrary
// entry is dropped if the sweep freed nothing.
func (p *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.entries[key]; !exists && len(p.entries) >= p.maxEntries {
		p.sweepLocked()
		if len(p.entries) >= p.maxEntries {
			for k := range p.entries {
				delete(p.entries, k)
				break
			}
		}
	}

	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	p.entries[key] = entry
	return nil
}

// Del removes a key.
func (p *MemoryProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, key)
	return nil
}

// Close releases all entries.
func (p *MemoryProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = make(map[string]memoryEntry)
	return nil
}

func (p *MemoryProvider) sweepLocked() {
	now := time.Now()
	for k, entry := range p.entries {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			delete(p.entries, k)
		}
	}
}

// Len reports the live entry count (for tests).
func (p *MemoryProvider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
