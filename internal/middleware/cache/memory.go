package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend is the in-memory reference Backend implementation: a
// concurrency-safe map with lazy expiry on TryGet.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryBackend constructs an empty in-memory cache backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]Entry)}
}

// Add stores entry under key with expiry now+ttl. A non-positive ttl stores
// an entry that is already expired.
func (c *MemoryBackend) Add(_ context.Context, key string, entry Entry, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry.ExpiresAt = time.Now().Add(ttl)
	c.entries[key] = cloneEntry(entry)
	return nil
}

// TryGet returns the stored entry for key, evicting it first if it has
// expired.
func (c *MemoryBackend) TryGet(_ context.Context, key string) (Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	if !time.Now().Before(entry.ExpiresAt) {
		delete(c.entries, key)
		return Entry{}, false, nil
	}
	return cloneEntry(entry), true, nil
}

// Clear removes every entry from the backend.
func (c *MemoryBackend) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry)
	return nil
}

func cloneEntry(in Entry) Entry {
	out := Entry{ContentType: in.ContentType, ExpiresAt: in.ExpiresAt}
	if in.Payload != nil {
		out.Payload = append([]byte(nil), in.Payload...)
	}
	return out
}
