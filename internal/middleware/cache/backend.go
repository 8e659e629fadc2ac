// Package cache implements the directive-driven response cache middleware,
// its backend contract, and the stock key providers.
package cache

import (
	"context"
	"time"
)

// Entry is a stored cache value. ContentType is preserved as a minimum
// alongside the raw payload so a cache hit can at least echo back the
// original response's Content-Type even though status and other headers
// are not replayed.
type Entry struct {
	Payload     []byte
	ContentType string
	ExpiresAt   time.Time
}

// Backend is the external collaborator a cache Middleware is built from: a
// keyed byte store with TTL. add/try_get/clear exactly as specified.
type Backend interface {
	// Add stores payload under key with the given ttl. A ttl <= 0 means the
	// entry is immediately expired.
	Add(ctx context.Context, key string, entry Entry, ttl time.Duration) error
	// TryGet returns the most recently added, not-yet-expired entry for key.
	TryGet(ctx context.Context, key string) (Entry, bool, error)
	// Clear removes every entry from the backend.
	Clear(ctx context.Context) error
}
