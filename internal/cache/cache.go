// Package cache defines the key-value store consulted before each model
// call. The store is best-effort: a read error is treated as a miss by the
// caller and a write error is logged and ignored, never surfaced to the
// client.
package cache

import "context"

// Store is a key-value store with per-key expiry.
type Store interface {
	// Get returns the stored value and whether the key was present and
	// unexpired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set writes value under key with the store's configured TTL.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key if present.
	Delete(ctx context.Context, key string) error
}
