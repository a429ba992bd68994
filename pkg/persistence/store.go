package persistence

import "context"

// Store is a pluggable JSON key-value port. Two scopes exist in this
// service: an ephemeral process-local scope (go-cache) and a durable
// cross-restart scope (Redis). Callers pick the scope by construction.
type Store interface {
	// Put serializes value as JSON under key.
	Put(ctx context.Context, key string, value interface{}) error

	// Get deserializes the value under key into dest. Returns false when
	// the key is absent.
	Get(ctx context.Context, key string, dest interface{}) (bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
