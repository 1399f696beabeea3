package kv

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned when a key is absent or has expired.
var ErrKeyNotFound = errors.New("key not found in store")

// Store defines the interface for the durable key-value store backing
// all persisted entities. Values are serialized as JSON.
type Store interface {
	// Get retrieves a value and unmarshals it into dest.
	// Returns ErrKeyNotFound when the key is absent or expired.
	Get(ctx context.Context, key string, dest interface{}) error

	// Set stores a value with optional expiration. A ttl of zero means
	// the entry never expires.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes a value from the store.
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists in the store.
	Exists(ctx context.Context, key string) (bool, error)

	// Close closes the store connection.
	Close() error
}
