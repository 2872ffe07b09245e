// Package kv provides a key-value store abstraction for run leases.
// The registry acquires a lease per in-progress (image, config) pair to
// detect duplicate launches; backends can be swapped (in-memory for a
// single launcher process, Valkey/Redis when several share a host)
// without changing the registry implementation.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("kv: key not found")

// Store is the slice of a key-value store the lease logic needs. A zero
// TTL means the entry never expires.
type Store interface {
	// Set stores value under key, replacing any existing entry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// SetNX atomically stores value only when key is absent and reports
	// whether it did. The lease acquire path depends on this being a
	// single operation, not a Get/Set pair.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Close releases the backend connection.
	Close() error
}
