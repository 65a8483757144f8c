// Package state holds the risk engine's rule state behind a keyed store with per-key expiry,
// so the same rule logic runs against process memory, Redis, or an embedded Badger database.
package state

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get for missing or expired keys.
	ErrNotFound = errors.New("state key not found")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("state store is closed")
)

// Store is a keyed byte store with per-key time to live. A ttl of zero means no expiry.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// PutIfAbsent stores value only if key is missing or expired. It reports whether it stored.
	PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Close releases the store's resources.
	Close() error
}

// Key namespaces. Every backend sees the same layout.
const (
	windowKeyPrefix = "risk:window:"
	dedupKeyPrefix  = "risk:alert:"
)
