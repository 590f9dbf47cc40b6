package store

import (
	"context"
	"time"
)

// Backend stores entity fields keyed by composite key.
//
// Callers serialize operations per key (one actor per key); implementations
// must still be safe for concurrent use across different keys.
//
// Get, GetExpiry, and GetOwner return types.ErrNotFound when the field is
// absent. Infrastructure failures wrap types.ErrStorage.
type Backend interface {
	Put(ctx context.Context, key string, content []byte) error
	Get(ctx context.Context, key string) ([]byte, error)

	SetExpiry(ctx context.Context, key string, at time.Time) error
	GetExpiry(ctx context.Context, key string) (time.Time, error)

	SetOwner(ctx context.Context, key, tag string) error
	GetOwner(ctx context.Context, key string) (string, error)

	// Populate writes content, owner and expiry of key in one step, so a
	// crash never leaves content behind without an expiry.
	Populate(ctx context.Context, key string, content []byte, owner string, at time.Time) error

	// Purge clears every field of key. Purging an absent entity is a no-op.
	Purge(ctx context.Context, key string) error

	// Reserve atomically places a claim marker on key for ttl. It returns
	// false if a marker is already present.
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Keys lists every key with at least one stored field.
	Keys(ctx context.Context) ([]string, error)

	Close() error
}
