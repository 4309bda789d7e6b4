package core

import (
	"context"
	"time"
)

// CacheRepository defines the interface for caching operations.
type CacheRepository interface {
	// Set stores a value in the cache with the given key and TTL. A zero TTL never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get retrieves a value from the cache by key. Missing keys return nil without error.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes a key from the cache.
	Delete(ctx context.Context, key string) (bool, error)

	// SetIfNotExists atomically sets a key only if it doesn't already exist.
	// Returns true if the key was set, false if it already existed.
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Health checks the health of the cache connection.
	Health(ctx context.Context) error
}

// AlertGate admits at most one alert per key within a window.
type AlertGate interface {
	Acquire(ctx context.Context, key string, window time.Duration) (bool, error)
}

// DefaultAlertGatePrefix namespaces alert gate keys.
const DefaultAlertGatePrefix = "regtech:alert-gate:"

// CacheAlertGate implements AlertGate on top of a CacheRepository.
type CacheAlertGate struct {
	cache  CacheRepository
	prefix string
}

// NewCacheAlertGate builds a gate whose keys live under prefix.
func NewCacheAlertGate(cache CacheRepository, prefix string) *CacheAlertGate {
	if prefix == "" {
		prefix = DefaultAlertGatePrefix
	}
	return &CacheAlertGate{cache: cache, prefix: prefix}
}

// Acquire returns true the first time key is seen within window.
// A nil cache admits every alert.
func (g *CacheAlertGate) Acquire(ctx context.Context, key string, window time.Duration) (bool, error) {
	if g == nil || g.cache == nil || key == "" {
		return true, nil
	}
	return g.cache.SetIfNotExists(ctx, g.prefix+key, []byte("1"), window)
}

var _ AlertGate = (*CacheAlertGate)(nil)
