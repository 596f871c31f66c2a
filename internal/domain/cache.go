package domain

import (
	"context"
	"time"
)

// Cache fronts the store's account-history reads during scoring.
// Supports two-phase caching: local LRU plus Redis for multi-node setups.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetHistory retrieves a cached account-history window.
	// Returns nil, false, nil on a miss.
	GetHistory(ctx context.Context, accountID string) ([]*Transaction, bool, error)

	// SetHistory caches an account-history window.
	SetHistory(ctx context.Context, accountID string, history []*Transaction, ttl time.Duration) error

	// InvalidateHistory drops the cached window after the account
	// gains new transactions.
	InvalidateHistory(ctx context.Context, accountID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
