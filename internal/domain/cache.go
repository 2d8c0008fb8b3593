package domain

import (
	"context"
	"time"
)

// Cache is the byte cache behind the template-retrieval wrapper. LRU
// in-process by default, Redis when retrieval results should be shared
// across instances.
type Cache interface {
	// Get retrieves a value. Returns nil, nil when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value.
	Delete(ctx context.Context, key string) error

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is "memory" or "redis".
	Type string `json:"type" yaml:"type"`

	LocalMaxSize int           `json:"localMaxSize" yaml:"local_max_size"`
	TTL          time.Duration `json:"ttl" yaml:"ttl"`

	RedisAddr     string `json:"redisAddr" yaml:"redis_addr"`
	RedisPassword string `json:"redisPassword" yaml:"redis_password"`
	RedisDB       int    `json:"redisDB" yaml:"redis_db"`
}
