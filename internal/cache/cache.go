// Package cache provides the byte caches behind template retrieval.
package cache

import (
	"fmt"

	"github.com/auditwatch/auditwatch/internal/domain"
)

// New creates a cache from configuration. Memory is the single-process
// default; Redis shares retrieval results across instances.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}
