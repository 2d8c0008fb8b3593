package collab

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/auditwatch/auditwatch/internal/domain"
)

// CachedRetriever wraps a TemplateRetriever with a byte cache. Cache
// failures degrade to a direct corpus lookup, never to an error.
type CachedRetriever struct {
	inner TemplateRetriever
	cache domain.Cache
	ttl   time.Duration
	log   *slog.Logger
}

// NewCachedRetriever wraps inner with cache lookups keyed on the query.
func NewCachedRetriever(inner TemplateRetriever, cache domain.Cache, ttl time.Duration, log *slog.Logger) *CachedRetriever {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &CachedRetriever{
		inner: inner,
		cache: cache,
		ttl:   ttl,
		log:   log,
	}
}

func retrievalKey(query string, topK int) string {
	sum := sha256.Sum256([]byte(query))
	return fmt.Sprintf("tpl:%s:%d", hex.EncodeToString(sum[:8]), topK)
}

// Retrieve serves from the cache when possible and populates it on a miss.
func (c *CachedRetriever) Retrieve(ctx context.Context, query string, topK int) ([]domain.TemplateMatch, error) {
	key := retrievalKey(query, topK)

	if data, err := c.cache.Get(ctx, key); err != nil {
		c.log.Warn("template cache lookup failed", "key", key, "error", err)
	} else if data != nil {
		var matches []domain.TemplateMatch
		if err := json.Unmarshal(data, &matches); err == nil {
			return matches, nil
		}
		c.log.Warn("discarding unreadable cached retrieval result", "key", key)
	}

	matches, err := c.inner.Retrieve(ctx, query, topK)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(matches); err == nil {
		if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
			c.log.Warn("template cache store failed", "key", key, "error", err)
		}
	}
	return matches, nil
}

// Ping checks the underlying retriever; the cache is an optimization and
// does not gate readiness.
func (c *CachedRetriever) Ping(ctx context.Context) error {
	return c.inner.Ping(ctx)
}

// Close closes the underlying retriever. The cache is owned by the caller.
func (c *CachedRetriever) Close() error {
	return c.inner.Close()
}
