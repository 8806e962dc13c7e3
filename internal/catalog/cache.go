package catalog

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"shopping-assistant/internal/models"
	"shopping-assistant/internal/redisclient"
	"shopping-assistant/internal/util"

	"go.uber.org/zap"
)

// Cache is the subset of the Redis client used for search results
type Cache interface {
	GetJSON(ctx context.Context, key string, dst interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// CachedSearcher serves repeated queries from the cache
type CachedSearcher struct {
	next   Searcher
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedSearcher wraps next with a TTL cache
func NewCachedSearcher(next Searcher, cache Cache, ttl time.Duration) *CachedSearcher {
	return &CachedSearcher{
		next:   next,
		cache:  cache,
		ttl:    ttl,
		logger: util.GetLogger(),
	}
}

// Search returns cached results when present. Cache failures fall through to
// the wrapped searcher.
func (c *CachedSearcher) Search(ctx context.Context, query string, maxResults int) ([]models.Product, error) {
	maxResults = ClampResults(maxResults)
	key := searchKey(query, maxResults)

	var cached []models.Product
	err := c.cache.GetJSON(ctx, key, &cached)
	switch {
	case err == nil:
		util.SearchCacheTotal.WithLabelValues("hit").Inc()
		return cached, nil
	case errors.Is(err, redisclient.ErrCacheMiss):
		util.SearchCacheTotal.WithLabelValues("miss").Inc()
	default:
		util.SearchCacheTotal.WithLabelValues("error").Inc()
		c.logger.Warn("Search cache read failed", zap.String("query", query), zap.Error(err))
	}

	products, err := c.next.Search(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}

	// Empty pages are often bot walls; don't pin them.
	if len(products) > 0 {
		if err := c.cache.SetJSON(ctx, key, products, c.ttl); err != nil {
			c.logger.Warn("Search cache write failed", zap.String("query", query), zap.Error(err))
		}
	}

	return products, nil
}

func searchKey(query string, maxResults int) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s|%d", strings.ToLower(strings.TrimSpace(query)), maxResults)))
	return "search:" + hex.EncodeToString(sum[:])
}
