package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/alex-user-go/slotfinder/internal/search/types"
)

// Store persists search results for a limited time.
type Store interface {
	// Get returns the cached result for key; ok is false on a miss.
	Get(ctx context.Context, key string) (result *types.Result, ok bool, err error)
	Set(ctx context.Context, key string, result *types.Result, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Cache provides TTL caching on top of a Store with request collapsing:
// concurrent misses for the same key share a single fetch.
type Cache struct {
	store  Store
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger
}

// New creates a new Cache.
func New(store Store, ttl time.Duration, logger *zap.Logger) *Cache {
	return &Cache{
		store:  store,
		ttl:    ttl,
		logger: logger,
	}
}

// Key generates a cache key from the search parameters.
func (c *Cache) Key(req types.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "q=%s|when=%s|service=%s|stylist=%s",
		strings.ToLower(strings.TrimSpace(req.Query)),
		strings.ToLower(strings.TrimSpace(req.When)),
		strings.ToLower(req.Service),
		strings.ToLower(req.Stylist))
	fmt.Fprintf(&b, "|budget=%s|dist=%s|lat=%s|lng=%s|limit=%d",
		formatOptional(req.BudgetMax),
		formatOptional(req.DistanceMilesMax),
		formatOptional(req.Lat),
		formatOptional(req.Lng),
		req.EffectiveLimit())
	return b.String()
}

func formatOptional(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// GetOrFetch retrieves from cache or executes the fetch function.
// Concurrent requests for the same key are collapsed (singleflight pattern).
// Returns the result and a boolean indicating if it was a cache hit.
// A caller whose ctx ends stops waiting; the shared fetch keeps running for
// the others.
func (c *Cache) GetOrFetch(ctx context.Context, key string, fetch func(ctx context.Context) (*types.Result, error)) (*types.Result, bool, error) {
	result, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		return result, true, nil
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		res, err := fetch(fetchCtx)
		if err != nil || res == nil {
			return res, err
		}
		if err := c.store.Set(fetchCtx, key, res, c.ttl); err != nil {
			c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
		return res, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, false, r.Err
		}
		res, _ := r.Val.(*types.Result)
		return res, false, nil
	case <-ctx.Done():
		return nil, false, context.Cause(ctx)
	}
}

// Invalidate removes a specific key from the cache.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}
