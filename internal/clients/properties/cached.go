package properties

import (
	"context"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/dpup/survey.ersn.net/server/internal/cache"
)

const listCacheKey = "properties:list"

// CachedGateway serves ListProperties from cache for ttl. A save always
// invalidates the list so the next fetch reaches the backend.
type CachedGateway struct {
	next  Gateway
	cache *cache.Cache
	ttl   time.Duration
}

// NewCachedGateway wraps next with a list cache
func NewCachedGateway(next Gateway, c *cache.Cache, ttl time.Duration) *CachedGateway {
	return &CachedGateway{next: next, cache: c, ttl: ttl}
}

func (g *CachedGateway) ListProperties(ctx context.Context) ([]Property, error) {
	var cached []Property
	found, err := g.cache.Get(listCacheKey, &cached)
	if err != nil {
		logging.Warnw(ctx, "Property cache read failed", "error", err)
	}
	if found {
		return cached, nil
	}

	properties, err := g.next.ListProperties(ctx)
	if err != nil {
		return nil, err
	}

	if g.ttl > 0 {
		if err := g.cache.Set(listCacheKey, properties, g.ttl, "property-api"); err != nil {
			logging.Warnw(ctx, "Property cache write failed", "error", err)
		}
	}
	return properties, nil
}

func (g *CachedGateway) SaveProperty(ctx context.Context, payload SavePayload) (*Property, error) {
	property, err := g.next.SaveProperty(ctx, payload)
	// Invalidate on failure too; a timed out save may still have landed
	g.cache.Delete(listCacheKey)
	return property, err
}
