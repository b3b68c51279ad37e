package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/FastGo/RiderBox/internal/cache"
	"github.com/FastGo/RiderBox/internal/models"
)

// Resolver turns a postal address into a coordinate. The ok result is false
// when the service has no match; err is reserved for transport failures.
type Resolver interface {
	Resolve(ctx context.Context, street, zip, city string) (models.GeoCoordinate, bool, error)
}

// Cached decorates a Resolver with a byte cache. Only positive results are
// cached: a miss may be a transient service hiccup.
type Cached struct {
	next Resolver
	c    cache.BytesCache
	ttl  time.Duration
}

func NewCached(next Resolver, c cache.BytesCache, ttl time.Duration) *Cached {
	return &Cached{next: next, c: c, ttl: ttl}
}

func (r *Cached) Resolve(ctx context.Context, street, zip, city string) (models.GeoCoordinate, bool, error) {
	key := cacheKey(street, zip, city)

	if r.c != nil && r.ttl > 0 {
		if b, ok, err := r.c.Get(ctx, key); err == nil && ok {
			var coord models.GeoCoordinate
			if json.Unmarshal(b, &coord) == nil && !coord.Unresolved() {
				return coord, true, nil
			}
		}
	}

	coord, ok, err := r.next.Resolve(ctx, street, zip, city)
	if err != nil || !ok {
		return coord, ok, err
	}

	if r.c != nil && r.ttl > 0 {
		b, _ := json.Marshal(coord)
		_ = r.c.Set(ctx, key, b, r.ttl)
	}
	return coord, true, nil
}

func cacheKey(street, zip, city string) string {
	norm := func(s string) string {
		return strings.ToLower(strings.Join(strings.Fields(s), " "))
	}
	return fmt.Sprintf("geocode:%s|%s|%s", norm(street), norm(zip), norm(city))
}
