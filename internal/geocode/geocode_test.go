package geocode

import (
	"context"
	"testing"
	"time"

	"github.com/FastGo/RiderBox/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	coord models.GeoCoordinate
	ok    bool
	err   error
	calls int
}

func (f *fakeResolver) Resolve(ctx context.Context, street, zip, city string) (models.GeoCoordinate, bool, error) {
	f.calls++
	return f.coord, f.ok, f.err
}

type fakeCache struct {
	m map[string][]byte
}

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, ok := c.m[key]
	return b, ok, nil
}
func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.m[key] = value
	return nil
}

func TestCached_hitSkipsResolver(t *testing.T) {
	inner := &fakeResolver{coord: models.GeoCoordinate{Latitude: 40.1, Longitude: 18.2}, ok: true}
	c := &fakeCache{m: map[string][]byte{}}
	r := NewCached(inner, c, time.Hour)

	ctx := context.Background()
	coord, ok, err := r.Resolve(ctx, "Via Lecce 2", "73100", "Lecce")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, inner.calls)

	// Same address, normalized differently: served from cache.
	coord2, ok, err := r.Resolve(ctx, "  via  lecce 2 ", "73100", "LECCE")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, coord, coord2)
	require.Equal(t, 1, inner.calls)
}

func TestCached_missNotCached(t *testing.T) {
	inner := &fakeResolver{ok: false}
	c := &fakeCache{m: map[string][]byte{}}
	r := NewCached(inner, c, time.Hour)

	ctx := context.Background()
	_, ok, err := r.Resolve(ctx, "Nowhere 0", "", "Atlantis")
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, c.m)

	_, _, _ = r.Resolve(ctx, "Nowhere 0", "", "Atlantis")
	require.Equal(t, 2, inner.calls)
}

func TestCached_nilCachePassesThrough(t *testing.T) {
	inner := &fakeResolver{coord: models.GeoCoordinate{Latitude: 1, Longitude: 2}, ok: true}
	r := NewCached(inner, nil, time.Hour)

	coord, ok, err := r.Resolve(context.Background(), "Via Lecce 2", "", "Lecce")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, inner.coord, coord)
}
