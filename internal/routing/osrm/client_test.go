package osrm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/FastGo/RiderBox/internal/models"
	"github.com/stretchr/testify/require"
)

func TestClient_Route(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.Equal(t, "full", r.URL.Query().Get("overview"))
		require.Equal(t, "geojson", r.URL.Query().Get("geometries"))
		w.Write([]byte(`{"routes":[{"geometry":{"coordinates":[[18.17,40.35],[18.18,40.36],[18.2,40.1]]}}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	pts, err := c.Route(context.Background(),
		models.GeoCoordinate{Latitude: 40.35, Longitude: 18.17},
		models.GeoCoordinate{Latitude: 40.1, Longitude: 18.2})
	require.NoError(t, err)
	require.Len(t, pts, 3)
	// GeoJSON is lon,lat; the polyline must come back lat,lon.
	require.InDelta(t, 40.35, pts[0].Latitude, 1e-9)
	require.InDelta(t, 18.17, pts[0].Longitude, 1e-9)
	require.True(t, strings.HasPrefix(gotPath, "/route/v1/driving/18.17"))
}

func TestClient_Route_zeroSentinelSkipsNetwork(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	c := New(srv.URL)
	for _, pair := range [][2]models.GeoCoordinate{
		{{}, {Latitude: 40.1, Longitude: 18.2}},
		{{Latitude: 40.35, Longitude: 18.17}, {}},
		{{Latitude: 40.35}, {Latitude: 40.1, Longitude: 18.2}},
	} {
		pts, err := c.Route(context.Background(), pair[0], pair[1])
		require.NoError(t, err)
		require.Empty(t, pts)
	}
	require.Zero(t, calls)
}

func TestClient_Route_noRoutes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"routes":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	pts, err := c.Route(context.Background(),
		models.GeoCoordinate{Latitude: 40.35, Longitude: 18.17},
		models.GeoCoordinate{Latitude: 40.1, Longitude: 18.2})
	require.NoError(t, err)
	require.Empty(t, pts)
}

func TestClient_Route_serverError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL)
	pts, err := c.Route(context.Background(),
		models.GeoCoordinate{Latitude: 40.35, Longitude: 18.17},
		models.GeoCoordinate{Latitude: 40.1, Longitude: 18.2})
	require.Error(t, err)
	require.Empty(t, pts)
}
