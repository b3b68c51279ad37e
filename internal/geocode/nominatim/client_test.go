package nominatim

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClient_Resolve(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search", r.URL.Path)
		require.Equal(t, "json", r.URL.Query().Get("format"))
		require.Equal(t, "1", r.URL.Query().Get("limit"))
		require.NotEmpty(t, r.Header.Get("User-Agent"))
		gotQuery = r.URL.Query().Get("q")
		w.Write([]byte(`[{"lat":"40.1","lon":"18.2"},{"lat":"99","lon":"99"}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "test-agent", "Italia")
	coord, ok, err := c.Resolve(context.Background(), "Via Lecce 2", "73100", "Lecce")
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 40.1, coord.Latitude, 1e-9)
	require.InDelta(t, 18.2, coord.Longitude, 1e-9)
	require.Equal(t, "Via Lecce 2, 73100, Lecce, Italia", gotQuery)
}

func TestClient_Resolve_skipsEmptyZip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Via Lecce 2, Lecce, Italia", r.URL.Query().Get("q"))
		w.Write([]byte(`[{"lat":"40.1","lon":"18.2"}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "test-agent", "Italia")
	_, ok, err := c.Resolve(context.Background(), "Via Lecce 2", "", "Lecce")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestClient_Resolve_noMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "", "")
	_, ok, err := c.Resolve(context.Background(), "Nowhere 0", "", "Atlantis")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestClient_Resolve_emptyInputRejected(t *testing.T) {
	c := New("http://localhost:0", "", "")
	_, _, err := c.Resolve(context.Background(), "", "", "")
	require.Error(t, err)
}
