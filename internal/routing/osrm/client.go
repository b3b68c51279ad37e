package osrm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/FastGo/RiderBox/internal/models"
	"github.com/pkg/errors"
)

// Client fetches road-geometry routes from an OSRM instance using the
// driving profile.
type Client struct {
	baseURL string
	httpc   *http.Client
}

func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://router.project-osrm.org"
	}
	return &Client{
		baseURL: baseURL,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type osrmResp struct {
	Routes []struct {
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
}

func (c *Client) Route(ctx context.Context, start, end models.GeoCoordinate) ([]models.GeoCoordinate, error) {
	// Unresolved endpoints never hit the network.
	if start.Unresolved() || end.Unresolved() {
		return nil, nil
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	// OSRM wants lon,lat ordering.
	u.Path = fmt.Sprintf("/route/v1/driving/%f,%f;%f,%f",
		start.Longitude, start.Latitude, end.Longitude, end.Latitude)

	q := u.Query()
	q.Set("overview", "full")
	q.Set("geometries", "geojson")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("osrm http %d", resp.StatusCode)
	}

	var r osrmResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	if len(r.Routes) == 0 {
		return nil, nil
	}

	coords := r.Routes[0].Geometry.Coordinates
	out := make([]models.GeoCoordinate, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			continue
		}
		out = append(out, models.GeoCoordinate{Latitude: c[1], Longitude: c[0]})
	}
	return out, nil
}
