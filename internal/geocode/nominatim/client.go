package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/FastGo/RiderBox/internal/models"
	"github.com/pkg/errors"
)

// Client queries a Nominatim-compatible place search. The first ranked match
// wins; no match is not an error.
type Client struct {
	baseURL   string
	userAgent string
	country   string
	httpc     *http.Client
}

func New(baseURL, userAgent, country string) *Client {
	if baseURL == "" {
		baseURL = "https://nominatim.openstreetmap.org"
	}
	if userAgent == "" {
		userAgent = "FastGoRiderAgent/1.0"
	}
	if country == "" {
		country = "Italia"
	}
	return &Client{
		baseURL:   baseURL,
		userAgent: userAgent,
		country:   country,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type placeMatch struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

func (c *Client) Resolve(ctx context.Context, street, zip, city string) (models.GeoCoordinate, bool, error) {
	if strings.TrimSpace(street) == "" && strings.TrimSpace(city) == "" {
		return models.GeoCoordinate{}, false, errors.New("street or city is required")
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return models.GeoCoordinate{}, false, errors.Wrap(err, "parse base url")
	}
	u.Path = "/search"

	q := u.Query()
	q.Set("format", "json")
	q.Set("q", c.renderQuery(street, zip, city))
	q.Set("limit", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return models.GeoCoordinate{}, false, errors.Wrap(err, "new request")
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return models.GeoCoordinate{}, false, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return models.GeoCoordinate{}, false, fmt.Errorf("nominatim http %d", resp.StatusCode)
	}

	var matches []placeMatch
	if err := json.NewDecoder(resp.Body).Decode(&matches); err != nil {
		return models.GeoCoordinate{}, false, errors.Wrap(err, "decode")
	}
	if len(matches) == 0 {
		return models.GeoCoordinate{}, false, nil
	}

	lat, err := strconv.ParseFloat(matches[0].Lat, 64)
	if err != nil {
		return models.GeoCoordinate{}, false, errors.Wrap(err, "parse lat")
	}
	lon, err := strconv.ParseFloat(matches[0].Lon, 64)
	if err != nil {
		return models.GeoCoordinate{}, false, errors.Wrap(err, "parse lon")
	}

	return models.GeoCoordinate{Latitude: lat, Longitude: lon}, true, nil
}

// renderQuery builds "street, zip, city, country", skipping empty parts.
func (c *Client) renderQuery(street, zip, city string) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{street, zip, city, c.country} {
		if s := strings.TrimSpace(p); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}
