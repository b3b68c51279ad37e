package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/FastGo/RiderBox/internal/models"
	"github.com/pkg/errors"
)

// Client talks to the FastGo rider API. Success is derived from the HTTP
// status; JSON error bodies are decoded for logging only.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

func New(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8082"
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ActiveOrder returns the rider's current in-flight order, or nil when the
// backend reports none (empty body on 200).
func (c *Client) ActiveOrder(ctx context.Context) (*models.Order, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/order/active", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		c.logErrorBody("active order", resp)
		return nil, fmt.Errorf("backend http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	var o models.Order
	if err := json.Unmarshal(body, &o); err != nil {
		return nil, errors.Wrap(err, "decode order")
	}
	return &o, nil
}

// AcceptOrder claims an order for this rider.
func (c *Client) AcceptOrder(ctx context.Context, orderID string) error {
	if orderID == "" {
		return errors.New("orderId is required")
	}
	return c.postJSON(ctx, "/rider/accept", map[string]string{"id": orderID}, "accept order")
}

// UpdateOrderStatus asks the backend to transition the order. Allowed
// transitions from the rider side are DELIVERING, DELIVERED, COMPLETED.
func (c *Client) UpdateOrderStatus(ctx context.Context, orderID, status string) error {
	if orderID == "" {
		return errors.New("orderId is required")
	}
	switch status {
	case models.OrderStatusDelivering, models.OrderStatusDelivered, models.OrderStatusCompleted:
	default:
		return fmt.Errorf("status %q is not a rider transition", status)
	}
	return c.postJSON(ctx, "/order/updateStatus", map[string]string{
		"orderId":     orderID,
		"orderStatus": status,
	}, "update order status")
}

// OrdersByPosition lists nearby pending orders for the accept screen.
func (c *Client) OrdersByPosition(ctx context.Context, lat, lon float64) ([]models.Order, error) {
	payload := map[string]float64{
		"latitudeRider":  lat,
		"longitudeRider": lon,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/order/getByPosition", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		c.logErrorBody("orders by position", resp)
		return nil, fmt.Errorf("backend http %d", resp.StatusCode)
	}

	var out struct {
		Orders []models.Order `json:"orders"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "decode orders")
	}
	return out.Orders, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, op string) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal payload")
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(b))
	if err != nil {
		return err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		c.logErrorBody(op, resp)
		return fmt.Errorf("backend http %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u, err := url.Parse(strings.TrimRight(c.baseURL, "/") + path)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) logErrorBody(op string, resp *http.Response) {
	var body struct {
		Message string `json:"message"`
	}
	if json.NewDecoder(resp.Body).Decode(&body) == nil && body.Message != "" {
		slog.Warn("backend error", "op", op, "status", resp.StatusCode, "message", body.Message)
		return
	}
	slog.Warn("backend error", "op", op, "status", resp.StatusCode)
}
