package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/FastGo/RiderBox/internal/models"
	"github.com/FastGo/RiderBox/internal/session"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	mu         sync.Mutex
	startErr   error
	confirmErr error
	starts     int
	fixes      []models.GeoCoordinate
	recalcs    int
	snap       session.Snapshot
}

func (c *fakeController) Start(ctx context.Context, supplied *models.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	return c.startErr
}

func (c *fakeController) OnPosition(fix models.GeoCoordinate, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fixes = append(c.fixes, fix)
}

func (c *fakeController) ConfirmPhase(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confirmErr
}

func (c *fakeController) Recalculate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recalcs++
}

func (c *fakeController) Snapshot() session.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

type fakeRiderBackend struct {
	mu        sync.Mutex
	acceptErr error
	accepted  []string
	orders    []models.Order
	ordersErr error
}

func (b *fakeRiderBackend) AcceptOrder(ctx context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.acceptErr != nil {
		return b.acceptErr
	}
	b.accepted = append(b.accepted, orderID)
	return nil
}

func (b *fakeRiderBackend) OrdersByPosition(ctx context.Context, lat, lon float64) ([]models.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.orders, b.ordersErr
}

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	return resp
}

func TestRunRiderAgent_ServesAndStops(t *testing.T) {
	ctrl := &fakeController{startErr: session.ErrNoOrder}
	be := &fakeRiderBackend{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	opts := riderAgentOpts{
		httpAddr: "127.0.0.1:0",
		onListen: func(httpAddr string) { addrCh <- httpAddr },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- runRiderAgent(ctx, opts, ctrl, be, nil)
	}()

	addr := <-addrCh

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	// Startup attempted session recovery exactly once.
	ctrl.mu.Lock()
	require.Equal(t, 1, ctrl.starts)
	ctrl.mu.Unlock()

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}

func TestRouter_Status(t *testing.T) {
	ctrl := &fakeController{snap: session.Snapshot{OrderID: "ord-1", Health: "OK"}}
	srv := httptest.NewServer(newRouter(context.Background(), ctrl, &fakeRiderBackend{}, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	var out struct {
		Session session.Snapshot `json:"session"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "ord-1", out.Session.OrderID)
	require.Equal(t, "OK", out.Session.Health)
}

func TestRouter_PositionFeedsController(t *testing.T) {
	ctrl := &fakeController{}
	srv := httptest.NewServer(newRouter(context.Background(), ctrl, &fakeRiderBackend{}, nil))
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/position", `{"latitude":40.35,"longitude":18.17}`)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	require.Len(t, ctrl.fixes, 1)
	require.InDelta(t, 40.35, float64(ctrl.fixes[0].Latitude), 1e-9)
	require.InDelta(t, 18.17, float64(ctrl.fixes[0].Longitude), 1e-9)
}

func TestRouter_PositionRejectsGarbage(t *testing.T) {
	ctrl := &fakeController{}
	srv := httptest.NewServer(newRouter(context.Background(), ctrl, &fakeRiderBackend{}, nil))
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/position", `not json`)
	defer resp.Body.Close()
	require.Equal(t, 400, resp.StatusCode)

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	require.Empty(t, ctrl.fixes)
}

func TestRouter_AcceptStartsSession(t *testing.T) {
	ctrl := &fakeController{}
	be := &fakeRiderBackend{}
	srv := httptest.NewServer(newRouter(context.Background(), ctrl, be, nil))
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/accept", `{"id":"ord-1"}`)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	be.mu.Lock()
	require.Equal(t, []string{"ord-1"}, be.accepted)
	be.mu.Unlock()
	ctrl.mu.Lock()
	require.Equal(t, 1, ctrl.starts)
	ctrl.mu.Unlock()
}

func TestRouter_AcceptWhileSessionActive(t *testing.T) {
	ctrl := &fakeController{startErr: session.ErrSessionActive}
	srv := httptest.NewServer(newRouter(context.Background(), ctrl, &fakeRiderBackend{}, nil))
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/accept", `{"id":"ord-2"}`)
	defer resp.Body.Close()
	require.Equal(t, 409, resp.StatusCode)
}

func TestRouter_AcceptRequiresID(t *testing.T) {
	be := &fakeRiderBackend{}
	srv := httptest.NewServer(newRouter(context.Background(), &fakeController{}, be, nil))
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/accept", `{}`)
	defer resp.Body.Close()
	require.Equal(t, 400, resp.StatusCode)

	be.mu.Lock()
	defer be.mu.Unlock()
	require.Empty(t, be.accepted)
}

func TestRouter_ConfirmConflicts(t *testing.T) {
	for _, confirmErr := range []error{
		session.ErrConfirmInFlight,
		session.ErrSessionEnded,
		session.ErrNoOrder,
	} {
		ctrl := &fakeController{confirmErr: confirmErr}
		srv := httptest.NewServer(newRouter(context.Background(), ctrl, &fakeRiderBackend{}, nil))

		resp := postJSON(t, srv.URL+"/confirm", `{}`)
		require.Equal(t, 409, resp.StatusCode)
		resp.Body.Close()
		srv.Close()
	}
}

func TestRouter_ConfirmOK(t *testing.T) {
	srv := httptest.NewServer(newRouter(context.Background(), &fakeController{}, &fakeRiderBackend{}, nil))
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/confirm", `{}`)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)
}

func TestRouter_Recalculate(t *testing.T) {
	ctrl := &fakeController{}
	srv := httptest.NewServer(newRouter(context.Background(), ctrl, &fakeRiderBackend{}, nil))
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/recalculate", ``)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	require.Equal(t, 1, ctrl.recalcs)
}

func TestRouter_OrdersByPosition(t *testing.T) {
	be := &fakeRiderBackend{orders: []models.Order{{ID: "ord-9", ShopID: "shop-1"}}}
	srv := httptest.NewServer(newRouter(context.Background(), &fakeController{}, be, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/orders?lat=40.35&lon=18.17")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	var out struct {
		Orders []models.Order `json:"orders"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Orders, 1)
	require.Equal(t, "ord-9", out.Orders[0].ID)

	resp2, err := http.Get(srv.URL + "/orders?lat=bogus")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, 400, resp2.StatusCode)
}
