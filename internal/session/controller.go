package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FastGo/RiderBox/internal/geocode"
	"github.com/FastGo/RiderBox/internal/models"
	"github.com/FastGo/RiderBox/internal/routing"
	"github.com/FastGo/RiderBox/internal/telemetry"
	"github.com/pkg/errors"
)

var (
	ErrConfirmInFlight = errors.New("phase confirmation already in flight")
	ErrSessionEnded    = errors.New("delivery session has ended")
	ErrSessionActive   = errors.New("delivery session already active")
	ErrNoOrder         = errors.New("no active order")
)

type Backend interface {
	ActiveOrder(ctx context.Context) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID, status string) error
}

type Telemetry interface {
	PublishPosition(shopID, orderID string, p telemetry.Position) error
	SubscribeHealth(orderID string, fn func(label string)) error
	Unsubscribe()
}

// Box is the peripheral link surface the controller needs. The link's
// lifecycle (connect/disconnect) belongs to the session layer above; the
// controller only sends commands and treats every failure as advisory.
type Box interface {
	SendTopic(topic string) error
	SendOrderCompleted(orderID string, totalPrice float64, clientID string) error
}

// routeKey tags a route request with the coordinate pair it targets so a
// stale completion can never overwrite a newer request's result.
type routeKey struct {
	start, end models.GeoCoordinate
}

// Controller owns the pickup/dropoff state machine for one order and
// reconciles the backend, the telemetry channel, the route provider and the
// box into a single session view. All I/O is asynchronous; shared state is
// guarded by one mutex.
type Controller struct {
	backend Backend
	resolv  geocode.Resolver
	routes  routing.Provider
	telem   Telemetry
	box     Box
	policy  *PositionPolicy
	riderID string

	ctx context.Context

	mu         sync.Mutex
	order      *models.Order
	riderPos   models.GeoCoordinate
	target     models.GeoCoordinate
	resolving  bool
	route      []models.GeoCoordinate
	routeWant  routeKey
	health     string
	confirming bool
	done       bool
	closed     bool

	publishes        atomic.Int64
	droppedPublishes atomic.Int64
	routeErrors      atomic.Int64
}

func New(backend Backend, resolv geocode.Resolver, routes routing.Provider, telem Telemetry) *Controller {
	return &Controller{
		backend: backend,
		resolv:  resolv,
		routes:  routes,
		telem:   telem,
		policy:  NewPositionPolicy(PositionPolicyConfig{}),
		health:  models.HealthWaiting,
	}
}

func (c *Controller) WithBox(box Box) *Controller {
	c.box = box
	return c
}

func (c *Controller) WithPolicy(p *PositionPolicy) *Controller {
	if p != nil {
		c.policy = p
	}
	return c
}

func (c *Controller) WithRiderID(id string) *Controller {
	c.riderID = id
	return c
}

// Start reconciles against the backend and brings the session up. A
// pre-existing active order on the backend replaces the supplied one; either
// way exactly one telemetry subscription results. ctx scopes every
// background operation the controller issues for its lifetime.
func (c *Controller) Start(ctx context.Context, supplied *models.Order) error {
	c.mu.Lock()
	if c.closed || c.done {
		c.mu.Unlock()
		return ErrSessionEnded
	}
	if c.order != nil {
		c.mu.Unlock()
		return ErrSessionActive
	}
	c.mu.Unlock()

	recovered, err := c.backend.ActiveOrder(ctx)
	if err != nil {
		slog.Warn("active order check failed", "error", err.Error())
	}

	ord := supplied
	if recovered != nil {
		if supplied != nil && supplied.ID != recovered.ID {
			slog.Info("recovered active order replaces supplied order",
				"supplied", supplied.ID, "recovered", recovered.ID)
		}
		ord = recovered
	}
	if ord == nil {
		return ErrNoOrder
	}
	if ord.ID == "" || ord.ShopID == "" {
		return errors.New("order is missing required fields")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionEnded
	}
	c.ctx = ctx
	c.order = ord
	c.mu.Unlock()

	// One subscription per session; stale health display is a degraded
	// mode, not a failure.
	if err := c.telem.SubscribeHealth(ord.ID, c.onHealth); err != nil {
		slog.Warn("health subscription failed", "order_id", ord.ID, "error", err.Error())
	}

	go c.resolveTarget()
	return nil
}

func (c *Controller) onHealth(label string) {
	c.mu.Lock()
	c.health = label
	c.mu.Unlock()
}

// resolveTarget picks the coordinate for the current phase: the backend's
// coordinate when present, the geocoder when it is the zero sentinel. Route
// recomputation stays suppressed while resolution is in flight.
func (c *Controller) resolveTarget() {
	c.mu.Lock()
	if c.order == nil || c.closed || c.done {
		c.mu.Unlock()
		return
	}
	addr := c.order.TargetAddress()
	stored := addr.Coordinate()
	if !stored.Unresolved() {
		c.target = stored
		c.mu.Unlock()
		c.requestRoute()
		return
	}
	c.resolving = true
	ctx := c.ctx
	c.mu.Unlock()

	coord, ok, err := c.resolv.Resolve(ctx, addr.Street, addr.ZipCode, addr.City)
	if err != nil {
		slog.Warn("destination geocoding failed", "street", addr.Street, "error", err.Error())
	}

	c.mu.Lock()
	c.resolving = false
	if ok {
		c.target = coord
	} else {
		// Fall back to the backend coordinate; if that is the sentinel,
		// routing stays correctly suppressed.
		c.target = stored
	}
	c.mu.Unlock()
	c.requestRoute()
}

// OnPosition feeds one GPS fix through the policy gate. Admitted fixes are
// published best-effort and trigger a route recompute.
func (c *Controller) OnPosition(fix models.GeoCoordinate, at time.Time) {
	c.mu.Lock()
	if c.order == nil || c.closed || c.done {
		c.mu.Unlock()
		return
	}
	ord := c.order
	c.mu.Unlock()

	if !c.policy.Admit(at, fix) {
		return
	}

	c.mu.Lock()
	c.riderPos = fix
	c.mu.Unlock()

	riderID := ord.RiderID
	if riderID == "" {
		riderID = c.riderID
	}
	err := c.telem.PublishPosition(ord.ShopID, ord.ID, telemetry.Position{
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
		RiderID:   riderID,
		Timestamp: at.UnixMilli(),
	})
	if err != nil {
		c.droppedPublishes.Add(1)
		slog.Warn("position publish dropped", "order_id", ord.ID, "error", err.Error())
	} else {
		c.publishes.Add(1)
	}

	c.requestRoute()
}

// requestRoute recomputes the polyline for the latest (position, target)
// pair. Requests are tagged; a completion that no longer matches the latest
// tag is discarded.
func (c *Controller) requestRoute() {
	c.mu.Lock()
	if c.closed || c.done || c.resolving {
		c.mu.Unlock()
		return
	}
	start, end := c.riderPos, c.target
	if start.Unresolved() || end.Unresolved() {
		c.mu.Unlock()
		return
	}
	key := routeKey{start: start, end: end}
	c.routeWant = key
	ctx := c.ctx
	c.mu.Unlock()

	go func() {
		pts, err := c.routes.Route(ctx, start, end)
		if err != nil {
			c.routeErrors.Add(1)
			slog.Warn("route computation failed", "error", err.Error())
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.routeWant != key {
			return
		}
		c.route = pts
	}()
}

// Recalculate is the user-visible "recalculate route" affordance.
func (c *Controller) Recalculate() {
	c.requestRoute()
}

// ConfirmPhase performs the current phase's backend transition. Strictly
// sequential per order: a second call while one is in flight is rejected.
// Local state only changes after the backend confirms; any failure leaves
// the session untouched and retryable.
func (c *Controller) ConfirmPhase(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || c.done {
		c.mu.Unlock()
		return ErrSessionEnded
	}
	if c.order == nil {
		c.mu.Unlock()
		return ErrNoOrder
	}
	if c.confirming {
		c.mu.Unlock()
		return ErrConfirmInFlight
	}
	c.confirming = true
	ord := c.order
	phase := ord.Phase()
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.confirming = false
		c.mu.Unlock()
	}()

	if phase == models.PhasePickup {
		return c.confirmPickup(ctx, ord)
	}
	return c.confirmDropoff(ctx, ord)
}

func (c *Controller) confirmPickup(ctx context.Context, ord *models.Order) error {
	if err := c.backend.UpdateOrderStatus(ctx, ord.ID, models.OrderStatusDelivering); err != nil {
		return errors.Wrap(err, "pickup not confirmed")
	}

	c.mu.Lock()
	if c.closed || c.order == nil {
		// Session went away while the backend call was in flight.
		c.mu.Unlock()
		return ErrSessionEnded
	}
	c.order.OrderStatus = models.OrderStatusDelivering
	c.route = nil
	c.routeWant = routeKey{} // in-flight pickup routes are now stale
	c.mu.Unlock()

	topic := telemetry.PositionTopic(ord.ShopID, ord.ID)
	if c.box == nil {
		slog.Info("no box connected, topic command skipped", "order_id", ord.ID)
	} else if err := c.box.SendTopic(topic); err != nil {
		slog.Warn("box topic command failed", "order_id", ord.ID, "error", err.Error())
	}

	go c.resolveTarget()
	return nil
}

func (c *Controller) confirmDropoff(ctx context.Context, ord *models.Order) error {
	if err := c.backend.UpdateOrderStatus(ctx, ord.ID, models.OrderStatusDelivered); err != nil {
		return errors.Wrap(err, "delivery not confirmed")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionEnded
	}
	c.mu.Unlock()

	if c.box == nil {
		slog.Info("no box connected, completion record skipped", "order_id", ord.ID)
	} else if err := c.box.SendOrderCompleted(ord.ID, ord.TotalPrice, ord.ClientID); err != nil {
		slog.Warn("box completion record failed", "order_id", ord.ID, "error", err.Error())
	}

	c.mu.Lock()
	c.done = true
	c.order = nil
	c.route = nil
	c.routeWant = routeKey{}
	c.mu.Unlock()
	c.telem.Unsubscribe()

	slog.Info("delivery completed", "order_id", ord.ID)
	return nil
}

// Close releases the session's scoped resources on every exit path: the
// telemetry subscription is dropped and further fixes are ignored.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.order = nil
	c.route = nil
	c.mu.Unlock()
	c.telem.Unsubscribe()
}

type Snapshot struct {
	OrderID   string                 `json:"orderId,omitempty"`
	ShopID    string                 `json:"shopId,omitempty"`
	Status    string                 `json:"status,omitempty"`
	Phase     models.DeliveryPhase   `json:"phase,omitempty"`
	RiderPos  models.GeoCoordinate   `json:"riderPosition"`
	Target    models.GeoCoordinate   `json:"target"`
	Resolving bool                   `json:"resolving"`
	Route     []models.GeoCoordinate `json:"route,omitempty"`
	Health    string                 `json:"health"`
	Done      bool                   `json:"done"`

	Publishes        int64 `json:"publishes"`
	DroppedPublishes int64 `json:"droppedPublishes"`
	RouteErrors      int64 `json:"routeErrors"`
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		RiderPos:  c.riderPos,
		Target:    c.target,
		Resolving: c.resolving,
		Route:     c.route,
		Health:    c.health,
		Done:      c.done,

		Publishes:        c.publishes.Load(),
		DroppedPublishes: c.droppedPublishes.Load(),
		RouteErrors:      c.routeErrors.Load(),
	}
	if c.order != nil {
		s.OrderID = c.order.ID
		s.ShopID = c.order.ShopID
		s.Status = c.order.OrderStatus
		s.Phase = c.order.Phase()
	}
	return s
}
