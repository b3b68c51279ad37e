package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FastGo/RiderBox/config"
	"github.com/FastGo/RiderBox/internal/backend"
	"github.com/FastGo/RiderBox/internal/cache/rediscache"
	"github.com/FastGo/RiderBox/internal/geocode"
	"github.com/FastGo/RiderBox/internal/geocode/nominatim"
	"github.com/FastGo/RiderBox/internal/peripheral"
	"github.com/FastGo/RiderBox/internal/peripheral/bluez"
	"github.com/FastGo/RiderBox/internal/routing/osrm"
	"github.com/FastGo/RiderBox/internal/session"
	"github.com/FastGo/RiderBox/internal/telemetry"
	"github.com/google/uuid"
)

type riderAgentApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   riderAgentOpts
	ctrl   *session.Controller
	be     *backend.Client
	telem  *telemetry.Channel
	link   *peripheral.Link
}

func mustBootstrapRiderAgent() *riderAgentApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config, %v", err))
	}

	if cfg.Backend.BaseURL == "" {
		panic("backend.base_url is required")
	}

	httpAddr := cfg.Rider.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8090"
	}
	riderID := cfg.Rider.RiderID
	if riderID == "" {
		riderID = "rider-" + uuid.NewString()[:8]
	}

	brokerURL := cfg.Telemetry.BrokerURL
	if brokerURL == "" {
		brokerURL = "ws://localhost:9001"
	}
	osrmURL := cfg.Routing.OSRMBaseURL
	if osrmURL == "" {
		osrmURL = "https://router.project-osrm.org"
	}
	nominatimURL := cfg.Geocode.NominatimBaseURL
	if nominatimURL == "" {
		nominatimURL = "https://nominatim.openstreetmap.org"
	}
	userAgent := cfg.Geocode.UserAgent
	if userAgent == "" {
		userAgent = "RiderBox/1.0"
	}
	geocodeTTL := time.Duration(cfg.Geocode.CacheTTLSeconds) * time.Second
	if geocodeTTL <= 0 {
		geocodeTTL = 24 * time.Hour
	}

	be := backend.New(cfg.Backend.BaseURL, cfg.Backend.Token)

	var resolv geocode.Resolver = nominatim.New(nominatimURL, userAgent, cfg.Geocode.Country)
	if cfg.Redis.Host != "" {
		redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
		resolv = geocode.NewCached(resolv, rediscache.New(redisAddr), geocodeTTL)
	}

	routes := osrm.New(osrmURL)

	telem := mustDialTelemetryWithRetry(brokerURL, telemetry.Options{
		Keepalive: time.Duration(cfg.Telemetry.KeepaliveSeconds) * time.Second,
		Reconnect: time.Duration(cfg.Telemetry.ReconnectSeconds) * time.Second,
	}, 60*time.Second)

	ctrl := session.New(be, resolv, routes, telem).
		WithRiderID(riderID).
		WithPolicy(session.NewPositionPolicy(session.PositionPolicyConfig{
			MinInterval:     time.Duration(cfg.Rider.PositionMinIntervalSeconds) * time.Second,
			MinDisplacement: float64(cfg.Rider.PositionMinDisplacementMeters),
		}))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	var link *peripheral.Link
	if cfg.Peripheral.Enabled {
		scanTimeout := time.Duration(cfg.Peripheral.ScanTimeoutSeconds) * time.Second
		if scanTimeout <= 0 {
			scanTimeout = 10 * time.Second
		}
		link = bootstrapBoxLink(ctx, riderID, scanTimeout)
		if link != nil {
			ctrl.WithBox(link)
		}
	}

	return &riderAgentApp{
		ctx:    ctx,
		cancel: cancel,
		opts:   riderAgentOpts{httpAddr: httpAddr},
		ctrl:   ctrl,
		be:     be,
		telem:  telem,
		link:   link,
	}
}

func mustDialTelemetryWithRetry(brokerURL string, o telemetry.Options, wait time.Duration) *telemetry.Channel {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		ch, err := telemetry.Dial(brokerURL, o)
		if err == nil {
			return ch
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("telemetry broker is not ready after %s: %v", wait, lastErr))
}

// bootstrapBoxLink brings the box link up best-effort: scan for the first
// advertising box within the timeout, connect and handshake. The agent runs
// without a box when none is found; box commands are advisory anyway.
func bootstrapBoxLink(ctx context.Context, riderID string, scanTimeout time.Duration) *peripheral.Link {
	t, err := bluez.New()
	if err != nil {
		slog.Warn("bluetooth unavailable, running without box", "error", err.Error())
		return nil
	}
	link := peripheral.NewLink(t)

	scanCtx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	found, errc := link.Scan(scanCtx)
	select {
	case d, ok := <-found:
		if !ok {
			slog.Warn("no box found, running without box")
			return link
		}
		if _, err := link.Connect(ctx, d.ID, riderID); err != nil {
			slog.Warn("box connect failed, running without box", "device_id", d.ID, "error", err.Error())
		}
	case err := <-errc:
		if err != nil {
			slog.Warn("box scan failed, running without box", "error", err.Error())
		}
	case <-scanCtx.Done():
		link.StopScan()
		slog.Warn("no box found within scan timeout, running without box")
	}
	return link
}

func (a *riderAgentApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.link != nil {
		a.link.Disconnect()
	}
	if a.telem != nil {
		a.telem.Close()
	}
	if a.ctrl != nil {
		a.ctrl.Close()
	}
}

func (a *riderAgentApp) Run() error {
	var box boxStatus
	if a.link != nil {
		box = a.link
	}
	return runRiderAgent(a.ctx, a.opts, a.ctrl, a.be, box)
}
