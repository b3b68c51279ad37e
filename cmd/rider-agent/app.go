package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/FastGo/RiderBox/internal/models"
	"github.com/FastGo/RiderBox/internal/peripheral"
	"github.com/FastGo/RiderBox/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

type sessionController interface {
	Start(ctx context.Context, supplied *models.Order) error
	OnPosition(fix models.GeoCoordinate, at time.Time)
	ConfirmPhase(ctx context.Context) error
	Recalculate()
	Snapshot() session.Snapshot
}

type riderBackend interface {
	AcceptOrder(ctx context.Context, orderID string) error
	OrdersByPosition(ctx context.Context, lat, lon float64) ([]models.Order, error)
}

type boxStatus interface {
	State() peripheral.State
}

type riderAgentOpts struct {
	httpAddr string
	onListen func(httpAddr string)
}

// runRiderAgent drives the local operational HTTP surface. This is where
// the out-of-scope mobile UI plugs in: GPS fixes come in over POST
// /position, the confirm button is POST /confirm.
func runRiderAgent(ctx context.Context, opts riderAgentOpts, ctrl sessionController, be riderBackend, box boxStatus) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8090"
	}

	// Session recovery: a pre-existing active order resumes immediately.
	if err := ctrl.Start(ctx, nil); err != nil {
		if errors.Is(err, session.ErrNoOrder) {
			slog.Info("no active order, waiting for accept")
		} else {
			slog.Warn("session recovery failed", "error", err.Error())
		}
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := newRouter(ctx, ctrl, be, box)

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	slog.Info("rider agent listening", "addr", lis.Addr().String())
	err = srv.Serve(lis)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func newRouter(appCtx context.Context, ctrl sessionController, be riderBackend, box boxStatus) chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		out := map[string]any{"session": ctrl.Snapshot()}
		if box != nil {
			out["box"] = box.State().String()
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	r.Post("/position", func(w http.ResponseWriter, req *http.Request) {
		var fix models.GeoCoordinate
		if err := json.NewDecoder(req.Body).Decode(&fix); err != nil {
			writeError(w, http.StatusBadRequest, "invalid position payload")
			return
		}
		ctrl.OnPosition(fix, time.Now())
		writeJSON(w, map[string]bool{"accepted": true})
	})

	r.Post("/accept", func(w http.ResponseWriter, req *http.Request) {
		var in struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(req.Body).Decode(&in); err != nil || in.ID == "" {
			writeError(w, http.StatusBadRequest, "order id is required")
			return
		}
		if err := be.AcceptOrder(req.Context(), in.ID); err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		// The session outlives this request: start against the app
		// context and let reconciliation fetch the accepted order.
		if err := ctrl.Start(appCtx, nil); err != nil {
			if errors.Is(err, session.ErrSessionActive) {
				writeError(w, http.StatusConflict, err.Error())
				return
			}
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, map[string]bool{"started": true})
	})

	r.Post("/confirm", func(w http.ResponseWriter, req *http.Request) {
		err := ctrl.ConfirmPhase(req.Context())
		switch {
		case err == nil:
			writeJSON(w, map[string]bool{"confirmed": true})
		case errors.Is(err, session.ErrConfirmInFlight),
			errors.Is(err, session.ErrSessionEnded),
			errors.Is(err, session.ErrNoOrder):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusBadGateway, err.Error())
		}
	})

	r.Post("/recalculate", func(w http.ResponseWriter, _ *http.Request) {
		ctrl.Recalculate()
		writeJSON(w, map[string]bool{"triggered": true})
	})

	r.Get("/orders", func(w http.ResponseWriter, req *http.Request) {
		lat, err1 := strconv.ParseFloat(req.URL.Query().Get("lat"), 64)
		lon, err2 := strconv.ParseFloat(req.URL.Query().Get("lon"), 64)
		if err1 != nil || err2 != nil {
			writeError(w, http.StatusBadRequest, "lat and lon are required")
			return
		}
		orders, err := be.OrdersByPosition(req.Context(), lat, lon)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, map[string]any{"orders": orders})
	})

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
