package session

import (
	"math"
	"sync"
	"time"

	"github.com/FastGo/RiderBox/internal/models"
)

// PositionPolicy gates the GPS feed: a fix is admitted only when at least
// MinInterval passed since the last admitted fix and the rider moved at
// least MinDisplacement meters. A zero displacement admits any movement.
type PositionPolicyConfig struct {
	MinInterval     time.Duration // default: 5s
	MinDisplacement float64       // meters, default: 0
}

type PositionPolicy struct {
	cfg PositionPolicyConfig

	mu      sync.Mutex
	hasLast bool
	lastAt  time.Time
	last    models.GeoCoordinate
}

func NewPositionPolicy(cfg PositionPolicyConfig) *PositionPolicy {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 5 * time.Second
	}
	if cfg.MinDisplacement < 0 {
		cfg.MinDisplacement = 0
	}
	return &PositionPolicy{cfg: cfg}
}

// Admit reports whether the fix passes the policy and, if so, records it as
// the new reference point.
func (p *PositionPolicy) Admit(now time.Time, c models.GeoCoordinate) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.hasLast {
		if now.Sub(p.lastAt) < p.cfg.MinInterval {
			return false
		}
		if p.cfg.MinDisplacement > 0 && haversineMeters(p.last, c) < p.cfg.MinDisplacement {
			return false
		}
	}

	p.hasLast = true
	p.lastAt = now
	p.last = c
	return true
}

const earthRadiusMeters = 6371000.0

func haversineMeters(a, b models.GeoCoordinate) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
