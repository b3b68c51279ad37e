package routing

import (
	"context"

	"github.com/FastGo/RiderBox/internal/models"
)

// Provider computes a driving polyline between two coordinates. An empty
// polyline means "no route available" and is never an error to the caller's
// state machine; err exists only so failures can be logged.
type Provider interface {
	Route(ctx context.Context, start, end models.GeoCoordinate) ([]models.GeoCoordinate, error)
}
