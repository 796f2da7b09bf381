// Package storage defines the durable persistence operations behind the
// matching engine. The durable store is the source of truth; caches are a
// performance layer that can always be rebuilt from it.
package storage

import (
	"context"
	"time"

	"github.com/superjustkidding/fango/internal/models"
)

// LocationLog is the append-only durable log of rider GPS samples.
type LocationLog interface {
	AppendLocation(ctx context.Context, loc models.RiderLocation) error
	// LatestLocation returns the most recent sample for a rider or
	// apperr.ErrNotFound.
	LatestLocation(ctx context.Context, riderID string) (models.RiderLocation, error)
	// LocationHistory returns samples newest first, bounded by limit and the
	// optional since/until window.
	LocationHistory(ctx context.Context, riderID string, limit int, since, until *time.Time) ([]models.RiderLocation, error)
}

// OrderStore exposes the slice of the order table the engine touches.
type OrderStore interface {
	GetOrder(ctx context.Context, id string) (models.Order, error)
	// CommitTransition updates the order status (and rider when non-nil) and
	// appends the history row in the same unit of work.
	CommitTransition(ctx context.Context, orderID, status string, riderID *string, hist models.OrderStatusHistory) (models.Order, error)
}

// AssignmentStore persists rider assignments and enforces the engine's core
// invariant: at most one pending or accepted assignment per order.
type AssignmentStore interface {
	// CreateAssignment inserts a pending assignment, failing with
	// apperr.ErrConflict when the order already has a non-terminal one.
	CreateAssignment(ctx context.Context, a models.RiderAssignment) (models.RiderAssignment, error)
	GetAssignment(ctx context.Context, id string) (models.RiderAssignment, error)
	// TransitionAssignment moves an assignment from one exact status to
	// another, failing with apperr.ErrConflict when the current status does
	// not match from.
	TransitionAssignment(ctx context.Context, id, from, to string, respondedAt *time.Time) (models.RiderAssignment, error)
	// ActiveLoad counts a rider's accepted assignments whose order is
	// preparing, ready or delivering.
	ActiveLoad(ctx context.Context, riderID string) (int, error)
}

// RiderDirectory is the rider collaborator consumed by the engine.
type RiderDirectory interface {
	GetRider(ctx context.Context, id string) (models.Rider, error)
	OnlineAvailableRiders(ctx context.Context) ([]models.Rider, error)
}

// RestaurantLocator resolves a restaurant's pickup coordinates.
type RestaurantLocator interface {
	RestaurantLocation(ctx context.Context, restaurantID string) (models.Coord, error)
}
