// Package nearby answers "which eligible riders are within range of this
// point". It is read-only; selection policy lives in the scorer and engine.
package nearby

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/superjustkidding/fango/internal/apperr"
	"github.com/superjustkidding/fango/internal/geo"
	"github.com/superjustkidding/fango/internal/models"
	"github.com/superjustkidding/fango/internal/storage"
)

const DefaultLimit = 5

// LatestSource yields a rider's most recent known position.
type LatestSource interface {
	Latest(ctx context.Context, riderID string) (models.RiderLocation, error)
}

type Finder struct {
	Directory storage.RiderDirectory
	Locations LatestSource
	// Freshness drops riders whose last position is older than this. Zero
	// disables the filter.
	Freshness time.Duration
}

// Find returns online, available riders within radiusM of the point, closest
// first, truncated to limit. Riders whose own delivery radius is smaller
// than their distance are excluded. An empty result is not an error.
func (f *Finder) Find(ctx context.Context, lat, lon, radiusM float64, limit int) ([]models.Candidate, error) {
	if err := geo.ValidateCoordinate(lat, lon); err != nil {
		return nil, err
	}
	if radiusM <= 0 {
		return nil, fmt.Errorf("radius must be positive: %w", apperr.ErrValidation)
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	riders, err := f.Directory.OnlineAvailableRiders(ctx)
	if err != nil {
		return nil, err
	}

	// Cheap rectangular pre-filter before the exact Haversine pass.
	box := geo.BoxAround(lat, lon, radiusM)
	now := time.Now().UTC()

	candidates := make([]models.Candidate, 0, len(riders))
	for _, rider := range riders {
		loc, err := f.Locations.Latest(ctx, rider.ID)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if f.Freshness > 0 && now.Sub(loc.RecordedAt) > f.Freshness {
			continue
		}
		if !box.Contains(loc.Latitude, loc.Longitude) {
			continue
		}
		d := geo.Haversine(lat, lon, loc.Latitude, loc.Longitude)
		if d > radiusM {
			continue
		}
		if rider.DeliveryRadiusM > 0 && d > rider.DeliveryRadiusM {
			continue
		}
		candidates = append(candidates, models.Candidate{
			RiderID:   rider.ID,
			DistanceM: d,
			Location:  models.Coord{Lat: loc.Latitude, Lon: loc.Longitude},
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].DistanceM != candidates[j].DistanceM {
			return candidates[i].DistanceM < candidates[j].DistanceM
		}
		return candidates[i].RiderID < candidates[j].RiderID
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}
