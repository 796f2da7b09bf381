package nearby

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/superjustkidding/fango/internal/apperr"
	"github.com/superjustkidding/fango/internal/models"
	"github.com/superjustkidding/fango/internal/storage"
)

// Restaurant at the center of Shanghai test fixtures.
const (
	centerLat = 31.23
	centerLon = 121.47
)

func seedRider(t *testing.T, mem *storage.MemoryStore, id string, lat, lon float64, online, available bool, radius float64, age time.Duration) {
	t.Helper()
	mem.PutRider(models.Rider{ID: id, Name: id, IsOnline: online, IsAvailable: available, DeliveryRadiusM: radius})
	if err := mem.AppendLocation(context.Background(), models.RiderLocation{
		ID: id + "-loc", RiderID: id, Latitude: lat, Longitude: lon,
		RecordedAt: time.Now().UTC().Add(-age),
	}); err != nil {
		t.Fatalf("seed location: %v", err)
	}
}

func TestFindFiltersAndSorts(t *testing.T) {
	mem := storage.NewMemoryStore()
	// ~1.4 km away, eligible.
	seedRider(t, mem, "near", 31.24, 121.48, true, true, 0, time.Minute)
	// ~3 km away, eligible, farther.
	seedRider(t, mem, "far", 31.25, 121.49, true, true, 0, time.Minute)
	// In range but offline.
	seedRider(t, mem, "offline", 31.24, 121.47, false, true, 0, time.Minute)
	// In range but not available.
	seedRider(t, mem, "busy", 31.24, 121.47, true, false, 0, time.Minute)
	// In range but own delivery radius too small.
	seedRider(t, mem, "short-range", 31.24, 121.48, true, true, 500, time.Minute)
	// Eligible rider with a stale position.
	seedRider(t, mem, "stale", 31.24, 121.47, true, true, 0, time.Hour)
	// Way outside the search radius.
	seedRider(t, mem, "remote", 32.50, 122.50, true, true, 0, time.Minute)
	// Online but never reported a position.
	mem.PutRider(models.Rider{ID: "silent", IsOnline: true, IsAvailable: true})

	f := &Finder{Directory: mem, Locations: latestAdapter{mem}, Freshness: 5 * time.Minute}
	got, err := f.Find(context.Background(), centerLat, centerLon, 5000, 10)
	if err != nil {
		t.Fatalf("find: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d: %+v", len(got), got)
	}
	if got[0].RiderID != "near" || got[1].RiderID != "far" {
		t.Fatalf("wrong order: %+v", got)
	}
	if got[0].DistanceM >= got[1].DistanceM {
		t.Fatalf("not sorted by distance: %+v", got)
	}
}

func TestFindTruncatesToLimit(t *testing.T) {
	mem := storage.NewMemoryStore()
	seedRider(t, mem, "a", 31.231, 121.471, true, true, 0, time.Minute)
	seedRider(t, mem, "b", 31.232, 121.472, true, true, 0, time.Minute)
	seedRider(t, mem, "c", 31.233, 121.473, true, true, 0, time.Minute)

	f := &Finder{Directory: mem, Locations: latestAdapter{mem}}
	got, err := f.Find(context.Background(), centerLat, centerLon, 5000, 2)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
}

func TestFindEmptyIsNotAnError(t *testing.T) {
	mem := storage.NewMemoryStore()
	f := &Finder{Directory: mem, Locations: latestAdapter{mem}}
	got, err := f.Find(context.Background(), centerLat, centerLon, 5000, 5)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no candidates, got %d", len(got))
	}
}

func TestFindValidatesInput(t *testing.T) {
	mem := storage.NewMemoryStore()
	f := &Finder{Directory: mem, Locations: latestAdapter{mem}}
	if _, err := f.Find(context.Background(), 91, 0, 5000, 5); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := f.Find(context.Background(), 0, 0, -1, 5); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for radius, got %v", err)
	}
}

// latestAdapter reads latest positions straight from the durable log, which
// is what the finder sees when the cache is cold.
type latestAdapter struct{ log storage.LocationLog }

func (a latestAdapter) Latest(ctx context.Context, riderID string) (models.RiderLocation, error) {
	return a.log.LatestLocation(ctx, riderID)
}
