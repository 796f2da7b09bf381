// Package location ingests rider GPS updates. Every record goes to the
// durable log, the bounded cache and the real-time topics in that order; the
// durable log is the source of truth.
package location

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/superjustkidding/fango/internal/apperr"
	"github.com/superjustkidding/fango/internal/geo"
	"github.com/superjustkidding/fango/internal/models"
	"github.com/superjustkidding/fango/internal/notify"
	"github.com/superjustkidding/fango/internal/observability"
	"github.com/superjustkidding/fango/internal/storage"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

type Store struct {
	cache    Cache
	log      storage.LocationLog
	notifier notify.Publisher
	logger   *slog.Logger
}

func NewStore(cache Cache, log storage.LocationLog, notifier notify.Publisher, logger *slog.Logger) *Store {
	if notifier == nil {
		notifier = notify.NopPublisher{}
	}
	return &Store{cache: cache, log: log, notifier: notifier, logger: logger}
}

// Record validates and appends one GPS sample. The cache write is
// best-effort: a cache failure degrades reads to the durable log but never
// loses the record.
func (s *Store) Record(ctx context.Context, loc models.RiderLocation) (models.RiderLocation, error) {
	if loc.RiderID == "" {
		return models.RiderLocation{}, fmt.Errorf("rider_id required: %w", apperr.ErrValidation)
	}
	if err := geo.ValidateCoordinate(loc.Latitude, loc.Longitude); err != nil {
		return models.RiderLocation{}, err
	}
	if loc.ID == "" {
		loc.ID = uuid.NewString()
	}
	if loc.RecordedAt.IsZero() {
		loc.RecordedAt = time.Now().UTC()
	}

	if err := s.log.AppendLocation(ctx, loc); err != nil {
		return models.RiderLocation{}, fmt.Errorf("append location: %w", err)
	}
	if err := s.cache.Push(ctx, loc); err != nil {
		s.logger.Warn("location cache push failed", "rider_id", loc.RiderID, "error", err)
	}

	payload := notify.Envelope(notify.EventLocationUpdate, map[string]any{
		"rider_id":  loc.RiderID,
		"latitude":  loc.Latitude,
		"longitude": loc.Longitude,
		"speed":     loc.SpeedMps,
		"accuracy":  loc.AccuracyM,
	})
	s.notifier.Publish(notify.RiderTopic(loc.RiderID), payload)
	s.notifier.Publish(notify.BroadcastTopic, payload)

	observability.LocationsRecorded.Inc()
	return loc, nil
}

// Latest serves from the cache and falls back to the durable log on a miss,
// so a freshly restarted cache still answers.
func (s *Store) Latest(ctx context.Context, riderID string) (models.RiderLocation, error) {
	loc, ok, err := s.cache.Latest(ctx, riderID)
	if err != nil {
		s.logger.Warn("location cache read failed", "rider_id", riderID, "error", err)
	}
	if ok {
		return loc, nil
	}
	return s.log.LatestLocation(ctx, riderID)
}

// Recent serves the cached window, newest first, without touching the
// durable log. An empty or failing cache falls back to the log so a cold
// start still answers; the result is capped at the cache window either way.
func (s *Store) Recent(ctx context.Context, riderID string, limit int) ([]models.RiderLocation, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	locs, err := s.cache.Recent(ctx, riderID, limit)
	if err != nil {
		s.logger.Warn("location cache range failed", "rider_id", riderID, "error", err)
	}
	if len(locs) > 0 {
		return locs, nil
	}
	return s.log.LocationHistory(ctx, riderID, limit, nil, nil)
}

// History reads the durable log, newest first. Limit defaults to 50 and is
// capped at 500.
func (s *Store) History(ctx context.Context, riderID string, limit int, since, until *time.Time) ([]models.RiderLocation, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if since != nil && until != nil && since.After(*until) {
		return nil, fmt.Errorf("since is after until: %w", apperr.ErrValidation)
	}
	return s.log.LocationHistory(ctx, riderID, limit, since, until)
}
