package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/superjustkidding/fango/internal/apperr"
	"github.com/superjustkidding/fango/internal/models"
)

// MemoryStore keeps everything in process memory. It backs local runs and
// tests and mirrors the Postgres store's semantics, including the
// single-active-assignment invariant.
type MemoryStore struct {
	mu          sync.RWMutex
	locations   map[string][]models.RiderLocation // rider id -> append order
	orders      map[string]*models.Order
	history     map[string][]models.OrderStatusHistory
	assignments map[string]*models.RiderAssignment
	riders      map[string]models.Rider
	restaurants map[string]models.Coord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locations:   make(map[string][]models.RiderLocation),
		orders:      make(map[string]*models.Order),
		history:     make(map[string][]models.OrderStatusHistory),
		assignments: make(map[string]*models.RiderAssignment),
		riders:      make(map[string]models.Rider),
		restaurants: make(map[string]models.Coord),
	}
}

func (m *MemoryStore) AppendLocation(ctx context.Context, loc models.RiderLocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[loc.RiderID] = append(m.locations[loc.RiderID], loc)
	return nil
}

func (m *MemoryStore) LatestLocation(ctx context.Context, riderID string) (models.RiderLocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.locations[riderID]
	if len(recs) == 0 {
		return models.RiderLocation{}, fmt.Errorf("no location for rider %s: %w", riderID, apperr.ErrNotFound)
	}
	best := recs[0]
	for _, r := range recs[1:] {
		if r.RecordedAt.After(best.RecordedAt) {
			best = r
		}
	}
	return best, nil
}

func (m *MemoryStore) LocationHistory(ctx context.Context, riderID string, limit int, since, until *time.Time) ([]models.RiderLocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.RiderLocation, 0, limit)
	for _, r := range m.locations[riderID] {
		if since != nil && r.RecordedAt.Before(*since) {
			continue
		}
		if until != nil && r.RecordedAt.After(*until) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.After(out[j].RecordedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) GetOrder(ctx context.Context, id string) (models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return models.Order{}, fmt.Errorf("order %s: %w", id, apperr.ErrNotFound)
	}
	return *o, nil
}

func (m *MemoryStore) CommitTransition(ctx context.Context, orderID, status string, riderID *string, hist models.OrderStatusHistory) (models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return models.Order{}, fmt.Errorf("order %s: %w", orderID, apperr.ErrNotFound)
	}
	o.Status = status
	if riderID != nil {
		o.RiderID = riderID
	}
	o.UpdatedAt = time.Now().UTC()
	m.history[orderID] = append(m.history[orderID], hist)
	return *o, nil
}

func (m *MemoryStore) CreateAssignment(ctx context.Context, a models.RiderAssignment) (models.RiderAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.assignments {
		if existing.OrderID == a.OrderID && models.ActiveAssignment(existing.Status) {
			return models.RiderAssignment{}, fmt.Errorf(
				"order %s already has active assignment %s: %w",
				a.OrderID, existing.ID, apperr.ErrConflict)
		}
	}
	cp := a
	m.assignments[a.ID] = &cp
	return a, nil
}

func (m *MemoryStore) GetAssignment(ctx context.Context, id string) (models.RiderAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assignments[id]
	if !ok {
		return models.RiderAssignment{}, fmt.Errorf("assignment %s: %w", id, apperr.ErrNotFound)
	}
	return *a, nil
}

func (m *MemoryStore) TransitionAssignment(ctx context.Context, id, from, to string, respondedAt *time.Time) (models.RiderAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return models.RiderAssignment{}, fmt.Errorf("assignment %s: %w", id, apperr.ErrNotFound)
	}
	if a.Status != from {
		return models.RiderAssignment{}, fmt.Errorf(
			"assignment %s is %s, expected %s: %w", id, a.Status, from, apperr.ErrConflict)
	}
	a.Status = to
	if respondedAt != nil {
		a.RespondedAt = respondedAt
	}
	return *a, nil
}

func (m *MemoryStore) ActiveLoad(ctx context.Context, riderID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, a := range m.assignments {
		if a.RiderID != riderID || a.Status != models.AssignmentAccepted {
			continue
		}
		o, ok := m.orders[a.OrderID]
		if !ok {
			continue
		}
		for _, s := range models.InFlightOrderStatuses {
			if o.Status == s {
				count++
				break
			}
		}
	}
	return count, nil
}

func (m *MemoryStore) GetRider(ctx context.Context, id string) (models.Rider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.riders[id]
	if !ok {
		return models.Rider{}, fmt.Errorf("rider %s: %w", id, apperr.ErrNotFound)
	}
	return r, nil
}

func (m *MemoryStore) OnlineAvailableRiders(ctx context.Context) ([]models.Rider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Rider, 0, len(m.riders))
	for _, r := range m.riders {
		if r.IsOnline && r.IsAvailable {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) RestaurantLocation(ctx context.Context, restaurantID string) (models.Coord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.restaurants[restaurantID]
	if !ok {
		return models.Coord{}, fmt.Errorf("restaurant %s: %w", restaurantID, apperr.ErrNotFound)
	}
	return c, nil
}

// Seed helpers used by local wiring and tests.

func (m *MemoryStore) PutOrder(o models.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := o
	m.orders[o.ID] = &cp
}

func (m *MemoryStore) PutRider(r models.Rider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.riders[r.ID] = r
}

func (m *MemoryStore) PutRestaurant(id string, loc models.Coord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restaurants[id] = loc
}

func (m *MemoryStore) OrderHistory(orderID string) []models.OrderStatusHistory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.OrderStatusHistory(nil), m.history[orderID]...)
}
