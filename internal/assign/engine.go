// Package assign orchestrates rider-order matching: it is the only writer of
// rider assignments and the only component that performs compensating logic.
// The core guarantee is that an order never holds more than one pending or
// accepted assignment, enforced by the per-order lock here plus the
// check-and-write in the assignment store.
package assign

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/superjustkidding/fango/internal/apperr"
	"github.com/superjustkidding/fango/internal/models"
	"github.com/superjustkidding/fango/internal/nearby"
	"github.com/superjustkidding/fango/internal/notify"
	"github.com/superjustkidding/fango/internal/observability"
	"github.com/superjustkidding/fango/internal/orderflow"
	"github.com/superjustkidding/fango/internal/score"
	"github.com/superjustkidding/fango/internal/storage"
)

const DefaultSearchRadiusM = 5000

// Authorizer is the delegated permission check. The engine only surfaces the
// denial; policy lives with the auth collaborator.
type Authorizer interface {
	CanAssign(actor models.Actor, order models.Order) bool
}

// RoleAuthorizer is the default policy: admins and the system may assign any
// order, a restaurant only its own.
type RoleAuthorizer struct{}

func (RoleAuthorizer) CanAssign(actor models.Actor, order models.Order) bool {
	switch actor.Type {
	case models.ActorAdmin, models.ActorSystem:
		return true
	case models.ActorRestaurant:
		return actor.ID == order.RestaurantID
	default:
		return false
	}
}

type Params struct {
	Orders      storage.OrderStore
	Assignments storage.AssignmentStore
	Riders      storage.RiderDirectory
	Restaurants storage.RestaurantLocator
	Finder      *nearby.Finder
	Scorer      *score.Scorer
	Flow        *orderflow.Machine
	Notifier    notify.Publisher
	Auth        Authorizer
	Logger      *slog.Logger

	SearchRadiusM  float64
	CandidateLimit int
}

type Engine struct {
	p     Params
	locks *keyedMutex
}

func NewEngine(p Params) *Engine {
	if p.Auth == nil {
		p.Auth = RoleAuthorizer{}
	}
	if p.Notifier == nil {
		p.Notifier = notify.NopPublisher{}
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.SearchRadiusM <= 0 {
		p.SearchRadiusM = DefaultSearchRadiusM
	}
	if p.CandidateLimit <= 0 {
		p.CandidateLimit = nearby.DefaultLimit
	}
	return &Engine{p: p, locks: newKeyedMutex()}
}

// AssignManual creates a pending assignment for a chosen rider.
func (e *Engine) AssignManual(ctx context.Context, orderID, riderID string, actor models.Actor) (models.RiderAssignment, error) {
	unlock := e.locks.lock(orderID)
	defer unlock()
	a, err := e.assignLocked(ctx, orderID, riderID, actor, "")
	if err == nil {
		observability.AssignmentsTotal.WithLabelValues("manual").Inc()
	}
	return a, err
}

// AssignAuto finds, scores and assigns the best nearby rider. It fails with
// a not-found error when nobody qualifies; widening the radius and retrying
// is the caller's policy, not the engine's.
func (e *Engine) AssignAuto(ctx context.Context, orderID string) (models.RiderAssignment, error) {
	timer := prometheus.NewTimer(observability.MatchLatency)
	defer timer.ObserveDuration()

	unlock := e.locks.lock(orderID)
	defer unlock()

	order, err := e.p.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return models.RiderAssignment{}, err
	}
	pickup, err := e.p.Restaurants.RestaurantLocation(ctx, order.RestaurantID)
	if err != nil {
		return models.RiderAssignment{}, err
	}

	cands, err := e.p.Finder.Find(ctx, pickup.Lat, pickup.Lon, e.p.SearchRadiusM, e.p.CandidateLimit)
	if err != nil {
		return models.RiderAssignment{}, err
	}
	if len(cands) == 0 {
		return models.RiderAssignment{}, fmt.Errorf(
			"no eligible rider within %.0fm of order %s: %w",
			e.p.SearchRadiusM, orderID, apperr.ErrNotFound)
	}

	ranked, err := e.p.Scorer.Rank(ctx, cands)
	if err != nil {
		return models.RiderAssignment{}, err
	}
	best := ranked[0]

	note := fmt.Sprintf("rider %s auto assigned (distance: %.2fm, load: %d)",
		best.RiderID, best.DistanceM, best.ActiveLoad)
	a, err := e.assignLocked(ctx, orderID, best.RiderID, models.SystemActor, note)
	if err != nil {
		return models.RiderAssignment{}, err
	}
	observability.AssignmentsTotal.WithLabelValues("auto").Inc()
	e.p.Logger.Info("auto assignment",
		"order_id", orderID, "rider_id", best.RiderID,
		"distance_m", best.DistanceM, "load", best.ActiveLoad, "score", best.Score)
	return a, nil
}

// assignLocked runs the shared assignment path. Callers hold the order lock.
func (e *Engine) assignLocked(ctx context.Context, orderID, riderID string, actor models.Actor, note string) (models.RiderAssignment, error) {
	order, err := e.p.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return models.RiderAssignment{}, err
	}
	if !e.p.Auth.CanAssign(actor, order) {
		return models.RiderAssignment{}, fmt.Errorf(
			"%s %s may not assign order %s: %w", actor.Type, actor.ID, orderID, apperr.ErrForbidden)
	}
	if order.Status != models.OrderReady {
		return models.RiderAssignment{}, fmt.Errorf(
			"order %s is %s, not assignable: %w", orderID, order.Status, apperr.ErrConflict)
	}

	rider, err := e.p.Riders.GetRider(ctx, riderID)
	if err != nil {
		return models.RiderAssignment{}, err
	}
	if !rider.IsOnline || !rider.IsAvailable {
		return models.RiderAssignment{}, fmt.Errorf(
			"rider %s is not available: %w", riderID, apperr.ErrNotFound)
	}

	a := models.RiderAssignment{
		ID:         uuid.NewString(),
		OrderID:    orderID,
		RiderID:    riderID,
		Status:     models.AssignmentPending,
		AssignedAt: time.Now().UTC(),
	}
	a, err = e.p.Assignments.CreateAssignment(ctx, a)
	if err != nil {
		observability.AssignmentConflicts.Inc()
		return models.RiderAssignment{}, err
	}

	if note == "" {
		note = fmt.Sprintf("rider %s assigned", rider.Name)
	}
	if _, err := e.p.Flow.Transition(ctx, orderflow.TransitionRequest{
		OrderID: orderID,
		Target:  models.OrderReady,
		Actor:   actor,
		Note:    note,
		RiderID: &riderID,
	}); err != nil {
		// Compensate: release the slot so the order stays assignable.
		now := time.Now().UTC()
		if _, cerr := e.p.Assignments.TransitionAssignment(ctx, a.ID, models.AssignmentPending, models.AssignmentCanceled, &now); cerr != nil {
			e.p.Logger.Error("assignment compensation failed", "assignment_id", a.ID, "error", cerr)
		}
		return models.RiderAssignment{}, err
	}

	e.p.Notifier.Publish(notify.RiderTopic(riderID), notify.Envelope(notify.EventAssignmentOffer, map[string]any{
		"assignment_id":    a.ID,
		"order_id":         orderID,
		"rider_id":         riderID,
		"delivery_address": order.DeliveryAddress,
	}))
	return a, nil
}

// Respond records the targeted rider's accept or reject. Responding to an
// assignment that is no longer pending fails with a conflict.
func (e *Engine) Respond(ctx context.Context, assignmentID, riderID string, accept bool) (models.RiderAssignment, error) {
	a, err := e.p.Assignments.GetAssignment(ctx, assignmentID)
	if err != nil {
		return models.RiderAssignment{}, err
	}
	if a.RiderID != riderID {
		return models.RiderAssignment{}, fmt.Errorf(
			"assignment %s is not for rider %s: %w", assignmentID, riderID, apperr.ErrForbidden)
	}

	target := models.AssignmentRejected
	if accept {
		target = models.AssignmentAccepted
	}
	now := time.Now().UTC()
	a, err = e.p.Assignments.TransitionAssignment(ctx, assignmentID, models.AssignmentPending, target, &now)
	if err != nil {
		return models.RiderAssignment{}, err
	}

	e.publishAssignmentUpdate(a)
	return a, nil
}

// Cancel moves a non-terminal assignment to canceled. Canceling an already
// terminal assignment is an idempotent no-op. The engine runs no timers;
// an external scheduler calls this when a pending offer outlives the
// response window.
func (e *Engine) Cancel(ctx context.Context, assignmentID string, actor models.Actor) (models.RiderAssignment, error) {
	a, err := e.p.Assignments.GetAssignment(ctx, assignmentID)
	if err != nil {
		return models.RiderAssignment{}, err
	}
	if err := e.canCancel(ctx, actor, a); err != nil {
		return models.RiderAssignment{}, err
	}
	if !models.ActiveAssignment(a.Status) {
		return a, nil
	}

	now := time.Now().UTC()
	updated, err := e.p.Assignments.TransitionAssignment(ctx, assignmentID, a.Status, models.AssignmentCanceled, &now)
	if err != nil {
		// Lost a race with the rider's response or another cancel; if the
		// assignment settled anyway, report the settled state.
		if settled, gerr := e.p.Assignments.GetAssignment(ctx, assignmentID); gerr == nil && !models.ActiveAssignment(settled.Status) {
			return settled, nil
		}
		return models.RiderAssignment{}, err
	}

	e.publishAssignmentUpdate(updated)
	return updated, nil
}

func (e *Engine) canCancel(ctx context.Context, actor models.Actor, a models.RiderAssignment) error {
	switch actor.Type {
	case models.ActorAdmin, models.ActorSystem:
		return nil
	case models.ActorRider:
		if actor.ID == a.RiderID {
			return nil
		}
	case models.ActorRestaurant:
		if order, err := e.p.Orders.GetOrder(ctx, a.OrderID); err == nil && order.RestaurantID == actor.ID {
			return nil
		}
	}
	return fmt.Errorf("%s %s may not cancel assignment %s: %w", actor.Type, actor.ID, a.ID, apperr.ErrForbidden)
}

func (e *Engine) publishAssignmentUpdate(a models.RiderAssignment) {
	payload := notify.Envelope(notify.EventAssignmentUpdate, map[string]any{
		"assignment_id": a.ID,
		"order_id":      a.OrderID,
		"rider_id":      a.RiderID,
		"status":        a.Status,
	})
	e.p.Notifier.Publish(notify.OrderTopic(a.OrderID), payload)
	e.p.Notifier.Publish(notify.RiderTopic(a.RiderID), payload)
}
