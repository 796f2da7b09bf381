// Package orderflow validates and records order status transitions. Every
// committed transition writes the order row and its history entry in one
// unit of work.
package orderflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/superjustkidding/fango/internal/apperr"
	"github.com/superjustkidding/fango/internal/models"
	"github.com/superjustkidding/fango/internal/notify"
	"github.com/superjustkidding/fango/internal/storage"
)

// transitions is the directed edge set. completed and canceled are terminal.
var transitions = map[string][]string{
	models.OrderPending:    {models.OrderPaid, models.OrderCanceled},
	models.OrderPaid:       {models.OrderPreparing, models.OrderCanceled},
	models.OrderPreparing:  {models.OrderReady, models.OrderCanceled},
	models.OrderReady:      {models.OrderDelivering, models.OrderCanceled},
	models.OrderDelivering: {models.OrderCompleted, models.OrderCanceled},
}

// Allowed reports whether from -> to is a legal edge. A ready order may
// re-commit ready when a rider is being attached; that is the only
// self-edge.
func Allowed(from, to string, attachingRider bool) bool {
	if attachingRider && from == models.OrderReady && to == models.OrderReady {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionRequest describes one requested status change.
type TransitionRequest struct {
	OrderID string
	Target  string
	Actor   models.Actor
	Note    string
	// RiderID, when non-nil, is written onto the order in the same commit.
	RiderID *string
}

type Machine struct {
	Orders   storage.OrderStore
	Notifier notify.Publisher
}

func NewMachine(orders storage.OrderStore, notifier notify.Publisher) *Machine {
	if notifier == nil {
		notifier = notify.NopPublisher{}
	}
	return &Machine{Orders: orders, Notifier: notifier}
}

// Transition validates the edge, commits the status and history row
// atomically and publishes the change on the order's topic.
func (m *Machine) Transition(ctx context.Context, req TransitionRequest) (models.Order, error) {
	order, err := m.Orders.GetOrder(ctx, req.OrderID)
	if err != nil {
		return models.Order{}, err
	}
	if !Allowed(order.Status, req.Target, req.RiderID != nil) {
		return models.Order{}, fmt.Errorf(
			"order %s cannot move %s -> %s: %w",
			req.OrderID, order.Status, req.Target, apperr.ErrInvalidTransition)
	}

	note := req.Note
	if note == "" {
		note = "status changed to " + req.Target
	}
	hist := models.OrderStatusHistory{
		ID:        uuid.NewString(),
		OrderID:   req.OrderID,
		Status:    req.Target,
		ActorID:   req.Actor.ID,
		ActorType: req.Actor.Type,
		Note:      note,
		CreatedAt: time.Now().UTC(),
	}

	updated, err := m.Orders.CommitTransition(ctx, req.OrderID, req.Target, req.RiderID, hist)
	if err != nil {
		return models.Order{}, err
	}

	fields := map[string]any{
		"order_id": updated.ID,
		"status":   updated.Status,
	}
	if updated.RiderID != nil {
		fields["rider_id"] = *updated.RiderID
	}
	m.Notifier.Publish(notify.OrderTopic(updated.ID), notify.Envelope(notify.EventOrderStatus, fields))

	return updated, nil
}
