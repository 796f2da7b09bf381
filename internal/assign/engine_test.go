package assign

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/superjustkidding/fango/internal/apperr"
	"github.com/superjustkidding/fango/internal/location"
	"github.com/superjustkidding/fango/internal/models"
	"github.com/superjustkidding/fango/internal/nearby"
	"github.com/superjustkidding/fango/internal/notify"
	"github.com/superjustkidding/fango/internal/orderflow"
	"github.com/superjustkidding/fango/internal/score"
	"github.com/superjustkidding/fango/internal/storage"
)

var adminActor = models.Actor{ID: "admin1", Type: models.ActorAdmin}

type fixture struct {
	engine *Engine
	store  *storage.MemoryStore
	bus    *notify.Bus
	loc    *location.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := storage.NewMemoryStore()
	bus := notify.NewBus(64)
	locStore := location.NewStore(location.NewMemoryCache(100), mem, bus, slog.Default())

	finder := &nearby.Finder{Directory: mem, Locations: locStore, Freshness: 5 * time.Minute}
	scorer := score.NewScorer(mem, score.DefaultDistanceWeight, score.DefaultLoadWeight)
	flow := orderflow.NewMachine(mem, bus)

	engine := NewEngine(Params{
		Orders:      mem,
		Assignments: mem,
		Riders:      mem,
		Restaurants: NewCachedLocator(mem, time.Minute),
		Finder:      finder,
		Scorer:      scorer,
		Flow:        flow,
		Notifier:    bus,
		Logger:      slog.Default(),
	})
	return &fixture{engine: engine, store: mem, bus: bus, loc: locStore}
}

func (f *fixture) seedRider(t *testing.T, id string, lat, lon float64) {
	t.Helper()
	f.store.PutRider(models.Rider{ID: id, Name: id, IsOnline: true, IsAvailable: true})
	if _, err := f.loc.Record(context.Background(), models.RiderLocation{
		RiderID: id, Latitude: lat, Longitude: lon,
	}); err != nil {
		t.Fatalf("seed rider location: %v", err)
	}
}

func (f *fixture) seedReadyOrder(t *testing.T, orderID string) {
	t.Helper()
	f.store.PutRestaurant("rest1", models.Coord{Lat: 31.24, Lon: 121.48})
	f.store.PutOrder(models.Order{
		ID: orderID, Status: models.OrderReady, RestaurantID: "rest1",
		DeliveryAddress: "100 Century Ave",
	})
}

func TestAssignAutoEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.seedRider(t, "R", 31.23, 121.47)
	f.seedReadyOrder(t, "O")

	offers, cancel := f.bus.Subscribe(notify.RiderTopic("R"))
	defer cancel()

	a, err := f.engine.AssignAuto(context.Background(), "O")
	if err != nil {
		t.Fatalf("assign auto: %v", err)
	}
	if a.RiderID != "R" || a.Status != models.AssignmentPending {
		t.Fatalf("unexpected assignment: %+v", a)
	}

	order, err := f.store.GetOrder(context.Background(), "O")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.RiderID == nil || *order.RiderID != "R" {
		t.Fatalf("rider not written to order: %+v", order)
	}
	if order.Status != models.OrderReady {
		t.Fatalf("order left ready state: %s", order.Status)
	}

	var sawOffer bool
	deadline := time.After(time.Second)
	for !sawOffer {
		select {
		case data := <-offers:
			if strings.Contains(string(data), notify.EventAssignmentOffer) {
				sawOffer = true
			}
		case <-deadline:
			t.Fatal("no assignment offer published on the rider topic")
		}
	}

	hist := f.store.OrderHistory("O")
	if len(hist) != 1 || !strings.Contains(hist[0].Note, "distance") {
		t.Fatalf("selection note missing from history: %+v", hist)
	}
}

func TestAssignAutoPrefersCloserIdleRider(t *testing.T) {
	f := newFixture(t)
	f.seedRider(t, "close", 31.241, 121.481)
	f.seedRider(t, "distant", 31.27, 121.52)
	f.seedReadyOrder(t, "O")

	a, err := f.engine.AssignAuto(context.Background(), "O")
	if err != nil {
		t.Fatalf("assign auto: %v", err)
	}
	if a.RiderID != "close" {
		t.Fatalf("expected closest rider, got %s", a.RiderID)
	}
}

func TestSecondAssignmentConflicts(t *testing.T) {
	f := newFixture(t)
	f.seedRider(t, "r1", 31.24, 121.48)
	f.seedRider(t, "r2", 31.24, 121.48)
	f.seedReadyOrder(t, "O")

	if _, err := f.engine.AssignManual(context.Background(), "O", "r1", adminActor); err != nil {
		t.Fatalf("first assign: %v", err)
	}
	_, err := f.engine.AssignManual(context.Background(), "O", "r2", adminActor)
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestConcurrentAutoAssignExactlyOneWinner(t *testing.T) {
	f := newFixture(t)
	f.seedRider(t, "R", 31.23, 121.47)
	f.seedReadyOrder(t, "O")

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.AssignAuto(context.Background(), "O")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, apperr.ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one winner, got %d", success)
	}
}

func TestRespondRejectThenReassign(t *testing.T) {
	f := newFixture(t)
	f.seedRider(t, "R", 31.23, 121.47)
	f.seedReadyOrder(t, "O")

	a, err := f.engine.AssignAuto(context.Background(), "O")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	rejected, err := f.engine.Respond(context.Background(), a.ID, "R", false)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if rejected.Status != models.AssignmentRejected || rejected.RespondedAt == nil {
		t.Fatalf("bad rejected assignment: %+v", rejected)
	}

	// The order slot is free again: the sole eligible rider is picked anew.
	second, err := f.engine.AssignAuto(context.Background(), "O")
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if second.ID == a.ID || second.RiderID != "R" {
		t.Fatalf("unexpected second assignment: %+v", second)
	}
}

func TestRespondAcceptRaisesLoad(t *testing.T) {
	f := newFixture(t)
	f.seedRider(t, "R", 31.23, 121.47)
	f.seedReadyOrder(t, "O")

	a, err := f.engine.AssignAuto(context.Background(), "O")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	accepted, err := f.engine.Respond(context.Background(), a.ID, "R", true)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if accepted.Status != models.AssignmentAccepted {
		t.Fatalf("expected accepted, got %s", accepted.Status)
	}

	load, err := f.store.ActiveLoad(context.Background(), "R")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if load != 1 {
		t.Fatalf("expected load 1 after accept, got %d", load)
	}
}

func TestRespondGuards(t *testing.T) {
	f := newFixture(t)
	f.seedRider(t, "R", 31.23, 121.47)
	f.seedReadyOrder(t, "O")

	a, err := f.engine.AssignAuto(context.Background(), "O")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	if _, err := f.engine.Respond(context.Background(), a.ID, "intruder", true); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden for wrong rider, got %v", err)
	}
	if _, err := f.engine.Respond(context.Background(), "ghost", "R", true); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, err := f.engine.Respond(context.Background(), a.ID, "R", false); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := f.engine.Respond(context.Background(), a.ID, "R", true); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict on terminal assignment, got %v", err)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedRider(t, "R", 31.23, 121.47)
	f.seedReadyOrder(t, "O")

	a, err := f.engine.AssignAuto(context.Background(), "O")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	canceled, err := f.engine.Cancel(context.Background(), a.ID, adminActor)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if canceled.Status != models.AssignmentCanceled {
		t.Fatalf("expected canceled, got %s", canceled.Status)
	}

	again, err := f.engine.Cancel(context.Background(), a.ID, adminActor)
	if err != nil {
		t.Fatalf("second cancel must be a no-op, got %v", err)
	}
	if again.Status != models.AssignmentCanceled {
		t.Fatalf("idempotent cancel changed status: %s", again.Status)
	}
}

func TestCancelPermissions(t *testing.T) {
	f := newFixture(t)
	f.seedRider(t, "R", 31.23, 121.47)
	f.seedReadyOrder(t, "O")

	a, err := f.engine.AssignAuto(context.Background(), "O")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	stranger := models.Actor{ID: "someone", Type: models.ActorUser}
	if _, err := f.engine.Cancel(context.Background(), a.ID, stranger); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	rider := models.Actor{ID: "R", Type: models.ActorRider}
	if _, err := f.engine.Cancel(context.Background(), a.ID, rider); err != nil {
		t.Fatalf("targeted rider must be able to cancel: %v", err)
	}
}

func TestAssignManualValidation(t *testing.T) {
	f := newFixture(t)
	f.seedRider(t, "R", 31.23, 121.47)
	f.seedReadyOrder(t, "O")
	ctx := context.Background()

	if _, err := f.engine.AssignManual(ctx, "ghost", "R", adminActor); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("missing order: got %v", err)
	}
	if _, err := f.engine.AssignManual(ctx, "O", "ghost", adminActor); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("missing rider: got %v", err)
	}

	f.store.PutRider(models.Rider{ID: "offline", Name: "offline", IsOnline: false, IsAvailable: true})
	if _, err := f.engine.AssignManual(ctx, "O", "offline", adminActor); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("offline rider: got %v", err)
	}

	user := models.Actor{ID: "u1", Type: models.ActorUser}
	if _, err := f.engine.AssignManual(ctx, "O", "R", user); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("user actor: got %v", err)
	}

	otherRestaurant := models.Actor{ID: "rest2", Type: models.ActorRestaurant}
	if _, err := f.engine.AssignManual(ctx, "O", "R", otherRestaurant); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("foreign restaurant actor: got %v", err)
	}

	owner := models.Actor{ID: "rest1", Type: models.ActorRestaurant}
	if _, err := f.engine.AssignManual(ctx, "O", "R", owner); err != nil {
		t.Fatalf("owning restaurant must be allowed: %v", err)
	}
}

func TestAssignManualOrderNotReady(t *testing.T) {
	f := newFixture(t)
	f.seedRider(t, "R", 31.23, 121.47)
	f.store.PutRestaurant("rest1", models.Coord{Lat: 31.24, Lon: 121.48})
	f.store.PutOrder(models.Order{ID: "O", Status: models.OrderPreparing, RestaurantID: "rest1"})

	_, err := f.engine.AssignManual(context.Background(), "O", "R", adminActor)
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict for non-ready order, got %v", err)
	}
}

func TestAssignAutoNoEligibleRider(t *testing.T) {
	f := newFixture(t)
	f.seedReadyOrder(t, "O")

	_, err := f.engine.AssignAuto(context.Background(), "O")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found with no riders, got %v", err)
	}
}
