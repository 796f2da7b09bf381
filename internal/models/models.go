package models

import "time"

// Coord is a WGS84 latitude/longitude pair.
type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Order statuses. The matching engine only ever writes Status and RiderID;
// everything else on an order belongs to the order-management service.
const (
	OrderPending    = "pending"
	OrderPaid       = "paid"
	OrderPreparing  = "preparing"
	OrderReady      = "ready"
	OrderDelivering = "delivering"
	OrderCompleted  = "completed"
	OrderCanceled   = "canceled"
)

// InFlightOrderStatuses are the statuses that count toward a rider's load.
var InFlightOrderStatuses = []string{OrderPreparing, OrderReady, OrderDelivering}

// Assignment statuses.
const (
	AssignmentPending  = "pending"
	AssignmentAccepted = "accepted"
	AssignmentRejected = "rejected"
	AssignmentCanceled = "canceled"
)

// ActiveAssignment reports whether an assignment occupies the order's single
// non-terminal slot.
func ActiveAssignment(status string) bool {
	return status == AssignmentPending || status == AssignmentAccepted
}

// Rider is the slice of the rider directory the matching engine reads.
type Rider struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	IsOnline        bool    `json:"is_online"`
	IsAvailable     bool    `json:"is_available"`
	DeliveryRadiusM float64 `json:"delivery_radius_m"` // 0 means no per-rider cap
}

// RiderLocation is one append-only GPS sample.
type RiderLocation struct {
	ID         string    `json:"id"`
	RiderID    string    `json:"rider_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	AccuracyM  *float64  `json:"accuracy,omitempty"`
	SpeedMps   *float64  `json:"speed,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Order is the subset of the order row the engine reads and writes.
type Order struct {
	ID              string    `json:"id"`
	Status          string    `json:"status"`
	RestaurantID    string    `json:"restaurant_id"`
	RiderID         *string   `json:"rider_id,omitempty"`
	DeliveryAddress string    `json:"delivery_address"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// RiderAssignment links one order to one candidate rider for a single
// matching attempt. Rows are never deleted, only moved to a terminal status.
type RiderAssignment struct {
	ID          string     `json:"id"`
	OrderID     string     `json:"order_id"`
	RiderID     string     `json:"rider_id"`
	Status      string     `json:"status"`
	AssignedAt  time.Time  `json:"assigned_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

// OrderStatusHistory is one immutable transition record.
type OrderStatusHistory struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Status    string    `json:"status"`
	ActorID   string    `json:"actor_id"`
	ActorType string    `json:"actor_type"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

// Candidate is a rider within range of a pickup point, before scoring.
type Candidate struct {
	RiderID   string  `json:"rider_id"`
	DistanceM float64 `json:"distance_m"`
	Location  Coord   `json:"location"`
}

// CandidateScore is the scored form of a candidate. Ephemeral; computed per
// matching attempt and never persisted.
type CandidateScore struct {
	RiderID    string  `json:"rider_id"`
	DistanceM  float64 `json:"distance_m"`
	ActiveLoad int     `json:"active_load"`
	Score      float64 `json:"score"`
}

// Actor types accepted by the engine. Tokens are resolved upstream; the
// engine only ever sees this value object.
const (
	ActorAdmin      = "admin"
	ActorRestaurant = "restaurant"
	ActorRider      = "rider"
	ActorUser       = "user"
	ActorSystem     = "system"
)

// Actor is a resolved caller identity.
type Actor struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// SystemActor is used for engine-initiated writes such as auto-assignment.
var SystemActor = Actor{ID: "system", Type: ActorSystem}
