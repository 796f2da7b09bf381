// Package notify fans out assignment, location and status events to topic
// channels. Delivery is best-effort and at-most-once: subscribers connected
// at publish time get the message, nobody gets a replay. Clients that need
// reliable history poll the durable store instead.
package notify

import "time"

// Topic naming. Topics are scoped by entity identity.
const BroadcastTopic = "riders"

func OrderTopic(orderID string) string { return "order:" + orderID }
func RiderTopic(riderID string) string { return "rider:" + riderID }

// Event types carried in the payload's "type" field.
const (
	EventLocationUpdate   = "location.update"
	EventAssignmentOffer  = "assignment.offer"
	EventAssignmentUpdate = "assignment.update"
	EventOrderStatus      = "order.status"
)

// Publisher is the side components use to emit events. Publish must never
// block the caller on subscriber delivery.
type Publisher interface {
	Publish(topic string, payload map[string]any)
}

// Subscriber is the side the websocket hub consumes. The returned cancel
// func releases the subscription.
type Subscriber interface {
	Subscribe(topic string) (<-chan []byte, func())
}

// PubSub is both halves of a bus; the in-memory Bus and the redis-backed
// bus each satisfy it.
type PubSub interface {
	Publisher
	Subscriber
}

// Envelope builds the wire payload: {type, ...fields, timestamp}.
func Envelope(eventType string, fields map[string]any) map[string]any {
	payload := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		payload[k] = v
	}
	payload["type"] = eventType
	payload["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	return payload
}

// NopPublisher discards everything. Used where a component is wired without
// real-time fan-out.
type NopPublisher struct{}

func (NopPublisher) Publish(string, map[string]any) {}
