package notify

import (
	"encoding/json"
	"runtime"
	"sync"
	"testing"
	"time"
)

func TestBusFIFOPerTopic(t *testing.T) {
	bus := NewBus(8)
	msgs, cancel := bus.Subscribe(OrderTopic("o1"))
	defer cancel()

	for i := 0; i < 5; i++ {
		bus.Publish(OrderTopic("o1"), map[string]any{"seq": i})
	}

	for i := 0; i < 5; i++ {
		select {
		case data := <-msgs:
			var got map[string]any
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("bad payload: %v", err)
			}
			if int(got["seq"].(float64)) != i {
				t.Fatalf("out of order: expected %d, got %v", i, got["seq"])
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestBusDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := NewBus(1)
	_, cancel := bus.Subscribe("rider:r1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Far more than the buffer; publish must drop, not block.
		for i := 0; i < 100; i++ {
			bus.Publish("rider:r1", map[string]any{"seq": i})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a full subscriber")
	}
}

func TestBusTopicIsolation(t *testing.T) {
	bus := NewBus(8)
	a, cancelA := bus.Subscribe(RiderTopic("r1"))
	defer cancelA()

	bus.Publish(RiderTopic("r2"), map[string]any{"for": "r2"})

	select {
	case data := <-a:
		t.Fatalf("r1 subscriber received message for r2: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(8)
	msgs, cancel := bus.Subscribe("order:o9")
	cancel()

	bus.Publish("order:o9", map[string]any{"x": 1})

	if _, ok := <-msgs; ok {
		t.Fatal("expected closed channel after unsubscribe")
	}
}

func TestBusPublishRacesUnsubscribe(t *testing.T) {
	bus := NewBus(4)
	topic := RiderTopic("r1")

	stop := make(chan struct{})
	var wg sync.WaitGroup

	// Publishers hammer the topic while subscribers churn. A send on a
	// just-closed channel panics, which fails the whole run, so finishing
	// clean is the assertion.
	for i := 0; i < runtime.NumCPU(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					bus.Publish(topic, map[string]any{"x": 1})
				}
			}
		}()
	}

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					msgs, cancel := bus.Subscribe(topic)
					select {
					case <-msgs:
					default:
					}
					cancel()
				}
			}
		}()
	}

	time.Sleep(500 * time.Millisecond)
	close(stop)
	wg.Wait()
}

func TestBusCancelIsIdempotent(t *testing.T) {
	bus := NewBus(4)
	_, cancel := bus.Subscribe("order:o1")
	cancel()
	cancel() // second call must not panic
}

func TestEnvelopeCarriesTypeAndTimestamp(t *testing.T) {
	payload := Envelope(EventOrderStatus, map[string]any{"order_id": "o1"})
	if payload["type"] != EventOrderStatus {
		t.Fatalf("missing type: %v", payload)
	}
	if payload["order_id"] != "o1" {
		t.Fatalf("missing field: %v", payload)
	}
	if _, err := time.Parse(time.RFC3339Nano, payload["timestamp"].(string)); err != nil {
		t.Fatalf("bad timestamp: %v", err)
	}
}
