package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/superjustkidding/fango/internal/observability"
)

const wsWriteTimeout = 5 * time.Second

// Hub bridges bus topics onto websocket connections. Each connection streams
// exactly one topic; a slow or dead connection is dropped without affecting
// other subscribers or the publisher.
type Hub struct {
	bus    Subscriber
	logger *slog.Logger
}

func NewHub(bus Subscriber, logger *slog.Logger) *Hub {
	return &Hub{bus: bus, logger: logger}
}

// Stream pumps topic messages to the connection until the peer disconnects.
// It blocks, so callers run it from the websocket handler goroutine.
func (h *Hub) Stream(topic string, conn *websocket.Conn) {
	msgs, cancel := h.bus.Subscribe(topic)
	defer cancel()
	defer conn.Close()

	observability.WSSessions.Inc()
	defer observability.WSSessions.Dec()

	session := &wsSession{conn: conn}

	// Drain the read side so close frames and pings are processed and a
	// dropped peer is noticed promptly.
	readClosed := make(chan struct{})
	go func() {
		defer close(readClosed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case data, ok := <-msgs:
			if !ok {
				return
			}
			if err := session.send(data); err != nil {
				h.logger.Debug("ws send failed", "topic", topic, "error", err)
				return
			}
		case <-readClosed:
			return
		}
	}
}

// wsSession serializes writes; gorilla/websocket allows only one concurrent
// writer per connection.
type wsSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSession) send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}
