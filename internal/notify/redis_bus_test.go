package notify

import (
	"log/slog"
	"testing"

	"github.com/redis/go-redis/v9"
)

func TestRedisBusCancelIsIdempotent(t *testing.T) {
	// No server behind the client; only the cancel path is exercised.
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	bus := NewRedisBus(client, slog.Default())

	_, cancel := bus.Subscribe("order:o1")
	cancel()
	cancel() // second call must not panic
}
