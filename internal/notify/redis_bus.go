package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBus carries topic events over Redis pub/sub so fan-out reaches every
// process sharing the cache. Redis pub/sub is itself fire-and-forget, which
// matches the contract here exactly.
type RedisBus struct {
	client *redis.Client
	logger *slog.Logger
	ctx    context.Context
}

func NewRedisBus(client *redis.Client, logger *slog.Logger) *RedisBus {
	return &RedisBus{client: client, logger: logger, ctx: context.Background()}
}

func (r *RedisBus) Publish(topic string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := r.client.Publish(r.ctx, topic, data).Err(); err != nil {
		r.logger.Warn("redis publish failed", "topic", topic, "error", err)
	}
}

func (r *RedisBus) Subscribe(topic string) (<-chan []byte, func()) {
	sub := r.client.Subscribe(r.ctx, topic)
	out := make(chan []byte, 16)
	done := make(chan struct{})

	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					// slow reader, drop
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}
	return out, cancel
}
