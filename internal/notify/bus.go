package notify

import (
	"encoding/json"
	"sync"

	"github.com/superjustkidding/fango/internal/observability"
)

// Bus is the in-process topic bus. Messages are delivered FIFO within a
// topic; a full or slow subscriber has its message dropped rather than
// stalling the publisher.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]*busSub
	buffer int
}

type busSub struct {
	topic string
	ch    chan []byte
}

func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 16
	}
	return &Bus{subs: make(map[string][]*busSub), buffer: buffer}
}

func (b *Bus) Publish(topic string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	// Sends stay inside the read-locked region: cancel closes the channel
	// under the write lock, so a send can never overlap the close. The sends
	// are non-blocking, so holding the lock does not stall on a slow reader.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs[topic] {
		select {
		case s.ch <- data:
		default:
			observability.NotifyDropped.Inc()
		}
	}
}

func (b *Bus) Subscribe(topic string) (<-chan []byte, func()) {
	s := &busSub{topic: topic, ch: make(chan []byte, b.buffer)}
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			list := b.subs[topic]
			for i, cur := range list {
				if cur == s {
					b.subs[topic] = append(list[:i], list[i+1:]...)
					break
				}
			}
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
			close(s.ch)
			b.mu.Unlock()
		})
	}
	return s.ch, cancel
}
