package memory

import (
	"context"
	"sync"

	"github.com/jiaweing/IoT-Quiz/internal/transport"
)

// Bus is an in-process pub/sub hub. The engine publishes into it and each
// transport adapter subscribes and forwards to its own clients.
type Bus struct {
	mu          sync.Mutex
	subscribers map[chan transport.Message]struct{}
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[chan transport.Message]struct{})}
}

func (b *Bus) Publish(_ context.Context, topic string, payload []byte) error {
	msg := transport.Message{Topic: topic, Payload: payload}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		select {
		case ch <- msg:
		default:
			// Drop the oldest pending message so a slow subscriber never
			// blocks the publish path.
			select {
			case <-ch:
			default:
			}
			ch <- msg
		}
	}
	return nil
}

// Subscribe returns a channel of all published messages. The caller must
// invoke the returned cancel function to avoid leaks.
func (b *Bus) Subscribe() (<-chan transport.Message, func()) {
	ch := make(chan transport.Message, 64)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[ch]; ok {
			delete(b.subscribers, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}
