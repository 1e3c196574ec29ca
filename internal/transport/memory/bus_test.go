package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jiaweing/IoT-Quiz/internal/transport"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	bus := NewBus()
	first, cancelFirst := bus.Subscribe()
	defer cancelFirst()
	second, cancelSecond := bus.Subscribe()
	defer cancelSecond()

	if err := bus.Publish(context.Background(), "quiz/question", []byte(`{"id":"q1"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for i, ch := range []<-chan transport.Message{first, second} {
		select {
		case msg := <-ch:
			if msg.Topic != "quiz/question" {
				t.Fatalf("subscriber %d got topic %s", i, msg.Topic)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d never received the message", i)
		}
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe()
	cancel()
	// Idempotent.
	cancel()

	if err := bus.Publish(context.Background(), "quiz/question", nil); err != nil {
		t.Fatalf("publish after cancel: %v", err)
	}
	if _, open := <-ch; open {
		t.Fatalf("channel must be closed after cancel")
	}
}

func TestSlowSubscriberDropsOldestWithoutBlocking(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe()
	defer cancel()

	// Overflow the buffer; publishes must all return promptly.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			bus.Publish(context.Background(), "system/time/sync", []byte(fmt.Sprintf("%d", i)))
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a slow subscriber")
	}

	// The most recent message survives.
	var last transport.Message
	for {
		select {
		case msg := <-ch:
			last = msg
		default:
			if string(last.Payload) != "199" {
				t.Fatalf("expected newest message retained, got %q", last.Payload)
			}
			return
		}
	}
}
