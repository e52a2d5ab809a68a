package events

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe(4, TopicBalance, TopicTrade)

	b.Publish(TopicBalance, "a")
	b.Publish(TopicTrade, "b")
	b.Publish(TopicGas, "ignored") // not subscribed

	for _, want := range []string{"a", "b"} {
		select {
		case msg := <-ch:
			if msg.Data != want {
				t.Fatalf("got %v, want %v", msg.Data, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message: %+v", msg)
	default:
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := NewBus()
	b.Subscribe(1, TopicLog)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(TopicLog, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe(1, TopicPool)
	b.Unsubscribe(ch)

	if _, open := <-ch; open {
		t.Fatal("channel still open after unsubscribe")
	}
	// Publishing after unsubscribe must not panic on the closed channel.
	b.Publish(TopicPool, "x")
}
