package events

import (
	"log"
	"sync"
)

// Topic names a class of internal notifications.
type Topic string

const (
	TopicNotification Topic = "notification" // operator-facing messages
	TopicBalance      Topic = "balance"      // balance changed
	TopicPool         Topic = "pool"         // pool detected or selected
	TopicTrade        Topic = "trade"        // trade lifecycle updates
	TopicPnl          Topic = "pnl"          // live PnL ticks
	TopicGas          Topic = "gas"          // gas price updates
	TopicConnection   Topic = "connection"   // engine link up/down
	TopicLog          Topic = "log"          // engine log lines
	TopicConfig       Topic = "config"       // runtime config changed
)

// Message is what subscribers receive: the topic plus an arbitrary payload.
type Message struct {
	Topic Topic
	Data  any
}

// Bus fans out messages to subscribers. Publish never blocks; a subscriber
// that stops draining loses messages rather than stalling the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]chan Message
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]chan Message)}
}

// Subscribe registers a buffered channel for the given topics and returns it.
func (b *Bus) Subscribe(buffer int, topics ...Topic) chan Message {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Message, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range topics {
		b.subs[t] = append(b.subs[t], ch)
	}
	return ch
}

// Unsubscribe removes the channel from every topic and closes it.
func (b *Bus) Unsubscribe(ch chan Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for t, chans := range b.subs {
		for i, c := range chans {
			if c == ch {
				b.subs[t] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
	}
	close(ch)
}

// Publish delivers to every subscriber of the topic without blocking.
func (b *Bus) Publish(topic Topic, data any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[topic] {
		select {
		case ch <- Message{Topic: topic, Data: data}:
		default:
			log.Printf("⚠️ Event bus: dropping %s message for slow subscriber", topic)
		}
	}
}
