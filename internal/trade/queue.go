package trade

import (
	"context"
	"sync"
)

// Action is the trade direction.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// Intent is one trade request from the surface, not yet resolved against
// the state store.
type Intent struct {
	Action      Action
	Token       string
	QuoteToken  string
	Amount      float64  // quote-token amount; ignored for sells
	Wallets     []string // empty means every enabled wallet
	SlippagePct float64
	GasGwei     float64
}

// Queue holds pending intents for the worker pool. A buy supersedes any
// not-yet-dispatched sell for the same token: last writer wins on direction.
type Queue struct {
	mu      sync.Mutex
	pending []Intent
	wake    chan struct{}
}

func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Push enqueues an intent, first cancelling pending opposite-direction
// intents for the same token when the new one is a buy.
func (q *Queue) Push(intent Intent) {
	q.mu.Lock()
	if intent.Action == ActionBuy {
		kept := q.pending[:0]
		for _, p := range q.pending {
			if p.Action == ActionSell && equalAddr(p.Token, intent.Token) {
				continue
			}
			kept = append(kept, p)
		}
		q.pending = kept
	}
	q.pending = append(q.pending, intent)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Pop blocks until an intent is available or ctx is done.
func (q *Queue) Pop(ctx context.Context) (Intent, bool) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			intent := q.pending[0]
			q.pending = q.pending[1:]
			more := len(q.pending) > 0
			q.mu.Unlock()
			if more {
				select {
				case q.wake <- struct{}{}:
				default:
				}
			}
			return intent, true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-ctx.Done():
			return Intent{}, false
		}
	}
}

// Len reports the number of pending intents.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
