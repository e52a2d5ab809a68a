package state

import (
	"context"
	"log"
	"sync"
	"time"
)

// writeOp is one queued durable write. Ops carry full post-update values,
// never deltas, so replays and reorders converge.
type writeOp struct {
	name string
	do   func(ctx context.Context) error
}

// Writer drains durable writes on a dedicated goroutine so store mutations
// never block on I/O. Durability is best effort: a failed or dropped write
// is logged and forgotten, the in-memory state stays authoritative.
type Writer struct {
	mu     sync.Mutex
	closed bool
	queue  chan writeOp
	done   chan struct{}
}

func NewWriter(queueSize int) *Writer {
	if queueSize <= 0 {
		queueSize = 512
	}
	w := &Writer{
		queue: make(chan writeOp, queueSize),
		done:  make(chan struct{}),
	}
	go w.drain()
	return w
}

// Enqueue schedules a write without blocking. When the queue is full the op
// is dropped and logged.
func (w *Writer) Enqueue(name string, do func(ctx context.Context) error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.queue <- writeOp{name: name, do: do}:
	default:
		log.Printf("⚠️ Write queue full, dropping %s", name)
	}
}

// Close stops accepting ops and waits up to timeout for the backlog to
// drain. Shutdown proceeds regardless of the outcome.
func (w *Writer) Close(timeout time.Duration) {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
	case <-time.After(timeout):
		log.Printf("⚠️ Write queue did not drain within %s", timeout)
	}
}

func (w *Writer) drain() {
	defer close(w.done)
	for op := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := op.do(ctx); err != nil {
			log.Printf("💾 Durable write %s failed: %v", op.name, err)
		}
		cancel()
	}
}
