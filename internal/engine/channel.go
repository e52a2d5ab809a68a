package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

var ErrNotStarted = errors.New("engine channel is not started")

// Channel is the duplex link to the execution engine: newline-delimited JSON
// frames over a loopback byte stream. Commands go out fire-and-forget;
// events come in on a single ordered stream.
type Channel struct {
	socketPath     string
	connectTimeout time.Duration
	sendTimeout    time.Duration

	mu      sync.Mutex
	conn    net.Conn
	started bool

	events   chan Event
	stopping chan struct{}
	done     chan struct{}
}

func NewChannel(socketPath string, connectTimeout, sendTimeout time.Duration) *Channel {
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	if sendTimeout <= 0 {
		sendTimeout = 5 * time.Second
	}
	return &Channel{
		socketPath:     socketPath,
		connectTimeout: connectTimeout,
		sendTimeout:    sendTimeout,
	}
}

// Start dials the engine socket and begins draining events. Calling Start on
// an already-started channel is a no-op.
func (c *Channel) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	conn, err := net.DialTimeout("unix", c.socketPath, c.connectTimeout)
	if err != nil {
		return fmt.Errorf("dial engine socket %s: %w", c.socketPath, err)
	}

	c.conn = conn
	c.started = true
	c.events = make(chan Event, 256)
	c.stopping = make(chan struct{})
	c.done = make(chan struct{})
	go c.readLoop(conn, c.events, c.stopping, c.done)

	log.Printf("✅ Engine channel connected (%s)", c.socketPath)
	return nil
}

// Stop closes the link. Safe to call repeatedly.
func (c *Channel) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	close(c.stopping)
	c.conn.Close()
	done := c.done
	c.mu.Unlock()

	<-done
	log.Printf("🔄 Engine channel closed")
}

// Events returns the inbound stream. Frames are delivered in arrival order;
// the channel is closed when the link dies or Stop is called.
func (c *Channel) Events() <-chan Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events
}

// Connected reports whether the link is up.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// Send serializes and writes one command. Delivery means "accepted into the
// engine's queue" and nothing more; callers detect failure through the
// absence of subsequent events, not through Send.
func (c *Channel) Send(ctx context.Context, cmd Command) error {
	frame, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode %s: %w", cmd.Type, err)
	}
	frame = append(frame, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return ErrNotStarted
	}

	deadline := time.Now().Add(c.sendTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)

	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("send %s: %w", cmd.Type, err)
	}
	return nil
}

// readLoop drains frames until the connection dies. Malformed frames are
// logged and skipped; they never stop the loop.
func (c *Channel) readLoop(conn net.Conn, events chan Event, stopping, done chan struct{}) {
	defer close(done)
	defer close(events)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		ev, err := ParseEvent(line)
		if err != nil {
			log.Printf("⚠️ Engine channel: dropping malformed frame: %v", err)
			continue
		}
		select {
		case events <- ev:
		case <-stopping:
			return
		}
	}

	select {
	case <-stopping:
		// Orderly stop: the read error is just the closed socket.
	default:
		if err := scanner.Err(); err != nil {
			log.Printf("❌ Engine channel read failed: %v", err)
		} else {
			log.Printf("❌ Engine closed the channel")
		}
		select {
		case events <- ConnectionStatus{Connected: false, Message: "engine link lost"}:
		default:
		}
	}
}
