package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"
)

// fakeEngine listens on a unix socket and records received frames.
type fakeEngine struct {
	listener net.Listener
	conns    chan net.Conn
}

func startFakeEngine(t *testing.T) (*fakeEngine, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.sock")
	l, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	fe := &fakeEngine{listener: l, conns: make(chan net.Conn, 1)}
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		fe.conns <- conn
	}()
	t.Cleanup(func() { l.Close() })
	return fe, path
}

func (fe *fakeEngine) conn(t *testing.T) net.Conn {
	t.Helper()
	select {
	case c := <-fe.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("engine never saw a connection")
		return nil
	}
}

func TestChannelSendAndReceive(t *testing.T) {
	fe, path := startFakeEngine(t)
	ch := NewChannel(path, time.Second, time.Second)
	if err := ch.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer ch.Stop()

	conn := fe.conn(t)
	defer conn.Close()

	// Outbound: one frame per line.
	if err := ch.Send(context.Background(), NewRefreshAllBalances()); err != nil {
		t.Fatalf("send: %v", err)
	}
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal([]byte(line), &frame); err != nil {
		t.Fatalf("frame not json: %v", err)
	}
	if frame["type"] != "RefreshAllBalances" {
		t.Fatalf("wrong frame: %v", frame)
	}

	// Inbound: events arrive in order, malformed frames skipped.
	conn.Write([]byte(`{"type":"GasPriceUpdate","data":{"gasPriceGwei":0.7}}` + "\n"))
	conn.Write([]byte("this is not json\n"))
	conn.Write([]byte(`{"type":"EngineReady"}` + "\n"))

	events := ch.Events()
	first := waitEvent(t, events)
	gas, ok := first.(GasPriceUpdate)
	if !ok || gas.GasPriceGwei != 0.7 {
		t.Fatalf("first event wrong: %#v", first)
	}
	second := waitEvent(t, events)
	if _, ok := second.(EngineReady); !ok {
		t.Fatalf("malformed frame not skipped, got %#v", second)
	}
}

func TestChannelStopIsIdempotent(t *testing.T) {
	fe, path := startFakeEngine(t)
	ch := NewChannel(path, time.Second, time.Second)
	if err := ch.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	fe.conn(t)

	ch.Stop()
	ch.Stop() // second call must not panic or block

	if ch.Connected() {
		t.Fatal("channel still reports connected after stop")
	}
	if err := ch.Send(context.Background(), NewShutdown()); err == nil {
		t.Fatal("send after stop should fail")
	}
}

func TestChannelStartFailsWithoutEngine(t *testing.T) {
	ch := NewChannel(filepath.Join(t.TempDir(), "missing.sock"), 100*time.Millisecond, time.Second)
	if err := ch.Start(); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestChannelSignalsLinkLoss(t *testing.T) {
	fe, path := startFakeEngine(t)
	ch := NewChannel(path, time.Second, time.Second)
	if err := ch.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer ch.Stop()

	conn := fe.conn(t)
	events := ch.Events()
	conn.Close()

	ev := waitEvent(t, events)
	cs, ok := ev.(ConnectionStatus)
	if !ok || cs.Connected {
		t.Fatalf("expected disconnect notice, got %#v", ev)
	}
}

func waitEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev, open := <-events:
		if !open {
			t.Fatal("event stream closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}
