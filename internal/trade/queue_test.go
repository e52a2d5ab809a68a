package trade

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue()
	q.Push(Intent{Action: ActionBuy, Token: "0xA"})
	q.Push(Intent{Action: ActionBuy, Token: "0xB"})

	ctx := context.Background()
	first, _ := q.Pop(ctx)
	second, _ := q.Pop(ctx)
	if first.Token != "0xA" || second.Token != "0xB" {
		t.Fatalf("order wrong: %s then %s", first.Token, second.Token)
	}
}

func TestBuySupersedesPendingSell(t *testing.T) {
	q := NewQueue()
	q.Push(Intent{Action: ActionSell, Token: "0xToKeN"})
	q.Push(Intent{Action: ActionSell, Token: "0xOther"})
	q.Push(Intent{Action: ActionBuy, Token: "0xtoken"}) // cancels the first sell

	if q.Len() != 2 {
		t.Fatalf("queue length = %d, want 2", q.Len())
	}

	ctx := context.Background()
	first, _ := q.Pop(ctx)
	second, _ := q.Pop(ctx)
	if first.Token != "0xOther" || first.Action != ActionSell {
		t.Fatalf("unrelated sell was cancelled: %+v", first)
	}
	if second.Action != ActionBuy {
		t.Fatalf("buy missing: %+v", second)
	}
}

func TestSellDoesNotSupersedeBuy(t *testing.T) {
	q := NewQueue()
	q.Push(Intent{Action: ActionBuy, Token: "0xT"})
	q.Push(Intent{Action: ActionSell, Token: "0xT"})
	if q.Len() != 2 {
		t.Fatalf("sell should never cancel a pending buy, length = %d", q.Len())
	}
}

func TestPopUnblocksOnCancel(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(ctx)
		done <- ok
	}()

	cancel()
	select {
	case ok := <-done:
		if ok {
			t.Fatal("Pop returned an intent after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock on cancel")
	}
}

func TestConcurrentPushPop(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()
	const n = 50

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			q.Push(Intent{Action: ActionBuy, Token: "0xT"})
		}
	}()

	got := 0
	for got < n {
		if _, ok := q.Pop(ctx); ok {
			got++
		}
	}
	wg.Wait()
	if q.Len() != 0 {
		t.Fatalf("queue not drained: %d left", q.Len())
	}
}
