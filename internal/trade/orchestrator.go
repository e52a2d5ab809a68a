package trade

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"dexcore/internal/engine"
	"dexcore/internal/events"
	"dexcore/internal/state"
)

var (
	ErrInvalidIntent = errors.New("invalid trade intent")
	ErrNoPool        = errors.New("no pool selected for pair")
	ErrPoolErrored   = errors.New("pool discovery failed for pair")
	ErrNoWallets     = errors.New("no eligible wallets")
)

// Sender is the outbound half of the engine channel.
type Sender interface {
	Send(ctx context.Context, cmd engine.Command) error
}

// WalletResult is one wallet's engine-reported outcome for a dispatched
// trade, routed here by the reconciliation worker.
type WalletResult struct {
	Wallet  string
	Token   string
	Success bool
	Message string
}

// Orchestrator turns trade intents into per-wallet engine commands and
// drives the bounded-retry policy over their reported outcomes.
type Orchestrator struct {
	store  *state.Store
	sender Sender
	queue  *Queue
	bus    *events.Bus

	workers      int
	maxRetries   int
	retryBackoff time.Duration
	resultWait   time.Duration

	mu       sync.Mutex
	inflight map[string]chan WalletResult // lower(wallet)|lower(token)

	cooldowns *Cooldowns

	wg sync.WaitGroup
}

func NewOrchestrator(store *state.Store, sender Sender, bus *events.Bus, workers int) *Orchestrator {
	if workers <= 0 {
		workers = 3
	}
	return &Orchestrator{
		store:        store,
		sender:       sender,
		queue:        NewQueue(),
		bus:          bus,
		workers:      workers,
		maxRetries:   2,
		retryBackoff: 2 * time.Second,
		resultWait:   2 * time.Minute,
		inflight:     make(map[string]chan WalletResult),
		cooldowns:    NewCooldowns(),
	}
}

// Queue returns the intent queue the surface pushes into.
func (o *Orchestrator) Queue() *Queue { return o.queue }

// Cooldowns exposes the shared per-wallet action limiter.
func (o *Orchestrator) Cooldowns() *Cooldowns { return o.cooldowns }

// Start launches the worker pool consuming the shared intent queue.
func (o *Orchestrator) Start(ctx context.Context) {
	for i := 0; i < o.workers; i++ {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for {
				intent, ok := o.queue.Pop(ctx)
				if !ok {
					return
				}
				if err := o.Execute(ctx, intent); err != nil {
					log.Printf("❌ Trade %s %s failed: %v", intent.Action, intent.Token, err)
					o.bus.Publish(events.TopicNotification, fmt.Sprintf("Trade failed: %v", err))
				}
			}
		}()
	}
}

// Wait blocks until every worker has exited after context cancellation.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// Submit validates and enqueues an intent.
func (o *Orchestrator) Submit(intent Intent) error {
	if err := validateIntent(intent); err != nil {
		return err
	}
	o.queue.Push(intent)
	return nil
}

// Execute resolves and dispatches one intent, then shepherds it through
// confirmation or bounded retries. Blocking; runs on a pool worker.
func (o *Orchestrator) Execute(ctx context.Context, intent Intent) error {
	if err := validateIntent(intent); err != nil {
		return err
	}

	pool, ok := o.store.BestPool(intent.Token, intent.QuoteToken)
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNoPool, intent.Token, intent.QuoteToken)
	}
	if pool.Errored {
		return fmt.Errorf("%w: %s/%s: %s", ErrPoolErrored, intent.Token, intent.QuoteToken, pool.ErrorMsg)
	}

	wallets, amountsWei, err := o.resolveWallets(intent)
	if err != nil {
		return err
	}

	if intent.Action == ActionBuy && pool.LiquidityUSD > 0 &&
		intent.Amount*float64(len(wallets)) > pool.LiquidityUSD*0.15 {
		o.bus.Publish(events.TopicNotification,
			fmt.Sprintf("⚠️ Buy size exceeds 15%% of pool liquidity for %s", pool.TokenSymbol))
	}

	payload := engine.ExecuteTradePayload{
		Action:     string(intent.Action),
		Token:      intent.Token,
		QuoteToken: intent.QuoteToken,
		Amount:     intent.Amount,
		Wallets:    wallets,
		GasGwei:    intent.GasGwei,
		Slippage:   intent.SlippagePct,
		V3Fee:      pool.Fee,
		AmountsWei: amountsWei,
	}

	o.store.RecordTrade(intent.Token, pool.TokenName, pool.TokenSymbol)
	o.store.SetActiveTrade(intent.Token, intent.Amount)
	defer o.store.SetActiveTrade("", 0)
	return o.dispatchWithRetries(ctx, intent, payload)
}

// dispatchWithRetries sends the batch and collects per-wallet outcomes. A
// fatal result aborts the whole batch: no sibling is resubmitted after it.
// Retryable wallets are resubmitted at most maxRetries times, each attempt
// preceded by a balance refresh that doubles as a nonce resync request.
// A wallet the engine never reports on is indeterminate: the trade may
// still be executing, so resubmitting it risks a duplicate. Those wallets
// are surfaced and excluded from retries.
func (o *Orchestrator) dispatchWithRetries(ctx context.Context, intent Intent, payload engine.ExecuteTradePayload) error {
	remaining := payload.Wallets
	indeterminate := 0

	for attempt := 0; ; attempt++ {
		results := o.register(remaining, intent.Token)
		payload.Wallets = remaining
		if payload.AmountsWei != nil {
			trimmed := make(map[string]string, len(remaining))
			for _, w := range remaining {
				trimmed[strings.ToLower(w)] = payload.AmountsWei[strings.ToLower(w)]
			}
			payload.AmountsWei = trimmed
		}

		if err := o.sender.Send(ctx, engine.NewExecuteTrade(payload)); err != nil {
			o.unregister(remaining, intent.Token)
			return fmt.Errorf("dispatch trade: %w", err)
		}
		o.bus.Publish(events.TopicTrade, map[string]any{
			"action": payload.Action, "token": payload.Token,
			"wallets": len(remaining), "attempt": attempt,
		})

		retryable, fatal, silent := o.collect(ctx, remaining, intent.Token, results)
		o.unregister(remaining, intent.Token)

		for _, wallet := range silent {
			log.Printf("⚠️ No result for %s on %s within %s; outcome indeterminate, not resubmitting",
				wallet, intent.Token, o.resultWait)
			o.bus.Publish(events.TopicNotification,
				fmt.Sprintf("⚠️ No engine result for %s; trade outcome indeterminate, wallet not resubmitted", wallet))
		}
		indeterminate += len(silent)

		if len(fatal) > 0 {
			for wallet, msg := range fatal {
				o.bus.Publish(events.TopicNotification,
					fmt.Sprintf("❌ Trade aborted for %s: %s", wallet, msg))
			}
			if len(retryable) > 0 {
				log.Printf("❌ Fatal result aborts batch; %d retryable wallet(s) not resubmitted", len(retryable))
			}
			return fmt.Errorf("fatal trade failure on %d wallet(s)", len(fatal))
		}
		if len(retryable) == 0 {
			if indeterminate > 0 {
				return fmt.Errorf("no engine result for %d wallet(s); outcome indeterminate", indeterminate)
			}
			return nil
		}
		if attempt >= o.maxRetries {
			for wallet, msg := range retryable {
				o.bus.Publish(events.TopicNotification,
					fmt.Sprintf("❌ Trade gave up for %s after %d retries: %s", wallet, o.maxRetries, msg))
			}
			return fmt.Errorf("retries exhausted on %d wallet(s)", len(retryable))
		}

		next := make([]string, 0, len(retryable))
		for wallet := range retryable {
			next = append(next, wallet)
			// Refreshing the wallet makes the engine resync its nonce
			// before the resubmission.
			if err := o.sender.Send(ctx, engine.NewRefreshBalance(wallet, intent.Token)); err != nil {
				log.Printf("⚠️ Nonce resync request for %s failed: %v", wallet, err)
			}
		}
		remaining = next
		log.Printf("🔄 Retrying %s for %d wallet(s), attempt %d/%d",
			intent.Token, len(remaining), attempt+1, o.maxRetries)

		select {
		case <-time.After(o.retryBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ReportResult routes an engine-reported outcome to the waiting batch, if
// any. Results for trades this process did not dispatch are dropped.
func (o *Orchestrator) ReportResult(r WalletResult) {
	key := resultKey(r.Wallet, r.Token)
	o.mu.Lock()
	ch := o.inflight[key]
	o.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- r:
	default:
	}
}

func (o *Orchestrator) register(wallets []string, token string) chan WalletResult {
	ch := make(chan WalletResult, len(wallets))
	o.mu.Lock()
	for _, w := range wallets {
		o.inflight[resultKey(w, token)] = ch
	}
	o.mu.Unlock()
	return ch
}

func (o *Orchestrator) unregister(wallets []string, token string) {
	o.mu.Lock()
	for _, w := range wallets {
		delete(o.inflight, resultKey(w, token))
	}
	o.mu.Unlock()
}

// collect waits for every wallet's outcome or the result timeout. Wallets
// that never report come back as silent: the engine may have executed the
// trade and lost only the report, so resubmitting them would risk a
// duplicate. Only engine-reported retryable failures are safe to resend.
func (o *Orchestrator) collect(ctx context.Context, wallets []string, token string, results chan WalletResult) (retryable, fatal map[string]string, silent []string) {
	retryable = make(map[string]string)
	fatal = make(map[string]string)

	pending := make(map[string]bool, len(wallets))
	for _, w := range wallets {
		pending[strings.ToLower(w)] = true
	}

	timeout := time.NewTimer(o.resultWait)
	defer timeout.Stop()

	for len(pending) > 0 {
		select {
		case r := <-results:
			w := strings.ToLower(r.Wallet)
			if !pending[w] {
				continue
			}
			delete(pending, w)
			if r.Success {
				continue
			}
			if Classify(r.Message) == ClassRetryable {
				retryable[r.Wallet] = r.Message
			} else {
				fatal[r.Wallet] = r.Message
			}
		case <-timeout.C:
			for w := range pending {
				silent = append(silent, w)
			}
			return retryable, fatal, silent
		case <-ctx.Done():
			for w := range pending {
				silent = append(silent, w)
			}
			return retryable, fatal, silent
		}
	}
	return retryable, fatal, silent
}

// resolveWallets picks the participating wallets and, for sells, each
// wallet's exact contribution from its current cached balance. Zero-balance
// wallets are excluded from sells.
func (o *Orchestrator) resolveWallets(intent Intent) ([]string, map[string]string, error) {
	var candidates []state.Wallet
	if len(intent.Wallets) == 0 {
		candidates = o.store.EnabledWallets()
	} else {
		for _, addr := range intent.Wallets {
			w, ok := o.store.Wallet(addr)
			if !ok {
				return nil, nil, fmt.Errorf("%w: unknown wallet %s", ErrInvalidIntent, addr)
			}
			candidates = append(candidates, w)
		}
	}
	if len(candidates) == 0 {
		return nil, nil, ErrNoWallets
	}

	if intent.Action == ActionBuy {
		wallets := make([]string, 0, len(candidates))
		for _, w := range candidates {
			wallets = append(wallets, w.Address)
		}
		return wallets, nil, nil
	}

	// Sell: 100% of each wallet's current cached balance at dispatch time.
	wallets := make([]string, 0, len(candidates))
	amounts := make(map[string]string, len(candidates))
	for _, w := range candidates {
		bal := o.store.ExactBalance(w.Address, intent.Token)
		if bal.Sign() <= 0 {
			continue
		}
		wallets = append(wallets, w.Address)
		amounts[strings.ToLower(w.Address)] = bal.String()
	}
	if len(wallets) == 0 {
		return nil, nil, fmt.Errorf("%w: no wallet holds %s", ErrNoWallets, intent.Token)
	}
	return wallets, amounts, nil
}

func validateIntent(intent Intent) error {
	if intent.Action != ActionBuy && intent.Action != ActionSell {
		return fmt.Errorf("%w: action %q", ErrInvalidIntent, intent.Action)
	}
	if !common.IsHexAddress(intent.Token) {
		return fmt.Errorf("%w: token address %q", ErrInvalidIntent, intent.Token)
	}
	if !common.IsHexAddress(intent.QuoteToken) {
		return fmt.Errorf("%w: quote address %q", ErrInvalidIntent, intent.QuoteToken)
	}
	if intent.Action == ActionBuy && intent.Amount <= 0 {
		return fmt.Errorf("%w: amount %s", ErrInvalidIntent,
			strconv.FormatFloat(intent.Amount, 'f', -1, 64))
	}
	return nil
}

func equalAddr(a, b string) bool {
	return strings.EqualFold(a, b)
}

func resultKey(wallet, token string) string {
	return strings.ToLower(wallet) + "|" + strings.ToLower(token)
}
