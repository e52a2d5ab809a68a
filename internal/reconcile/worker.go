package reconcile

import (
	"context"
	"log"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dexcore/internal/engine"
	"dexcore/internal/events"
	"dexcore/internal/state"
	"dexcore/internal/trade"
)

// quoteDecimals is the scale used to turn a reported quote-token cost into
// smallest units. The quote side is the wrapped native or a stable, both 18.
const quoteDecimals = 18

// Sender is the outbound half of the engine channel.
type Sender interface {
	Send(ctx context.Context, cmd engine.Command) error
}

// ResultSink receives routed per-wallet trade outcomes.
type ResultSink interface {
	ReportResult(r trade.WalletResult)
}

// EventCounter tallies consumed engine events for the status surface.
type EventCounter interface {
	RecordEngineEvent()
}

// Worker applies engine events to the state store, in arrival order, and
// manages the engine-side profit/loss tracker lifecycle per position.
type Worker struct {
	store    *state.Store
	sender   Sender
	bus      *events.Bus
	results  ResultSink
	receipts *ReceiptWatcher // nil when no receipt source is configured
	counter  EventCounter    // nil disables counting
	chain    *ChainReader    // nil disables on-chain balance reads

	mu        sync.Mutex
	trackers  map[string]bool // lower(wallet)|lower(token) -> tracker started
	gasGwei   float64
	connected bool

	restoreEvery time.Duration
	pollEvery    time.Duration
}

func NewWorker(store *state.Store, sender Sender, bus *events.Bus, results ResultSink, receipts *ReceiptWatcher) *Worker {
	return &Worker{
		store:        store,
		sender:       sender,
		bus:          bus,
		results:      results,
		receipts:     receipts,
		trackers:     make(map[string]bool),
		restoreEvery: 10 * time.Second,
		pollEvery:    60 * time.Second,
	}
}

// CountEvents attaches a counter for consumed engine events.
func (w *Worker) CountEvents(c EventCounter) {
	w.counter = c
}

// ReadChain attaches an on-chain balance reader. Each poll sweep then
// cross-checks cached balances against balanceOf reads.
func (w *Worker) ReadChain(c *ChainReader) {
	w.chain = c
}

// GasPriceGwei returns the last engine-reported gas price.
func (w *Worker) GasPriceGwei() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.gasGwei
}

// EngineConnected reports the last known engine link state.
func (w *Worker) EngineConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

// Run consumes the event stream until it closes or ctx is cancelled. A
// second goroutine periodically restores trackers for open positions.
func (w *Worker) Run(ctx context.Context, stream <-chan engine.Event) {
	restoreCtx, cancelRestore := context.WithCancel(ctx)
	defer cancelRestore()
	go w.restoreLoop(restoreCtx)
	go w.pollLoop(restoreCtx)

	for {
		select {
		case ev, open := <-stream:
			if !open {
				return
			}
			w.apply(ctx, ev)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) apply(ctx context.Context, ev engine.Event) {
	if w.counter != nil {
		w.counter.RecordEngineEvent()
	}
	switch e := ev.(type) {
	case engine.EngineReady:
		log.Printf("✅ Engine ready")
		w.setConnected(true, "engine ready")

	case engine.ConnectionStatus:
		w.setConnected(e.Connected, e.Message)

	case engine.RPCError:
		if e.Critical {
			w.bus.Publish(events.TopicNotification, "RPC failure: "+e.Error)
		}
		log.Printf("⚠️ RPC %s: %s", e.RPCURL, e.Error)

	case engine.RPCStatus:
		// Health probes are informational only.

	case engine.GasPriceUpdate:
		w.mu.Lock()
		w.gasGwei = e.GasPriceGwei
		w.mu.Unlock()
		w.bus.Publish(events.TopicGas, e.GasPriceGwei)

	case engine.BalanceUpdate:
		w.applyAuthoritativeBalance(e)

	case engine.PoolDetected:
		w.store.SetBestPool(state.PoolInfo{
			Token:        e.Token,
			Quote:        e.Quote,
			PoolType:     e.PoolType,
			Address:      e.Address,
			Fee:          e.Fee,
			LiquidityUSD: e.LiquidityUSD,
			SpotPrice:    e.SpotPrice,
			TokenSymbol:  e.TokenSymbol,
			TokenName:    e.TokenName,
		})
		w.bus.Publish(events.TopicPool, e)

	case engine.PoolError:
		w.store.SetPoolError(e.Token, e.Quote, e.Error)
		w.bus.Publish(events.TopicPool, e)

	case engine.PoolUpdate:
		if pool, ok := w.store.BestPool(e.Token, e.Quote); ok && !pool.Errored {
			if e.SpotPrice != nil {
				pool.SpotPrice = *e.SpotPrice
			}
			if e.LiquidityUSD != nil {
				pool.LiquidityUSD = *e.LiquidityUSD
			}
			w.store.SetBestPool(pool)
		}
		w.bus.Publish(events.TopicPool, e)

	case engine.PoolNotFound:
		w.bus.Publish(events.TopicNotification,
			"No pool found for "+e.Token+" against "+e.SelectedQuote)

	case engine.ImpactUpdate:
		w.bus.Publish(events.TopicPool, e)

	case engine.TxSent:
		w.bus.Publish(events.TopicTrade, e)
		if w.receipts != nil {
			go w.receipts.Watch(ctx, e, w)
		}

	case engine.TxConfirmed:
		w.bus.Publish(events.TopicTrade, e)
		if e.Status == "failed" {
			w.bus.Publish(events.TopicNotification, "Transaction "+e.TxHash+" failed on-chain")
		}

	case engine.TradeStatus:
		w.applyTradeStatus(ctx, e)

	case engine.AutoFuelError:
		w.bus.Publish(events.TopicNotification, "Auto-refuel failed: "+e.Reason)

	case engine.LogEvent:
		w.bus.Publish(events.TopicLog, e)

	case engine.PnlUpdate:
		w.bus.Publish(events.TopicPnl, e)

	case engine.UnknownEvent:
		log.Printf("⚠️ Unrecognized engine event %q ignored", e.Type)
	}
}

// applyAuthoritativeBalance overwrites the cache outright: a push from the
// engine is the freshest possible source, so zero is allowed to win here.
func (w *Worker) applyAuthoritativeBalance(e engine.BalanceUpdate) {
	wei, ok := new(big.Int).SetString(e.Wei, 10)
	if !ok {
		log.Printf("⚠️ Unparseable balance push for %s/%s: %q", e.Wallet, e.Token, e.Wei)
		return
	}
	decimals, ok := inferDecimals(wei, e.FloatVal)
	if !ok {
		// A zero push carries no usable wei/display ratio. Keep the
		// decimals already learned for this token so later credits
		// derive the right display value.
		if cached, exists := w.store.BalanceOf(e.Wallet, e.Token); exists {
			decimals = cached.Decimals
		}
	}
	w.store.SetBalance(e.Wallet, e.Token, wei, decimals)
	w.bus.Publish(events.TopicBalance, e)
}

// ObserveBalance applies a balance read from a slower source (receipt scan,
// periodic poll). A zero here never overwrites a cached positive value:
// only an authoritative push may zero a balance out.
func (w *Worker) ObserveBalance(wallet, token string, wei *big.Int, decimals int) {
	if wei.Sign() == 0 {
		if current := w.store.ExactBalance(wallet, token); current.Sign() > 0 {
			return
		}
	}
	w.store.SetBalance(wallet, token, wei, decimals)
	w.bus.Publish(events.TopicBalance, engine.BalanceUpdate{
		Wallet: wallet, Token: token, Wei: wei.String(),
	})
}

// CreditObserved adds tokens seen arriving in a receipt log ahead of the
// slower polling path.
func (w *Worker) CreditObserved(wallet, token string, wei *big.Int) {
	if wei.Sign() <= 0 {
		return
	}
	newBal := w.store.AddTokenBalance(wallet, token, wei, 0)
	w.bus.Publish(events.TopicBalance, engine.BalanceUpdate{
		Wallet: wallet, Token: token, Wei: newBal.String(),
	})
}

func (w *Worker) applyTradeStatus(ctx context.Context, e engine.TradeStatus) {
	success := e.Status == "success"
	w.results.ReportResult(trade.WalletResult{
		Wallet:  e.Wallet,
		Token:   e.TokenAddress,
		Success: success,
		Message: e.Message,
	})
	w.bus.Publish(events.TopicTrade, e)

	switch {
	case success && e.Action == "buy":
		w.settleBuy(ctx, e)
	case success && e.Action == "sell":
		w.settleSell(ctx, e)
	case !success && e.Action == "sell" && e.TokensSold != nil:
		// The engine debited the tokens provisionally before the sale
		// failed; credit them back so the cache matches the chain.
		if debited, ok := new(big.Int).SetString(*e.TokensSold, 10); ok {
			w.store.AddTokenBalance(e.Wallet, e.TokenAddress, debited, e.TokenDecimals)
			log.Printf("🔄 Credited %s back to %s after failed sell", debited, e.Wallet)
		}
	default:
		log.Printf("❌ Trade %s failed for %s: %s", e.Action, e.Wallet, e.Message)
	}
}

func (w *Worker) settleBuy(ctx context.Context, e engine.TradeStatus) {
	if e.TokensReceived == nil {
		return
	}
	received, ok := new(big.Int).SetString(*e.TokensReceived, 10)
	if !ok || received.Sign() <= 0 {
		return
	}

	w.store.AddTokenBalance(e.Wallet, e.TokenAddress, received, e.TokenDecimals)

	cost := decimal.NewFromFloat(e.Amount).Shift(quoteDecimals).BigInt()
	pos := w.store.UpdatePosition(e.Wallet, e.TokenAddress, cost, received)

	w.startTracker(ctx, e.Wallet, e.TokenAddress, pos)
}

func (w *Worker) settleSell(ctx context.Context, e engine.TradeStatus) {
	if e.TokensSold != nil {
		if sold, ok := new(big.Int).SetString(*e.TokensSold, 10); ok {
			w.store.SubtractTokenBalance(e.Wallet, e.TokenAddress, sold, e.TokenDecimals)
		}
	}
	// A sale is always a full exit: close rather than subtract.
	w.store.ClosePosition(e.Wallet, e.TokenAddress)
	w.stopTracker(ctx, e.Wallet, e.TokenAddress)
}

// startTracker starts the engine-side PnL tracker at most once per
// (wallet, token).
func (w *Worker) startTracker(ctx context.Context, wallet, token string, pos state.Position) {
	key := trackerKey(wallet, token)
	w.mu.Lock()
	if w.trackers[key] {
		w.mu.Unlock()
		return
	}
	w.trackers[key] = true
	w.mu.Unlock()

	cmd := engine.NewStartPnlTracker(wallet, token, pos.CostWei.String(), pos.AmountWei.String())
	if err := w.sender.Send(ctx, cmd); err != nil {
		log.Printf("⚠️ Failed to start PnL tracker for %s/%s: %v", wallet, token, err)
		w.mu.Lock()
		delete(w.trackers, key)
		w.mu.Unlock()
	}
}

// stopTracker stops the tracker exactly once.
func (w *Worker) stopTracker(ctx context.Context, wallet, token string) {
	key := trackerKey(wallet, token)
	w.mu.Lock()
	started := w.trackers[key]
	delete(w.trackers, key)
	w.mu.Unlock()
	if !started {
		return
	}
	if err := w.sender.Send(ctx, engine.NewStopPnlTracker(wallet, token)); err != nil {
		log.Printf("⚠️ Failed to stop PnL tracker for %s/%s: %v", wallet, token, err)
	}
}

// restoreLoop re-arms trackers for positions that exist without one, e.g.
// positions restored from durable storage at startup.
func (w *Worker) restoreLoop(ctx context.Context) {
	ticker := time.NewTicker(w.restoreEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.restoreTrackers(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) restoreTrackers(ctx context.Context) {
	for wallet, tokens := range w.store.Positions() {
		for token, pos := range tokens {
			if pos.AmountWei.Sign() <= 0 {
				continue
			}
			w.mu.Lock()
			started := w.trackers[trackerKey(wallet, token)]
			w.mu.Unlock()
			if !started {
				w.startTracker(ctx, wallet, token, pos)
			}
		}
	}
}

// pollLoop periodically asks the engine for a full balance sweep so slow
// drift is corrected even without trade activity, and cross-checks the
// cache against direct balanceOf reads when a chain reader is attached.
func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if w.EngineConnected() {
				if err := w.sender.Send(ctx, engine.NewRefreshAllBalances()); err != nil {
					log.Printf("⚠️ Balance sweep request failed: %v", err)
				}
			}
			w.sweepChainBalances(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// sweepChainBalances reads balanceOf for every enabled wallet and tracked
// token and applies the reads through the observed path, where a zero from
// a lagging node cannot clobber a cached positive balance.
func (w *Worker) sweepChainBalances(ctx context.Context) {
	if w.chain == nil {
		return
	}
	tokens := w.store.TrackedTokens()
	if len(tokens) == 0 {
		return
	}
	for _, wallet := range w.store.EnabledWallets() {
		for _, token := range tokens {
			wei, err := w.chain.TokenBalance(ctx, wallet.Address, token)
			if err != nil {
				log.Printf("⚠️ On-chain balance read failed for %s/%s: %v", wallet.Address, token, err)
				continue
			}
			decimals := 18
			if cached, ok := w.store.BalanceOf(wallet.Address, token); ok {
				decimals = cached.Decimals
			}
			w.ObserveBalance(wallet.Address, token, wei, decimals)
		}
	}
}

func (w *Worker) setConnected(connected bool, message string) {
	w.mu.Lock()
	w.connected = connected
	w.mu.Unlock()
	w.bus.Publish(events.TopicConnection, engine.ConnectionStatus{Connected: connected, Message: message})
	if !connected {
		log.Printf("❌ Engine link down: %s", message)
	}
}

func trackerKey(wallet, token string) string {
	return strings.ToLower(wallet) + "|" + strings.ToLower(token)
}

// inferDecimals guesses the token scale from the exact and display values
// when the push does not carry decimals explicitly. The second return is
// false when the pair admits no inference (zero or mismatched values); the
// caller decides the fallback then.
func inferDecimals(wei *big.Int, floatVal float64) (int, bool) {
	if wei.Sign() <= 0 || floatVal <= 0 {
		return 18, false
	}
	for d := 0; d <= 24; d++ {
		display := decimal.NewFromBigInt(wei, -int32(d)).InexactFloat64()
		if display == 0 {
			continue
		}
		ratio := display / floatVal
		if ratio > 0.999 && ratio < 1.001 {
			return d, true
		}
	}
	return 18, false
}
