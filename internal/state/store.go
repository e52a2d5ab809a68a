package state

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dexcore/pkg/db"
)

var (
	ErrWalletExists   = errors.New("wallet already exists")
	ErrWalletNotFound = errors.New("wallet not found")
)

// Cipher is the secret-handling surface the store needs from the vault.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(value string) (string, error)
}

// Wallet is the in-memory form of a signing identity: secret already
// decrypted, ready for command building.
type Wallet struct {
	Address string
	Secret  string
	Name    string
	Enabled bool
}

// Balance pairs the exact integer amount with its display-scaled value.
type Balance struct {
	Wei      *big.Int
	Decimals int
	Display  float64
}

// Position tracks accumulated acquisition cost and amount in smallest units.
type Position struct {
	CostWei   *big.Int
	AmountWei *big.Int
}

// PoolInfo is the cached liquidity-venue selection for a (token, quote) pair.
type PoolInfo struct {
	Token        string
	Quote        string
	PoolType     string
	Address      string
	Fee          uint32
	LiquidityUSD float64
	SpotPrice    float64
	TokenSymbol  string
	TokenName    string
	Errored      bool
	ErrorMsg     string
}

// Store is the authoritative in-memory cache for one trading session. Every
// mutation goes through its methods; accessors hand out copies only.
// Durable writes ride the async Writer and never block a mutation.
type Store struct {
	mu          sync.RWMutex
	wallets     map[string]*Wallet             // lower(address)
	balances    map[string]map[string]*Balance // lower(wallet) -> lower(token)
	positions   map[string]map[string]*Position
	pools       map[string]*PoolInfo // lower(token)|lower(quote)
	config      map[string]string
	walletLocks map[string]*sync.Mutex

	quotePrices       map[string]float64 // UPPER(symbol) -> USD
	activeTradeToken  string
	activeTradeAmount float64

	db     *db.Database
	cipher Cipher
	writer *Writer
}

func NewStore(database *db.Database, cipher Cipher, writer *Writer) *Store {
	return &Store{
		wallets:     make(map[string]*Wallet),
		balances:    make(map[string]map[string]*Balance),
		positions:   make(map[string]map[string]*Position),
		pools:       make(map[string]*PoolInfo),
		config:      make(map[string]string),
		walletLocks: make(map[string]*sync.Mutex),
		quotePrices: make(map[string]float64),
		db:          database,
		cipher:      cipher,
		writer:      writer,
	}
}

func poolKey(token, quote string) string {
	return strings.ToLower(token) + "|" + strings.ToLower(quote)
}

func displayValue(wei *big.Int, decimals int) float64 {
	return decimal.NewFromBigInt(wei, -int32(decimals)).InexactFloat64()
}

// ----------------------------------------
// Initialization and shutdown
// ----------------------------------------

// Initialize loads the session state from durable storage. A wallet whose
// secret fails to decrypt is skipped, not fatal. Cached zero balances are
// not restored.
func (s *Store) Initialize(ctx context.Context) error {
	wallets, err := s.db.ListWallets(ctx)
	if err != nil {
		return fmt.Errorf("load wallets: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range wallets {
		secret, err := s.cipher.Decrypt(w.PrivateKey)
		if err != nil {
			log.Printf("❌ Cannot decrypt secret for wallet %s, excluding it: %v", w.Address, err)
			continue
		}
		s.wallets[strings.ToLower(w.Address)] = &Wallet{
			Address: w.Address,
			Secret:  secret,
			Name:    w.Name,
			Enabled: w.Enabled,
		}
	}

	balances, err := s.db.ListCachedBalances(ctx)
	if err != nil {
		return fmt.Errorf("load balances: %w", err)
	}
	for _, b := range balances {
		wei, ok := new(big.Int).SetString(b.BalanceWei, 10)
		if !ok || wei.Sign() <= 0 {
			continue
		}
		s.setBalanceLocked(b.WalletAddress, b.TokenAddress, wei, b.Decimals)
	}

	positions, err := s.db.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	for _, p := range positions {
		cost, okC := new(big.Int).SetString(p.TotalCostWei, 10)
		amount, okA := new(big.Int).SetString(p.TotalAmountWei, 10)
		if !okC || !okA {
			log.Printf("⚠️ Skipping unparseable position %s/%s", p.WalletAddress, p.TokenAddress)
			continue
		}
		wallet := strings.ToLower(p.WalletAddress)
		if s.positions[wallet] == nil {
			s.positions[wallet] = make(map[string]*Position)
		}
		s.positions[wallet][strings.ToLower(p.TokenAddress)] = &Position{CostWei: cost, AmountWei: amount}
	}

	pools, err := s.db.ListCachedPools(ctx)
	if err != nil {
		return fmt.Errorf("load pools: %w", err)
	}
	for _, p := range pools {
		info, err := decodePool(p.TokenAddress, p.QuoteAddress, p.PoolData)
		if err != nil {
			log.Printf("⚠️ Skipping unparseable cached pool %s/%s", p.TokenAddress, p.QuoteAddress)
			continue
		}
		s.pools[poolKey(p.TokenAddress, p.QuoteAddress)] = &info
	}

	cfg, err := s.db.GetConfig(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	s.config = cfg

	log.Printf("✅ State loaded: %d wallets, %d cached balances, %d positions",
		len(s.wallets), len(balances), len(positions))
	return nil
}

// Flush writes every known positive balance synchronously. Orderly-shutdown
// convenience only; the per-operation async writes are the real mechanism.
func (s *Store) Flush(ctx context.Context) {
	s.mu.RLock()
	var rows []db.CachedBalance
	for wallet, tokens := range s.balances {
		for token, bal := range tokens {
			if bal.Wei.Sign() > 0 {
				rows = append(rows, db.CachedBalance{
					WalletAddress: wallet,
					TokenAddress:  token,
					BalanceWei:    bal.Wei.String(),
					Decimals:      bal.Decimals,
				})
			}
		}
	}
	s.mu.RUnlock()

	for _, row := range rows {
		if err := s.db.SaveCachedBalance(ctx, row); err != nil {
			log.Printf("💾 Flush of %s/%s failed: %v", row.WalletAddress, row.TokenAddress, err)
		}
	}
}

// ----------------------------------------
// Balances
// ----------------------------------------

// ExactBalance returns a copy of the stored amount, zero when untracked.
func (s *Store) ExactBalance(wallet, token string) *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if bal := s.balanceLocked(wallet, token); bal != nil {
		return new(big.Int).Set(bal.Wei)
	}
	return new(big.Int)
}

// BalanceOf returns the full balance entry (copy) and whether it exists.
func (s *Store) BalanceOf(wallet, token string) (Balance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if bal := s.balanceLocked(wallet, token); bal != nil {
		return Balance{Wei: new(big.Int).Set(bal.Wei), Decimals: bal.Decimals, Display: bal.Display}, true
	}
	return Balance{}, false
}

// SetBalance overwrites the exact amount and its derived display value
// together, then schedules the durable write (or delete at zero).
func (s *Store) SetBalance(wallet, token string, wei *big.Int, decimals int) {
	s.mu.Lock()
	s.setBalanceLocked(wallet, token, new(big.Int).Set(wei), decimals)
	s.mu.Unlock()
	s.persistBalance(wallet, token, wei, decimals)
}

// AddTokenBalance applies a delta; negative results clamp at zero.
func (s *Store) AddTokenBalance(wallet, token string, delta *big.Int, decimals int) *big.Int {
	s.mu.Lock()
	bal := s.balanceLocked(wallet, token)
	current := new(big.Int)
	if bal != nil {
		current.Set(bal.Wei)
		if decimals == 0 {
			decimals = bal.Decimals
		}
	}
	current.Add(current, delta)
	if current.Sign() < 0 {
		current.SetInt64(0)
	}
	s.setBalanceLocked(wallet, token, current, decimals)
	s.mu.Unlock()

	s.persistBalance(wallet, token, current, decimals)
	return new(big.Int).Set(current)
}

// SubtractTokenBalance is AddTokenBalance with the delta negated.
func (s *Store) SubtractTokenBalance(wallet, token string, delta *big.Int, decimals int) *big.Int {
	return s.AddTokenBalance(wallet, token, new(big.Int).Neg(delta), decimals)
}

// WalletBalances returns a copy of every tracked balance for one wallet.
func (s *Store) WalletBalances(wallet string) map[string]Balance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Balance)
	for token, bal := range s.balances[strings.ToLower(wallet)] {
		out[token] = Balance{Wei: new(big.Int).Set(bal.Wei), Decimals: bal.Decimals, Display: bal.Display}
	}
	return out
}

// TrackedTokens lists every token any wallet holds a balance in.
func (s *Store) TrackedTokens() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, tokens := range s.balances {
		for token := range tokens {
			if !seen[token] {
				seen[token] = true
				out = append(out, token)
			}
		}
	}
	return out
}

func (s *Store) balanceLocked(wallet, token string) *Balance {
	return s.balances[strings.ToLower(wallet)][strings.ToLower(token)]
}

func (s *Store) setBalanceLocked(wallet, token string, wei *big.Int, decimals int) {
	w, t := strings.ToLower(wallet), strings.ToLower(token)
	if s.balances[w] == nil {
		s.balances[w] = make(map[string]*Balance)
	}
	s.balances[w][t] = &Balance{Wei: wei, Decimals: decimals, Display: displayValue(wei, decimals)}
}

func (s *Store) persistBalance(wallet, token string, wei *big.Int, decimals int) {
	w, t := strings.ToLower(wallet), strings.ToLower(token)
	if wei.Sign() > 0 {
		row := db.CachedBalance{WalletAddress: w, TokenAddress: t, BalanceWei: wei.String(), Decimals: decimals}
		s.writer.Enqueue("balance save", func(ctx context.Context) error {
			return s.db.SaveCachedBalance(ctx, row)
		})
	} else {
		s.writer.Enqueue("balance delete", func(ctx context.Context) error {
			return s.db.DeleteCachedBalance(ctx, w, t)
		})
	}
}

// ----------------------------------------
// Positions
// ----------------------------------------

// Position returns a copy; a missing entry reads as zero.
func (s *Store) Position(wallet, token string) Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p := s.positions[strings.ToLower(wallet)][strings.ToLower(token)]; p != nil {
		return Position{CostWei: new(big.Int).Set(p.CostWei), AmountWei: new(big.Int).Set(p.AmountWei)}
	}
	return Position{CostWei: new(big.Int), AmountWei: new(big.Int)}
}

// UpdatePosition accumulates a confirmed acquisition. The durable write
// carries the full post-update totals so replayed writes converge.
func (s *Store) UpdatePosition(wallet, token string, addedCost, addedAmount *big.Int) Position {
	w, t := strings.ToLower(wallet), strings.ToLower(token)

	s.mu.Lock()
	if s.positions[w] == nil {
		s.positions[w] = make(map[string]*Position)
	}
	p := s.positions[w][t]
	if p == nil {
		p = &Position{CostWei: new(big.Int), AmountWei: new(big.Int)}
		s.positions[w][t] = p
	}
	p.CostWei.Add(p.CostWei, addedCost)
	p.AmountWei.Add(p.AmountWei, addedAmount)
	totalCost := p.CostWei.String()
	totalAmount := p.AmountWei.String()
	s.mu.Unlock()

	s.writer.Enqueue("position save", func(ctx context.Context) error {
		return s.db.SavePosition(ctx, db.Position{
			WalletAddress:  w,
			TokenAddress:   t,
			TotalCostWei:   totalCost,
			TotalAmountWei: totalAmount,
		})
	})

	cost, _ := new(big.Int).SetString(totalCost, 10)
	amount, _ := new(big.Int).SetString(totalAmount, 10)
	return Position{CostWei: cost, AmountWei: amount}
}

// ClosePosition removes the entry atomically and schedules durable deletion.
// A later UpdatePosition starts fresh from zero.
func (s *Store) ClosePosition(wallet, token string) {
	w, t := strings.ToLower(wallet), strings.ToLower(token)

	s.mu.Lock()
	delete(s.positions[w], t)
	s.mu.Unlock()

	s.writer.Enqueue("position delete", func(ctx context.Context) error {
		return s.db.DeletePosition(ctx, w, t)
	})
}

// Positions returns a copy of every open position keyed wallet -> token.
func (s *Store) Positions() map[string]map[string]Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]map[string]Position)
	for wallet, tokens := range s.positions {
		inner := make(map[string]Position, len(tokens))
		for token, p := range tokens {
			inner[token] = Position{CostWei: new(big.Int).Set(p.CostWei), AmountWei: new(big.Int).Set(p.AmountWei)}
		}
		out[wallet] = inner
	}
	return out
}

// ----------------------------------------
// Pool selections
// ----------------------------------------

// BestPool returns the cached venue for the pair, if any.
func (s *Store) BestPool(token, quote string) (PoolInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p := s.pools[poolKey(token, quote)]; p != nil {
		return *p, true
	}
	return PoolInfo{}, false
}

// SetBestPool replaces the cached venue outright. Freshness is explicit
// replacement, not TTL.
func (s *Store) SetBestPool(info PoolInfo) {
	key := poolKey(info.Token, info.Quote)
	s.mu.Lock()
	copied := info
	s.pools[key] = &copied
	s.mu.Unlock()

	if info.Errored {
		return
	}
	row := db.CachedPool{
		TokenAddress: strings.ToLower(info.Token),
		QuoteAddress: strings.ToLower(info.Quote),
		PoolData:     encodePool(info),
	}
	s.writer.Enqueue("pool save", func(ctx context.Context) error {
		return s.db.SaveCachedPool(ctx, row)
	})
}

// SetPoolError marks the pair as errored so the orchestrator rejects trades
// against it until a fresh detection replaces the entry.
func (s *Store) SetPoolError(token, quote, msg string) {
	key := poolKey(token, quote)
	s.mu.Lock()
	s.pools[key] = &PoolInfo{
		Token:    strings.ToLower(token),
		Quote:    strings.ToLower(quote),
		Errored:  true,
		ErrorMsg: msg,
	}
	s.mu.Unlock()
}

// ClearPool drops the cached venue for the pair, in memory and durably.
func (s *Store) ClearPool(token, quote string) {
	key := poolKey(token, quote)
	s.mu.Lock()
	delete(s.pools, key)
	s.mu.Unlock()

	tok, quo := strings.ToLower(token), strings.ToLower(quote)
	s.writer.Enqueue("pool delete", func(ctx context.Context) error {
		return s.db.DeleteCachedPool(ctx, tok, quo)
	})
}

// ----------------------------------------
// Wallets
// ----------------------------------------

// WalletLock returns the exclusive lock for one wallet, creating it under
// the store lock so lock creation itself cannot race.
func (s *Store) WalletLock(address string) *sync.Mutex {
	key := strings.ToLower(address)
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.walletLocks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.walletLocks[key] = l
	return l
}

// Wallets returns copies of every loaded wallet.
func (s *Store) Wallets() []Wallet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Wallet, 0, len(s.wallets))
	for _, w := range s.wallets {
		out = append(out, *w)
	}
	return out
}

// EnabledWallets returns copies of wallets eligible for trading.
func (s *Store) EnabledWallets() []Wallet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Wallet, 0, len(s.wallets))
	for _, w := range s.wallets {
		if w.Enabled {
			out = append(out, *w)
		}
	}
	return out
}

// Wallet returns a copy by address.
func (s *Store) Wallet(address string) (Wallet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if w, ok := s.wallets[strings.ToLower(address)]; ok {
		return *w, true
	}
	return Wallet{}, false
}

// AddWallet registers a new wallet: encrypts the secret, persists it
// synchronously (a lost wallet row is not acceptable), then admits it to the
// in-memory set.
func (s *Store) AddWallet(ctx context.Context, address, secret, name string) error {
	key := strings.ToLower(address)

	s.mu.Lock()
	if _, ok := s.wallets[key]; ok {
		s.mu.Unlock()
		return ErrWalletExists
	}
	s.mu.Unlock()

	encrypted, err := s.cipher.Encrypt(secret)
	if err != nil {
		return fmt.Errorf("encrypt wallet secret: %w", err)
	}
	if err := s.db.AddWallet(ctx, db.Wallet{
		Address:    address,
		PrivateKey: encrypted,
		Name:       name,
		Enabled:    true,
	}); err != nil {
		return err
	}

	s.mu.Lock()
	s.wallets[key] = &Wallet{Address: address, Secret: secret, Name: name, Enabled: true}
	s.mu.Unlock()
	return nil
}

// UpdateWallet patches name and/or enabled, in memory and durably.
func (s *Store) UpdateWallet(ctx context.Context, address string, name *string, enabled *bool) error {
	key := strings.ToLower(address)

	s.mu.Lock()
	w, ok := s.wallets[key]
	if !ok {
		s.mu.Unlock()
		return ErrWalletNotFound
	}
	if name != nil {
		w.Name = *name
	}
	if enabled != nil {
		w.Enabled = *enabled
	}
	s.mu.Unlock()

	return s.db.UpdateWallet(ctx, address, name, enabled)
}

// DeleteWallet purges the wallet and everything keyed to it: balances,
// positions, and its lock.
func (s *Store) DeleteWallet(ctx context.Context, address string) error {
	key := strings.ToLower(address)

	s.mu.Lock()
	if _, ok := s.wallets[key]; !ok {
		s.mu.Unlock()
		return ErrWalletNotFound
	}
	delete(s.wallets, key)
	delete(s.balances, key)
	delete(s.positions, key)
	delete(s.walletLocks, key)
	s.mu.Unlock()

	return s.db.DeleteWallet(ctx, address)
}

// ----------------------------------------
// Configuration
// ----------------------------------------

// ConfigValue returns one setting, or the fallback when unset.
func (s *Store) ConfigValue(key, fallback string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.config[key]; ok && v != "" {
		return v
	}
	return fallback
}

// ConfigSnapshot returns a copy of all settings.
func (s *Store) ConfigSnapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.config))
	for k, v := range s.config {
		out[k] = v
	}
	return out
}

// UpdateConfig applies settings to memory and durable storage together;
// the durable write is synchronous because settings must survive restarts.
func (s *Store) UpdateConfig(ctx context.Context, updates map[string]string) error {
	if err := s.db.UpdateConfig(ctx, updates); err != nil {
		return err
	}
	s.mu.Lock()
	for k, v := range updates {
		s.config[k] = v
	}
	s.mu.Unlock()
	return nil
}

// ----------------------------------------
// Session scratch: quote prices and the in-flight trade
// ----------------------------------------

// SetQuotePrice caches the USD price for a quote symbol.
func (s *Store) SetQuotePrice(symbol string, usd float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotePrices[strings.ToUpper(symbol)] = usd
}

// QuotePrice looks up the USD price for a quote symbol. Wrapped symbols
// fall back to the underlying: WETH reads the ETH price.
func (s *Store) QuotePrice(symbol string) (float64, bool) {
	key := strings.ToUpper(symbol)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.quotePrices[key]; ok {
		return p, true
	}
	if strings.HasPrefix(key, "W") {
		if p, ok := s.quotePrices[key[1:]]; ok {
			return p, true
		}
	}
	return 0, false
}

// SetActiveTrade marks the trade currently being dispatched, for the
// surface's status view. Empty token clears it.
func (s *Store) SetActiveTrade(token string, amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeTradeToken = token
	s.activeTradeAmount = amount
}

// ActiveTrade returns the in-flight trade token and amount, if any.
func (s *Store) ActiveTrade() (string, float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeTradeToken, s.activeTradeAmount
}

// ----------------------------------------

// RecordTrade notes the token in trade history for the surface.
func (s *Store) RecordTrade(token, name, symbol string) {
	s.writer.Enqueue("recent token", func(ctx context.Context) error {
		return s.db.UpsertRecentToken(ctx, token, name, symbol)
	})
}

// RecentTokens lists the trade-history tokens, newest first.
func (s *Store) RecentTokens(ctx context.Context, limit int) ([]db.RecentToken, error) {
	return s.db.ListRecentTokens(ctx, limit)
}

// CloseWriter drains the pending durable writes at shutdown.
func (s *Store) CloseWriter(timeout time.Duration) {
	s.writer.Close(timeout)
}
