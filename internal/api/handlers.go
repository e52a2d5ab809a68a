package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"dexcore/internal/engine"
	"dexcore/internal/events"
	"dexcore/internal/trade"
)

var errMissingField = errors.New("missing required field")

// handler is one envelope command implementation.
type handler func(ctx context.Context, data json.RawMessage) (any, error)

func (s *Server) handlers() map[string]handler {
	return map[string]handler{
		"trade.execute":     s.cmdTradeExecute,
		"wallet.add":        s.cmdWalletAdd,
		"wallet.list":       s.cmdWalletList,
		"wallet.update":     s.cmdWalletUpdate,
		"wallet.delete":     s.cmdWalletDelete,
		"config.get":        s.cmdConfigGet,
		"config.update":     s.cmdConfigUpdate,
		"pool.get":          s.cmdPoolGet,
		"pool.clear":        s.cmdPoolClear,
		"token.switch":      s.cmdTokenSwitch,
		"token.unsubscribe": s.cmdTokenUnsubscribe,
		"tokens.recent":     s.cmdTokensRecent,
		"price.update":      s.cmdPriceUpdate,
		"token.decimals":    s.cmdTokenDecimals,
		"impact.calc":       s.cmdImpactCalc,
		"balance.refresh":   s.cmdBalanceRefresh,
		"positions.list":    s.cmdPositionsList,
		"system.status":     s.cmdSystemStatus,
		"system.networks":   s.cmdSystemNetworks,
		"system.shutdown":   s.cmdSystemShutdown,
	}
}

// ----------------------------------------
// Trading
// ----------------------------------------

func (s *Server) cmdTradeExecute(ctx context.Context, data json.RawMessage) (any, error) {
	var req struct {
		Action     string   `json:"action"`
		Token      string   `json:"token"`
		QuoteToken string   `json:"quoteToken"`
		Amount     float64  `json:"amount"`
		Wallets    []string `json:"wallets"`
		Slippage   *float64 `json:"slippage"`
		GasGwei    *float64 `json:"gasGwei"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode trade request: %w", err)
	}

	slippage := s.configFloat("slippage", 15.0)
	if req.Slippage != nil {
		slippage = *req.Slippage
	}
	gas := s.worker.GasPriceGwei()
	if req.GasGwei != nil {
		gas = *req.GasGwei
	}

	intent := trade.Intent{
		Action:      trade.Action(strings.ToLower(req.Action)),
		Token:       req.Token,
		QuoteToken:  req.QuoteToken,
		Amount:      req.Amount,
		Wallets:     req.Wallets,
		SlippagePct: slippage,
		GasGwei:     gas,
	}
	if err := s.orch.Submit(intent); err != nil {
		return nil, err
	}
	s.metrics.RecordTradeAccepted()
	return map[string]any{"queued": true}, nil
}

// ----------------------------------------
// Wallets
// ----------------------------------------

func (s *Server) cmdWalletAdd(ctx context.Context, data json.RawMessage) (any, error) {
	var req struct {
		PrivateKey string `json:"privateKey"`
		Name       string `json:"name"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode wallet request: %w", err)
	}
	if req.PrivateKey == "" {
		return nil, fmt.Errorf("%w: privateKey", errMissingField)
	}

	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(req.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	address := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()

	if req.Name == "" {
		req.Name = "Wallet " + address[:8]
	}
	if err := s.store.AddWallet(ctx, address, req.PrivateKey, req.Name); err != nil {
		return nil, err
	}

	// Register the new signer with the engine; its balances will arrive as
	// pushes.
	if err := s.sender.Send(ctx, engine.NewAddWallet(address, req.PrivateKey)); err != nil {
		return nil, fmt.Errorf("wallet stored but engine registration failed: %w", err)
	}
	return map[string]string{"address": address}, nil
}

type walletView struct {
	Address  string             `json:"address"`
	Name     string             `json:"name"`
	Enabled  bool               `json:"enabled"`
	Balances map[string]float64 `json:"balances"`
}

func (s *Server) cmdWalletList(ctx context.Context, _ json.RawMessage) (any, error) {
	wallets := s.store.Wallets()
	views := make([]walletView, 0, len(wallets))
	for _, w := range wallets {
		balances := make(map[string]float64)
		for token, bal := range s.store.WalletBalances(w.Address) {
			balances[token] = bal.Display
		}
		// Secrets never leave the process.
		views = append(views, walletView{
			Address:  w.Address,
			Name:     w.Name,
			Enabled:  w.Enabled,
			Balances: balances,
		})
	}
	return views, nil
}

func (s *Server) cmdWalletUpdate(ctx context.Context, data json.RawMessage) (any, error) {
	var req struct {
		Address string  `json:"address"`
		Name    *string `json:"name"`
		Enabled *bool   `json:"enabled"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode wallet update: %w", err)
	}
	if req.Address == "" {
		return nil, fmt.Errorf("%w: address", errMissingField)
	}
	if err := s.store.UpdateWallet(ctx, req.Address, req.Name, req.Enabled); err != nil {
		return nil, err
	}
	return map[string]bool{"updated": true}, nil
}

func (s *Server) cmdWalletDelete(ctx context.Context, data json.RawMessage) (any, error) {
	var req struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode wallet delete: %w", err)
	}
	if req.Address == "" {
		return nil, fmt.Errorf("%w: address", errMissingField)
	}
	if err := s.store.DeleteWallet(ctx, req.Address); err != nil {
		return nil, err
	}
	return map[string]bool{"deleted": true}, nil
}

// ----------------------------------------
// Configuration
// ----------------------------------------

func (s *Server) cmdConfigGet(ctx context.Context, _ json.RawMessage) (any, error) {
	return s.store.ConfigSnapshot(), nil
}

func (s *Server) cmdConfigUpdate(ctx context.Context, data json.RawMessage) (any, error) {
	var updates map[string]string
	if err := json.Unmarshal(data, &updates); err != nil {
		return nil, fmt.Errorf("decode config update: %w", err)
	}
	if len(updates) == 0 {
		return nil, fmt.Errorf("%w: no settings given", errMissingField)
	}
	if err := s.store.UpdateConfig(ctx, updates); err != nil {
		return nil, err
	}

	// Forward the engine-relevant subset.
	payload := engine.UpdateSettingsPayload{}
	changed := false
	if v, ok := updates["slippage"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			payload.Slippage = &f
			changed = true
		}
	}
	if v, ok := updates["gas_price_gwei"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			payload.GasPriceGwei = &f
			changed = true
		}
	}
	if v, ok := updates["rpc_url"]; ok {
		payload.RPCURL = &v
		changed = true
	}
	if v, ok := updates["wss_url"]; ok {
		payload.WSSURL = &v
		changed = true
	}
	if v, ok := updates["quote_symbol"]; ok {
		payload.QuoteSymbol = &v
		changed = true
	}
	if v, ok := updates["fuel_enabled"]; ok {
		b := v == "true" || v == "1"
		payload.FuelEnabled = &b
		changed = true
	}
	if changed {
		if err := s.sender.Send(ctx, engine.NewUpdateSettings(payload)); err != nil {
			return nil, fmt.Errorf("settings stored but engine push failed: %w", err)
		}
	}

	s.bus.Publish(events.TopicConfig, updates)
	return map[string]bool{"updated": true}, nil
}

// ----------------------------------------
// Pools and tokens
// ----------------------------------------

func (s *Server) cmdPoolGet(ctx context.Context, data json.RawMessage) (any, error) {
	var req struct {
		Token string `json:"token"`
		Quote string `json:"quote"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode pool request: %w", err)
	}
	pool, ok := s.store.BestPool(req.Token, req.Quote)
	if !ok {
		return nil, fmt.Errorf("no pool cached for %s/%s", req.Token, req.Quote)
	}
	return pool, nil
}

// cmdPoolClear drops a cached venue so the next switch forces rediscovery.
func (s *Server) cmdPoolClear(ctx context.Context, data json.RawMessage) (any, error) {
	var req struct {
		Token string `json:"token"`
		Quote string `json:"quote"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode pool clear: %w", err)
	}
	if req.Token == "" || req.Quote == "" {
		return nil, fmt.Errorf("%w: token and quote", errMissingField)
	}
	s.store.ClearPool(req.Token, req.Quote)
	return map[string]bool{"cleared": true}, nil
}

func (s *Server) cmdTokenSwitch(ctx context.Context, data json.RawMessage) (any, error) {
	var req struct {
		Token       string `json:"token"`
		Quote       string `json:"quote"`
		QuoteSymbol string `json:"quoteSymbol"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode token switch: %w", err)
	}
	if req.Token == "" || req.Quote == "" {
		return nil, fmt.Errorf("%w: token and quote", errMissingField)
	}
	if err := s.sender.Send(ctx, engine.NewSwitchToken(req.Token, req.Quote, req.QuoteSymbol)); err != nil {
		return nil, err
	}
	// Return the cached pool immediately when one exists; discovery events
	// will refresh it.
	if pool, ok := s.store.BestPool(req.Token, req.Quote); ok {
		return pool, nil
	}
	return map[string]bool{"discovering": true}, nil
}

func (s *Server) cmdTokenUnsubscribe(ctx context.Context, data json.RawMessage) (any, error) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode token unsubscribe: %w", err)
	}
	if err := s.sender.Send(ctx, engine.NewUnsubscribeToken(req.Token)); err != nil {
		return nil, err
	}
	return map[string]bool{"unsubscribed": true}, nil
}

func (s *Server) cmdTokensRecent(ctx context.Context, _ json.RawMessage) (any, error) {
	return s.store.RecentTokens(ctx, 20)
}

// cmdPriceUpdate forwards an externally-ingested quote price to the engine;
// the feed itself lives outside this process.
func (s *Server) cmdPriceUpdate(ctx context.Context, data json.RawMessage) (any, error) {
	var req struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode price update: %w", err)
	}
	if req.Symbol == "" || req.Price <= 0 {
		return nil, fmt.Errorf("%w: symbol and positive price", errMissingField)
	}
	s.store.SetQuotePrice(req.Symbol, req.Price)
	if err := s.sender.Send(ctx, engine.NewUpdatePrice(req.Symbol, req.Price)); err != nil {
		return nil, err
	}
	return map[string]bool{"forwarded": true}, nil
}

// cmdTokenDecimals pre-seeds a token's decimals in the engine so the first
// trade does not pay an extra on-chain lookup.
func (s *Server) cmdTokenDecimals(ctx context.Context, data json.RawMessage) (any, error) {
	var req struct {
		Token    string `json:"token"`
		Decimals int    `json:"decimals"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode token decimals: %w", err)
	}
	if !common.IsHexAddress(req.Token) || req.Decimals < 0 || req.Decimals > 36 {
		return nil, fmt.Errorf("%w: valid token address and decimals", errMissingField)
	}
	if err := s.sender.Send(ctx, engine.NewUpdateTokenDecimals(req.Token, req.Decimals)); err != nil {
		return nil, err
	}
	return map[string]bool{"forwarded": true}, nil
}

func (s *Server) cmdImpactCalc(ctx context.Context, data json.RawMessage) (any, error) {
	var req struct {
		Token    string  `json:"token"`
		Quote    string  `json:"quote"`
		AmountIn float64 `json:"amountIn"`
		IsBuy    bool    `json:"isBuy"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode impact request: %w", err)
	}
	if err := s.sender.Send(ctx, engine.NewCalcImpact(req.Token, req.Quote, req.AmountIn, req.IsBuy)); err != nil {
		return nil, err
	}
	// The result arrives asynchronously as an ImpactUpdate push.
	return map[string]bool{"requested": true}, nil
}

func (s *Server) cmdBalanceRefresh(ctx context.Context, data json.RawMessage) (any, error) {
	var req struct {
		Wallet string `json:"wallet"`
		Token  string `json:"token"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("decode refresh request: %w", err)
		}
	}

	var cmd engine.Command
	if req.Wallet == "" {
		cmd = engine.NewRefreshAllBalances()
	} else {
		// Targeted refreshes hit the RPC per wallet; bound repeats.
		if !s.orch.Cooldowns().Ready(strings.ToLower(req.Wallet), "refresh:"+strings.ToLower(req.Token), trade.CooldownShort) {
			return map[string]bool{"throttled": true}, nil
		}
		cmd = engine.NewRefreshBalance(req.Wallet, req.Token)
	}
	if err := s.sender.Send(ctx, cmd); err != nil {
		return nil, err
	}
	return map[string]bool{"requested": true}, nil
}

// ----------------------------------------
// Positions and system
// ----------------------------------------

type positionView struct {
	Wallet    string `json:"wallet"`
	Token     string `json:"token"`
	CostWei   string `json:"costWei"`
	AmountWei string `json:"amountWei"`
}

func (s *Server) cmdPositionsList(ctx context.Context, _ json.RawMessage) (any, error) {
	var views []positionView
	for wallet, tokens := range s.store.Positions() {
		for token, p := range tokens {
			views = append(views, positionView{
				Wallet:    wallet,
				Token:     token,
				CostWei:   p.CostWei.String(),
				AmountWei: p.AmountWei.String(),
			})
		}
	}
	return views, nil
}

func (s *Server) cmdSystemStatus(ctx context.Context, _ json.RawMessage) (any, error) {
	activeToken, activeAmount := s.store.ActiveTrade()
	return map[string]any{
		"activeTrade": map[string]any{
			"token":  activeToken,
			"amount": activeAmount,
		},
		"engineConnected": s.worker.EngineConnected(),
		"gasPriceGwei":    s.worker.GasPriceGwei(),
		"network":         s.store.ConfigValue("last_network", ""),
		"systemTag":       s.store.ConfigValue("system_tag", ""),
		"vaultUnlocked":   s.vault.Active(),
		"metrics":         s.metrics.Snapshot(),
	}, nil
}

func (s *Server) cmdSystemNetworks(ctx context.Context, _ json.RawMessage) (any, error) {
	return s.networks, nil
}

func (s *Server) cmdSystemShutdown(ctx context.Context, _ json.RawMessage) (any, error) {
	s.bus.Publish(events.TopicNotification, "Shutdown requested")
	go s.shutdown()
	return map[string]bool{"stopping": true}, nil
}

func (s *Server) configFloat(key string, fallback float64) float64 {
	if v := s.store.ConfigValue(key, ""); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
