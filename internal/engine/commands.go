package engine

import "encoding/json"

// Command is an outbound instruction to the execution engine, serialized as
// a tagged union: {"type": "...", "data": {...}}. Unit commands carry no
// data field at all.
type Command struct {
	Type string
	Data any
}

func (c Command) MarshalJSON() ([]byte, error) {
	if c.Data == nil {
		return json.Marshal(struct {
			Type string `json:"type"`
		}{c.Type})
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		Data any    `json:"data"`
	}{c.Type, c.Data})
}

// WalletCredential pairs an address with its decrypted secret for the
// engine's signer set. Copies only; the engine never holds store references.
type WalletCredential struct {
	Address string `json:"address"`
	Secret  string `json:"secret"`
}

// FuelSettings configures the engine's native-token auto-refuel.
type FuelSettings struct {
	Enabled      bool    `json:"enabled"`
	QuoteAddress string  `json:"quoteAddress"`
	MinNative    float64 `json:"minNative"`
	TopUpNative  float64 `json:"topUpNative"`
}

// InitPayload seeds the engine with chain endpoints, the DEX contract set,
// and the signer wallets.
type InitPayload struct {
	RPC           string             `json:"rpc"`
	WSS           string             `json:"wss"`
	ChainID       uint64             `json:"chainId"`
	Router        string             `json:"router"`
	Quoter        string             `json:"quoter"`
	Factories     map[string]string  `json:"factories"`
	WrappedNative string             `json:"wrappedNative"`
	NativeAddress string             `json:"nativeAddress"`
	Wallets       []WalletCredential `json:"wallets"`
	PublicRPCURLs []string           `json:"publicRpcUrls"`
	FuelSettings  FuelSettings       `json:"fuelSettings"`
	QuoteSymbol   string             `json:"quoteSymbol"`
	QuoteTokens   map[string]string  `json:"quoteTokens"`
}

// ExecuteTradePayload fans one action out across wallets. AmountsWei maps
// lowercase wallet address to that wallet's exact contribution; it is only
// set for sells, where each wallet sells its full balance.
type ExecuteTradePayload struct {
	Action     string            `json:"action"` // "buy" | "sell"
	Token      string            `json:"token"`
	QuoteToken string            `json:"quoteToken"`
	Amount     float64           `json:"amount"`
	Wallets    []string          `json:"wallets"`
	GasGwei    float64           `json:"gasGwei"`
	Slippage   float64           `json:"slippage"`
	V3Fee      uint32            `json:"v3Fee"`
	AmountsWei map[string]string `json:"amountsWei,omitempty"`
}

// UpdateSettingsPayload pushes changed operator settings; nil fields are
// left untouched by the engine.
type UpdateSettingsPayload struct {
	GasPriceGwei     *float64 `json:"gasPriceGwei,omitempty"`
	Slippage         *float64 `json:"slippage,omitempty"`
	FuelEnabled      *bool    `json:"fuelEnabled,omitempty"`
	FuelQuoteAddress *string  `json:"fuelQuoteAddress,omitempty"`
	RPCURL           *string  `json:"rpcUrl,omitempty"`
	WSSURL           *string  `json:"wssUrl,omitempty"`
	QuoteSymbol      *string  `json:"quoteSymbol,omitempty"`
}

func NewInit(p InitPayload) Command {
	return Command{Type: "Init", Data: p}
}

func NewSwitchToken(tokenAddress, quoteAddress, quoteSymbol string) Command {
	return Command{Type: "SwitchToken", Data: map[string]string{
		"tokenAddress": tokenAddress,
		"quoteAddress": quoteAddress,
		"quoteSymbol":  quoteSymbol,
	}}
}

func NewUnsubscribeToken(tokenAddress string) Command {
	return Command{Type: "UnsubscribeToken", Data: map[string]string{
		"tokenAddress": tokenAddress,
	}}
}

func NewCalcImpact(tokenAddress, quoteAddress string, amountIn float64, isBuy bool) Command {
	return Command{Type: "CalcImpact", Data: map[string]any{
		"tokenAddress": tokenAddress,
		"quoteAddress": quoteAddress,
		"amountIn":     amountIn,
		"isBuy":        isBuy,
	}}
}

func NewExecuteTrade(p ExecuteTradePayload) Command {
	return Command{Type: "ExecuteTrade", Data: p}
}

func NewUpdateSettings(p UpdateSettingsPayload) Command {
	return Command{Type: "UpdateSettings", Data: p}
}

func NewUpdatePrice(symbol string, price float64) Command {
	return Command{Type: "UpdatePrice", Data: map[string]any{
		"symbol": symbol,
		"price":  price,
	}}
}

func NewUpdateTokenDecimals(address string, decimals int) Command {
	return Command{Type: "UpdateTokenDecimals", Data: map[string]any{
		"address":  address,
		"decimals": decimals,
	}}
}

func NewAddWallet(address, secret string) Command {
	return Command{Type: "AddWallet", Data: WalletCredential{Address: address, Secret: secret}}
}

func NewRefreshBalance(wallet, token string) Command {
	return Command{Type: "RefreshBalance", Data: map[string]string{
		"wallet": wallet,
		"token":  token,
	}}
}

func NewRefreshAllBalances() Command {
	return Command{Type: "RefreshAllBalances"}
}

func NewStartPnlTracker(wallet, token string, costWei, amountWei string) Command {
	return Command{Type: "StartPnlTracker", Data: map[string]string{
		"wallet":    wallet,
		"token":     token,
		"costWei":   costWei,
		"amountWei": amountWei,
	}}
}

func NewStopPnlTracker(wallet, token string) Command {
	return Command{Type: "StopPnlTracker", Data: map[string]string{
		"wallet": wallet,
		"token":  token,
	}}
}

func NewShutdown() Command {
	return Command{Type: "Shutdown"}
}
