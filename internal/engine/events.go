package engine

import (
	"encoding/json"
	"fmt"
)

// Event is an inbound engine message. Consumers type-switch on the concrete
// types below; unrecognized tags decode to UnknownEvent, never a silent drop.
type Event interface {
	eventTag() string
}

type EngineReady struct{}

type ConnectionStatus struct {
	Connected bool   `json:"connected"`
	Message   string `json:"message"`
}

type RPCError struct {
	RPCURL   string `json:"rpcUrl"`
	Error    string `json:"error"`
	Critical bool   `json:"critical"`
}

type RPCStatus struct {
	Healthy   bool    `json:"healthy"`
	LatencyMs float64 `json:"latencyMs"`
}

type GasPriceUpdate struct {
	GasPriceGwei float64 `json:"gasPriceGwei"`
}

// BalanceUpdate is an authoritative balance push. Wei is a decimal string
// because amounts exceed int64; FloatVal is the display-scaled value.
type BalanceUpdate struct {
	Wallet   string  `json:"wallet"`
	Token    string  `json:"token"`
	Wei      string  `json:"wei"`
	FloatVal float64 `json:"floatVal"`
}

type PoolDetected struct {
	Token        string  `json:"token"`
	Quote        string  `json:"quote"`
	PoolType     string  `json:"poolType"`
	Address      string  `json:"address"`
	Fee          uint32  `json:"fee"`
	LiquidityUSD float64 `json:"liquidityUsd"`
	SpotPrice    float64 `json:"spotPrice"`
	TokenSymbol  string  `json:"tokenSymbol"`
	TokenName    string  `json:"tokenName"`
}

type PoolError struct {
	Token string `json:"token"`
	Quote string `json:"quote"`
	Error string `json:"error"`
}

type PoolUpdate struct {
	Token        string   `json:"token"`
	Quote        string   `json:"quote"`
	PoolType     string   `json:"poolType"`
	PoolAddress  string   `json:"poolAddress"`
	SpotPrice    *float64 `json:"spotPrice,omitempty"`
	LiquidityUSD *float64 `json:"liquidityUsd,omitempty"`
	Reserve0     *string  `json:"reserve0,omitempty"`
	Reserve1     *string  `json:"reserve1,omitempty"`
}

type PoolNotFound struct {
	Token           string   `json:"token"`
	Quote           string   `json:"quote"`
	SelectedQuote   string   `json:"selectedQuote"`
	AvailableQuotes []string `json:"availableQuotes"`
}

type ImpactUpdate struct {
	Token     string  `json:"token"`
	Quote     string  `json:"quote"`
	IsBuy     bool    `json:"isBuy"`
	ImpactPct float64 `json:"impactPct"`
}

type TxSent struct {
	TxHash string  `json:"txHash"`
	Wallet string  `json:"wallet"`
	Action string  `json:"action"`
	Amount float64 `json:"amount"`
	Token  string  `json:"token"`
}

type TxConfirmed struct {
	TxHash  string `json:"txHash"`
	Status  string `json:"status"` // "success" | "failed"
	GasUsed uint64 `json:"gasUsed"`
}

// TradeStatus reports one wallet's trade outcome. TokensReceived (buy) and
// TokensSold (sell) are exact wei strings, present only on success.
type TradeStatus struct {
	Wallet         string  `json:"wallet"`
	Status         string  `json:"status"` // "success" | "error"
	Action         string  `json:"action"`
	TxHash         string  `json:"txHash"`
	Message        string  `json:"message"`
	TokenAddress   string  `json:"tokenAddress"`
	Amount         float64 `json:"amount"`
	GasUsed        uint64  `json:"gasUsed"`
	TokensReceived *string `json:"tokensReceived,omitempty"`
	TokensSold     *string `json:"tokensSold,omitempty"`
	TokenDecimals  int     `json:"tokenDecimals"`
}

type AutoFuelError struct {
	Reason string `json:"reason"`
}

type LogEvent struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// PnlUpdate is a live profit/loss tick from a running position tracker.
type PnlUpdate struct {
	Wallet       string  `json:"wallet"`
	Token        string  `json:"token"`
	CurrentValue float64 `json:"currentValue"`
	PnlPct       float64 `json:"pnlPct"`
}

// UnknownEvent preserves a frame whose tag this build does not recognize.
type UnknownEvent struct {
	Type string
	Data json.RawMessage
}

func (EngineReady) eventTag() string      { return "EngineReady" }
func (ConnectionStatus) eventTag() string { return "ConnectionStatus" }
func (RPCError) eventTag() string         { return "RPCError" }
func (RPCStatus) eventTag() string        { return "RPCStatus" }
func (GasPriceUpdate) eventTag() string   { return "GasPriceUpdate" }
func (BalanceUpdate) eventTag() string    { return "BalanceUpdate" }
func (PoolDetected) eventTag() string     { return "PoolDetected" }
func (PoolError) eventTag() string        { return "PoolError" }
func (PoolUpdate) eventTag() string       { return "PoolUpdate" }
func (PoolNotFound) eventTag() string     { return "PoolNotFound" }
func (ImpactUpdate) eventTag() string     { return "ImpactUpdate" }
func (TxSent) eventTag() string           { return "TxSent" }
func (TxConfirmed) eventTag() string      { return "TxConfirmed" }
func (TradeStatus) eventTag() string      { return "TradeStatus" }
func (AutoFuelError) eventTag() string    { return "AutoFuelError" }
func (LogEvent) eventTag() string         { return "Log" }
func (PnlUpdate) eventTag() string        { return "PnlUpdate" }
func (UnknownEvent) eventTag() string     { return "Unknown" }

// ParseEvent decodes one tagged frame into its concrete event type.
func ParseEvent(frame []byte) (Event, error) {
	var envelope struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}
	if envelope.Type == "" {
		return nil, fmt.Errorf("event frame has no type tag")
	}

	switch envelope.Type {
	case "EngineReady":
		return EngineReady{}, nil
	case "ConnectionStatus":
		return decodePayload[ConnectionStatus](envelope.Type, envelope.Data)
	case "RPCError":
		return decodePayload[RPCError](envelope.Type, envelope.Data)
	case "RPCStatus":
		return decodePayload[RPCStatus](envelope.Type, envelope.Data)
	case "GasPriceUpdate":
		return decodePayload[GasPriceUpdate](envelope.Type, envelope.Data)
	case "BalanceUpdate":
		return decodePayload[BalanceUpdate](envelope.Type, envelope.Data)
	case "PoolDetected":
		return decodePayload[PoolDetected](envelope.Type, envelope.Data)
	case "PoolError":
		return decodePayload[PoolError](envelope.Type, envelope.Data)
	case "PoolUpdate":
		return decodePayload[PoolUpdate](envelope.Type, envelope.Data)
	case "PoolNotFound":
		return decodePayload[PoolNotFound](envelope.Type, envelope.Data)
	case "ImpactUpdate":
		return decodePayload[ImpactUpdate](envelope.Type, envelope.Data)
	case "TxSent":
		return decodePayload[TxSent](envelope.Type, envelope.Data)
	case "TxConfirmed":
		return decodePayload[TxConfirmed](envelope.Type, envelope.Data)
	case "TradeStatus":
		return decodePayload[TradeStatus](envelope.Type, envelope.Data)
	case "AutoFuelError":
		return decodePayload[AutoFuelError](envelope.Type, envelope.Data)
	case "Log":
		return decodePayload[LogEvent](envelope.Type, envelope.Data)
	case "PnlUpdate":
		return decodePayload[PnlUpdate](envelope.Type, envelope.Data)
	default:
		return UnknownEvent{Type: envelope.Type, Data: envelope.Data}, nil
	}
}

func decodePayload[T Event](tag string, raw json.RawMessage) (Event, error) {
	var v T
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", tag, err)
		}
	}
	return v, nil
}
