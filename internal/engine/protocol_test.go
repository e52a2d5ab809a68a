package engine

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestCommandMarshalTaggedUnion(t *testing.T) {
	cmd := NewRefreshBalance("0xWallet", "0xToken")
	raw, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["type"] != "RefreshBalance" {
		t.Fatalf("type tag = %v", got["type"])
	}
	data, ok := got["data"].(map[string]any)
	if !ok {
		t.Fatalf("data missing: %s", raw)
	}
	if data["wallet"] != "0xWallet" || data["token"] != "0xToken" {
		t.Fatalf("payload wrong: %v", data)
	}
}

func TestUnitCommandsOmitData(t *testing.T) {
	for _, cmd := range []Command{NewShutdown(), NewRefreshAllBalances()} {
		raw, err := json.Marshal(cmd)
		if err != nil {
			t.Fatalf("marshal %s: %v", cmd.Type, err)
		}
		if strings.Contains(string(raw), "data") {
			t.Fatalf("unit command %s carries a data field: %s", cmd.Type, raw)
		}
	}
}

func TestExecuteTradeMarshal(t *testing.T) {
	cmd := NewExecuteTrade(ExecuteTradePayload{
		Action:     "sell",
		Token:      "0xT",
		QuoteToken: "0xQ",
		Wallets:    []string{"0xa", "0xb"},
		GasGwei:    0.5,
		Slippage:   15.0,
		V3Fee:      3000,
		AmountsWei: map[string]string{"0xa": "1000", "0xb": "2500"},
	})
	raw, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(raw)
	for _, want := range []string{`"action":"sell"`, `"amountsWei"`, `"v3Fee":3000`} {
		if !strings.Contains(s, want) {
			t.Fatalf("missing %s in %s", want, s)
		}
	}

	// Buys omit amountsWei entirely.
	buy, _ := json.Marshal(NewExecuteTrade(ExecuteTradePayload{Action: "buy", Amount: 0.1}))
	if strings.Contains(string(buy), "amountsWei") {
		t.Fatalf("buy should omit amountsWei: %s", buy)
	}
}

func TestUpdateSettingsOmitsNilFields(t *testing.T) {
	slip := 20.0
	raw, err := json.Marshal(NewUpdateSettings(UpdateSettingsPayload{Slippage: &slip}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(raw)
	if !strings.Contains(s, `"slippage":20`) {
		t.Fatalf("slippage missing: %s", s)
	}
	if strings.Contains(s, "gasPriceGwei") || strings.Contains(s, "rpcUrl") {
		t.Fatalf("unset fields leaked: %s", s)
	}
}

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		check func(t *testing.T, ev Event)
	}{
		{
			name:  "balance update",
			frame: `{"type":"BalanceUpdate","data":{"wallet":"0xW","token":"0xT","wei":"123000000000000000000","floatVal":123.0}}`,
			check: func(t *testing.T, ev Event) {
				b, ok := ev.(BalanceUpdate)
				if !ok {
					t.Fatalf("wrong type %T", ev)
				}
				if b.Wei != "123000000000000000000" || b.FloatVal != 123.0 {
					t.Fatalf("bad decode: %+v", b)
				}
			},
		},
		{
			name:  "unit event without data",
			frame: `{"type":"EngineReady"}`,
			check: func(t *testing.T, ev Event) {
				if _, ok := ev.(EngineReady); !ok {
					t.Fatalf("wrong type %T", ev)
				}
			},
		},
		{
			name:  "trade status with optional wei",
			frame: `{"type":"TradeStatus","data":{"wallet":"0xW","status":"success","action":"buy","tokensReceived":"5000","tokenDecimals":18}}`,
			check: func(t *testing.T, ev Event) {
				ts := ev.(TradeStatus)
				if ts.TokensReceived == nil || *ts.TokensReceived != "5000" {
					t.Fatalf("tokensReceived not decoded: %+v", ts)
				}
				if ts.TokensSold != nil {
					t.Fatalf("tokensSold should be nil: %+v", ts)
				}
			},
		},
		{
			name:  "pool detected",
			frame: `{"type":"PoolDetected","data":{"token":"0xT","quote":"0xQ","poolType":"V3","fee":500,"liquidityUsd":5000}}`,
			check: func(t *testing.T, ev Event) {
				p := ev.(PoolDetected)
				if p.PoolType != "V3" || p.Fee != 500 || p.LiquidityUSD != 5000 {
					t.Fatalf("bad decode: %+v", p)
				}
			},
		},
		{
			name:  "unknown tag preserved",
			frame: `{"type":"SomethingNew","data":{"x":1}}`,
			check: func(t *testing.T, ev Event) {
				u, ok := ev.(UnknownEvent)
				if !ok {
					t.Fatalf("wrong type %T", ev)
				}
				if u.Type != "SomethingNew" || len(u.Data) == 0 {
					t.Fatalf("unknown not preserved: %+v", u)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseEvent([]byte(tt.frame))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			tt.check(t, ev)
		})
	}
}

func TestParseEventRejectsMalformed(t *testing.T) {
	for _, frame := range []string{
		`not json`,
		`{"data":{"x":1}}`, // missing tag
		`{"type":"BalanceUpdate","data":"not an object"}`,
	} {
		if _, err := ParseEvent([]byte(frame)); err == nil {
			t.Errorf("expected error for %q", frame)
		}
	}
}
