package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("SERVER_PORT", "")
	t.Setenv("ENGINE_SOCKET", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8081 {
		t.Errorf("default port = %d, want 8081", cfg.Server.Port)
	}
	if cfg.Engine.SocketPath != "/tmp/dexcore-engine.sock" {
		t.Errorf("default socket = %q", cfg.Engine.SocketPath)
	}
	if cfg.Auth.TokenExpiry != 24*time.Hour {
		t.Errorf("default expiry = %s", cfg.Auth.TokenExpiry)
	}
}

func TestLoadRejectsMissingJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when JWT_SECRET is unset")
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("SERVER_PORT", "not-a-number")
	t.Setenv("SERVER_READ_TIMEOUT", "garbage")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8081 {
		t.Errorf("invalid port should fall back, got %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("invalid duration should fall back, got %s", cfg.Server.ReadTimeout)
	}
}

const testNetworksYAML = `
networks:
  base:
    name: Base
    chain_id: 8453
    rpc_url: https://mainnet.base.org
    wss_url: wss://mainnet.base.org
    native_ticker: ETH
    wrapped_native: "0x4200000000000000000000000000000000000006"
    router: "0x2626664c2603336E57B271c5C0b26F421741e481"
    quoter: "0x3d4e44Eb1374240CE5F1B871ab261CD16335B76a"
    factory_v3: "0x33128a8fC17869897dcE68Ed026d694621f6FDfD"
    quote_tokens:
      USDC: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
      WETH: "0x4200000000000000000000000000000000000006"
  bsc:
    name: BNB Smart Chain
    chain_id: 56
    rpc_url: https://bsc-dataseed.binance.org
    native_ticker: BNB
    wrapped_native: "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c"
    router: "0x10ED43C718714eb63d5aA57B78B54704E256024E"
    factory_v2: "0xcA143Ce32Fe78f1f7019d7d551a6402fC5350c73"
`

func writeNetworks(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "networks.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write networks file: %v", err)
	}
	return path
}

func TestLoadNetworks(t *testing.T) {
	ns, err := LoadNetworks(writeNetworks(t, testNetworksYAML))
	if err != nil {
		t.Fatalf("load networks: %v", err)
	}
	if len(ns) != 2 {
		t.Fatalf("expected 2 networks, got %d", len(ns))
	}

	base, ok := ns.Get("base")
	if !ok {
		t.Fatal("base network missing")
	}
	if base.ChainID != 8453 || base.NativeTicker != "ETH" {
		t.Fatalf("base parsed wrong: %+v", base)
	}
	if base.QuoteTokens["USDC"] == "" {
		t.Fatal("quote tokens not parsed")
	}

	// Case-insensitive lookup.
	if _, ok := ns.Get("BSC"); !ok {
		t.Fatal("case-insensitive lookup failed")
	}
	if _, ok := ns.Get("solana"); ok {
		t.Fatal("unknown network should not resolve")
	}
}

func TestLoadNetworksRejectsIncomplete(t *testing.T) {
	bad := `
networks:
  broken:
    name: Broken
    chain_id: 1
`
	if _, err := LoadNetworks(writeNetworks(t, bad)); err == nil {
		t.Fatal("expected validation error for missing rpc_url")
	}
}
