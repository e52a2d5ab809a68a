package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	dir := t.TempDir()
	d, err := Open(filepath.Join(dir, "network.db"), filepath.Join(dir, "global.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestWalletCRUD(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	w := Wallet{Address: "0xAbC123", PrivateKey: "ENC[v1]:deadbeef", Name: "main", Enabled: true}
	if err := d.AddWallet(ctx, w); err != nil {
		t.Fatalf("add wallet: %v", err)
	}

	// Duplicate address must be rejected by the primary key.
	if err := d.AddWallet(ctx, w); err == nil {
		t.Fatal("expected duplicate wallet insert to fail")
	}

	wallets, err := d.ListWallets(ctx)
	if err != nil {
		t.Fatalf("list wallets: %v", err)
	}
	if len(wallets) != 1 || wallets[0].Address != "0xAbC123" || !wallets[0].Enabled {
		t.Fatalf("unexpected wallets: %+v", wallets)
	}

	name := "renamed"
	enabled := false
	if err := d.UpdateWallet(ctx, "0xAbC123", &name, &enabled); err != nil {
		t.Fatalf("update wallet: %v", err)
	}
	wallets, _ = d.ListWallets(ctx)
	if wallets[0].Name != "renamed" || wallets[0].Enabled {
		t.Fatalf("update not applied: %+v", wallets[0])
	}

	if err := d.UpdateWallet(ctx, "0xMissing", &name, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := d.DeleteWallet(ctx, "0xAbC123"); err != nil {
		t.Fatalf("delete wallet: %v", err)
	}
	wallets, _ = d.ListWallets(ctx)
	if len(wallets) != 0 {
		t.Fatalf("wallet not deleted: %+v", wallets)
	}
}

func TestWalletMatchIgnoresAddressCase(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	if err := d.AddWallet(ctx, Wallet{Address: "0xAbC123", PrivateKey: "x", Name: "w", Enabled: true}); err != nil {
		t.Fatalf("add wallet: %v", err)
	}

	// Callers pass checksummed and lowercased forms interchangeably.
	name := "renamed"
	if err := d.UpdateWallet(ctx, "0xABC123", &name, nil); err != nil {
		t.Fatalf("update via differently-cased address: %v", err)
	}
	wallets, _ := d.ListWallets(ctx)
	if len(wallets) != 1 || wallets[0].Name != "renamed" {
		t.Fatalf("update missed the row: %+v", wallets)
	}

	if err := d.DeleteWallet(ctx, "0xabc123"); err != nil {
		t.Fatalf("delete via lowercased address: %v", err)
	}
	wallets, _ = d.ListWallets(ctx)
	if len(wallets) != 0 {
		t.Fatalf("wallet row survived delete: %+v", wallets)
	}
}

func TestDeleteWalletRemovesDependentRows(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	if err := d.AddWallet(ctx, Wallet{Address: "0xAA", PrivateKey: "x", Name: "w", Enabled: true}); err != nil {
		t.Fatalf("add wallet: %v", err)
	}
	if err := d.SaveCachedBalance(ctx, CachedBalance{
		WalletAddress: "0xAA", TokenAddress: "0xT1", BalanceWei: "1000", Decimals: 18,
	}); err != nil {
		t.Fatalf("save balance: %v", err)
	}
	if err := d.SavePosition(ctx, Position{
		WalletAddress: "0xAA", TokenAddress: "0xT1", TotalCostWei: "500", TotalAmountWei: "1000",
	}); err != nil {
		t.Fatalf("save position: %v", err)
	}

	if err := d.DeleteWallet(ctx, "0xAA"); err != nil {
		t.Fatalf("delete wallet: %v", err)
	}

	balances, _ := d.ListCachedBalances(ctx)
	if len(balances) != 0 {
		t.Fatalf("balances survived wallet delete: %+v", balances)
	}
	positions, _ := d.ListPositions(ctx)
	if len(positions) != 0 {
		t.Fatalf("positions survived wallet delete: %+v", positions)
	}
}

func TestConfigGlobalKeyRouting(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	err := d.UpdateConfig(ctx, map[string]string{
		"slippage":     "15.0",
		"last_network": "base",
	})
	if err != nil {
		t.Fatalf("update config: %v", err)
	}

	// last_network must live in the global DB, not the network one.
	var n int
	if err := d.DB.QueryRow("SELECT COUNT(*) FROM config WHERE key = 'last_network'").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatal("global key written to network config table")
	}

	cfg, err := d.GetConfig(ctx)
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if cfg["slippage"] != "15.0" || cfg["last_network"] != "base" {
		t.Fatalf("merged config wrong: %v", cfg)
	}
}

func TestBalanceCacheRoundTrip(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	b := CachedBalance{WalletAddress: "0xAbCd", TokenAddress: "0xToKeN", BalanceWei: "123456789000000000000", Decimals: 18}
	if err := d.SaveCachedBalance(ctx, b); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Same pair again overwrites instead of duplicating.
	b.BalanceWei = "42"
	if err := d.SaveCachedBalance(ctx, b); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	list, err := d.ListCachedBalances(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 row, got %d", len(list))
	}
	got := list[0]
	if got.WalletAddress != "0xabcd" || got.TokenAddress != "0xtoken" {
		t.Fatalf("addresses not lowercased: %+v", got)
	}
	if got.BalanceWei != "42" || got.Decimals != 18 {
		t.Fatalf("wrong row: %+v", got)
	}

	if err := d.DeleteCachedBalance(ctx, "0xABCD", "0xTOKEN"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	list, _ = d.ListCachedBalances(ctx)
	if len(list) != 0 {
		t.Fatalf("row survived delete: %+v", list)
	}
}

func TestPositionUpsertAbsoluteTotals(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	p := Position{WalletAddress: "0xW", TokenAddress: "0xT", TotalCostWei: "100", TotalAmountWei: "1000"}
	if err := d.SavePosition(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}
	// A second save replaces the totals outright.
	p.TotalCostWei = "150"
	p.TotalAmountWei = "1500"
	if err := d.SavePosition(ctx, p); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := d.GetPosition(ctx, "0xW", "0xT")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TotalCostWei != "150" || got.TotalAmountWei != "1500" {
		t.Fatalf("totals not replaced: %+v", got)
	}

	// Missing position reads back as zero, not an error.
	missing, err := d.GetPosition(ctx, "0xW", "0xOther")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing.TotalCostWei != "0" || missing.TotalAmountWei != "0" {
		t.Fatalf("missing position not zero: %+v", missing)
	}

	if err := d.DeletePosition(ctx, "0xw", "0xt"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	list, _ := d.ListPositions(ctx)
	if len(list) != 0 {
		t.Fatalf("position survived delete: %+v", list)
	}
}

func TestRecentTokensTrimTo20(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		addr := string(rune('a'+i%26)) + "-token"
		if err := d.UpsertRecentToken(ctx, addr, "Token", "TKN"); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}

	list, err := d.ListRecentTokens(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) > 20 {
		t.Fatalf("history not trimmed: %d rows", len(list))
	}
}

func TestRecentTokenKeepsMetadataOnEmptyUpdate(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	if err := d.UpsertRecentToken(ctx, "0xT", "Pepe", "PEPE"); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	// Re-trade with unknown metadata must not wipe the stored name.
	if err := d.UpsertRecentToken(ctx, "0xT", "", ""); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	list, _ := d.ListRecentTokens(ctx, 5)
	if len(list) != 1 || list[0].Name != "Pepe" || list[0].Symbol != "PEPE" {
		t.Fatalf("metadata lost: %+v", list)
	}
}

func TestSecurityRoundTrip(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	if _, _, err := d.GetSecurity(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on fresh db, got %v", err)
	}

	salt := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	if err := d.SetSecurity(ctx, salt, "ENC[v1]:verifier"); err != nil {
		t.Fatalf("set: %v", err)
	}

	gotSalt, gotVerifier, err := d.GetSecurity(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(gotSalt) != string(salt) || gotVerifier != "ENC[v1]:verifier" {
		t.Fatalf("round trip mismatch: %v %q", gotSalt, gotVerifier)
	}
}
