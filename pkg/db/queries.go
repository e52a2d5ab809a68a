package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

var ErrNotFound = errors.New("record not found")

// Keys routed to the global database instead of the per-network one.
var globalConfigKeys = map[string]bool{
	"last_network":            true,
	"system_tag":              true,
	"user_agreement_accepted": true,
}

// ----------------------------------------
// Wallet queries
// ----------------------------------------

// AddWallet inserts a new wallet row. PrivateKey must already be encrypted.
func (d *Database) AddWallet(ctx context.Context, w Wallet) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO wallets (address, private_key, name, enabled)
		VALUES (?, ?, ?, ?)
	`, w.Address, w.PrivateKey, w.Name, w.Enabled)
	if err != nil {
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

// ListWallets returns every stored wallet including the encrypted secret.
func (d *Database) ListWallets(ctx context.Context) ([]Wallet, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT address, private_key, name, enabled FROM wallets
	`)
	if err != nil {
		return nil, fmt.Errorf("query wallets: %w", err)
	}
	defer rows.Close()

	var wallets []Wallet
	for rows.Next() {
		var w Wallet
		if err := rows.Scan(&w.Address, &w.PrivateKey, &w.Name, &w.Enabled); err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// UpdateWallet patches name and/or enabled for an address.
func (d *Database) UpdateWallet(ctx context.Context, address string, name *string, enabled *bool) error {
	sets := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *name)
	}
	if enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *enabled)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, strings.ToLower(address))

	res, err := d.DB.ExecContext(ctx,
		"UPDATE wallets SET "+strings.Join(sets, ", ")+" WHERE lower(address) = ?", args...)
	if err != nil {
		return fmt.Errorf("update wallet: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteWallet removes the wallet row and every dependent cache row.
func (d *Database) DeleteWallet(ctx context.Context, address string) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete wallet: %w", err)
	}
	lower := strings.ToLower(address)
	if _, err := tx.ExecContext(ctx, "DELETE FROM wallets WHERE lower(address) = ?", lower); err != nil {
		tx.Rollback()
		return fmt.Errorf("delete wallet: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM cached_balances WHERE wallet_address = ?", lower); err != nil {
		tx.Rollback()
		return fmt.Errorf("delete wallet balances: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM active_positions WHERE wallet_address = ?", lower); err != nil {
		tx.Rollback()
		return fmt.Errorf("delete wallet positions: %w", err)
	}
	return tx.Commit()
}

// ----------------------------------------
// Config queries
// ----------------------------------------

// GetConfig merges per-network config with global settings; global wins on
// key collision, matching how the settings screen reads them back.
func (d *Database) GetConfig(ctx context.Context) (map[string]string, error) {
	cfg := make(map[string]string)

	rows, err := d.DB.QueryContext(ctx, "SELECT key, value FROM config")
	if err != nil {
		return nil, fmt.Errorf("query config: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var v sql.NullString
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan config: %w", err)
		}
		cfg[k] = v.String
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	grows, err := d.Global.QueryContext(ctx, "SELECT key, value FROM global_settings")
	if err != nil {
		return nil, fmt.Errorf("query global settings: %w", err)
	}
	defer grows.Close()
	for grows.Next() {
		var k string
		var v sql.NullString
		if err := grows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan global setting: %w", err)
		}
		cfg[k] = v.String
	}
	return cfg, grows.Err()
}

// UpdateConfig upserts the given keys, routing global keys to the global DB.
func (d *Database) UpdateConfig(ctx context.Context, updates map[string]string) error {
	for k, v := range updates {
		target := d.DB
		table := "config"
		if globalConfigKeys[k] {
			target = d.Global
			table = "global_settings"
		}
		if _, err := target.ExecContext(ctx,
			"INSERT OR REPLACE INTO "+table+" (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("upsert config %s: %w", k, err)
		}
	}
	return nil
}

// ----------------------------------------
// Balance cache
// ----------------------------------------

func (d *Database) SaveCachedBalance(ctx context.Context, b CachedBalance) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT OR REPLACE INTO cached_balances (wallet_address, token_address, balance_wei, decimals, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, strings.ToLower(b.WalletAddress), strings.ToLower(b.TokenAddress), b.BalanceWei, b.Decimals)
	if err != nil {
		return fmt.Errorf("save cached balance: %w", err)
	}
	return nil
}

func (d *Database) DeleteCachedBalance(ctx context.Context, wallet, token string) error {
	_, err := d.DB.ExecContext(ctx, `
		DELETE FROM cached_balances WHERE wallet_address = ? AND token_address = ?
	`, strings.ToLower(wallet), strings.ToLower(token))
	if err != nil {
		return fmt.Errorf("delete cached balance: %w", err)
	}
	return nil
}

func (d *Database) ListCachedBalances(ctx context.Context) ([]CachedBalance, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT wallet_address, token_address, balance_wei, decimals FROM cached_balances
	`)
	if err != nil {
		return nil, fmt.Errorf("query cached balances: %w", err)
	}
	defer rows.Close()

	var out []CachedBalance
	for rows.Next() {
		var b CachedBalance
		if err := rows.Scan(&b.WalletAddress, &b.TokenAddress, &b.BalanceWei, &b.Decimals); err != nil {
			return nil, fmt.Errorf("scan cached balance: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ----------------------------------------
// Pool cache
// ----------------------------------------

func (d *Database) SaveCachedPool(ctx context.Context, p CachedPool) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT OR REPLACE INTO cached_pools (token_address, quote_address, pool_data_json, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
	`, strings.ToLower(p.TokenAddress), strings.ToLower(p.QuoteAddress), p.PoolData)
	if err != nil {
		return fmt.Errorf("save cached pool: %w", err)
	}
	return nil
}

func (d *Database) DeleteCachedPool(ctx context.Context, token, quote string) error {
	_, err := d.DB.ExecContext(ctx, `
		DELETE FROM cached_pools WHERE token_address = ? AND quote_address = ?
	`, strings.ToLower(token), strings.ToLower(quote))
	if err != nil {
		return fmt.Errorf("delete cached pool: %w", err)
	}
	return nil
}

func (d *Database) ListCachedPools(ctx context.Context) ([]CachedPool, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT token_address, quote_address, pool_data_json FROM cached_pools
	`)
	if err != nil {
		return nil, fmt.Errorf("query cached pools: %w", err)
	}
	defer rows.Close()

	var out []CachedPool
	for rows.Next() {
		var p CachedPool
		if err := rows.Scan(&p.TokenAddress, &p.QuoteAddress, &p.PoolData); err != nil {
			return nil, fmt.Errorf("scan cached pool: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ----------------------------------------
// Positions
// ----------------------------------------

// SavePosition upserts the absolute post-update totals. Writing totals
// instead of deltas keeps replayed or reordered writes convergent.
func (d *Database) SavePosition(ctx context.Context, p Position) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO active_positions (wallet_address, token_address, total_cost_wei, total_amount_wei)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(wallet_address, token_address)
		DO UPDATE SET total_cost_wei = excluded.total_cost_wei,
		              total_amount_wei = excluded.total_amount_wei,
		              updated_at = CURRENT_TIMESTAMP
	`, strings.ToLower(p.WalletAddress), strings.ToLower(p.TokenAddress), p.TotalCostWei, p.TotalAmountWei)
	if err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

func (d *Database) GetPosition(ctx context.Context, wallet, token string) (Position, error) {
	p := Position{
		WalletAddress:  strings.ToLower(wallet),
		TokenAddress:   strings.ToLower(token),
		TotalCostWei:   "0",
		TotalAmountWei: "0",
	}
	err := d.DB.QueryRowContext(ctx, `
		SELECT total_cost_wei, COALESCE(total_amount_wei, '0')
		FROM active_positions WHERE wallet_address = ? AND token_address = ?
	`, p.WalletAddress, p.TokenAddress).Scan(&p.TotalCostWei, &p.TotalAmountWei)
	if errors.Is(err, sql.ErrNoRows) {
		return p, nil
	}
	if err != nil {
		return p, fmt.Errorf("query position: %w", err)
	}
	return p, nil
}

func (d *Database) DeletePosition(ctx context.Context, wallet, token string) error {
	_, err := d.DB.ExecContext(ctx, `
		DELETE FROM active_positions WHERE wallet_address = ? AND token_address = ?
	`, strings.ToLower(wallet), strings.ToLower(token))
	if err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	return nil
}

func (d *Database) ListPositions(ctx context.Context) ([]Position, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT wallet_address, token_address, total_cost_wei, COALESCE(total_amount_wei, '0')
		FROM active_positions
	`)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.WalletAddress, &p.TokenAddress, &p.TotalCostWei, &p.TotalAmountWei); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ----------------------------------------
// Recent tokens
// ----------------------------------------

// UpsertRecentToken records a traded token and trims history to the 20 most
// recent entries.
func (d *Database) UpsertRecentToken(ctx context.Context, address, name, symbol string) error {
	addr := strings.ToLower(address)
	if name == "" || symbol == "" {
		var prevName, prevSymbol sql.NullString
		err := d.DB.QueryRowContext(ctx,
			"SELECT name, symbol FROM recent_tokens WHERE token_address = ?", addr).
			Scan(&prevName, &prevSymbol)
		if err == nil {
			if name == "" {
				name = prevName.String
			}
			if symbol == "" {
				symbol = prevSymbol.String
			}
		}
	}

	if _, err := d.DB.ExecContext(ctx, `
		INSERT OR REPLACE INTO recent_tokens (token_address, name, symbol, last_traded_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
	`, addr, name, symbol); err != nil {
		return fmt.Errorf("upsert recent token: %w", err)
	}

	_, err := d.DB.ExecContext(ctx, `
		DELETE FROM recent_tokens WHERE token_address NOT IN (
			SELECT token_address FROM recent_tokens ORDER BY last_traded_at DESC LIMIT 20)
	`)
	if err != nil {
		return fmt.Errorf("trim recent tokens: %w", err)
	}
	return nil
}

func (d *Database) ListRecentTokens(ctx context.Context, limit int) ([]RecentToken, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT token_address, COALESCE(name, ''), COALESCE(symbol, ''), last_traded_at
		FROM recent_tokens ORDER BY last_traded_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent tokens: %w", err)
	}
	defer rows.Close()

	var out []RecentToken
	for rows.Next() {
		var t RecentToken
		if err := rows.Scan(&t.TokenAddress, &t.Name, &t.Symbol, &t.LastTradedAt); err != nil {
			return nil, fmt.Errorf("scan recent token: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ----------------------------------------
// Security (vault bootstrap data)
// ----------------------------------------

// GetSecurity returns the stored KDF salt and encrypted verifier, or
// ErrNotFound when the vault has never been initialized.
func (d *Database) GetSecurity(ctx context.Context) (salt []byte, verifier string, err error) {
	err = d.Global.QueryRowContext(ctx,
		"SELECT salt, verifier FROM security WHERE key_name = 'main'").Scan(&salt, &verifier)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("query security: %w", err)
	}
	return salt, verifier, nil
}

func (d *Database) SetSecurity(ctx context.Context, salt []byte, verifier string) error {
	_, err := d.Global.ExecContext(ctx, `
		INSERT OR REPLACE INTO security (key_name, salt, verifier) VALUES ('main', ?, ?)
	`, salt, verifier)
	if err != nil {
		return fmt.Errorf("store security: %w", err)
	}
	return nil
}
