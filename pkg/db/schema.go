package db

import "fmt"

const networkSchema = `
CREATE TABLE IF NOT EXISTS wallets (
    address TEXT PRIMARY KEY,
    private_key TEXT NOT NULL,
    name TEXT NOT NULL,
    enabled BOOLEAN NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT
);

CREATE TABLE IF NOT EXISTS recent_tokens (
    token_address TEXT PRIMARY KEY,
    name TEXT,
    symbol TEXT,
    last_traded_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS cached_balances (
    wallet_address TEXT,
    token_address TEXT,
    balance_wei TEXT,
    decimals INTEGER,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (wallet_address, token_address)
);

CREATE TABLE IF NOT EXISTS cached_pools (
    token_address TEXT,
    quote_address TEXT,
    pool_data_json TEXT,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (token_address, quote_address)
);

CREATE TABLE IF NOT EXISTS active_positions (
    wallet_address TEXT,
    token_address TEXT,
    total_cost_wei TEXT,
    total_amount_wei TEXT,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (wallet_address, token_address)
);
`

const globalSchema = `
CREATE TABLE IF NOT EXISTS security (
    key_name TEXT PRIMARY KEY,
    salt BLOB,
    verifier TEXT
);

CREATE TABLE IF NOT EXISTS global_settings (
    key TEXT PRIMARY KEY,
    value TEXT
);
`

func (d *Database) createTables() error {
	if _, err := d.DB.Exec(networkSchema); err != nil {
		return fmt.Errorf("create network schema: %w", err)
	}
	if _, err := d.Global.Exec(globalSchema); err != nil {
		return fmt.Errorf("create global schema: %w", err)
	}
	return nil
}
