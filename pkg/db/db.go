package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Database wraps the per-network store plus the shared global store so the
// rest of the core never touches raw SQL handles.
type Database struct {
	DB     *sql.DB // network-scoped: wallets, config, balances, pools, positions
	Global *sql.DB // shared across networks: security, global_settings
}

// Open opens (and creates if needed) both SQLite databases.
func Open(path, globalPath string) (*Database, error) {
	if path == "" || globalPath == "" {
		return nil, errors.New("database path is empty")
	}

	network, err := openOne(path)
	if err != nil {
		return nil, err
	}
	global, err := openOne(globalPath)
	if err != nil {
		network.Close()
		return nil, err
	}

	d := &Database{DB: network, Global: global}
	if err := d.createTables(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func openOne(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	h, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	h.SetMaxOpenConns(1) // SQLite prefers single writer.
	h.SetConnMaxLifetime(time.Hour)

	if _, err := h.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		h.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	return h, nil
}

// Close releases both DB handles.
func (d *Database) Close() error {
	if d == nil {
		return nil
	}
	var first error
	if d.DB != nil {
		first = d.DB.Close()
	}
	if d.Global != nil {
		if err := d.Global.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
