package db

// Wallet is a stored signing identity. PrivateKey is ciphertext at rest and
// plaintext only inside the in-memory state store after unlock.
type Wallet struct {
	Address    string
	PrivateKey string
	Name       string
	Enabled    bool
}

// CachedBalance is a persisted balance snapshot. BalanceWei stays a decimal
// string end to end because token amounts exceed int64.
type CachedBalance struct {
	WalletAddress string
	TokenAddress  string
	BalanceWei    string
	Decimals      int
}

// CachedPool is a persisted liquidity-venue selection; PoolData carries the
// serialized descriptor as-is.
type CachedPool struct {
	TokenAddress string
	QuoteAddress string
	PoolData     string
}

// Position holds cumulative acquisition totals for PnL, in smallest units.
type Position struct {
	WalletAddress  string
	TokenAddress   string
	TotalCostWei   string
	TotalAmountWei string
}

// RecentToken is trade-history metadata shown by the surface.
type RecentToken struct {
	TokenAddress string
	Name         string
	Symbol       string
	LastTradedAt string
}
