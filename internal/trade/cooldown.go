package trade

import (
	"sync"
	"time"
)

// Standard cooldown windows for auxiliary per-wallet actions.
const (
	CooldownShort  = 60 * time.Second  // allowance checks
	CooldownMedium = 300 * time.Second // auto-refuel probes
	CooldownLong   = 600 * time.Second // nonce resync nagging
)

// Cooldowns is a last-attempt-timestamp map per (wallet, concern). It bounds
// external calls without a token-bucket abstraction: skip if too recent.
type Cooldowns struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

func NewCooldowns() *Cooldowns {
	return &Cooldowns{last: make(map[string]time.Time), now: time.Now}
}

// Ready reports whether the window has elapsed for (wallet, concern) and, if
// so, stamps the attempt.
func (c *Cooldowns) Ready(wallet, concern string, window time.Duration) bool {
	key := wallet + "|" + concern
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if last, ok := c.last[key]; ok && now.Sub(last) < window {
		return false
	}
	c.last[key] = now
	return true
}

// Reset clears the stamp so the next Ready succeeds immediately.
func (c *Cooldowns) Reset(wallet, concern string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.last, wallet+"|"+concern)
}
