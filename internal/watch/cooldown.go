package watch

import (
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
)

// Cooldown suppresses repeated alerts for the same pool slot within a window.
// It is safe for concurrent use.
type Cooldown struct {
	window time.Duration
	seen   *cache.Cache
}

// NewCooldown creates a cooldown; a non-positive window never suppresses
func NewCooldown(window time.Duration) *Cooldown {
	cleanup := window
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	return &Cooldown{
		window: window,
		seen:   cache.New(window, cleanup),
	}
}

func cooldownKey(miner string, slot int) string {
	return fmt.Sprintf("%s/%d", miner, slot)
}

// Allow reports whether an alert for (miner, slot) may be raised now and, if
// so, starts a new window for it.
func (c *Cooldown) Allow(miner string, slot int) bool {
	if c.window <= 0 {
		return true
	}
	// Add fails while an unexpired entry exists
	return c.seen.Add(cooldownKey(miner, slot), time.Now(), c.window) == nil
}

// Reset clears the window for (miner, slot)
func (c *Cooldown) Reset(miner string, slot int) {
	c.seen.Delete(cooldownKey(miner, slot))
}

// Active is the number of slots currently in their window
func (c *Cooldown) Active() int {
	return c.seen.ItemCount()
}
