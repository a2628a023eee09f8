package evaluator

import (
	"sync"
	"time"
)

// DefaultCooldown is COOLDOWN: the minimum wall-clock interval between two
// fires of the same (alertId, symbol) (§4.E step 3, §9 open question —
// the spec picks 30s as the single configuration constant).
const DefaultCooldown = 30 * time.Second

// CooldownTracker is ComplexLastTrigger: alertId → (symbol → ts). Writes
// are only ever made by the lease-holding worker, so a plain mutex is
// sufficient (§5: "written only by the lease-holding worker").
type CooldownTracker struct {
	mu       sync.Mutex
	lastFire map[int64]map[string]time.Time
	cooldown time.Duration
}

// NewCooldownTracker creates a tracker with the given cooldown duration
// (DefaultCooldown if zero).
func NewCooldownTracker(cooldown time.Duration) *CooldownTracker {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &CooldownTracker{
		lastFire: make(map[int64]map[string]time.Time),
		cooldown: cooldown,
	}
}

// CanEmit reports whether (alertID, symbol) may fire at now: true if it
// has never fired or the cooldown has elapsed since its last fire.
func (c *CooldownTracker) CanEmit(alertID int64, symbol string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.lastFire[alertID][symbol]
	if !ok {
		return true
	}
	return now.Sub(last) >= c.cooldown
}

// MarkFired records a fire at now, to be called only after CanEmit was
// re-checked under the same lock ordering (§4.E step 4: "re-check
// cooldown, mark trigger").
func (c *CooldownTracker) MarkFired(alertID int64, symbol string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	symbols, ok := c.lastFire[alertID]
	if !ok {
		symbols = make(map[string]time.Time)
		c.lastFire[alertID] = symbols
	}
	symbols[symbol] = now
}

// TryFire atomically checks CanEmit and, if true, marks the fire in one
// critical section, returning whether the caller may proceed. This closes
// the race between the check and the mark for concurrent tick/sweep paths.
func (c *CooldownTracker) TryFire(alertID int64, symbol string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	symbols, ok := c.lastFire[alertID]
	if ok {
		if last, ok := symbols[symbol]; ok && now.Sub(last) < c.cooldown {
			return false
		}
	} else {
		symbols = make(map[string]time.Time)
		c.lastFire[alertID] = symbols
	}
	symbols[symbol] = now
	return true
}

// Forget removes all cooldown state for an alert, called when the alert
// is deleted.
func (c *CooldownTracker) Forget(alertID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lastFire, alertID)
}
