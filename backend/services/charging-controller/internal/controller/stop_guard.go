package controller

import "sync/atomic"

// StopGuard serialises the two stop triggers of a session: battery full
// (Tick Engine) and reservation deadline (Watchdog). Exactly one caller of
// TryAcquire wins; the loser does nothing.
type StopGuard struct {
	set atomic.Bool
}

// TryAcquire sets the guard and reports whether this call set it.
func (g *StopGuard) TryAcquire() bool {
	return g.set.CompareAndSwap(false, true)
}

// IsSet reports whether a stop or negotiation is under way.
func (g *StopGuard) IsSet() bool {
	return g.set.Load()
}

// Release clears the guard. Only a granted extension does this.
func (g *StopGuard) Release() {
	g.set.Store(false)
}
