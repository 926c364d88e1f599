package metrics

import (
	"sync"
	"sync/atomic"
)

// automationStats holds in-process counters for the automation engine.
// Kept simple/thread-safe for use from services and exposition.
type automationStats struct {
	runsTriggered       uint64
	runsCompleted       uint64
	runsFailed          uint64
	actionsProposed     uint64
	actionsAutoApproved uint64
	actionsResolved     uint64
}

var auto automationStats

func IncRunTriggered() { atomic.AddUint64(&auto.runsTriggered, 1) }

func IncRunCompleted(failed bool) {
	if failed {
		atomic.AddUint64(&auto.runsFailed, 1)
		return
	}
	atomic.AddUint64(&auto.runsCompleted, 1)
}

func IncActionProposed(autoApproved bool) {
	atomic.AddUint64(&auto.actionsProposed, 1)
	if autoApproved {
		atomic.AddUint64(&auto.actionsAutoApproved, 1)
	}
}

// IncActionResolved counts human approve/reject resolutions.
func IncActionResolved() { atomic.AddUint64(&auto.actionsResolved, 1) }

// AutomationSnapshot returns a copy of the automation counters.
func AutomationSnapshot() map[string]uint64 {
	return map[string]uint64{
		"runs_triggered":        atomic.LoadUint64(&auto.runsTriggered),
		"runs_completed":        atomic.LoadUint64(&auto.runsCompleted),
		"runs_failed":           atomic.LoadUint64(&auto.runsFailed),
		"actions_proposed":      atomic.LoadUint64(&auto.actionsProposed),
		"actions_auto_approved": atomic.LoadUint64(&auto.actionsAutoApproved),
		"actions_resolved":      atomic.LoadUint64(&auto.actionsResolved),
	}
}

// rateLimitStats holds counters for rate limit drops (HTTP 429).
type rateLimitStats struct {
	total    uint64
	mu       sync.Mutex
	byPrefix map[string]uint64
}

var rl rateLimitStats

// IncRateLimitDrop increments drop counters for the given prefix.
// Use prefix "global" for global limiter rejections.
func IncRateLimitDrop(prefix string) {
	if prefix == "" {
		prefix = "global"
	}
	atomic.AddUint64(&rl.total, 1)
	rl.mu.Lock()
	if rl.byPrefix == nil {
		rl.byPrefix = make(map[string]uint64)
	}
	rl.byPrefix[prefix]++
	rl.mu.Unlock()
}

// RateLimitSnapshot returns a copy of the current counters.
func RateLimitSnapshot() (total uint64, by map[string]uint64) {
	total = atomic.LoadUint64(&rl.total)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	by = make(map[string]uint64, len(rl.byPrefix))
	for k, v := range rl.byPrefix {
		by[k] = v
	}
	return total, by
}
