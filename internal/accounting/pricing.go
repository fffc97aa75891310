// Package accounting turns measured resource usage into charges and refunds
// and guards the exactly-once settlement of each request.
package accounting

import (
	"sync"
	"time"
)

// PricingSchedule is the rate card applied to resource usage. All amounts
// are in micro-USD to keep settlement arithmetic integral.
type PricingSchedule struct {
	BaseFee                uint64 `json:"base_fee"`
	PerMillionInstructions uint64 `json:"per_million_instructions"`
	PerMBSecond            uint64 `json:"per_mb_second"`
	PerCompileMs           uint64 `json:"per_compile_ms"`
}

// PricingCache is a read-mostly handle on the current schedule. Refreshes
// come from config or the chain-side oracle and are rate limited by the
// caller-supplied minimum interval.
type PricingCache struct {
	mu          sync.RWMutex
	schedule    PricingSchedule
	refreshedAt time.Time
	minRefresh  time.Duration
}

func NewPricingCache(initial PricingSchedule, minRefresh time.Duration) *PricingCache {
	return &PricingCache{
		schedule:    initial,
		refreshedAt: time.Now(),
		minRefresh:  minRefresh,
	}
}

// Current returns the schedule in effect.
func (c *PricingCache) Current() PricingSchedule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.schedule
}

// Refresh installs a new schedule. Calls arriving before the minimum refresh
// interval has elapsed are dropped and report false.
func (c *PricingCache) Refresh(next PricingSchedule) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.refreshedAt) < c.minRefresh {
		return false
	}
	c.schedule = next
	c.refreshedAt = time.Now()
	return true
}

// RefreshedAt reports when the schedule last changed.
func (c *PricingCache) RefreshedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshedAt
}
