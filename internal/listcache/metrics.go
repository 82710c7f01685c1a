package listcache

import "sync/atomic"

type metrics struct {
	cycles       atomic.Int64
	swapTimeouts atomic.Int64
	recoveries   atomic.Int64
	forced       atomic.Int64
	pages        atomic.Int64
	storeErrors  atomic.Int64
}

// Metrics is a point-in-time copy of a cache's counters.
type Metrics struct {
	// Cycles counts mutation cycles started.
	Cycles int64 `json:"cycles"`

	// SwapTimeouts counts cycles whose swap was not acknowledged in time.
	SwapTimeouts int64 `json:"swap_timeouts"`

	// Recoveries counts timed-out cycles repaired on the UI loop.
	Recoveries int64 `json:"recoveries"`

	// Forced counts timed-out cycles repaired directly by the mutation actor.
	Forced int64 `json:"forced"`

	// Pages counts pages read from the store.
	Pages int64 `json:"pages"`

	// StoreErrors counts failed store operations.
	StoreErrors int64 `json:"store_errors"`
}

// Metrics returns the current counters.
func (c *Cache[V]) Metrics() Metrics {
	return Metrics{
		Cycles:       c.metrics.cycles.Load(),
		SwapTimeouts: c.metrics.swapTimeouts.Load(),
		Recoveries:   c.metrics.recoveries.Load(),
		Forced:       c.metrics.forced.Load(),
		Pages:        c.metrics.pages.Load(),
		StoreErrors:  c.metrics.storeErrors.Load(),
	}
}
