package kvcache

import "sync/atomic"

type metrics struct {
	hits        atomic.Int64
	misses      atomic.Int64
	evictions   atomic.Int64
	storeErrors atomic.Int64
}

// Metrics is a point-in-time copy of a cache's counters.
type Metrics struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Evictions   int64 `json:"evictions"`
	StoreErrors int64 `json:"store_errors"`
}

// Metrics returns the current counters.
func (c *Cache[V]) Metrics() Metrics {
	return Metrics{
		Hits:        c.metrics.hits.Load(),
		Misses:      c.metrics.misses.Load(),
		Evictions:   c.metrics.evictions.Load(),
		StoreErrors: c.metrics.storeErrors.Load(),
	}
}
