package listcache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/roach88/cachekit/internal/core"
)

const (
	cyclePending int32 = iota
	cycleClaimed
	cycleAbandoned
)

// handshake is the one-shot acknowledgement between the mutation actor and
// a task it posted to the UI loop. Exactly one side wins the CAS out of
// pending: the UI task (claimed) or the waiting actor after its timeout
// (abandoned). An abandoned task does nothing when it finally runs, so a
// late swap can never apply a mutation twice.
type handshake struct {
	state atomic.Int32
	done  chan struct{}
}

func newHandshake() *handshake {
	return &handshake{done: make(chan struct{})}
}

func (h *handshake) claim() bool {
	return h.state.CompareAndSwap(cyclePending, cycleClaimed)
}

// wait blocks until the UI task finished or timeout elapsed. It reports
// whether the task ran. If the task claimed the handshake just as the timer
// fired, wait still waits for it to finish.
func (h *handshake) wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.done:
		return true
	case <-timer.C:
	}

	if h.state.CompareAndSwap(cyclePending, cycleAbandoned) {
		return false
	}
	<-h.done
	return true
}

// runCycle applies m with the double-buffer protocol. It runs on the
// mutation actor only.
//
//  1. apply m to the inactive buffer
//  2. after swapDelay, on the UI loop: make it active, fire the delta, ack
//  3. on ack, apply m to the new inactive buffer (the previous active one)
//  4. on timeout, abandon the swap and ask the UI loop to apply m to the
//     active buffer and fire instead; if that also times out, apply it
//     directly from here
//
// Steps 3 and 4 both leave the two buffers equal.
func (c *Cache[V]) runCycle(ctx context.Context, op string, m mutation[V]) {
	c.metrics.cycles.Add(1)
	start := time.Now()

	c.mu.Lock()
	target := 1 - c.active
	before := len(c.buffers[target])
	c.buffers[target] = m(c.buffers[target])
	delta := len(c.buffers[target]) - before
	c.mu.Unlock()

	swap := newHandshake()
	posted := c.ui.PostDelayed(c.swapDelay, func(uctx context.Context) {
		if !swap.claim() {
			return
		}
		c.mu.Lock()
		c.active = target
		c.mu.Unlock()
		c.bus.Fire(uctx, TopicUpdated, c.id, delta)
		close(swap.done)
	})

	if posted && swap.wait(c.swapTimeout) {
		c.mu.Lock()
		stale := 1 - c.active
		c.buffers[stale] = m(c.buffers[stale])
		c.mu.Unlock()

		c.logger.Debug("list cycle applied",
			"op", op,
			"delta", delta,
			"elapsed", time.Since(start),
		)
		return
	}

	c.metrics.swapTimeouts.Add(1)
	c.logger.Warn("list swap not acknowledged, recovering",
		"op", op,
		"error", core.NewSwapTimeoutError(c.id),
		"timeout", c.swapTimeout,
	)

	// The inactive buffer already holds the mutation; only the active one
	// is behind. Readers may see it change in place from here on.
	fallback := newHandshake()
	posted = c.ui.PostDelayed(c.swapDelay, func(uctx context.Context) {
		if !fallback.claim() {
			return
		}
		c.applyActive(m)
		c.bus.Fire(uctx, TopicUpdated, c.id, delta)
		close(fallback.done)
	})

	if posted && fallback.wait(c.swapTimeout) {
		c.metrics.recoveries.Add(1)
		c.logger.Warn("list recovered on ui loop", "op", op, "delta", delta)
		return
	}

	c.metrics.forced.Add(1)
	c.applyActive(m)
	c.bus.Fire(ctx, TopicUpdated, c.id, delta)
	c.logger.Warn("list recovered without ui loop", "op", op, "delta", delta)
}

func (c *Cache[V]) applyActive(m mutation[V]) {
	c.mu.Lock()
	c.buffers[c.active] = m(c.buffers[c.active])
	c.mu.Unlock()
}
