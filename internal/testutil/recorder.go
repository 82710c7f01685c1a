package testutil

import (
	"context"
	"sync"

	"github.com/roach88/cachekit/internal/dispatch"
	"github.com/roach88/cachekit/internal/notify"
)

// Delivery is one notification seen by a Recorder.
type Delivery struct {
	notify.Notification
	OnUI bool
}

// Recorder is a notify.Listener that keeps everything it receives.
// Safe for concurrent use.
type Recorder struct {
	mu  sync.Mutex
	got []Delivery
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) OnNotification(ctx context.Context, n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, Delivery{Notification: n, OnUI: dispatch.IsAffine(ctx)})
}

// Deliveries returns a copy of everything received so far.
func (r *Recorder) Deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.got...)
}

// Payloads returns the received payloads in delivery order.
func (r *Recorder) Payloads() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]any, len(r.got))
	for i, d := range r.got {
		out[i] = d.Payload
	}
	return out
}

// Len returns the number of deliveries.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

// Reset forgets every delivery.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = nil
}
