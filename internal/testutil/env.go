// Package testutil provides shared fixtures for cache tests: a UI-affine
// loop, a background loop and a bus wired together, a recording listener and
// a deterministic record generator.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/roach88/cachekit/internal/dispatch"
	"github.com/roach88/cachekit/internal/notify"
)

// Env is a bus plus the two loops it delivers on.
type Env struct {
	UI  *dispatch.Actor
	BG  *dispatch.Actor
	Bus *notify.Bus
}

// NewEnv creates an Env whose actors are closed when the test ends.
func NewEnv(t testing.TB) *Env {
	t.Helper()
	env := &Env{
		UI: dispatch.New("ui", dispatch.WithAffinity()),
		BG: dispatch.New("bus_bg"),
	}
	env.Bus = notify.NewBus(env.UI, env.BG)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = env.UI.Close(ctx)
		_ = env.BG.Close(ctx)
	})
	return env
}

// Settle waits for every delivery queued on both loops so far.
func (e *Env) Settle(t testing.TB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.BG.Barrier(ctx); err != nil {
		t.Fatalf("settle background loop: %v", err)
	}
	if err := e.UI.Barrier(ctx); err != nil {
		t.Fatalf("settle ui loop: %v", err)
	}
}

// OnUI runs fn on the UI-affine loop and waits for it.
func (e *Env) OnUI(t testing.TB, fn func(ctx context.Context)) {
	t.Helper()
	if err := e.UI.Call(context.Background(), fn); err != nil {
		t.Fatalf("run on ui loop: %v", err)
	}
}
