package dispatch

import "context"

type actorKey struct{}

// Current returns the actor executing the task that owns ctx, or nil when
// ctx did not originate from an actor.
func Current(ctx context.Context) *Actor {
	if ctx == nil {
		return nil
	}
	a, _ := ctx.Value(actorKey{}).(*Actor)
	return a
}

// IsAffine reports whether ctx belongs to a task running on the UI-affine loop.
func IsAffine(ctx context.Context) bool {
	a := Current(ctx)
	return a != nil && a.affine
}
