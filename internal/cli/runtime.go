package cli

import (
	"context"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"github.com/roach88/cachekit/internal/dispatch"
	"github.com/roach88/cachekit/internal/notify"
	"github.com/roach88/cachekit/internal/store"
)

const shutdownTimeout = 10 * time.Second

// runtime is what one command invocation runs on: the database, the two
// delivery loops and the bus connecting caches to listeners.
type runtime struct {
	store  *store.Store
	ui     *dispatch.Actor
	bg     *dispatch.Actor
	bus    *notify.Bus
	logger *slog.Logger
	subs   []*notify.Subscription
}

func openRuntime(opts *RootOptions) (*runtime, error) {
	st, err := store.Open(opts.Config.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	logger := opts.Logger
	r := &runtime{
		store:  st,
		ui:     dispatch.New("ui", dispatch.WithAffinity(), dispatch.WithLogger(logger)),
		bg:     dispatch.New("bus_bg", dispatch.WithLogger(logger)),
		logger: logger,
	}
	r.bus = notify.NewBus(r.ui, r.bg, notify.WithLogger(logger))
	logger.Debug("runtime opened", "database", opts.Config.Database)
	return r, nil
}

// watch logs every notification of topic for key at debug level.
func (r *runtime) watch(ctx context.Context, topic notify.Topic, key int64) {
	sub := r.bus.Subscribe(ctx, topic, key, notify.ListenerFunc(func(_ context.Context, n notify.Notification) {
		r.logger.Debug("notification", "topic", n.Topic, "key", n.Key, "payload", n.Payload)
	}))
	r.subs = append(r.subs, sub)
}

// Close drains the loops and closes the database.
func (r *runtime) Close(ctx context.Context) error {
	for _, sub := range r.subs {
		sub.Cancel(ctx)
	}
	var err error
	err = multierr.Append(err, r.bg.Close(ctx))
	err = multierr.Append(err, r.ui.Close(ctx))
	err = multierr.Append(err, r.store.Close())
	return err
}

func shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), shutdownTimeout)
}
