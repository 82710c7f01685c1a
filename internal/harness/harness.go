package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/roach88/cachekit/internal/config"
	"github.com/roach88/cachekit/internal/dispatch"
	"github.com/roach88/cachekit/internal/kvcache"
	"github.com/roach88/cachekit/internal/listcache"
	"github.com/roach88/cachekit/internal/notify"
	"github.com/roach88/cachekit/internal/record"
	"github.com/roach88/cachekit/internal/store"
	"github.com/roach88/cachekit/internal/testutil"
)

const scenarioTable = "scenario"

type options struct {
	pageSize    int
	swapTimeout time.Duration
	logger      *slog.Logger
}

// Option configures a harness run.
type Option func(*options)

// WithPageSize sets the limit used by load_page steps without one.
func WithPageSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

// WithSwapTimeout sets the list swap acknowledgement timeout.
func WithSwapTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.swapTimeout = d
		}
	}
}

// WithLogger sets the logger passed to the caches. Logs are discarded by
// default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Harness holds the caches and loops of one scenario run.
type Harness struct {
	store     *store.Store
	ui        *dispatch.Actor
	bg        *dispatch.Actor
	bus       *notify.Bus
	listTable *store.ListTable[record.Item]
	kvTable   *store.KVTable[record.Item]
	list      *listcache.Cache[record.Item]
	kv        *kvcache.Cache[record.Item]

	listEvents *testutil.Recorder
	kvEvents   *testutil.Recorder
	subs       []*notify.Subscription

	items    *testutil.ItemSeq
	pageSize int
	logger   *slog.Logger
}

// Run executes a scenario and returns its result.
//
// Each scenario runs against a fresh in-memory database. An error is
// returned only when the harness itself could not run; failed assertions
// are reported in the result.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	h, err := newHarness(ctx, scenario, opts...)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	runErr := h.execute(ctx, scenario.Steps, result)
	if runErr == nil {
		actx := &AssertionContext{Ctx: ctx, harness: h}
		for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
			result.AddError(msg)
		}
	}

	if err := multierr.Append(runErr, h.close(ctx)); err != nil {
		return nil, err
	}
	return result, nil
}

func newHarness(ctx context.Context, scenario *Scenario, opts ...Option) (*Harness, error) {
	o := options{
		pageSize:    config.DefaultPageSize,
		swapTimeout: config.DefaultSwapTimeout,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}

	order, err := store.ParseOrder(scenario.Order)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}

	h := &Harness{
		store:      st,
		ui:         dispatch.New("ui", dispatch.WithAffinity(), dispatch.WithLogger(o.logger)),
		bg:         dispatch.New("bus_bg", dispatch.WithLogger(o.logger)),
		listEvents: testutil.NewRecorder(),
		kvEvents:   testutil.NewRecorder(),
		items:      testutil.NewItemSeq(),
		pageSize:   o.pageSize,
		logger:     o.logger,
	}
	h.bus = notify.NewBus(h.ui, h.bg, notify.WithLogger(o.logger))

	h.listTable = store.NewListTable[record.Item](st, scenarioTable, record.Adapter{}, record.Codec{},
		store.WithOrder(order), store.WithLogger(o.logger))
	h.kvTable = store.NewKVTable[record.Item](st, scenarioTable, record.Adapter{}, record.Codec{},
		store.WithLogger(o.logger))

	if len(scenario.Seed) > 0 {
		if err := h.listTable.InsertBatch(ctx, scenario.Seed); err != nil {
			_ = h.close(ctx)
			return nil, fmt.Errorf("failed to seed list table: %w", err)
		}
	}

	listOpts := []listcache.Option{
		listcache.WithName(scenarioTable),
		listcache.WithSwapDelay(time.Millisecond),
		listcache.WithSwapTimeout(o.swapTimeout),
		listcache.WithLogger(o.logger),
	}
	if order == store.Descending {
		listOpts = append(listOpts, listcache.WithDescending())
	}
	h.list = listcache.New[record.Item](record.Adapter{}, h.listTable, h.bus, h.ui, listOpts...)

	capacity := scenario.Capacity
	if capacity == 0 {
		capacity = config.DefaultKVCapacity
	}
	h.kv, err = kvcache.New[record.Item](record.Adapter{}, h.kvTable, h.bus,
		kvcache.WithCapacity(capacity),
		kvcache.WithName(scenarioTable),
		kvcache.WithLogger(o.logger),
	)
	if err != nil {
		_ = h.close(ctx)
		return nil, err
	}

	h.subs = append(h.subs,
		h.bus.Subscribe(ctx, listcache.TopicUpdated, h.list.ID(), h.listEvents),
		h.bus.Subscribe(ctx, kvcache.TopicUpdated, h.kv.ID(), h.kvEvents),
	)
	return h, nil
}

func (h *Harness) close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var err error
	for _, sub := range h.subs {
		sub.Cancel(ctx)
	}
	if h.list != nil {
		err = multierr.Append(err, h.list.Close(ctx))
	}
	if h.kv != nil {
		err = multierr.Append(err, h.kv.Close(ctx))
	}
	err = multierr.Append(err, h.ui.Close(ctx))
	err = multierr.Append(err, h.bg.Close(ctx))
	err = multierr.Append(err, h.store.Close())
	return err
}

// settle waits for store work, mutation cycles and deliveries.
func (h *Harness) settle(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := h.list.Settle(ctx); err != nil {
		return fmt.Errorf("settle list: %w", err)
	}
	if err := h.kv.Flush(ctx); err != nil {
		return fmt.Errorf("flush kv: %w", err)
	}
	if err := h.bg.Barrier(ctx); err != nil {
		return fmt.Errorf("settle deliveries: %w", err)
	}
	return h.ui.Barrier(ctx)
}

func (h *Harness) execute(ctx context.Context, steps []Step, result *Result) error {
	for i, step := range steps {
		items := append([]record.Item(nil), step.Items...)
		if step.Generate > 0 {
			items = append(items, h.items.Take(step.Generate)...)
		}

		var (
			outcome string
			err     error
		)
		if step.List != "" {
			outcome, err = h.runList(ctx, step, items)
		} else {
			outcome, err = h.runKV(ctx, step, items)
		}
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, step.Op(), err)
		}
		result.AddTrace(step.Op(), stepArgs(step, items), outcome)
	}
	return nil
}

func stepArgs(step Step, items []record.Item) string {
	switch {
	case len(items) > 0:
		return fmt.Sprintf("items=%v", record.IDs(items))
	case len(step.IDs) > 0:
		return fmt.Sprintf("ids=%v", step.IDs)
	case step.List == ListLoadPage && step.Limit > 0:
		return fmt.Sprintf("limit=%d", step.Limit)
	}
	return ""
}

func (h *Harness) runList(ctx context.Context, step Step, items []record.Item) (string, error) {
	var prefix string
	var found foundIDs

	switch step.List {
	case ListAdd:
		for _, v := range items {
			h.list.Add(v)
		}
	case ListUpdate:
		for _, v := range items {
			h.list.Update(v)
		}
	case ListUpsert:
		for _, v := range items {
			h.list.AddOrUpdate(v)
		}
	case ListRemove:
		for _, id := range step.IDs {
			h.list.Remove(id)
		}
	case ListAddBatch:
		h.list.AddBatch(items)
	case ListUpdateBatch:
		h.list.UpdateBatch(items)
	case ListUpsertBatch:
		h.list.AddOrUpdateBatch(items)
	case ListRemoveBatch:
		h.list.RemoveBatch(step.IDs)
	case ListLoadPage:
		limit := step.Limit
		if limit == 0 {
			limit = h.pageSize
		}
		prefix = fmt.Sprintf("started=%t ", h.list.LoadNextPage(limit))
	case ListLoadAll:
		prefix = fmt.Sprintf("started=%t ", h.list.LoadAll())
	case ListClear:
		h.list.Clear()
	case ListGetFromDB:
		for _, id := range step.IDs {
			h.list.GetValueFromDB(id, found.record(id))
		}
	default:
		return "", fmt.Errorf("unknown list operation %q", step.List)
	}

	if err := h.settle(ctx); err != nil {
		return "", err
	}
	if step.List == ListGetFromDB {
		prefix = found.String() + " "
	}

	payloads := h.listEvents.Payloads()
	h.listEvents.Reset()
	return fmt.Sprintf("%scount=%d order=%v notify=%v",
		prefix, h.list.Count(), record.IDs(h.list.Snapshot()), payloads), nil
}

func (h *Harness) runKV(ctx context.Context, step Step, items []record.Item) (string, error) {
	var prefix string

	switch step.KV {
	case KVPut:
		for _, v := range items {
			h.kv.Put(v)
		}
	case KVPutAll:
		h.kv.PutAll(items)
	case KVGet:
		hit, miss := []int64{}, []int64{}
		for _, id := range step.IDs {
			_, ok, err := h.kv.Get(ctx, id)
			if err != nil {
				return "", err
			}
			if ok {
				hit = append(hit, id)
			} else {
				miss = append(miss, id)
			}
		}
		prefix = fmt.Sprintf("hit=%v miss=%v ", hit, miss)
	case KVRemove:
		for _, id := range step.IDs {
			h.kv.Remove(id)
		}
	case KVClear:
		h.kv.Clear()
	default:
		return "", fmt.Errorf("unknown kv operation %q", step.KV)
	}

	if err := h.settle(ctx); err != nil {
		return "", err
	}

	payloads := h.kvEvents.Payloads()
	h.kvEvents.Reset()
	return fmt.Sprintf("%ssize=%d keys=%v notify=%v",
		prefix, h.kv.Len(), h.kv.Keys(), payloads), nil
}

// foundIDs collects get_from_db callbacks, which run on the store actor.
type foundIDs struct {
	mu   sync.Mutex
	hit  []int64
	miss []int64
}

func (f *foundIDs) record(id int64) func(record.Item, bool, error) {
	return func(_ record.Item, ok bool, _ error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if ok {
			f.hit = append(f.hit, id)
		} else {
			f.miss = append(f.miss, id)
		}
	}
}

func (f *foundIDs) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fmt.Sprintf("hit=%v miss=%v", f.hit, f.miss)
}
