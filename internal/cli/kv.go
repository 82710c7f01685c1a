package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/roach88/cachekit/internal/kvcache"
	"github.com/roach88/cachekit/internal/record"
	"github.com/roach88/cachekit/internal/store"
)

// KVOptions holds flags for the kv commands.
type KVOptions struct {
	*RootOptions
	Table string

	ID    int64
	Time  int64
	Label string
}

// KVResult is the JSON payload of kv commands.
type KVResult struct {
	Table string        `json:"table"`
	Op    string        `json:"op"`
	ID    *int64        `json:"id,omitempty"`
	Item  *record.Item  `json:"item,omitempty"`
	Items []record.Item `json:"items,omitempty"`
	Found *bool         `json:"found,omitempty"`
}

type kvAction func(ctx context.Context, c *kvcache.Cache[record.Item]) (KVResult, string, error)

// NewKVCommand creates the kv command group.
func NewKVCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KVOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "kv",
		Short: "Operate a key/value cache",
		Long: `Operate an LRU key/value cache stored in the kv_items table.

Every invocation starts with a cold cache, so reads go to the database
and writes are persisted before the command returns.

Examples:
  cachekit kv put --table users --id 7 --time 100 --label ada
  cachekit kv get --table users --id 7
  cachekit kv all --table users --format json`,
	}
	cmd.PersistentFlags().StringVar(&opts.Table, "table", "default", "table name")

	put := &cobra.Command{
		Use:   "put",
		Short: "Store an item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKV(cmd, opts, "put", func(ctx context.Context, c *kvcache.Cache[record.Item]) (KVResult, string, error) {
				item := record.Item{ID: opts.ID, Time: opts.Time, Label: opts.Label}
				if err := c.PutSync(ctx, item); err != nil {
					return KVResult{}, "", err
				}
				return KVResult{Item: &item}, fmt.Sprintf("put %s in %s\n", item, opts.Table), nil
			})
		},
	}
	put.Flags().Int64Var(&opts.ID, "id", 0, "item id")
	put.Flags().Int64Var(&opts.Time, "time", 0, "item time")
	put.Flags().StringVar(&opts.Label, "label", "", "item label")
	_ = put.MarkFlagRequired("id")
	cmd.AddCommand(put)

	get := &cobra.Command{
		Use:   "get",
		Short: "Read an item by id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKV(cmd, opts, "get", func(ctx context.Context, c *kvcache.Cache[record.Item]) (KVResult, string, error) {
				item, ok, err := c.Get(ctx, opts.ID)
				if err != nil {
					return KVResult{}, "", err
				}
				if !ok {
					return KVResult{}, "", NewExitError(ExitFailure, fmt.Sprintf("id %d not found in %s", opts.ID, opts.Table))
				}
				return KVResult{Item: &item, Found: &ok}, item.String() + "\n", nil
			})
		},
	}
	get.Flags().Int64Var(&opts.ID, "id", 0, "item id")
	_ = get.MarkFlagRequired("id")
	cmd.AddCommand(get)

	remove := &cobra.Command{
		Use:   "remove",
		Short: "Delete an item by id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKV(cmd, opts, "remove", func(ctx context.Context, c *kvcache.Cache[record.Item]) (KVResult, string, error) {
				if err := c.RemoveSync(ctx, opts.ID); err != nil {
					return KVResult{}, "", err
				}
				return KVResult{ID: &opts.ID}, fmt.Sprintf("removed %d from %s\n", opts.ID, opts.Table), nil
			})
		},
	}
	remove.Flags().Int64Var(&opts.ID, "id", 0, "item id")
	_ = remove.MarkFlagRequired("id")
	cmd.AddCommand(remove)

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every item of a table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKV(cmd, opts, "clear", func(ctx context.Context, c *kvcache.Cache[record.Item]) (KVResult, string, error) {
				if err := c.ClearSync(ctx); err != nil {
					return KVResult{}, "", err
				}
				return KVResult{}, fmt.Sprintf("cleared %s\n", opts.Table), nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "all",
		Short: "Print every stored item in id order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKV(cmd, opts, "all", func(ctx context.Context, c *kvcache.Cache[record.Item]) (KVResult, string, error) {
				items, err := c.GetAllFromDiskSync(ctx)
				if err != nil {
					return KVResult{}, "", err
				}
				var b strings.Builder
				for _, it := range items {
					fmt.Fprintf(&b, "%d\t%d\t%s\n", it.ID, it.Time, it.Label)
				}
				fmt.Fprintf(&b, "%d items in %s\n", len(items), opts.Table)
				return KVResult{Items: items}, b.String(), nil
			})
		},
	})

	return cmd
}

// runKV opens a kv cache over the configured table and runs action on the
// command goroutine, which is never the UI-affine loop.
func runKV(cmd *cobra.Command, opts *KVOptions, op string, action kvAction) (err error) {
	rt, err := openRuntime(opts.RootOptions)
	if err != nil {
		return err
	}

	table := store.NewKVTable[record.Item](rt.store, opts.Table, record.Adapter{}, record.Codec{},
		store.WithLogger(rt.logger))
	c, err := kvcache.New[record.Item](record.Adapter{}, table, rt.bus,
		kvcache.WithName(opts.Table),
		kvcache.WithCapacity(opts.Config.KV.Capacity),
		kvcache.WithLogger(rt.logger),
	)
	if err != nil {
		ctx, cancel := shutdownContext()
		defer cancel()
		return multierr.Append(WrapExitError(ExitCommandError, "failed to create cache", err), rt.Close(ctx))
	}

	defer func() {
		ctx, cancel := shutdownContext()
		defer cancel()
		err = multierr.Combine(err, c.Close(ctx), rt.Close(ctx))
	}()

	ctx := cmd.Context()
	if opts.Verbose {
		rt.watch(ctx, kvcache.TopicUpdated, c.ID())
	}

	result, text, err := action(ctx, c)
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return err
		}
		return WrapExitError(ExitFailure, op+" failed", err)
	}

	result.Table = opts.Table
	result.Op = op
	return opts.formatter(cmd).Success(result, text)
}
