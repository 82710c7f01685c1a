package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/roach88/cachekit/internal/listcache"
	"github.com/roach88/cachekit/internal/record"
	"github.com/roach88/cachekit/internal/store"
)

// ListOptions holds flags for the list commands.
type ListOptions struct {
	*RootOptions
	List  string
	Order string

	ID    int64
	Time  int64
	Label string

	Pages int
	All   bool
}

// ListResult is the JSON payload of list commands.
type ListResult struct {
	List  string        `json:"list"`
	Op    string        `json:"op"`
	Item  *record.Item  `json:"item,omitempty"`
	ID    *int64        `json:"id,omitempty"`
	Items []record.Item `json:"items,omitempty"`
	Count int           `json:"count"`
}

// NewListCommand creates the list command group.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Operate a sorted list cache",
		Long: `Operate a sorted list cache stored in the list_items table.

Several lists share one table; --list selects one. Items are ordered by
their time, ascending unless --order desc is given.

Examples:
  cachekit list add --list inbox --id 1 --time 10 --label hello
  cachekit list show --list inbox --page 2
  cachekit list show --list inbox --all --format json
  cachekit list clear --list inbox`,
	}
	cmd.PersistentFlags().StringVar(&opts.List, "list", "default", "list name")
	cmd.PersistentFlags().StringVar(&opts.Order, "order", "asc", "list order (asc|desc)")

	for _, op := range []string{"add", "update", "upsert"} {
		cmd.AddCommand(newListWriteCommand(opts, op))
	}

	remove := &cobra.Command{
		Use:   "remove",
		Short: "Remove an item by id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, opts, "remove", func(_ context.Context, c *listcache.Cache[record.Item]) (ListResult, string, error) {
				c.Remove(opts.ID)
				return ListResult{ID: &opts.ID}, fmt.Sprintf("removed %d from %s\n", opts.ID, opts.List), nil
			})
		},
	}
	remove.Flags().Int64Var(&opts.ID, "id", 0, "item id")
	_ = remove.MarkFlagRequired("id")
	cmd.AddCommand(remove)

	show := &cobra.Command{
		Use:   "show",
		Short: "Load pages of a list and print them in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, opts, "show", func(ctx context.Context, c *listcache.Cache[record.Item]) (ListResult, string, error) {
				return showList(ctx, opts, c)
			})
		},
	}
	show.Flags().IntVar(&opts.Pages, "page", 1, "number of pages to load")
	show.Flags().BoolVar(&opts.All, "all", false, "load the whole list")
	show.MarkFlagsMutuallyExclusive("page", "all")
	cmd.AddCommand(show)

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every item of a list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, opts, "clear", func(_ context.Context, c *listcache.Cache[record.Item]) (ListResult, string, error) {
				c.Clear()
				return ListResult{}, fmt.Sprintf("cleared %s\n", opts.List), nil
			})
		},
	}
	cmd.AddCommand(clearCmd)

	return cmd
}

func newListWriteCommand(opts *ListOptions, op string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   op,
		Short: fmt.Sprintf("%s an item", strings.ToUpper(op[:1])+op[1:]),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, opts, op, func(_ context.Context, c *listcache.Cache[record.Item]) (ListResult, string, error) {
				item := record.Item{ID: opts.ID, Time: opts.Time, Label: opts.Label}
				switch op {
				case "add":
					c.Add(item)
				case "update":
					c.Update(item)
				default:
					c.AddOrUpdate(item)
				}
				return ListResult{Item: &item}, fmt.Sprintf("%s %s in %s\n", op, item, opts.List), nil
			})
		},
	}
	cmd.Flags().Int64Var(&opts.ID, "id", 0, "item id")
	cmd.Flags().Int64Var(&opts.Time, "time", 0, "item time (sort key)")
	cmd.Flags().StringVar(&opts.Label, "label", "", "item label")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func showList(ctx context.Context, opts *ListOptions, c *listcache.Cache[record.Item]) (ListResult, string, error) {
	if opts.All {
		c.LoadAll()
		if err := c.Settle(ctx); err != nil {
			return ListResult{}, "", err
		}
	} else {
		for range opts.Pages {
			if !c.LoadNextPage(opts.Config.List.PageSize) {
				break
			}
			if err := c.Settle(ctx); err != nil {
				return ListResult{}, "", err
			}
		}
	}

	items := c.Snapshot()
	var b strings.Builder
	for _, it := range items {
		fmt.Fprintf(&b, "%d\t%d\t%s\n", it.ID, it.Time, it.Label)
	}
	fmt.Fprintf(&b, "%d items in %s\n", len(items), opts.List)
	return ListResult{Items: items}, b.String(), nil
}

type listAction func(ctx context.Context, c *listcache.Cache[record.Item]) (ListResult, string, error)

// runList opens a list cache, runs action, waits for the cache to settle
// and reports the result. Store failures surface as ExitFailure.
func runList(cmd *cobra.Command, opts *ListOptions, op string, action listAction) (err error) {
	order, err := store.ParseOrder(opts.Order)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --order", err)
	}

	rt, err := openRuntime(opts.RootOptions)
	if err != nil {
		return err
	}

	listOpts := []listcache.Option{
		listcache.WithName(opts.List),
		listcache.WithSwapDelay(opts.Config.List.SwapDelay),
		listcache.WithSwapTimeout(opts.Config.List.SwapTimeout),
		listcache.WithLogger(rt.logger),
	}
	if order == store.Descending {
		listOpts = append(listOpts, listcache.WithDescending())
	}
	table := store.NewListTable[record.Item](rt.store, opts.List, record.Adapter{}, record.Codec{},
		store.WithOrder(order), store.WithLogger(rt.logger))
	c := listcache.New[record.Item](record.Adapter{}, table, rt.bus, rt.ui, listOpts...)

	defer func() {
		ctx, cancel := shutdownContext()
		defer cancel()
		err = multierr.Combine(err, c.Close(ctx), rt.Close(ctx))
	}()

	ctx := cmd.Context()
	if opts.Verbose {
		rt.watch(ctx, listcache.TopicUpdated, c.ID())
	}

	result, text, err := action(ctx, c)
	if err != nil {
		return WrapExitError(ExitFailure, op+" failed", err)
	}
	if err := c.Settle(ctx); err != nil {
		return WrapExitError(ExitFailure, op+" failed", err)
	}
	if n := c.Metrics().StoreErrors; n > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%s: %d store operation(s) failed", op, n))
	}

	result.List = opts.List
	result.Op = op
	result.Count = c.Count()
	return opts.formatter(cmd).Success(result, text)
}
