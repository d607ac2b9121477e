package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/grab/internal/store"
)

// NewDedupeCommand creates the dedupe command.
func NewDedupeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dedupe",
		Short: "Report suspected duplicate orders and items",
		Long: `List orders sharing a store and external order id, and items sharing an
order, title, quantity and unit price. Nothing is changed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment(cmd, rootOpts, true)
			if err != nil {
				return err
			}
			defer env.Close()

			report, err := env.store.DuplicateDiagnostics(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read duplicates", err)
			}
			return newFormatter(cmd, rootOpts).Emit(report, func(w io.Writer) error {
				return renderDuplicates(w, report, rootOpts.Verbose)
			})
		},
	}
}

func renderDuplicates(w io.Writer, report store.Duplicates, verbose bool) error {
	fmt.Fprintln(w, "Duplicate diagnostics:")
	fmt.Fprintf(w, "- orders: %d\n", len(report.Orders))
	fmt.Fprintf(w, "- items: %d\n", len(report.Items))
	if !verbose {
		return nil
	}
	for _, o := range report.Orders {
		fmt.Fprintf(w, "  order store=%d external_id=%s x%d\n", o.StoreID, o.ExternalOrderID, o.Count)
	}
	for _, it := range report.Items {
		fmt.Fprintf(w, "  item order=%d %q qty=%s price=%s x%d\n",
			it.OrderID, it.TitleFull, csvDecimal(it.Quantity), csvDecimal(it.UnitPrice), it.Count)
	}
	return nil
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show row counts per table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment(cmd, rootOpts, true)
			if err != nil {
				return err
			}
			defer env.Close()

			counts, err := env.store.Counts(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to count rows", err)
			}
			return newFormatter(cmd, rootOpts).Emit(counts, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				for _, table := range store.CountedTables {
					fmt.Fprintf(tw, "%s\t%d\n", table, counts[table])
				}
				return tw.Flush()
			})
		},
	}
}

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	Limit int
}

// RunDetail is the output of grab runs <correlation-id>.
type RunDetail struct {
	Run   store.SyncRun      `json:"run"`
	Audit []store.AuditEntry `json:"audit"`
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs [correlation-id]",
		Short: "List sync runs, or show one run with its audit trail",
		Example: `  grab runs --limit 5
  grab runs 0190f5c2-7c1e-7000-8000-000000000001 --verbose`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment(cmd, rootOpts, true)
			if err != nil {
				return err
			}
			defer env.Close()
			out := newFormatter(cmd, rootOpts)

			if len(args) == 1 {
				return showRun(cmd, env, out, args[0])
			}

			runs, err := env.store.ListSyncRuns(cmd.Context(), opts.Limit)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list runs", err)
			}
			return out.Emit(runs, func(w io.Writer) error {
				return renderRuns(w, runs)
			})
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "number of runs to list (0 for all)")

	return cmd
}

func showRun(cmd *cobra.Command, env *environment, out *OutputFormatter, id string) error {
	run, err := env.store.GetSyncRun(cmd.Context(), id)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read run", err)
	}
	audit, err := env.store.ListAudit(cmd.Context(), id)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read audit log", err)
	}
	detail := RunDetail{Run: run, Audit: audit}
	return out.EmitRun(id, detail, func(w io.Writer) error {
		if err := renderRuns(w, []store.SyncRun{run}); err != nil {
			return err
		}
		for _, key := range statKeys {
			if v, ok := run.Stats[key]; ok {
				fmt.Fprintf(w, "- %s: %d\n", key, v)
			}
		}
		if run.Error != "" {
			fmt.Fprintf(w, "error: %s\n", run.Error)
		}
		fmt.Fprintf(w, "audit entries: %d\n", len(audit))
		if out.Verbose {
			for _, a := range audit {
				fmt.Fprintf(w, "  %s %s %s#%s\n", a.CreatedAt.Format(time.RFC3339), a.Action, a.EntityType, a.EntityID)
			}
		}
		return nil
	})
}

var statKeys = []string{
	"messages_total", "messages_processed", "orders_upserted", "items_upserted",
	"media_saved", "media_failed", "errors",
}

func renderRuns(w io.Writer, runs []store.SyncRun) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No sync runs.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CORRELATION ID\tSOURCE\tSTATUS\tSTARTED\tFINISHED")
	for _, r := range runs {
		finished := "-"
		if r.FinishedAt != nil {
			finished = r.FinishedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.CorrelationID, r.Source, r.Status, r.StartedAt.UTC().Format(time.RFC3339), finished)
	}
	return tw.Flush()
}
