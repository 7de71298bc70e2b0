package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/tracecheck/internal/config"
	"github.com/roach88/tracecheck/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Limit    int
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded validation runs",
		Long: `List runs recorded with "tracecheck run --db", newest first, or show one
run with its phases.

Example:
  tracecheck history --db ./history.db
  tracecheck history --db ./history.db 01927c6e-...`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "history database (env "+config.EnvDB+")")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum runs to list (0 for all)")

	return cmd
}

func runHistory(opts *HistoryOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	dbPath := opts.Database
	if dbPath == "" {
		dbPath, _ = opts.lookupEnv(config.EnvDB)
	}
	if dbPath == "" {
		_ = formatter.Error(ErrCodeConfig, "history database is required", nil)
		return NewExitError(ExitCommandError, "history database is required (--db or "+config.EnvDB+")")
	}

	st, err := store.Open(dbPath)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()

	if len(args) == 1 {
		rec, err := st.GetRun(ctx, args[0])
		if errors.Is(err, store.ErrNotFound) {
			_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("run %s not found", args[0]), nil)
			return WrapExitError(ExitFailure, "run not found", err)
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "read run", err)
		}
		if formatter.IsJSON() {
			return formatter.SuccessWithTrace(rec, rec.MasterTraceID)
		}
		writeRun(cmd.OutOrStdout(), rec)
		return nil
	}

	runs, err := st.ListRuns(ctx, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "list runs", err)
	}
	if formatter.IsJSON() {
		return formatter.Success(runs)
	}
	writeRuns(cmd.OutOrStdout(), runs)
	return nil
}

func writeRuns(w io.Writer, runs []store.RunRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return
	}
	for _, r := range runs {
		fmt.Fprintf(w, "%-36s  %-9s  %5s spans  %2d services  %-24s  %s\n",
			r.RunID,
			r.Verdict,
			humanize.Comma(int64(r.SpanCount)),
			r.DistinctServices,
			r.PlanName,
			humanize.Time(r.StartedAt))
	}
}

func writeRun(w io.Writer, r store.RunRecord) {
	fmt.Fprintf(w, "run:            %s\n", r.RunID)
	if r.PlanName != "" {
		fmt.Fprintf(w, "plan:           %s\n", r.PlanName)
	}
	fmt.Fprintf(w, "master trace:   %s\n", r.MasterTraceID)
	fmt.Fprintf(w, "verdict:        %s\n", r.Verdict)
	fmt.Fprintf(w, "spans:          %s across %d services\n", humanize.Comma(int64(r.SpanCount)), r.DistinctServices)
	fmt.Fprintf(w, "baseline:       %s\n", humanize.Comma(int64(r.BaselineSpanCount)))
	fmt.Fprintf(w, "fully traced:   %t\n", r.WorkflowFullyTraced)
	fmt.Fprintf(w, "started:        %s (%s)\n", r.StartedAt.UTC().Format("2006-01-02T15:04:05Z"), humanize.Time(r.StartedAt))
	if !r.CompletedAt.IsZero() {
		fmt.Fprintf(w, "took:           %s\n", r.CompletedAt.Sub(r.StartedAt))
	}
	if r.ReportPath != "" {
		fmt.Fprintf(w, "report:         %s\n", r.ReportPath)
	}
	if r.ReportDigest != "" {
		fmt.Fprintf(w, "digest:         %s\n", r.ReportDigest)
	}
	fmt.Fprintln(w, "phases:")
	for _, p := range r.Phases {
		fmt.Fprintf(w, "  %2d  %-6s  %-32s  %6dms  +%d\n", p.Seq, p.Status, p.Name, p.DurationMs, p.NewSpanCount)
	}
}
