package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/tracecheck/internal/analyzer"
	"github.com/roach88/tracecheck/internal/config"
	"github.com/roach88/tracecheck/internal/report"
	"github.com/roach88/tracecheck/internal/spanlog"
	"github.com/roach88/tracecheck/internal/telemetry"
)

// AnalyzeOptions holds flags for the analyze command.
type AnalyzeOptions struct {
	*RootOptions
	TraceID string
	Since   int
	Top     int
}

// AnalyzeResult is the JSON payload of analyze.
type AnalyzeResult struct {
	SpanLog    string                          `json:"span_log"`
	Since      int                             `json:"since"`
	NewRecords int                             `json:"new_records"`
	Spans      int                             `json:"spans"`
	Metrics    int                             `json:"metrics"`
	Malformed  int                             `json:"malformed"`
	TraceCount int                             `json:"trace_count"`
	Propagated int                             `json:"propagated_traces"`
	Frequency  []analyzer.TraceCount           `json:"frequency"`
	Trace      *analyzer.TraceCharacterization `json:"trace,omitempty"`
}

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AnalyzeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "analyze [span-log]",
		Short: "Analyze an existing span log",
		Long: `Print the trace frequency table of a span log and characterize one trace.

The trace is --trace when given, otherwise the most active trace. With
--since N only lines after the first N are considered. With --verbose the
trace's spans are printed as a parent/child tree.

The span log defaults to TRACECHECK_SPAN_LOG. Exits 0 when the chosen trace's
propagation is confirmed and 1 otherwise.

Example:
  tracecheck analyze ./spans.jsonl
  tracecheck analyze --trace 3f2a... --since 100 ./spans.jsonl -v`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.TraceID, "trace", "", "trace id to characterize (default most active)")
	cmd.Flags().IntVar(&opts.Since, "since", 0, "baseline line count; earlier lines are ignored")
	cmd.Flags().IntVar(&opts.Top, "top", 10, "rows of the frequency table to show (0 for all)")

	return cmd
}

func runAnalyze(opts *AnalyzeOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	defer func() { _ = logger.Sync() }()

	var path string
	if len(args) == 1 {
		path = args[0]
	} else {
		path, _ = opts.lookupEnv(config.EnvSpanLog)
	}
	if path == "" {
		_ = formatter.Error(ErrCodeConfig, "span log path is required", nil)
		return NewExitError(ExitCommandError, "span log path is required (argument or "+config.EnvSpanLog+")")
	}

	log, err := spanlog.OpenFile(path, logger)
	if err != nil {
		_ = formatter.Error(ErrCodeSpanLog, err.Error(), nil)
		return WrapExitError(ExitCommandError, "open span log", err)
	}
	defer log.Close()

	an := analyzer.New(logger)
	records, err := an.Delta(log, opts.Since)
	if err != nil {
		_ = formatter.Error(ErrCodeSpanLog, err.Error(), nil)
		return WrapExitError(ExitCommandError, "read span log", err)
	}

	freq := analyzer.Frequency(records)
	ranked := analyzer.Ranked(freq)
	res := AnalyzeResult{
		SpanLog:    path,
		Since:      opts.Since,
		NewRecords: len(records),
		Spans:      len(telemetry.SpansOf(records)),
		Metrics:    len(telemetry.MetricsOf(records)),
		TraceCount: len(freq),
		Frequency:  ranked,
	}
	res.Malformed = res.NewRecords - res.Spans - res.Metrics
	for _, row := range ranked {
		if analyzer.IsPropagated(row.Count) {
			res.Propagated++
		}
	}
	if opts.Top > 0 && len(ranked) > opts.Top {
		res.Frequency = ranked[:opts.Top]
	}

	target := opts.TraceID
	if target == "" {
		if top, ok := analyzer.MostActive(freq); ok {
			target = top.TraceID
		}
	}
	if target != "" {
		ch := analyzer.CharacterizeTrace(records, target)
		res.Trace = &ch
	}

	if formatter.IsJSON() {
		if err := formatter.Success(res); err != nil {
			return WrapExitError(ExitCommandError, "write output", err)
		}
	} else {
		writeAnalysis(cmd.OutOrStdout(), res)
		if opts.Verbose && target != "" {
			writeTree(cmd.OutOrStdout(), analyzer.FilterTrace(records, target))
		}
	}

	if res.Trace == nil {
		return NewExitError(ExitFailure, "no traced spans in span log")
	}
	if res.Trace.Verdict != analyzer.VerdictConfirmed {
		return NewExitError(ExitFailure, fmt.Sprintf("trace %s: propagation %s", target, report.Label(res.Trace.Verdict)))
	}
	return nil
}

func writeAnalysis(w io.Writer, res AnalyzeResult) {
	fmt.Fprintf(w, "records:  %s since line %s (%s spans, %s metrics, %s malformed)\n",
		humanize.Comma(int64(res.NewRecords)),
		humanize.Comma(int64(res.Since)),
		humanize.Comma(int64(res.Spans)),
		humanize.Comma(int64(res.Metrics)),
		humanize.Comma(int64(res.Malformed)))

	fmt.Fprintf(w, "traces:   %s (%s propagated)\n",
		humanize.Comma(int64(res.TraceCount)),
		humanize.Comma(int64(res.Propagated)))
	for _, row := range res.Frequency {
		fmt.Fprintf(w, "  %8s  %s\n", humanize.Comma(int64(row.Count)), row.TraceID)
	}
	if hidden := res.TraceCount - len(res.Frequency); hidden > 0 {
		fmt.Fprintf(w, "  ... %s more\n", humanize.Comma(int64(hidden)))
	}

	t := res.Trace
	if t == nil {
		return
	}
	fmt.Fprintf(w, "trace %s: %s\n", t.TraceID, t.Verdict)
	fmt.Fprintf(w, "  spans:         %s\n", humanize.Comma(int64(t.SpanCount)))
	fmt.Fprintf(w, "  services:      %d [%s]\n", t.DistinctServices, strings.Join(t.Services, ", "))
	fmt.Fprintf(w, "  operations:    %d [%s]\n", t.DistinctOperations, strings.Join(t.Operations, ", "))
	fmt.Fprintf(w, "  parent links:  %s\n", humanize.Comma(int64(t.ParentChildCount)))
}

func writeTree(w io.Writer, spans []telemetry.SpanRecord) {
	fmt.Fprintln(w, "tree:")
	for _, root := range analyzer.BuildTree(spans) {
		root.Walk(func(n *analyzer.TreeNode, depth int) {
			fmt.Fprintf(w, "  %s%s (%s) %s %dms\n",
				strings.Repeat("  ", depth),
				n.Span.OperationName,
				n.Span.ServiceName,
				n.Span.SpanID,
				n.Span.DurationMs)
		})
	}
}
