package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/tracecheck/internal/config"
	"github.com/roach88/tracecheck/internal/harness"
	"github.com/roach88/tracecheck/internal/propagation"
	"github.com/roach88/tracecheck/internal/report"
	"github.com/roach88/tracecheck/internal/telemetry"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config config.Config

	// Propagator overrides the trace context source (for testing).
	Propagator *propagation.Propagator
}

// RunResult is the JSON payload of a run.
type RunResult struct {
	ReportPath   string          `json:"report_path"`
	ReportDigest string          `json:"report_digest"`
	Report       report.Document `json:"report"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <plan>",
		Short: "Run a trace propagation validation plan",
		Long: `Run every operation in a plan under one master trace and report whether
the trace propagated.

The plan (YAML, or CUE validated against the built-in #Plan schema) names the
validation and coordination operations. Each iteration runs them in the next
ordering pattern: sequential, interleaved, reverse, random.

Flags take priority over TRACECHECK_SPAN_LOG, TRACECHECK_REPORT,
TRACECHECK_COLLECTOR_URL and TRACECHECK_DB, which take priority over the plan.

Exit codes: 0 propagation confirmed, 1 not confirmed, 2 configuration or
span log error.

Example:
  tracecheck run --span-log ./spans.jsonl --report ./report.json plan.yaml
  tracecheck run --iterations 8 --seed 42 --db ./history.db plan.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Config.Plan = args[0]
			opts.Config.SeedSet = cmd.Flags().Changed("seed")
			return runPlan(opts, cmd)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Config.SpanLog, "span-log", "", "shared span log path (env "+config.EnvSpanLog+")")
	f.StringVar(&opts.Config.Report, "report", "", "report output path (env "+config.EnvReport+")")
	f.IntVar(&opts.Config.Iterations, "iterations", 0, "number of iterations (default from plan, else 4)")
	f.DurationVar(&opts.Config.Timeout, "timeout", 0, "per-operation timeout (default from plan, else 60s)")
	f.DurationVar(&opts.Config.Settle.Interval, "settle-interval", 0, "span log poll interval after each operation")
	f.DurationVar(&opts.Config.Settle.Quiet, "settle-quiet", 0, "how long the span log must stay unchanged to count as settled")
	f.DurationVar(&opts.Config.Settle.Max, "settle-max", 0, "longest wait for the span log to settle")
	f.StringVar(&opts.Config.CollectorURL, "collector-url", "", "best-effort remote collector endpoint (env "+config.EnvCollectorURL+")")
	f.StringVar(&opts.Config.DB, "db", "", "record the run in this SQLite history database (env "+config.EnvDB+")")
	f.StringVar(&opts.Config.Evidence, "evidence", "", "write the run's new span log records here, zstd compressed")
	f.StringVar(&opts.Config.MetricsOut, "metrics-out", "", "write a Prometheus textfile of run metrics here")
	f.Uint64Var(&opts.Config.Seed, "seed", 0, "seed for the random ordering pattern (default random)")

	return cmd
}

func runPlan(opts *RunOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	defer func() { _ = logger.Sync() }()

	cfg := opts.Config
	cfg.ApplyEnv(opts.lookupEnv)

	plan, err := harness.LoadPlan(cfg.Plan)
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load plan", err)
	}

	h, err := harness.New(cfg, plan, logger)
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if opts.Propagator != nil {
		h.WithPropagator(opts.Propagator)
	}
	formatter.VerboseLog("plan %q: %d iterations, timeout %s", plan.Name, h.Config().Iterations, h.Config().Timeout)

	ctx, stop := signalContext(cmd, logger)
	defer stop()

	start := time.Now()
	out, err := h.Run(ctx)
	if err != nil {
		code := ErrCodeGeneric
		var appendErr *telemetry.AppendError
		switch {
		case errors.As(err, &appendErr):
			code = ErrCodeSpanLog
		case config.IsConfigError(err):
			code = ErrCodeConfig
		}
		_ = formatter.Error(code, err.Error(), nil)
		return WrapExitError(ExitCommandError, "validation run aborted", err)
	}
	logger.Debug("run complete", zap.Duration("elapsed", time.Since(start)))

	if formatter.IsJSON() {
		if err := formatter.SuccessWithTrace(RunResult{
			ReportPath:   h.Config().Report,
			ReportDigest: out.Digest,
			Report:       out.Document,
		}, out.Document.MasterTraceID); err != nil {
			return WrapExitError(ExitCommandError, "write output", err)
		}
	} else {
		if err := report.WriteSummary(cmd.OutOrStdout(), out.Document); err != nil {
			return WrapExitError(ExitCommandError, "write summary", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  report:        %s\n", h.Config().Report)
	}

	if !out.Confirmed() {
		return NewExitError(ExitFailure, fmt.Sprintf("trace propagation %s", out.Document.Summary))
	}
	return nil
}
