package cli

import (
	"net"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/tracecheck/internal/collector"
	"github.com/roach88/tracecheck/internal/config"
	"github.com/roach88/tracecheck/internal/spanlog"
)

// CollectOptions holds flags for the collect command.
type CollectOptions struct {
	*RootOptions
	SpanLog string
	Addr    string

	// Listener overrides Addr (for testing).
	Listener net.Listener
}

// NewCollectCommand creates the collect command.
func NewCollectCommand(rootOpts *RootOptions) *cobra.Command {
	return newCollectCommand(&CollectOptions{RootOptions: rootOpts})
}

func newCollectCommand(opts *CollectOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Receive OTLP traces into the span log",
		Long: `Serve the OTLP/gRPC TraceService and append every exported span to the
span log, so operations instrumented with an OpenTelemetry SDK can be
validated. Point the SDK's OTLP exporter at --addr and run until interrupted.

OTLP trace ids are 16 bytes. To join a harness trace, set the span attribute
tracecheck.trace_id to the value of TRACECHECK_TRACE_ID.

Example:
  tracecheck collect --span-log ./spans.jsonl --addr :4317`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.SpanLog, "span-log", "", "span log path (env "+config.EnvSpanLog+")")
	cmd.Flags().StringVar(&opts.Addr, "addr", collector.DefaultAddr, "gRPC listen address")

	return cmd
}

func runCollect(opts *CollectOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	defer func() { _ = logger.Sync() }()

	path := opts.SpanLog
	if path == "" {
		path, _ = opts.lookupEnv(config.EnvSpanLog)
	}
	if path == "" {
		_ = formatter.Error(ErrCodeConfig, "span log path is required", nil)
		return NewExitError(ExitCommandError, "span log path is required (--span-log or "+config.EnvSpanLog+")")
	}

	log, err := spanlog.OpenFile(path, logger)
	if err != nil {
		_ = formatter.Error(ErrCodeSpanLog, err.Error(), nil)
		return WrapExitError(ExitCommandError, "open span log", err)
	}
	defer log.Close()

	lis := opts.Listener
	if lis == nil {
		lis, err = net.Listen("tcp", opts.Addr)
		if err != nil {
			_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitCommandError, "listen", err)
		}
	}

	ctx, stop := signalContext(cmd, logger)
	defer stop()

	srv := collector.NewTraceServer(log, logger)
	formatter.VerboseLog("collecting OTLP traces on %s into %s", lis.Addr(), path)
	if err := collector.Serve(ctx, lis, srv, logger); err != nil {
		return WrapExitError(ExitCommandError, "collector failed", err)
	}

	logger.Debug("collector summary", zap.Int64("accepted", srv.Accepted()), zap.Int64("rejected", srv.Rejected()))
	return formatter.Success(map[string]int64{
		"accepted": srv.Accepted(),
		"rejected": srv.Rejected(),
	})
}
