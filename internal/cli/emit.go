package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tracecheck/internal/config"
	"github.com/roach88/tracecheck/internal/propagation"
	"github.com/roach88/tracecheck/internal/spanlog"
	"github.com/roach88/tracecheck/internal/telemetry"
)

// EmitOptions holds flags for the emit command.
type EmitOptions struct {
	*RootOptions
	SpanLog      string
	CollectorURL string
	TraceID      string
	Service      string
	Status       string
	DurationMs   int64
	Attributes   []string

	Metric string
	Value  float64
	Labels []string
}

// NewEmitCommand creates the emit command.
func NewEmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "emit [operation]",
		Short: "Append a span or metric to the span log",
		Long: `Append one span to the span log under the trace exported by the harness.

Meant to be called from operations: the trace id, parent span id and span
log path are read from TRACECHECK_TRACE_ID, TRACECHECK_PARENT_SPAN_ID and
TRACECHECK_SPAN_LOG. The line is also forwarded, best effort, to
TRACECHECK_COLLECTOR_URL when set.

With --metric, a metric record is appended instead and no trace is needed.

Example:
  tracecheck emit work.claim --service agent-a --attr work_id=42
  tracecheck emit --metric queue.depth --value 3 --label queue=main`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmit(opts, args, cmd)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.SpanLog, "span-log", "", "span log path (env "+config.EnvSpanLog+")")
	f.StringVar(&opts.CollectorURL, "collector-url", "", "remote collector endpoint (env "+config.EnvCollectorURL+")")
	f.StringVar(&opts.TraceID, "trace-id", "", "trace id (env "+propagation.EnvTraceID+")")
	f.StringVar(&opts.Service, "service", "", "service name (required for spans)")
	f.StringVar(&opts.Status, "status", "ok", "span status (ok|error)")
	f.Int64Var(&opts.DurationMs, "duration-ms", 0, "span duration in milliseconds")
	f.StringArrayVar(&opts.Attributes, "attr", nil, "span attribute key=value (repeatable)")
	f.StringVar(&opts.Metric, "metric", "", "emit a metric with this name instead of a span")
	f.Float64Var(&opts.Value, "value", 0, "metric value")
	f.StringArrayVar(&opts.Labels, "label", nil, "metric label key=value (repeatable)")

	return cmd
}

func runEmit(opts *EmitOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	defer func() { _ = logger.Sync() }()

	path := opts.SpanLog
	if path == "" {
		path, _ = opts.lookupEnv(config.EnvSpanLog)
	}
	if path == "" {
		err := config.Errorf("span_log", "span log path is required (--span-log or %s)", config.EnvSpanLog)
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "cannot emit", err)
	}

	collectorURL := opts.CollectorURL
	if collectorURL == "" {
		collectorURL, _ = opts.lookupEnv(config.EnvCollectorURL)
	}
	var forwarder telemetry.Forwarder
	if collectorURL != "" {
		forwarder = telemetry.NewHTTPForwarder(collectorURL, logger)
	}

	log, err := spanlog.OpenFile(path, logger)
	if err != nil {
		_ = formatter.Error(ErrCodeSpanLog, err.Error(), nil)
		return WrapExitError(ExitCommandError, "open span log", err)
	}
	defer log.Close()

	tc, _ := propagation.FromEnv(opts.lookupEnv)
	emitter := telemetry.NewEmitter(log, forwarder, opts.Service, logger).
		WithParent(tc.ParentSpanID).
		WithLogPath(path)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if opts.Metric != "" {
		labels, err := parseLabels(opts.Labels)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid label", err)
		}
		metric, err := emitter.EmitMetric(ctx, opts.Metric, opts.Value, labels)
		if err != nil {
			return emitFailed(formatter, err)
		}
		if formatter.IsJSON() {
			return formatter.Success(metric)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s=%v\n", metric.MetricName, metric.Value)
		return nil
	}

	if len(args) == 0 {
		return NewExitError(ExitCommandError, "an operation name is required unless --metric is given")
	}

	traceID := opts.TraceID
	if traceID == "" {
		traceID = tc.TraceID
	}
	if traceID == "" {
		err := config.Errorf("trace_id", "no trace context (--trace-id or %s)", propagation.EnvTraceID)
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "cannot emit", err)
	}

	attrs, err := parseAttributes(opts.Attributes)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid attribute", err)
	}
	if tc.RunID != "" {
		if attrs == nil {
			attrs = map[string]any{}
		}
		if _, ok := attrs["run_id"]; !ok {
			attrs["run_id"] = tc.RunID
		}
	}

	span, err := emitter.EmitSpan(ctx, args[0], telemetry.ParseStatus(opts.Status), opts.DurationMs, traceID, attrs)
	if err != nil {
		return emitFailed(formatter, err)
	}
	if formatter.IsJSON() {
		return formatter.SuccessWithTrace(span, span.TraceID)
	}
	fmt.Fprintln(cmd.OutOrStdout(), span.SpanID)
	return nil
}

func emitFailed(formatter *OutputFormatter, err error) error {
	code := ErrCodeConfig
	var appendErr *telemetry.AppendError
	if errors.As(err, &appendErr) {
		code = ErrCodeSpanLog
	}
	_ = formatter.Error(code, err.Error(), nil)
	return WrapExitError(ExitCommandError, "emit failed", err)
}

func splitPair(s string) (string, string, error) {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return "", "", fmt.Errorf("%q is not key=value", s)
	}
	return k, v, nil
}

func parseLabels(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	labels := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, err := splitPair(p)
		if err != nil {
			return nil, err
		}
		labels[k] = v
	}
	return labels, nil
}

// parseAttributes keeps integers, floats and booleans typed; everything
// else is a string.
func parseAttributes(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	attrs := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, err := splitPair(p)
		if err != nil {
			return nil, err
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			attrs[k] = n
		} else if f, err := strconv.ParseFloat(v, 64); err == nil {
			attrs[k] = f
		} else if v == "true" || v == "false" {
			attrs[k] = v == "true"
		} else {
			attrs[k] = v
		}
	}
	return attrs, nil
}
