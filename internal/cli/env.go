package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tracecheck/internal/config"
	"github.com/roach88/tracecheck/internal/propagation"
)

// EnvOptions holds flags for the env command.
type EnvOptions struct {
	*RootOptions
	SpanLog string

	// Propagator overrides the trace context source (for testing).
	Propagator *propagation.Propagator
}

// NewEnvCommand creates the env command.
func NewEnvCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EnvOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "env",
		Short: "Print the propagation environment for a fresh trace",
		Long: `Mint a master trace context and print the environment an operation would
receive, as KEY=value lines suitable for eval or env(1).

Example:
  env $(tracecheck env --span-log ./spans.jsonl) ./ops/claim.sh`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnv(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.SpanLog, "span-log", "", "span log path to include (env "+config.EnvSpanLog+")")

	return cmd
}

func runEnv(opts *EnvOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	p := opts.Propagator
	if p == nil {
		p = propagation.NewPropagator(nil)
	}
	tc := p.NewMasterContext()

	env := tc.Export()
	spanLog := opts.SpanLog
	if spanLog == "" {
		spanLog, _ = opts.lookupEnv(config.EnvSpanLog)
	}
	if spanLog != "" {
		env[propagation.EnvSpanLog] = spanLog
	}
	if url, ok := opts.lookupEnv(config.EnvCollectorURL); ok && url != "" {
		env[propagation.EnvCollectorURL] = url
	}

	if formatter.IsJSON() {
		return formatter.SuccessWithTrace(env, tc.TraceID)
	}
	for _, kv := range propagation.SortedEnviron(env) {
		fmt.Fprintln(cmd.OutOrStdout(), kv)
	}
	return nil
}
