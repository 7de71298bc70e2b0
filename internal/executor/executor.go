// Package executor runs external operations under a trace context.
//
// Run never returns an error. A child that exits non-zero, times out, or
// cannot be started is reported through Result so that the caller records
// it as phase data and moves on.
package executor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"github.com/roach88/tracecheck/internal/propagation"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// maxOutput caps captured stdout and stderr per stream.
const maxOutput = 1 << 20

// waitDelay bounds how long Run waits for output pipes after the child is
// killed; a grandchild holding the pipe open must not wedge the harness.
const waitDelay = 2 * time.Second

// Invocation names an external operation.
//
// Executable must already be resolved (an absolute path or a name found on
// PATH); plans resolve it when they are loaded. An empty Dir runs the child in
// the harness's working directory. Env is layered over the harness
// environment and under the trace context variables.
type Invocation struct {
	Executable string            `json:"executable"`
	Args       []string          `json:"args,omitempty"`
	Dir        string            `json:"dir,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
}

// Result is what one invocation produced.
//
// ExitCode is -1 when the child was killed (timeout or ctx cancellation) or
// never started. Stdout and Stderr hold at most 1 MiB each; the rest is
// dropped. Duration is measured on the executor's clock from launch to exit.
type Result struct {
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out"`

	// StartErr is set when the process could not be launched at all.
	StartErr string `json:"start_error,omitempty"`
}

// Succeeded reports a clean zero exit within the timeout.
func (r Result) Succeeded() bool {
	return r.ExitCode == 0 && !r.TimedOut && r.StartErr == ""
}

// Executor launches invocations.
//
// Every child gets, in increasing precedence:
//   - the harness's own environment
//   - variables set with WithEnv (span log path, collector URL)
//   - the Invocation's Env
//   - the trace context from Run (trace id, parent span id, run id)
//
// Safe for concurrent use, though the harness only ever runs one invocation
// at a time.
type Executor struct {
	logger *zap.Logger
	clock  clockz.Clock
	extra  map[string]string
}

// New creates an executor.
func New(logger *zap.Logger) *Executor {
	return &Executor{
		logger: logger,
		clock:  clockz.RealClock,
	}
}

// WithEnv adds variables to every child environment. Trace context variables
// still take precedence.
func (e *Executor) WithEnv(env map[string]string) *Executor {
	e.extra = env
	return e
}

// WithClock replaces the clock used to measure duration.
func (e *Executor) WithClock(clock clockz.Clock) *Executor {
	e.clock = clock
	return e
}

// Run executes inv with tc exported into its environment and waits for it to
// exit. When timeout elapses the whole process group is killed. A timeout of
// zero means no limit beyond ctx.
//
// Run blocks until the child exits or is killed, and then waits at most
// 2 seconds more for the output pipes to close. It never returns an error:
//   - non-zero exit: ExitCode set, TimedOut false
//   - timeout: TimedOut true, ExitCode -1
//   - launch failure (missing binary, bad Dir): StartErr set, ExitCode -1
func (e *Executor) Run(ctx context.Context, inv Invocation, tc propagation.TraceContext, timeout time.Duration) Result {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, inv.Executable, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Env = e.environ(inv, tc)
	cmd.WaitDelay = waitDelay
	configureProcessGroup(cmd)

	stdout := &cappedBuffer{max: maxOutput}
	stderr := &cappedBuffer{max: maxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	log := e.logger.With(
		zap.String("executable", inv.Executable),
		zap.Strings("args", inv.Args),
		zap.String("trace_id", tc.TraceID),
	)

	start := e.clock.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: e.clock.Now().Sub(start),
	}

	if ctx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		if res.ExitCode < 0 {
			// Killed by signal.
			res.ExitCode = -1
		}
	case errors.Is(err, exec.ErrWaitDelay):
		res.ExitCode = cmd.ProcessState.ExitCode()
	default:
		res.ExitCode = -1
		res.StartErr = err.Error()
	}

	switch {
	case res.StartErr != "":
		log.Warn("operation failed to start", zap.String("error", res.StartErr))
	case res.TimedOut:
		log.Warn("operation timed out", zap.Duration("timeout", timeout))
	case res.ExitCode != 0:
		log.Info("operation exited non-zero", zap.Int("exit_code", res.ExitCode), zap.Duration("duration", res.Duration))
	default:
		log.Debug("operation completed", zap.Duration("duration", res.Duration))
	}

	return res
}

// environ merges, in increasing priority: the harness environment, executor
// extras, per-invocation variables, and the trace context.
func (e *Executor) environ(inv Invocation, tc propagation.TraceContext) []string {
	env := os.Environ()
	for k, v := range e.extra {
		env = append(env, k+"="+v)
	}
	for k, v := range inv.Env {
		env = append(env, k+"="+v)
	}
	// Later entries win in exec.Cmd, which dedups keeping the last value.
	return append(env, tc.Environ()...)
}

// cappedBuffer keeps the first max bytes and silently drops the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if room := b.max - b.buf.Len(); room < len(p) {
		if room > 0 {
			b.buf.Write(p[:room])
		}
		b.truncated = true
		return n, nil
	}
	b.buf.Write(p)
	return n, nil
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n[output truncated]"
	}
	return b.buf.String()
}
