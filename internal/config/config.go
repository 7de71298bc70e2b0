// Package config resolves run configuration from flags, environment and
// defaults, and reports configuration problems as *Error.
package config

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"os/exec"
	"time"

	"github.com/roach88/tracecheck/internal/analyzer"
	"github.com/roach88/tracecheck/internal/propagation"
)

// Environment variables consulted when a flag is not given.
const (
	EnvSpanLog      = propagation.EnvSpanLog
	EnvReport       = "TRACECHECK_REPORT"
	EnvCollectorURL = propagation.EnvCollectorURL
	EnvDB           = "TRACECHECK_DB"
)

// Defaults applied after flags, environment and plan.
const (
	DefaultIterations = 4
	DefaultTimeout    = 60 * time.Second
)

// Error is a configuration problem. It is always fatal and is detected
// before any phase runs.
type Error struct {
	Field string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a configuration error for field.
func Errorf(field, format string, args ...any) *Error {
	return &Error{Field: field, Err: fmt.Errorf(format, args...)}
}

// IsConfigError reports whether err is or wraps a *Error.
func IsConfigError(err error) bool {
	var cfgErr *Error
	return errors.As(err, &cfgErr)
}

// Config is everything a validation run needs besides its plan.
// Zero values mean "not set" so later sources can fill them.
type Config struct {
	SpanLog      string
	Report       string
	Plan         string
	Iterations   int
	Timeout      time.Duration
	Settle       analyzer.SettleOptions
	CollectorURL string
	DB           string
	Evidence     string
	MetricsOut   string
	Seed         uint64
	SeedSet      bool
}

// ApplyEnv fills unset fields from the environment. Pass os.LookupEnv for
// the process environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	fill := func(dst *string, key string) {
		if *dst != "" {
			return
		}
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	fill(&c.SpanLog, EnvSpanLog)
	fill(&c.Report, EnvReport)
	fill(&c.CollectorURL, EnvCollectorURL)
	fill(&c.DB, EnvDB)
}

// ApplyDefaults fills whatever is still unset. An unset seed is drawn at
// random and recorded so the run can be replayed.
func (c *Config) ApplyDefaults() {
	if !c.SeedSet {
		c.Seed = rand.Uint64()
		c.SeedSet = true
	}
	if c.Iterations == 0 {
		c.Iterations = DefaultIterations
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	def := analyzer.DefaultSettleOptions()
	if c.Settle.Interval == 0 {
		c.Settle.Interval = def.Interval
	}
	if c.Settle.Quiet == 0 {
		c.Settle.Quiet = def.Quiet
	}
	if c.Settle.Max == 0 {
		c.Settle.Max = def.Max
	}
}

// Validate checks the resolved configuration.
func (c *Config) Validate() error {
	if c.SpanLog == "" {
		return Errorf("span_log", "span log path is required (--span-log or %s)", EnvSpanLog)
	}
	if c.Report == "" {
		return Errorf("report", "report path is required (--report or %s)", EnvReport)
	}
	if c.Iterations < 1 {
		return Errorf("iterations", "must be at least 1, got %d", c.Iterations)
	}
	if c.Timeout < 0 {
		return Errorf("timeout", "must not be negative, got %s", c.Timeout)
	}
	if c.Settle.Interval < 0 || c.Settle.Quiet < 0 || c.Settle.Max < 0 {
		return Errorf("settle", "durations must not be negative")
	}
	if c.Settle.Max > 0 && c.Settle.Quiet > c.Settle.Max {
		return Errorf("settle", "quiet window %s exceeds max wait %s", c.Settle.Quiet, c.Settle.Max)
	}
	if info, err := os.Stat(c.SpanLog); err == nil && info.IsDir() {
		return Errorf("span_log", "%s is a directory", c.SpanLog)
	}
	return nil
}

// ResolveExecutable checks that an operation's executable can be run. Bare
// names are looked up on PATH; anything with a path separator must exist
// and be executable.
func ResolveExecutable(operation, executable string) (string, error) {
	if executable == "" {
		return "", Errorf("operation "+operation, "executable is empty")
	}
	path, err := exec.LookPath(executable)
	if err != nil {
		return "", &Error{Field: "operation " + operation, Err: err}
	}
	return path, nil
}
