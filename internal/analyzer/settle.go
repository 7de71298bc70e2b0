package analyzer

import (
	"context"
	"time"

	"github.com/roach88/tracecheck/internal/spanlog"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// SettleOptions bounds the wait for asynchronous telemetry writers.
type SettleOptions struct {
	// Interval between line counts.
	Interval time.Duration `json:"interval" yaml:"interval"`
	// Quiet is how long the count must stay unchanged to call the log settled.
	Quiet time.Duration `json:"quiet" yaml:"quiet"`
	// Max is the longest Settle will wait.
	Max time.Duration `json:"max" yaml:"max"`
}

// DefaultSettleOptions returns the harness defaults.
func DefaultSettleOptions() SettleOptions {
	return SettleOptions{
		Interval: 50 * time.Millisecond,
		Quiet:    200 * time.Millisecond,
		Max:      5 * time.Second,
	}
}

// SettleResult reports how a settle wait ended.
type SettleResult struct {
	Count  int  `json:"count"`
	Stable bool `json:"stable"`
	Polls  int  `json:"polls"`
}

// Settle polls the log until its line count has not changed for opts.Quiet,
// or opts.Max has elapsed. Hitting Max is not an error: the caller proceeds
// with whatever has landed. Only a failing log read or ctx cancellation
// returns an error.
func (a *Analyzer) Settle(ctx context.Context, log spanlog.Log, opts SettleOptions, clock clockz.Clock) (SettleResult, error) {
	if clock == nil {
		clock = clockz.RealClock
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultSettleOptions().Interval
	}

	count, err := a.Baseline(log)
	if err != nil {
		return SettleResult{}, err
	}

	res := SettleResult{Count: count, Polls: 1}
	start := clock.Now()
	lastChange := start

	for {
		now := clock.Now()
		if now.Sub(lastChange) >= opts.Quiet {
			res.Stable = true
			return res, nil
		}
		if opts.Max > 0 && now.Sub(start) >= opts.Max {
			a.logger.Debug("span log did not settle",
				zap.Int("count", res.Count),
				zap.Duration("max", opts.Max),
			)
			return res, nil
		}

		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-clock.After(opts.Interval):
		}

		n, err := a.Baseline(log)
		if err != nil {
			return res, err
		}
		res.Polls++
		if n != res.Count {
			res.Count = n
			lastChange = clock.Now()
		}
	}
}
