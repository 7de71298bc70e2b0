package scheduler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/roach88/tracecheck/internal/analyzer"
	"github.com/roach88/tracecheck/internal/executor"
	"github.com/roach88/tracecheck/internal/propagation"
	"github.com/roach88/tracecheck/internal/report"
	"github.com/roach88/tracecheck/internal/spanlog"
	"github.com/roach88/tracecheck/internal/telemetry"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// SuccessRateMetric is appended to the span log after every iteration.
const SuccessRateMetric = "tracecheck.iteration.success_rate"

// Runner executes one invocation. *executor.Executor satisfies it.
type Runner interface {
	Run(ctx context.Context, inv executor.Invocation, tc propagation.TraceContext, timeout time.Duration) executor.Result
}

// Config holds scheduler parameters.
type Config struct {
	Iterations int
	Timeout    time.Duration
	Settle     analyzer.SettleOptions
	Seed       uint64
}

// Scheduler drives validation and coordination operations across
// iterations, one operation at a time.
type Scheduler struct {
	runner     Runner
	analyzer   *analyzer.Analyzer
	log        spanlog.Log
	propagator *propagation.Propagator
	emitter    *telemetry.Emitter
	clock      clockz.Clock
	logger     *zap.Logger
	cfg        Config
	rng        *rand.Rand

	mu    sync.Mutex
	state State
}

// New creates a scheduler. emitter may be nil, in which case no
// success-rate metrics are written.
func New(
	runner Runner,
	an *analyzer.Analyzer,
	log spanlog.Log,
	propagator *propagation.Propagator,
	emitter *telemetry.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if cfg.Iterations < 1 {
		cfg.Iterations = 1
	}
	return &Scheduler{
		runner:     runner,
		analyzer:   an,
		log:        log,
		propagator: propagator,
		emitter:    emitter,
		clock:      clockz.RealClock,
		logger:     logger,
		cfg:        cfg,
		rng:        NewRand(cfg.Seed),
	}
}

// WithClock replaces the clock used for phase durations and settling.
func (s *Scheduler) WithClock(clock clockz.Clock) *Scheduler {
	s.clock = clock
	return s
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OperationOutcome is the result of one operation within an iteration.
type OperationOutcome struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	ExitCode    int    `json:"exit_code"`
	TimedOut    bool   `json:"timed_out"`
	DurationMs  int64  `json:"duration_ms"`
	NewRecords  int    `json:"new_records"`
	Settled     bool   `json:"settled"`
	ParentSpan  string `json:"parent_span_id"`
	StartFailed bool   `json:"start_failed,omitempty"`
}

// Succeeded reports a clean exit.
func (o OperationOutcome) Succeeded() bool {
	return o.ExitCode == 0 && !o.TimedOut && !o.StartFailed
}

// IterationResult is what one iteration observed.
type IterationResult struct {
	Index           int // 1-based
	Pattern         Pattern
	Outcomes        []OperationOutcome
	Baseline        int
	Records         []telemetry.Record
	MasterSpanCount int
	SuccessRate     float64
	Duration        time.Duration
}

// Passed reports whether every operation in the iteration succeeded.
func (r IterationResult) Passed() bool {
	for _, o := range r.Outcomes {
		if !o.Succeeded() {
			return false
		}
	}
	return true
}

// PhaseName is the report phase label, e.g. "iteration 2 (interleaved)".
func (r IterationResult) PhaseName() string {
	return fmt.Sprintf("iteration %d (%s)", r.Index, r.Pattern)
}

// Phase converts the iteration into a report phase.
func (r IterationResult) Phase() report.PhaseResult {
	status := report.PhasePassed
	if !r.Passed() {
		status = report.PhaseFailed
	}

	order := make([]string, len(r.Outcomes))
	for i, o := range r.Outcomes {
		order[i] = o.Name
	}

	return report.PhaseResult{
		PhaseName:  r.PhaseName(),
		Status:     status,
		DurationMs: r.Duration.Milliseconds(),
		Measurements: map[string]any{
			"pattern":            r.Pattern.String(),
			"order":              order,
			"operations":         r.Outcomes,
			"baseline":           r.Baseline,
			"master_trace_spans": r.MasterSpanCount,
			"success_rate":       r.SuccessRate,
			"frequency":          analyzer.Frequency(r.Records),
			"new_records":        len(r.Records),
		},
		NewSpanCount: len(telemetry.SpansOf(r.Records)),
	}
}

// Run executes every iteration under tc. Iteration i (zero-based) uses
// PatternFor(i). Operation failures are recorded, never returned; only span
// log failures and ctx cancellation stop the run.
//
// Run moves the scheduler from Idle to Reporting. Call Finish once the
// report is written.
func (s *Scheduler) Run(ctx context.Context, tc propagation.TraceContext, validation, coordination []Operation) ([]IterationResult, error) {
	if err := s.transition(StateIdle, StateRunning); err != nil {
		return nil, err
	}

	results := make([]IterationResult, 0, s.cfg.Iterations)
	for i := 0; i < s.cfg.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res, err := s.iterate(ctx, i, tc, validation, coordination)
		if err != nil {
			return results, fmt.Errorf("iteration %d: %w", i+1, err)
		}
		results = append(results, res)
	}

	if err := s.transition(StateRunning, StateReporting); err != nil {
		return results, err
	}
	return results, nil
}

// Finish marks reporting complete.
func (s *Scheduler) Finish() error {
	return s.transition(StateReporting, StateDone)
}

func (s *Scheduler) iterate(ctx context.Context, i int, tc propagation.TraceContext, validation, coordination []Operation) (IterationResult, error) {
	pattern := PatternFor(i)
	order := Order(pattern, validation, coordination, s.rng)

	log := s.logger.With(zap.Int("iteration", i+1), zap.Stringer("pattern", pattern))
	log.Info("iteration started", zap.Int("operations", len(order)))

	start := s.clock.Now()
	baseline, err := s.analyzer.Baseline(s.log)
	if err != nil {
		return IterationResult{}, err
	}

	res := IterationResult{
		Index:    i + 1,
		Pattern:  pattern,
		Baseline: baseline,
		Outcomes: make([]OperationOutcome, 0, len(order)),
	}

	last := baseline
	for _, op := range order {
		child := s.propagator.Child(tc)
		result := s.runner.Run(ctx, op.Invocation, child, s.cfg.Timeout)

		settled, err := s.analyzer.Settle(ctx, s.log, s.cfg.Settle, s.clock)
		if err != nil {
			return IterationResult{}, err
		}

		outcome := OperationOutcome{
			Name:        op.Name,
			Kind:        op.Kind.String(),
			ExitCode:    result.ExitCode,
			TimedOut:    result.TimedOut,
			DurationMs:  result.Duration.Milliseconds(),
			NewRecords:  settled.Count - last,
			Settled:     settled.Stable,
			ParentSpan:  child.ParentSpanID,
			StartFailed: result.StartErr != "",
		}
		last = settled.Count
		res.Outcomes = append(res.Outcomes, outcome)

		log.Debug("operation finished",
			zap.String("operation", op.Name),
			zap.Int("exit_code", outcome.ExitCode),
			zap.Int("new_records", outcome.NewRecords),
		)
	}

	records, err := s.analyzer.Delta(s.log, baseline)
	if err != nil {
		return IterationResult{}, err
	}
	res.Records = records
	res.MasterSpanCount = analyzer.CountForTrace(records, tc.TraceID)
	res.SuccessRate = successRate(res.Outcomes)
	res.Duration = s.clock.Now().Sub(start)

	if s.emitter != nil {
		_, err := s.emitter.EmitMetric(ctx, SuccessRateMetric, res.SuccessRate, map[string]string{
			"run_id":    tc.RunID,
			"pattern":   pattern.String(),
			"iteration": strconv.Itoa(res.Index),
		})
		if err != nil {
			return IterationResult{}, err
		}
	}

	log.Info("iteration finished",
		zap.Int("new_records", len(records)),
		zap.Int("master_trace_spans", res.MasterSpanCount),
		zap.Float64("success_rate", res.SuccessRate),
	)
	return res, nil
}

func successRate(outcomes []OperationOutcome) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	ok := 0
	for _, o := range outcomes {
		if o.Succeeded() {
			ok++
		}
	}
	return float64(ok) / float64(len(outcomes))
}
