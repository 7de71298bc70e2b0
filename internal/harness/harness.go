package harness

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"

	"github.com/roach88/tracecheck/internal/analyzer"
	"github.com/roach88/tracecheck/internal/config"
	"github.com/roach88/tracecheck/internal/executor"
	"github.com/roach88/tracecheck/internal/propagation"
	"github.com/roach88/tracecheck/internal/report"
	"github.com/roach88/tracecheck/internal/scheduler"
	"github.com/roach88/tracecheck/internal/spanlog"
	"github.com/roach88/tracecheck/internal/store"
	"github.com/roach88/tracecheck/internal/telemetry"
)

// ServiceName is the service recorded on records the harness itself emits.
const ServiceName = "tracecheck"

// Phase names.
const (
	PhaseInject       = "inject trace"
	PhaseValidate     = "validate telemetry"
	PhaseAnalyze      = "analyze patterns"
	PhaseExpectations = "evaluate expectations"
)

// Outcome is everything a finished run produced.
type Outcome struct {
	Document   report.Document
	Report     []byte
	Digest     string
	Iterations []scheduler.IterationResult
	Records    []telemetry.Record
}

// Confirmed reports whether the run's verdict is confirmed.
func (o *Outcome) Confirmed() bool {
	return o.Document.Verdict == analyzer.VerdictConfirmed
}

// Harness runs one plan. It is single-use.
type Harness struct {
	cfg          config.Config
	plan         *Plan
	validation   []scheduler.Operation
	coordination []scheduler.Operation

	runner     scheduler.Runner
	propagator *propagation.Propagator
	analyzer   *analyzer.Analyzer
	clock      clockz.Clock
	logger     *zap.Logger
}

// New resolves cfg against plan and checks both. cfg should already carry
// flag and environment values; plan values fill what is left and defaults
// fill the rest. Every returned error is a *config.Error or a plan error,
// and nothing has been executed yet.
func New(cfg config.Config, plan *Plan, logger *zap.Logger) (*Harness, error) {
	if plan == nil {
		return nil, config.Errorf("plan", "a plan is required")
	}
	plan.Apply(&cfg)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	validation, coordination, err := plan.Operations()
	if err != nil {
		return nil, err
	}

	return &Harness{
		cfg:          cfg,
		plan:         plan,
		validation:   validation,
		coordination: coordination,
		propagator:   propagation.NewPropagator(nil),
		analyzer:     analyzer.New(logger),
		clock:        clockz.RealClock,
		logger:       logger,
	}, nil
}

// WithRunner replaces the process executor.
func (h *Harness) WithRunner(r scheduler.Runner) *Harness {
	h.runner = r
	return h
}

// WithPropagator replaces the trace context source.
func (h *Harness) WithPropagator(p *propagation.Propagator) *Harness {
	h.propagator = p
	return h
}

// WithClock replaces the clock used for timestamps, durations and settling.
func (h *Harness) WithClock(clock clockz.Clock) *Harness {
	h.clock = clock
	return h
}

// Config returns the resolved configuration.
func (h *Harness) Config() config.Config {
	return h.cfg
}

// Run executes the plan and writes the report.
//
// Operation failures never fail Run; they are recorded in the report. Run
// returns an error only when the span log or an output file cannot be
// written, or ctx is cancelled.
func (h *Harness) Run(ctx context.Context) (*Outcome, error) {
	spanLogPath, err := filepath.Abs(h.cfg.SpanLog)
	if err != nil {
		return nil, config.Errorf("span_log", "resolve path: %v", err)
	}

	log, err := spanlog.OpenFile(spanLogPath, h.logger)
	if err != nil {
		return nil, &telemetry.AppendError{Path: spanLogPath, Err: err}
	}
	defer log.Close()

	tc := h.propagator.NewMasterContext()
	logger := h.logger.With(zap.String("run_id", tc.RunID), zap.String("trace_id", tc.TraceID))

	var forwarder telemetry.Forwarder
	collectorReachable := false
	if h.cfg.CollectorURL != "" {
		fwd := telemetry.NewHTTPForwarder(h.cfg.CollectorURL, logger)
		collectorReachable = fwd.Probe(ctx)
		forwarder = fwd
		if !collectorReachable {
			logger.Info("collector unreachable, forwarding disabled", zap.String("url", h.cfg.CollectorURL))
		}
	}
	emitter := telemetry.NewEmitter(log, forwarder, ServiceName, logger).
		WithParent(tc.ParentSpanID).
		WithLogPath(spanLogPath).
		WithClock(h.clock)

	runner := h.runner
	if runner == nil {
		childEnv := map[string]string{propagation.EnvSpanLog: spanLogPath}
		if h.cfg.CollectorURL != "" {
			childEnv[propagation.EnvCollectorURL] = h.cfg.CollectorURL
		}
		runner = executor.New(logger).WithEnv(childEnv).WithClock(h.clock)
	}

	baseline, err := h.analyzer.Baseline(log)
	if err != nil {
		return nil, err
	}
	run := report.NewValidationRun(tc.RunID, tc.TraceID, h.clock.Now(), baseline)
	logger.Info("validation run started",
		zap.String("plan", h.plan.Name),
		zap.Int("baseline", baseline),
		zap.Int("iterations", h.cfg.Iterations),
	)

	// Phase: inject trace.
	if err := run.AddPhase(report.PhaseResult{
		PhaseName: PhaseInject,
		Status:    report.PhasePassed,
		Measurements: map[string]any{
			"run_id":              tc.RunID,
			"trace_id":            tc.TraceID,
			"parent_span_id":      tc.ParentSpanID,
			"seed":                h.cfg.Seed,
			"env":                 tc.Export(),
			"collector_reachable": collectorReachable,
		},
	}); err != nil {
		return nil, err
	}

	// Phases: iterations.
	sched := scheduler.New(runner, h.analyzer, log, h.propagator, emitter, scheduler.Config{
		Iterations: h.cfg.Iterations,
		Timeout:    h.cfg.Timeout,
		Settle:     h.cfg.Settle,
		Seed:       h.cfg.Seed,
	}, logger).WithClock(h.clock)

	iterations, err := sched.Run(ctx, tc, h.validation, h.coordination)
	if err != nil {
		return nil, err
	}
	for _, it := range iterations {
		if err := run.AddPhase(it.Phase()); err != nil {
			return nil, err
		}
	}

	// Phase: validate telemetry.
	start := h.clock.Now()
	records, err := h.analyzer.Delta(log, baseline)
	if err != nil {
		return nil, err
	}
	masterSpans := analyzer.CountForTrace(records, tc.TraceID)
	validateStatus := report.PhasePassed
	if masterSpans == 0 {
		validateStatus = report.PhaseFailed
	}
	if err := run.AddPhase(report.PhaseResult{
		PhaseName:  PhaseValidate,
		Status:     validateStatus,
		DurationMs: h.clock.Now().Sub(start).Milliseconds(),
		Measurements: map[string]any{
			"new_records":        len(records),
			"spans":              countKind(records, telemetry.KindSpan),
			"metrics":            countKind(records, telemetry.KindMetric),
			"malformed":          countKind(records, telemetry.KindMalformed),
			"master_trace_spans": masterSpans,
		},
		NewSpanCount: countKind(records, telemetry.KindSpan),
	}); err != nil {
		return nil, err
	}

	// Phase: analyze patterns.
	start = h.clock.Now()
	master := analyzer.CharacterizeTrace(records, tc.TraceID)
	freq := analyzer.Frequency(records)
	var mostActive *analyzer.TraceCharacterization
	measurements := map[string]any{
		"trace_count":       len(freq),
		"propagated_traces": propagatedTraces(freq),
		"master_verdict":    master.Verdict,
	}
	if top, ok := analyzer.MostActive(freq); ok {
		ch := analyzer.CharacterizeTrace(records, top.TraceID)
		mostActive = &ch
		measurements["most_active_trace"] = top.TraceID
		measurements["most_active_count"] = top.Count
	}
	if err := run.SetAnalysis(&master, mostActive); err != nil {
		return nil, err
	}
	analyzeStatus := report.PhasePassed
	if master.Verdict == analyzer.VerdictAbsent {
		analyzeStatus = report.PhaseFailed
	}
	if err := run.AddPhase(report.PhaseResult{
		PhaseName:    PhaseAnalyze,
		Status:       analyzeStatus,
		DurationMs:   h.clock.Now().Sub(start).Milliseconds(),
		Measurements: measurements,
	}); err != nil {
		return nil, err
	}

	// Phase: evaluate expectations.
	if len(h.plan.Expectations) > 0 {
		results := Evaluate(h.plan.Expectations, master)
		if err := run.SetExpectations(results); err != nil {
			return nil, err
		}
		status := report.PhasePassed
		failed := 0
		for _, r := range results {
			if !r.Passed {
				failed++
				status = report.PhaseFailed
			}
		}
		if err := run.AddPhase(report.PhaseResult{
			PhaseName: PhaseExpectations,
			Status:    status,
			Measurements: map[string]any{
				"total":  len(results),
				"failed": failed,
			},
		}); err != nil {
			return nil, err
		}
	}

	if err := run.Complete(h.clock.Now()); err != nil {
		return nil, err
	}

	out, err := h.persist(ctx, run, records)
	if err != nil {
		return nil, err
	}
	out.Iterations = iterations

	if err := sched.Finish(); err != nil {
		return nil, err
	}

	logger.Info("validation run finished",
		zap.String("verdict", string(out.Document.Verdict)),
		zap.Int("master_trace_spans", master.SpanCount),
		zap.Int("distinct_services", master.DistinctServices),
		zap.String("report", h.cfg.Report),
	)
	return out, nil
}

// persist writes the report and every optional artifact.
func (h *Harness) persist(ctx context.Context, run *report.ValidationRun, records []telemetry.Record) (*Outcome, error) {
	data, err := report.Write(h.cfg.Report, run)
	if err != nil {
		return nil, err
	}
	out := &Outcome{
		Document: report.Generate(run),
		Report:   data,
		Digest:   report.Digest(data),
		Records:  records,
	}

	if h.cfg.Evidence != "" {
		if err := report.WriteEvidence(h.cfg.Evidence, records); err != nil {
			return nil, err
		}
	}
	if h.cfg.MetricsOut != "" {
		if err := report.WriteMetrics(h.cfg.MetricsOut, out.Document); err != nil {
			return nil, err
		}
	}
	if h.cfg.DB != "" {
		if err := h.record(ctx, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (h *Harness) record(ctx context.Context, out *Outcome) (err error) {
	st, err := store.Open(h.cfg.DB)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, st.Close())
	}()

	reportPath, absErr := filepath.Abs(h.cfg.Report)
	if absErr != nil {
		reportPath = h.cfg.Report
	}
	rec := store.RecordFromDocument(out.Document, h.plan.Name, reportPath, out.Digest)
	if err := st.RecordRun(ctx, rec); err != nil {
		return fmt.Errorf("record run history: %w", err)
	}
	return nil
}

func countKind(records []telemetry.Record, kind telemetry.Kind) int {
	n := 0
	for _, r := range records {
		if r.Kind == kind {
			n++
		}
	}
	return n
}

func propagatedTraces(freq map[string]int) int {
	n := 0
	for _, c := range freq {
		if analyzer.IsPropagated(c) {
			n++
		}
	}
	return n
}
