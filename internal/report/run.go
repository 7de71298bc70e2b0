// Package report folds a validation run into its final document.
//
// A ValidationRun accumulates PhaseResults while the harness works and is
// frozen by Complete. Generate derives the top-level verdict and booleans;
// Marshal is deterministic, so generating twice from the same run yields the
// same bytes.
package report

import (
	"errors"
	"time"

	"github.com/roach88/tracecheck/internal/analyzer"
)

// ErrRunCompleted is returned when a completed run is mutated.
var ErrRunCompleted = errors.New("report: validation run already completed")

// PhaseStatus is the outcome of a phase.
type PhaseStatus string

const (
	PhasePassed PhaseStatus = "passed"
	PhaseFailed PhaseStatus = "failed"
)

// PhaseResult is one logical step of a run.
type PhaseResult struct {
	PhaseName    string         `json:"phase_name"`
	Status       PhaseStatus    `json:"status"`
	DurationMs   int64          `json:"duration_ms"`
	Measurements map[string]any `json:"measurements"`
	// NewSpanCount counts span records only. Metrics and malformed lines
	// appended during the phase are reported in Measurements["new_records"].
	NewSpanCount int            `json:"new_span_count"`
}

// Passed reports whether the phase passed.
func (p PhaseResult) Passed() bool {
	return p.Status == PhasePassed
}

// ExpectationResult is the outcome of one plan expectation.
type ExpectationResult struct {
	Type     string `json:"type"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Passed   bool   `json:"passed"`
}

// ValidationRun is the state of one harness invocation.
type ValidationRun struct {
	RunID             string                          `json:"run_id"`
	MasterTraceID     string                          `json:"master_trace_id"`
	StartedAt         time.Time                       `json:"started_at"`
	CompletedAt       *time.Time                      `json:"completed_at,omitempty"`
	BaselineSpanCount int                             `json:"baseline_span_count"`
	Phases            []PhaseResult                   `json:"phases"`
	MasterTrace       *analyzer.TraceCharacterization `json:"master_trace,omitempty"`
	MostActiveTrace   *analyzer.TraceCharacterization `json:"most_active_trace,omitempty"`
	Expectations      []ExpectationResult             `json:"expectations,omitempty"`
}

// NewValidationRun starts a run.
func NewValidationRun(runID, masterTraceID string, startedAt time.Time, baseline int) *ValidationRun {
	return &ValidationRun{
		RunID:             runID,
		MasterTraceID:     masterTraceID,
		StartedAt:         startedAt.UTC(),
		BaselineSpanCount: baseline,
		Phases:            []PhaseResult{},
	}
}

// Completed reports whether Complete has been called.
func (r *ValidationRun) Completed() bool {
	return r.CompletedAt != nil
}

// AddPhase appends a phase result.
func (r *ValidationRun) AddPhase(p PhaseResult) error {
	if r.Completed() {
		return ErrRunCompleted
	}
	if p.Measurements == nil {
		p.Measurements = map[string]any{}
	}
	r.Phases = append(r.Phases, p)
	return nil
}

// SetAnalysis records the master and most-active trace characterizations.
func (r *ValidationRun) SetAnalysis(master, mostActive *analyzer.TraceCharacterization) error {
	if r.Completed() {
		return ErrRunCompleted
	}
	r.MasterTrace = master
	r.MostActiveTrace = mostActive
	return nil
}

// SetExpectations records expectation outcomes.
func (r *ValidationRun) SetExpectations(results []ExpectationResult) error {
	if r.Completed() {
		return ErrRunCompleted
	}
	r.Expectations = results
	return nil
}

// Complete freezes the run.
func (r *ValidationRun) Complete(at time.Time) error {
	if r.Completed() {
		return ErrRunCompleted
	}
	at = at.UTC()
	r.CompletedAt = &at
	return nil
}

// AllPhasesPassed reports whether every recorded phase passed.
func (r *ValidationRun) AllPhasesPassed() bool {
	for _, p := range r.Phases {
		if !p.Passed() {
			return false
		}
	}
	return true
}

// AllExpectationsPassed reports whether every expectation passed.
// No expectations counts as passing.
func (r *ValidationRun) AllExpectationsPassed() bool {
	for _, e := range r.Expectations {
		if !e.Passed {
			return false
		}
	}
	return true
}
