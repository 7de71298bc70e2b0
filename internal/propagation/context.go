// Package propagation mints trace contexts and moves them across process
// boundaries through environment variables.
//
// Child operations are separate executables, so there is no wire protocol:
// a child participates in the trace by reading the exported variables and
// stamping TRACECHECK_TRACE_ID on every span it emits.
package propagation

import (
	"crypto/rand"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/roach88/tracecheck/internal/telemetry"
)

// Environment variable names. These are part of the contract with invoked
// operations and must not change.
const (
	EnvTraceID      = "TRACECHECK_TRACE_ID"
	EnvParentSpanID = "TRACECHECK_PARENT_SPAN_ID"
	EnvRunID        = "TRACECHECK_RUN_ID"
	EnvSpanLog      = "TRACECHECK_SPAN_LOG"
	EnvCollectorURL = "TRACECHECK_COLLECTOR_URL"
)

// TraceContext is what a child process needs to join a trace.
type TraceContext struct {
	TraceID      string `json:"trace_id"`
	ParentSpanID string `json:"parent_span_id"`
	RunID        string `json:"run_id"`
}

// IsZero reports whether the context carries no trace.
func (tc TraceContext) IsZero() bool {
	return tc.TraceID == ""
}

// Export returns the exact variables a child process receives.
func (tc TraceContext) Export() map[string]string {
	env := map[string]string{
		EnvTraceID:      tc.TraceID,
		EnvParentSpanID: tc.ParentSpanID,
	}
	if tc.RunID != "" {
		env[EnvRunID] = tc.RunID
	}
	return env
}

// Environ returns Export as sorted KEY=value pairs.
func (tc TraceContext) Environ() []string {
	return SortedEnviron(tc.Export())
}

// SortedEnviron renders env as sorted KEY=value pairs.
func SortedEnviron(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// FromEnv reads a context back out of an environment. The bool is false when
// no trace id is present. Pass os.LookupEnv for the process environment.
func FromEnv(lookup func(string) (string, bool)) (TraceContext, bool) {
	traceID, ok := lookup(EnvTraceID)
	if !ok || traceID == "" {
		return TraceContext{}, false
	}
	parent, _ := lookup(EnvParentSpanID)
	runID, _ := lookup(EnvRunID)
	return TraceContext{TraceID: traceID, ParentSpanID: parent, RunID: runID}, true
}

// IDGenerator produces run ids. A run id tags every record a validation run
// writes, so it travels to children next to the trace id.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator is the default run id source. UUIDv7 embeds a millisecond
// timestamp, so history rows and report file names sort by run start.
type UUIDv7Generator struct{}

// Generate panics if the random source fails, like NewMasterContext.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Propagator mints master contexts and child span ids.
// Safe for concurrent use.
type Propagator struct {
	seq    atomic.Uint64
	runIDs IDGenerator
	spans  func() string
}

// NewPropagator creates a propagator whose run ids come from runIDs.
// A nil generator uses UUIDv7.
func NewPropagator(runIDs IDGenerator) *Propagator {
	if runIDs == nil {
		runIDs = UUIDv7Generator{}
	}
	return &Propagator{runIDs: runIDs, spans: telemetry.NewSpanID}
}

// WithSpanIDs replaces the span id source.
func (p *Propagator) WithSpanIDs(gen func() string) *Propagator {
	p.spans = gen
	return p
}

// NewMasterContext mints a new trace. The trace id is 128 random bits
// followed by a per-process counter, so ids stay unique even if the random
// source repeats within one process.
func (p *Propagator) NewMasterContext() TraceContext {
	var entropy [16]byte
	if _, err := rand.Read(entropy[:]); err != nil {
		panic(fmt.Sprintf("propagation: read random source: %v", err))
	}
	n := p.seq.Add(1)

	return TraceContext{
		TraceID:      fmt.Sprintf("%x%08x", entropy[:], uint32(n)),
		ParentSpanID: p.spans(),
		RunID:        p.runIDs.Generate(),
	}
}

// ChildSpanID derives the span id for the next operation in tc's trace.
func (p *Propagator) ChildSpanID(TraceContext) string {
	return p.spans()
}

// Child returns a copy of tc whose parent is a fresh span id. The trace id
// and run id are unchanged.
func (p *Propagator) Child(tc TraceContext) TraceContext {
	tc.ParentSpanID = p.ChildSpanID(tc)
	return tc
}

// Minted returns how many master contexts this propagator has created.
func (p *Propagator) Minted() uint64 {
	return p.seq.Load()
}
