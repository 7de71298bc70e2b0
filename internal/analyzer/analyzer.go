// Package analyzer turns span log snapshots into propagation verdicts.
//
// The harness never trusts what an operation prints. It takes a Baseline of
// the log before a unit of work, reads the Delta afterwards, and decides from
// those records alone whether one trace id survived across processes.
package analyzer

import (
	"fmt"
	"sort"

	"github.com/roach88/tracecheck/internal/spanlog"
	"github.com/roach88/tracecheck/internal/telemetry"
	"go.uber.org/zap"
)

// Analyzer reads and decodes span log snapshots.
type Analyzer struct {
	decoder *telemetry.Decoder
	logger  *zap.Logger
}

// New creates an analyzer.
func New(logger *zap.Logger) *Analyzer {
	return &Analyzer{
		decoder: telemetry.NewDecoder(),
		logger:  logger,
	}
}

// Baseline returns the number of complete lines currently in the log.
func (a *Analyzer) Baseline(log spanlog.Log) (int, error) {
	n, err := log.Count()
	if err != nil {
		return 0, fmt.Errorf("baseline: %w", err)
	}
	return n, nil
}

// Delta returns every record appended since baseline, in log order.
// Malformed lines are included as KindMalformed records so that
// len(Delta) always equals the growth in line count.
func (a *Analyzer) Delta(log spanlog.Log, baseline int) ([]telemetry.Record, error) {
	lines, err := log.ReadFrom(baseline)
	if err != nil {
		return nil, fmt.Errorf("delta from %d: %w", baseline, err)
	}

	records := a.decoder.DecodeAll(lines)
	if malformed := countKind(records, telemetry.KindMalformed); malformed > 0 {
		a.logger.Debug("malformed span log lines in delta",
			zap.Int("baseline", baseline),
			zap.Int("malformed", malformed),
		)
	}
	return records, nil
}

// CountForTrace counts span records whose trace id equals traceID.
func CountForTrace(records []telemetry.Record, traceID string) int {
	n := 0
	for _, r := range records {
		if r.Kind == telemetry.KindSpan && r.Span.TraceID == traceID {
			n++
		}
	}
	return n
}

// FilterTrace returns the spans belonging to traceID, in log order.
func FilterTrace(records []telemetry.Record, traceID string) []telemetry.SpanRecord {
	var spans []telemetry.SpanRecord
	for _, r := range records {
		if r.Kind == telemetry.KindSpan && r.Span.TraceID == traceID {
			spans = append(spans, *r.Span)
		}
	}
	return spans
}

// Frequency groups span records by trace id. Spans without a trace id are
// not counted.
func Frequency(records []telemetry.Record) map[string]int {
	freq := make(map[string]int)
	for _, r := range records {
		if r.Kind != telemetry.KindSpan || r.Span.TraceID == "" {
			continue
		}
		freq[r.Span.TraceID]++
	}
	return freq
}

// TraceCount is one row of a frequency table.
type TraceCount struct {
	TraceID string `json:"trace_id"`
	Count   int    `json:"count"`
}

// Ranked returns a frequency table ordered by descending count, then trace
// id, so output is stable.
func Ranked(freq map[string]int) []TraceCount {
	rows := make([]TraceCount, 0, len(freq))
	for id, n := range freq {
		rows = append(rows, TraceCount{TraceID: id, Count: n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].TraceID < rows[j].TraceID
	})
	return rows
}

// MostActive returns the trace with the most spans. Ties go to the smallest
// trace id. The bool is false when there are no traced spans.
func MostActive(freq map[string]int) (TraceCount, bool) {
	rows := Ranked(freq)
	if len(rows) == 0 {
		return TraceCount{}, false
	}
	return rows[0], true
}

// IsPropagated reports whether a trace has more than one span.
func IsPropagated(count int) bool {
	return count > 1
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
