package analyzer

import (
	"sort"

	"github.com/roach88/tracecheck/internal/telemetry"
)

// Verdict is the propagation outcome for one trace.
type Verdict string

const (
	VerdictConfirmed Verdict = "confirmed"
	VerdictPartial   Verdict = "partial"
	VerdictAbsent    Verdict = "absent"
)

// VerdictFor applies the propagation thresholds. A lone span, however
// healthy, is never evidence of propagation.
func VerdictFor(spanCount, distinctServices int) Verdict {
	switch {
	case spanCount > 2 && distinctServices > 1:
		return VerdictConfirmed
	case spanCount > 1:
		return VerdictPartial
	default:
		return VerdictAbsent
	}
}

// TraceCharacterization summarizes the spans of one trace.
type TraceCharacterization struct {
	TraceID                   string   `json:"trace_id"`
	SpanCount                 int      `json:"span_count"`
	DistinctOperations        int      `json:"distinct_operations"`
	DistinctServices          int      `json:"distinct_services"`
	ParentChildCount          int      `json:"parent_child_count"`
	HasMultipleOperationTypes bool     `json:"has_multiple_operation_types"`
	Services                  []string `json:"services"`
	Operations                []string `json:"operations"`
	Verdict                   Verdict  `json:"verdict"`
}

// Characterize summarizes spans, which should all belong to one trace.
//
// ParentChildCount counts spans that name a parent. It does not check that
// the parent exists. Empty service and operation names are never counted as
// distinct values.
func Characterize(traceID string, spans []telemetry.SpanRecord) TraceCharacterization {
	services := make(map[string]struct{})
	operations := make(map[string]struct{})
	withParent := 0

	for _, s := range spans {
		if s.ServiceName != "" {
			services[s.ServiceName] = struct{}{}
		}
		if s.OperationName != "" {
			operations[s.OperationName] = struct{}{}
		}
		if s.ParentSpanID != "" {
			withParent++
		}
	}

	c := TraceCharacterization{
		TraceID:            traceID,
		SpanCount:          len(spans),
		DistinctOperations: len(operations),
		DistinctServices:   len(services),
		ParentChildCount:   withParent,
		Services:           sortedKeys(services),
		Operations:         sortedKeys(operations),
	}
	c.HasMultipleOperationTypes = c.DistinctOperations > 1
	c.Verdict = VerdictFor(c.SpanCount, c.DistinctServices)
	return c
}

// CharacterizeTrace filters records to traceID and characterizes the result.
func CharacterizeTrace(records []telemetry.Record, traceID string) TraceCharacterization {
	return Characterize(traceID, FilterTrace(records, traceID))
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
