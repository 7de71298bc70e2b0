package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/tracecheck/internal/analyzer"
	"github.com/roach88/tracecheck/internal/report"
)

// Expectation types.
const (
	ExpectMinSpans         = "min_spans"
	ExpectMinServices      = "min_services"
	ExpectServicePresent   = "service_present"
	ExpectOperationPresent = "operation_present"
)

// Expectation is a plan assertion over the master trace.
type Expectation struct {
	// Type is one of min_spans, min_services, service_present,
	// operation_present.
	Type string `yaml:"type" json:"type"`

	// Count is the lower bound for min_spans and min_services.
	Count int `yaml:"count,omitempty" json:"count,omitempty"`

	Service   string `yaml:"service,omitempty" json:"service,omitempty"`
	Operation string `yaml:"operation,omitempty" json:"operation,omitempty"`
}

func (e Expectation) validate() error {
	switch e.Type {
	case ExpectMinSpans, ExpectMinServices:
		if e.Count < 0 {
			return fmt.Errorf("%s: count must be non-negative", e.Type)
		}
	case ExpectServicePresent:
		if e.Service == "" {
			return fmt.Errorf("%s: service is required", e.Type)
		}
	case ExpectOperationPresent:
		if e.Operation == "" {
			return fmt.Errorf("%s: operation is required", e.Type)
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown expectation type %q", e.Type)
	}
	return nil
}

// AssertionError is returned when an expectation does not hold.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("expectation %s failed: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

// Check evaluates one expectation against a trace characterization.
// It returns nil or an *AssertionError.
func Check(exp Expectation, trace analyzer.TraceCharacterization) error {
	expected, actual, ok := evaluate(exp, trace)
	if ok {
		return nil
	}
	return &AssertionError{Type: exp.Type, Expected: expected, Actual: actual}
}

// Evaluate checks every expectation and reports each outcome in order.
func Evaluate(exps []Expectation, trace analyzer.TraceCharacterization) []report.ExpectationResult {
	results := make([]report.ExpectationResult, 0, len(exps))
	for _, exp := range exps {
		expected, actual, ok := evaluate(exp, trace)
		results = append(results, report.ExpectationResult{
			Type:     exp.Type,
			Expected: expected,
			Actual:   actual,
			Passed:   ok,
		})
	}
	return results
}

func evaluate(exp Expectation, trace analyzer.TraceCharacterization) (expected, actual string, ok bool) {
	switch exp.Type {
	case ExpectMinSpans:
		return fmt.Sprintf(">= %d spans", exp.Count),
			fmt.Sprintf("%d spans", trace.SpanCount),
			trace.SpanCount >= exp.Count
	case ExpectMinServices:
		return fmt.Sprintf(">= %d services", exp.Count),
			fmt.Sprintf("%d services", trace.DistinctServices),
			trace.DistinctServices >= exp.Count
	case ExpectServicePresent:
		return "service " + exp.Service,
			listOrNone("services", trace.Services),
			slices.Contains(trace.Services, exp.Service)
	case ExpectOperationPresent:
		return "operation " + exp.Operation,
			listOrNone("operations", trace.Operations),
			slices.Contains(trace.Operations, exp.Operation)
	default:
		return "known expectation type", exp.Type, false
	}
}

func listOrNone(label string, items []string) string {
	if len(items) == 0 {
		return "no " + label
	}
	return label + " [" + strings.Join(items, ", ") + "]"
}
