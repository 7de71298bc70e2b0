package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// WriteSummary prints the human-readable verdict and the counts that justify it.
func WriteSummary(w io.Writer, doc Document) error {
	title := cases.Title(language.English)

	var b strings.Builder
	fmt.Fprintf(&b, "Trace propagation: %s\n", title.String(doc.Summary))
	fmt.Fprintf(&b, "  run:           %s\n", doc.RunID)
	fmt.Fprintf(&b, "  master trace:  %s\n", doc.MasterTraceID)

	if m := doc.MasterTrace; m != nil {
		fmt.Fprintf(&b, "  spans:         %s across %s %s\n",
			humanize.Comma(int64(m.SpanCount)),
			humanize.Comma(int64(m.DistinctServices)),
			plural(m.DistinctServices, "service", "services"))
		if len(m.Services) > 0 {
			fmt.Fprintf(&b, "  services:      %s\n", strings.Join(m.Services, ", "))
		}
		if len(m.Operations) > 0 {
			fmt.Fprintf(&b, "  operations:    %s\n", strings.Join(m.Operations, ", "))
		}
		fmt.Fprintf(&b, "  parent links:  %s\n", humanize.Comma(int64(m.ParentChildCount)))
	} else {
		fmt.Fprintf(&b, "  spans:         0\n")
	}

	if a := doc.MostActiveTrace; a != nil && a.TraceID != doc.MasterTraceID {
		fmt.Fprintf(&b, "  most active:   %s (%s spans)\n", a.TraceID, humanize.Comma(int64(a.SpanCount)))
	}

	passed := 0
	for _, p := range doc.Phases {
		if p.Passed() {
			passed++
		}
	}
	fmt.Fprintf(&b, "  phases:        %d/%d passed\n", passed, len(doc.Phases))
	for _, p := range doc.Phases {
		mark := "ok"
		if !p.Passed() {
			mark = "FAIL"
		}
		fmt.Fprintf(&b, "    %-4s %-32s %8s  +%s %s\n",
			mark,
			p.PhaseName,
			(time.Duration(p.DurationMs) * time.Millisecond).String(),
			humanize.Comma(int64(p.NewSpanCount)),
			plural(p.NewSpanCount, "span", "spans"))
	}

	if len(doc.Expectations) > 0 {
		b.WriteString("  expectations:\n")
		for _, e := range doc.Expectations {
			mark := "ok"
			if !e.Passed {
				mark = "FAIL"
			}
			fmt.Fprintf(&b, "    %-4s %s: expected %s, got %s\n", mark, e.Type, e.Expected, e.Actual)
		}
	}

	fmt.Fprintf(&b, "  propagation detected:   %t\n", doc.TracePropagationDetected)
	fmt.Fprintf(&b, "  distributed confirmed:  %t\n", doc.DistributedTracingConfirmed)
	fmt.Fprintf(&b, "  workflow fully traced:  %t\n", doc.WorkflowFullyTraced)

	_, err := io.WriteString(w, b.String())
	return err
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
