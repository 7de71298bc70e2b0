package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/roach88/tracecheck/internal/analyzer"
	"github.com/roach88/tracecheck/internal/report"
	"github.com/roach88/tracecheck/internal/telemetry"
)

func testRecord(runID string, started time.Time) RunRecord {
	return RunRecord{
		RunID:               runID,
		PlanName:            "coordination",
		MasterTraceID:       "trace-" + runID,
		StartedAt:           started,
		CompletedAt:         started.Add(3 * time.Second),
		Verdict:             "confirmed",
		SpanCount:           9,
		DistinctServices:    2,
		BaselineSpanCount:   100,
		WorkflowFullyTraced: true,
		ReportPath:          "/tmp/report.json",
		ReportDigest:        "abc",
		Phases: []PhaseRecord{
			{Seq: 1, Name: "inject trace", Status: "passed"},
			{Seq: 2, Name: "iteration 1 (sequential)", Status: "failed", DurationMs: 1500, NewSpanCount: 4},
		},
	}
}

func TestRecordRun_GetRun(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	started := time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC)

	if err := s.RecordRun(ctx, testRecord("run-1", started)); err != nil {
		t.Fatalf("RecordRun() failed: %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() failed: %v", err)
	}

	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if got.Verdict != "confirmed" || got.SpanCount != 9 || got.DistinctServices != 2 {
		t.Errorf("unexpected counts: %+v", got)
	}
	if !got.WorkflowFullyTraced {
		t.Error("WorkflowFullyTraced = false, want true")
	}
	if len(got.Phases) != 2 {
		t.Fatalf("len(Phases) = %d, want 2", len(got.Phases))
	}
	if got.Phases[1].Name != "iteration 1 (sequential)" || got.Phases[1].NewSpanCount != 4 {
		t.Errorf("Phases[1] = %+v", got.Phases[1])
	}
}

func TestRecordRun_DuplicateRejected(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	rec := testRecord("run-1", time.Unix(10, 0))

	if err := s.RecordRun(ctx, rec); err != nil {
		t.Fatalf("first RecordRun() failed: %v", err)
	}
	if err := s.RecordRun(ctx, rec); err == nil {
		t.Error("expected error recording the same run twice")
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() failed: %v", err)
	}
	if len(got.Phases) != 2 {
		t.Errorf("duplicate insert leaked phases: %d", len(got.Phases))
	}
}

func TestGetRun_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun() error = %v, want ErrNotFound", err)
	}
}

func TestListRuns_NewestFirst(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"run-a", "run-b", "run-c"} {
		if err := s.RecordRun(ctx, testRecord(id, time.Unix(int64(100+i), 0))); err != nil {
			t.Fatalf("RecordRun(%s) failed: %v", id, err)
		}
	}

	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}
	if runs[0].RunID != "run-c" || runs[1].RunID != "run-b" {
		t.Errorf("order = %s, %s", runs[0].RunID, runs[1].RunID)
	}
	if runs[0].Phases != nil {
		t.Error("ListRuns should not load phases")
	}

	all, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns(0) failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len(all) = %d, want 3", len(all))
	}
}

func TestListRuns_Empty(t *testing.T) {
	runs, err := createTestStore(t).ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if runs == nil || len(runs) != 0 {
		t.Errorf("ListRuns() = %v, want empty non-nil slice", runs)
	}
}

func TestRecordFromDocument(t *testing.T) {
	run := report.NewValidationRun("run-9", "trace-9", time.Unix(50, 0), 7)
	if err := run.AddPhase(report.PhaseResult{PhaseName: "inject trace", Status: report.PhasePassed}); err != nil {
		t.Fatal(err)
	}
	c := analyzer.Characterize("trace-9", []telemetry.SpanRecord{
		{ServiceName: "A", OperationName: "x"},
		{ServiceName: "B", OperationName: "y"},
		{ServiceName: "A", OperationName: "z"},
	})
	if err := run.SetAnalysis(&c, &c); err != nil {
		t.Fatal(err)
	}
	if err := run.Complete(time.Unix(60, 0)); err != nil {
		t.Fatal(err)
	}

	rec := RecordFromDocument(report.Generate(run), "plan", "/r.json", "digest")

	if rec.RunID != "run-9" || rec.Verdict != "confirmed" || rec.SpanCount != 3 || rec.DistinctServices != 2 {
		t.Errorf("unexpected record: %+v", rec)
	}
	if !rec.CompletedAt.Equal(time.Unix(60, 0)) {
		t.Errorf("CompletedAt = %v", rec.CompletedAt)
	}
	if len(rec.Phases) != 1 || rec.Phases[0].Seq != 1 {
		t.Errorf("Phases = %+v", rec.Phases)
	}
	if !rec.WorkflowFullyTraced {
		t.Error("expected fully traced")
	}
}
