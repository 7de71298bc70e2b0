package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/tracecheck/internal/report"
)

// ErrNotFound is returned by GetRun for an unknown run id.
var ErrNotFound = errors.New("store: run not found")

// RunRecord is one row of history.
//
// Counts and booleans are copied from the report document, so history can be
// listed without reading report files. ReportDigest is report.Digest over the
// exact bytes written to ReportPath; a mismatch means the file changed after
// the run. Phases is only populated by GetRun.
type RunRecord struct {
	RunID               string        `json:"run_id"`
	PlanName            string        `json:"plan_name,omitempty"`
	MasterTraceID       string        `json:"master_trace_id"`
	StartedAt           time.Time     `json:"started_at"`
	CompletedAt         time.Time     `json:"completed_at"`
	Verdict             string        `json:"verdict"`
	SpanCount           int           `json:"span_count"`
	DistinctServices    int           `json:"distinct_services"`
	BaselineSpanCount   int           `json:"baseline_span_count"`
	WorkflowFullyTraced bool          `json:"workflow_fully_traced"`
	ReportPath          string        `json:"report_path,omitempty"`
	ReportDigest        string        `json:"report_digest,omitempty"`
	Phases              []PhaseRecord `json:"phases,omitempty"`
}

// PhaseRecord is one phase of a recorded run. Seq is 1-based and follows the
// order phases appear in the report.
type PhaseRecord struct {
	Seq          int    `json:"seq"`
	Name         string `json:"phase_name"`
	Status       string `json:"status"`
	DurationMs   int64  `json:"duration_ms"`
	NewSpanCount int    `json:"new_span_count"`
}

// RecordFromDocument flattens a generated report into a history row.
//
// reportPath should be absolute so the row stays meaningful from any working
// directory. digest is the value returned by report.Digest for the written
// bytes.
func RecordFromDocument(doc report.Document, planName, reportPath, digest string) RunRecord {
	rec := RunRecord{
		RunID:               doc.RunID,
		PlanName:            planName,
		MasterTraceID:       doc.MasterTraceID,
		StartedAt:           doc.StartedAt,
		Verdict:             string(doc.Verdict),
		BaselineSpanCount:   doc.BaselineSpanCount,
		WorkflowFullyTraced: doc.WorkflowFullyTraced,
		ReportPath:          reportPath,
		ReportDigest:        digest,
	}
	if doc.CompletedAt != nil {
		rec.CompletedAt = *doc.CompletedAt
	}
	if m := doc.MasterTrace; m != nil {
		rec.SpanCount = m.SpanCount
		rec.DistinctServices = m.DistinctServices
	}
	for i, p := range doc.Phases {
		rec.Phases = append(rec.Phases, PhaseRecord{
			Seq:          i + 1,
			Name:         p.PhaseName,
			Status:       string(p.Status),
			DurationMs:   p.DurationMs,
			NewSpanCount: p.NewSpanCount,
		})
	}
	return rec
}

// RecordRun inserts a run and its phases in one transaction.
//
// Either the run and every phase land, or nothing does: a failure part way
// through rolls back. Recording the same run id twice is an error, since run
// ids are unique per validation run.
func (s *Store) RecordRun(ctx context.Context, rec RunRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record run: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs
		(run_id, plan_name, master_trace_id, started_at, completed_at, verdict,
		 span_count, distinct_services, baseline_span_count, workflow_fully_traced,
		 report_path, report_digest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.RunID,
		rec.PlanName,
		rec.MasterTraceID,
		rec.StartedAt.UnixNano(),
		rec.CompletedAt.UnixNano(),
		rec.Verdict,
		rec.SpanCount,
		rec.DistinctServices,
		rec.BaselineSpanCount,
		boolToInt(rec.WorkflowFullyTraced),
		rec.ReportPath,
		rec.ReportDigest,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", rec.RunID, err)
	}

	for _, p := range rec.Phases {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO phases (run_id, seq, phase_name, status, duration_ms, new_span_count)
			VALUES (?, ?, ?, ?, ?, ?)
		`, rec.RunID, p.Seq, p.Name, p.Status, p.DurationMs, p.NewSpanCount)
		if err != nil {
			return fmt.Errorf("record run %s: phase %d: %w", rec.RunID, p.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record run %s: commit: %w", rec.RunID, err)
	}
	return nil
}

// ListRuns returns the most recent runs first, without phases.
// A limit of zero or less returns every run.
//
// Runs started in the same nanosecond are ordered by run id, descending, so
// the listing is stable across calls.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, plan_name, master_trace_id, started_at, completed_at, verdict,
		       span_count, distinct_services, baseline_span_count, workflow_fully_traced,
		       report_path, report_digest
		FROM runs
		ORDER BY started_at DESC, run_id COLLATE BINARY DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// GetRun returns one run with its phases in order.
// Returns ErrNotFound (test with errors.Is) when runID was never recorded.
func (s *Store) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, plan_name, master_trace_id, started_at, completed_at, verdict,
		       span_count, distinct_services, baseline_span_count, workflow_fully_traced,
		       report_path, report_digest
		FROM runs
		WHERE run_id = ?
	`, runID)

	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, ErrNotFound
	}
	if err != nil {
		return RunRecord{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, phase_name, status, duration_ms, new_span_count
		FROM phases
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return RunRecord{}, fmt.Errorf("query phases: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p PhaseRecord
		if err := rows.Scan(&p.Seq, &p.Name, &p.Status, &p.DurationMs, &p.NewSpanCount); err != nil {
			return RunRecord{}, fmt.Errorf("scan phase: %w", err)
		}
		rec.Phases = append(rec.Phases, p)
	}
	if err := rows.Err(); err != nil {
		return RunRecord{}, fmt.Errorf("iterate phases: %w", err)
	}
	return rec, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (RunRecord, error) {
	var (
		rec                RunRecord
		started, completed int64
		fully              int
	)
	err := sc.Scan(
		&rec.RunID,
		&rec.PlanName,
		&rec.MasterTraceID,
		&started,
		&completed,
		&rec.Verdict,
		&rec.SpanCount,
		&rec.DistinctServices,
		&rec.BaselineSpanCount,
		&fully,
		&rec.ReportPath,
		&rec.ReportDigest,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, err
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("scan run: %w", err)
	}
	rec.StartedAt = time.Unix(0, started).UTC()
	rec.CompletedAt = time.Unix(0, completed).UTC()
	rec.WorkflowFullyTraced = fully != 0
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
