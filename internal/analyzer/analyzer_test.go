package analyzer

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/tracecheck/internal/spanlog"
	"github.com/roach88/tracecheck/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func spanLine(traceID, spanID, parent, service, op string) string {
	line, err := telemetry.EncodeLine(telemetry.SpanRecord{
		TraceID:       traceID,
		SpanID:        spanID,
		ParentSpanID:  parent,
		OperationName: op,
		ServiceName:   service,
		StartTime:     1,
		DurationMs:    1,
		Status:        telemetry.StatusOK,
	})
	if err != nil {
		panic(err)
	}
	return string(line)
}

func decodeLines(lines ...string) []telemetry.Record {
	d := telemetry.NewDecoder()
	records := make([]telemetry.Record, len(lines))
	for i, l := range lines {
		records[i] = d.Decode([]byte(l))
	}
	return records
}

func TestDelta_MonotonicAndReconstructs(t *testing.T) {
	log := spanlog.NewMemLog()
	a := New(zap.NewNop())

	for i := 0; i < 7; i++ {
		require.NoError(t, log.Append([]byte(spanLine("t", fmt.Sprint("s", i), "", "svc", "op"))))
	}
	b, err := a.Baseline(log)
	require.NoError(t, err)
	require.Equal(t, 7, b)

	require.NoError(t, log.Append([]byte(spanLine("t", "s7", "", "svc", "op"))))
	require.NoError(t, log.Append([]byte(`not json`)))
	require.NoError(t, log.Append([]byte(`{"metric_name":"m","value":1}`)))

	after, err := a.Baseline(log)
	require.NoError(t, err)

	delta, err := a.Delta(log, b)
	require.NoError(t, err)
	assert.Len(t, delta, after-b)

	head, err := a.Delta(log, 0)
	require.NoError(t, err)
	var rebuilt []string
	for _, r := range head[:b] {
		rebuilt = append(rebuilt, string(r.Raw))
	}
	for _, r := range delta {
		rebuilt = append(rebuilt, string(r.Raw))
	}
	full, err := log.ReadFrom(0)
	require.NoError(t, err)
	require.Len(t, rebuilt, len(full))
	for i := range full {
		assert.Equal(t, string(full[i]), rebuilt[i])
	}
}

func TestDelta_FileLogBaselineBeyondEnd(t *testing.T) {
	log, err := spanlog.OpenFile(filepath.Join(t.TempDir(), "spans.jsonl"), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer log.Close()

	delta, err := New(zap.NewNop()).Delta(log, 10)
	require.NoError(t, err)
	assert.Empty(t, delta)
}

func TestCountForTrace_IgnoresMetricsAndMalformed(t *testing.T) {
	records := decodeLines(
		spanLine("t1", "a", "", "A", "claim"),
		`{"metric_name":"m","value":1,"labels":{"trace_id":"t1"}}`,
		`garbage`,
		spanLine("t2", "b", "", "A", "claim"),
		spanLine("t1", "c", "a", "B", "analyze"),
	)

	assert.Equal(t, 2, CountForTrace(records, "t1"))
	assert.Equal(t, 1, CountForTrace(records, "t2"))
	assert.Equal(t, 0, CountForTrace(records, "missing"))
}

func TestFrequencyAndMostActive(t *testing.T) {
	records := decodeLines(
		spanLine("t2", "a", "", "A", "op"),
		spanLine("t1", "b", "", "A", "op"),
		spanLine("t2", "c", "", "A", "op"),
		spanLine("t1", "d", "", "A", "op"),
		`{"span_id":"orphan"}`,
	)

	freq := Frequency(records)
	assert.Equal(t, map[string]int{"t1": 2, "t2": 2}, freq)

	top, ok := MostActive(freq)
	require.True(t, ok)
	assert.Equal(t, TraceCount{TraceID: "t1", Count: 2}, top, "ties go to the smallest trace id")

	_, ok = MostActive(map[string]int{})
	assert.False(t, ok)

	assert.True(t, IsPropagated(freq["t1"]))
	assert.False(t, IsPropagated(1))
}

func TestVerdictThresholds(t *testing.T) {
	tests := []struct {
		name  string
		spans []telemetry.SpanRecord
		want  Verdict
		count int
		svcs  int
	}{
		{
			name: "two spans one service",
			spans: []telemetry.SpanRecord{
				{ServiceName: "A", OperationName: "claim"},
				{ServiceName: "A", OperationName: "progress"},
			},
			want: VerdictPartial, count: 2, svcs: 1,
		},
		{
			name: "three spans two services",
			spans: []telemetry.SpanRecord{
				{ServiceName: "A", OperationName: "claim"},
				{ServiceName: "B", OperationName: "analyze"},
				{ServiceName: "A", OperationName: "complete"},
			},
			want: VerdictConfirmed, count: 3, svcs: 2,
		},
		{
			name:  "single span",
			spans: []telemetry.SpanRecord{{ServiceName: "A", OperationName: "claim"}},
			want:  VerdictAbsent, count: 1, svcs: 1,
		},
		{
			name: "two spans two services",
			spans: []telemetry.SpanRecord{
				{ServiceName: "A", OperationName: "claim"},
				{ServiceName: "B", OperationName: "claim"},
			},
			want: VerdictPartial, count: 2, svcs: 2,
		},
		{
			name: "empty",
			want: VerdictAbsent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Characterize("t", tt.spans)
			assert.Equal(t, tt.want, c.Verdict)
			assert.Equal(t, tt.count, c.SpanCount)
			assert.Equal(t, tt.svcs, c.DistinctServices)
		})
	}
}

func TestCharacterize_Fields(t *testing.T) {
	c := Characterize("t", []telemetry.SpanRecord{
		{ServiceName: "B", OperationName: "work.claim", ParentSpanID: "x"},
		{ServiceName: "A", OperationName: "work.claim", ParentSpanID: "does-not-exist"},
		{ServiceName: "A", OperationName: "work.complete"},
	})

	assert.Equal(t, 3, c.SpanCount)
	assert.Equal(t, 2, c.DistinctOperations)
	assert.Equal(t, 2, c.DistinctServices)
	assert.Equal(t, 2, c.ParentChildCount, "presence only, parents are not resolved")
	assert.True(t, c.HasMultipleOperationTypes)
	assert.Equal(t, []string{"A", "B"}, c.Services)
	assert.Equal(t, []string{"work.claim", "work.complete"}, c.Operations)
}

func TestCharacterize_ServicelessSpanIsNotAService(t *testing.T) {
	log := spanlog.NewMemLog()
	require.NoError(t, log.Append([]byte(spanLine("T", "a", "", "A", "claim"))))
	require.NoError(t, log.Append([]byte(`{"trace_id":"T","span_id":"b","operation_name":"claim","duration_ms":1}`)))
	require.NoError(t, log.Append([]byte(spanLine("T", "c", "", "A", "complete"))))

	delta, err := New(zap.NewNop()).Delta(log, 0)
	require.NoError(t, err)
	require.Len(t, delta, 3, "every appended line is part of the delta")
	assert.Equal(t, telemetry.KindMalformed, delta[1].Kind)

	c := CharacterizeTrace(delta, "T")
	assert.Equal(t, 2, c.SpanCount)
	assert.Equal(t, 1, c.DistinctServices)
	assert.Equal(t, []string{"A"}, c.Services)
	assert.Equal(t, VerdictPartial, c.Verdict)

	direct := Characterize("T", []telemetry.SpanRecord{
		{ServiceName: "A", OperationName: "claim"},
		{OperationName: "claim"},
		{ServiceName: "A"},
	})
	assert.Equal(t, 1, direct.DistinctServices)
	assert.Equal(t, 1, direct.DistinctOperations)
	assert.Equal(t, VerdictPartial, direct.Verdict)
}

func TestEndToEndScenario(t *testing.T) {
	log := spanlog.NewMemLog()
	for i := 0; i < 100; i++ {
		require.NoError(t, log.Append([]byte(spanLine(fmt.Sprintf("old-%d", i), fmt.Sprint(i), "", "Z", "noise"))))
	}

	a := New(zap.NewNop())
	baseline, err := a.Baseline(log)
	require.NoError(t, err)
	require.Equal(t, 100, baseline)

	// claim emits two spans from service A, analyze emits one from B.
	require.NoError(t, log.Append([]byte(spanLine("master", "c1", "p", "A", "claim"))))
	require.NoError(t, log.Append([]byte(spanLine("master", "c2", "c1", "A", "claim.commit"))))
	require.NoError(t, log.Append([]byte(spanLine("master", "a1", "p", "B", "analyze"))))

	delta, err := a.Delta(log, baseline)
	require.NoError(t, err)
	assert.Len(t, delta, 3)

	top, ok := MostActive(Frequency(delta))
	require.True(t, ok)
	assert.Equal(t, "master", top.TraceID)
	assert.Equal(t, 3, top.Count)

	c := CharacterizeTrace(delta, top.TraceID)
	assert.Equal(t, 3, c.SpanCount)
	assert.Equal(t, 2, c.DistinctServices)
	assert.Equal(t, VerdictConfirmed, c.Verdict)
}

func TestSettle_StableLog(t *testing.T) {
	log := spanlog.NewMemLog(`{"a":1}`)
	res, err := New(zap.NewNop()).Settle(context.Background(), log, SettleOptions{
		Interval: 5 * time.Millisecond,
		Quiet:    20 * time.Millisecond,
		Max:      time.Second,
	}, nil)

	require.NoError(t, err)
	assert.True(t, res.Stable)
	assert.Equal(t, 1, res.Count)
	assert.GreaterOrEqual(t, res.Polls, 2)
}

func TestSettle_WaitsForLateWriter(t *testing.T) {
	log := spanlog.NewMemLog()
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = log.Append([]byte(`{"late":1}`))
	}()

	res, err := New(zap.NewNop()).Settle(context.Background(), log, SettleOptions{
		Interval: 5 * time.Millisecond,
		Quiet:    100 * time.Millisecond,
		Max:      2 * time.Second,
	}, nil)

	require.NoError(t, err)
	assert.True(t, res.Stable)
	assert.Equal(t, 1, res.Count)
}

// chattyLog grows by one line on every count.
type chattyLog struct{ *spanlog.MemLog }

func (c chattyLog) Count() (int, error) {
	_ = c.Append([]byte(`{"x":1}`))
	return c.MemLog.Count()
}

func TestSettle_GivesUpAtMax(t *testing.T) {
	log := chattyLog{spanlog.NewMemLog()}

	res, err := New(zap.NewNop()).Settle(context.Background(), log, SettleOptions{
		Interval: 5 * time.Millisecond,
		Quiet:    50 * time.Millisecond,
		Max:      60 * time.Millisecond,
	}, nil)

	require.NoError(t, err)
	assert.False(t, res.Stable)
	assert.Greater(t, res.Count, 1)
}

func TestSettle_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(zap.NewNop()).Settle(ctx, spanlog.NewMemLog(), SettleOptions{
		Interval: time.Second,
		Quiet:    time.Minute,
		Max:      time.Hour,
	}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
