package harness

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tracecheck/internal/config"
	"github.com/roach88/tracecheck/internal/scheduler"
)

const validYAML = `
name: coordination-propagation
description: claim/progress/complete under one trace
iterations: 4
timeout: 30s
seed: 7
settle: {interval: 50ms, quiet: 200ms, max: 5s}
validation:
  - name: health
    command: sh -c 'exit 0'
coordination:
  - name: claim
    run: ["sh", "-c", "exit 0"]
    env: {ROLE: claimer}
expectations:
  - type: min_spans
    count: 3
  - type: service_present
    service: agent-b
`

func TestParseYAML_Valid(t *testing.T) {
	plan, err := ParseYAML([]byte(validYAML), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "coordination-propagation", plan.Name)
	assert.Equal(t, 4, plan.Iterations)
	assert.Equal(t, Duration(30*time.Second), plan.Timeout)
	require.NotNil(t, plan.Seed)
	assert.Equal(t, uint64(7), *plan.Seed)
	require.NotNil(t, plan.Settle)
	assert.Equal(t, 200*time.Millisecond, plan.Settle.Options().Quiet)
	require.Len(t, plan.Validation, 1)
	require.Len(t, plan.Coordination, 1)
	assert.Equal(t, []string{"sh", "-c", "exit 0"}, plan.Coordination[0].Run)
	require.Len(t, plan.Expectations, 2)
	assert.Equal(t, ExpectServicePresent, plan.Expectations[1].Type)
}

func TestParseYAML_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown field",
			yaml:    "name: x\nvalidaton:\n  - name: a\n    command: sh\n",
			wantErr: "field validaton not found",
		},
		{
			name:    "missing name",
			yaml:    "validation:\n  - name: a\n    command: sh\n",
			wantErr: "name is required",
		},
		{
			name:    "no operations",
			yaml:    "name: x\n",
			wantErr: "at least one",
		},
		{
			name:    "duplicate names",
			yaml:    "name: x\nvalidation:\n  - name: a\n    command: sh\ncoordination:\n  - name: a\n    command: sh\n",
			wantErr: "duplicate operation name",
		},
		{
			name:    "command and run",
			yaml:    "name: x\nvalidation:\n  - name: a\n    command: sh\n    run: [sh]\n",
			wantErr: "mutually exclusive",
		},
		{
			name:    "neither command nor run",
			yaml:    "name: x\nvalidation:\n  - name: a\n",
			wantErr: "one of command or run",
		},
		{
			name:    "bad duration",
			yaml:    "name: x\ntimeout: soon\nvalidation:\n  - name: a\n    command: sh\n",
			wantErr: "invalid duration",
		},
		{
			name:    "unknown expectation",
			yaml:    "name: x\nvalidation:\n  - name: a\n    command: sh\nexpectations:\n  - type: max_spans\n",
			wantErr: "unknown expectation type",
		},
		{
			name:    "service_present without service",
			yaml:    "name: x\nvalidation:\n  - name: a\n    command: sh\nexpectations:\n  - type: service_present\n",
			wantErr: "service is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseYAML([]byte(tt.yaml), "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseCUE_Valid(t *testing.T) {
	src := `
name:       "cue-plan"
iterations: 2
timeout:    "10s"
settle: quiet: "100ms"
validation: [{name: "health", command: "sh -c true"}]
coordination: [{name: "claim", run: ["sh", "-c", "true"]}]
expectations: [{type: "min_services", count: 2}]
`
	plan, err := ParseCUE([]byte(src), "plan.cue", t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "cue-plan", plan.Name)
	assert.Equal(t, 2, plan.Iterations)
	assert.Equal(t, Duration(10*time.Second), plan.Timeout)
	assert.Equal(t, 100*time.Millisecond, plan.Settle.Options().Quiet)
	assert.Equal(t, 2, plan.Expectations[0].Count)
}

func TestParseCUE_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown field", `name: "x", validation: [{name: "a", command: "sh"}], extra: 1`},
		{"zero iterations", `name: "x", iterations: 0, validation: [{name: "a", command: "sh"}]`},
		{"bad duration", `name: "x", timeout: "soon", validation: [{name: "a", command: "sh"}]`},
		{"bad expectation type", `name: "x", validation: [{name: "a", command: "sh"}], expectations: [{type: "nope"}]`},
		{"empty name", `name: "", validation: [{name: "a", command: "sh"}]`},
		{"syntax", `name: "x`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCUE([]byte(tt.src), "plan.cue", "")
			assert.Error(t, err)
		})
	}
}

func TestParseCUE_ErrorsCarryPosition(t *testing.T) {
	src := "name: \"x\"\nvalidation: [{name: \"a\", command: \"sh\"}]\niterations: -2\n"
	_, err := ParseCUE([]byte(src), "plan.cue", "")
	require.Error(t, err)

	var planErr *PlanError
	require.True(t, errors.As(err, &planErr))
	require.True(t, planErr.Pos.IsValid())
	assert.Equal(t, "plan.cue", planErr.Pos.Filename())
	assert.Equal(t, 3, planErr.Pos.Line())
	assert.Contains(t, err.Error(), "plan.cue:3:")
}

func TestLoadPlan_DispatchesOnExtension(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "plan.yaml")
	cuePath := filepath.Join(dir, "plan.cue")
	require.NoError(t, os.WriteFile(yamlPath, []byte(validYAML), 0o644))
	require.NoError(t, os.WriteFile(cuePath, []byte(`name: "c", validation: [{name: "a", command: "sh"}]`), 0o644))

	p, err := LoadPlan(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, dir, p.Dir())

	p, err = LoadPlan(cuePath)
	require.NoError(t, err)
	assert.Equal(t, "c", p.Name)

	_, err = LoadPlan(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read plan file")
}

func TestPlanOperations_ResolvesRelativeToPlanDir(t *testing.T) {
	dir := t.TempDir()
	opsDir := filepath.Join(dir, "ops")
	require.NoError(t, os.MkdirAll(opsDir, 0o755))
	script := filepath.Join(opsDir, "coord.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexit 0\n"), 0o755))

	plan, err := ParseYAML([]byte(`
name: rel
validation:
  - name: health
    command: "sh -c 'echo \"hello world\"'"
coordination:
  - name: claim
    run: ["./ops/coord.sh", "claim"]
    dir: ops
`), dir)
	require.NoError(t, err)

	v, c, err := plan.Operations()
	require.NoError(t, err)
	require.Len(t, v, 1)
	require.Len(t, c, 1)

	assert.Equal(t, scheduler.Validation, v[0].Kind)
	assert.Equal(t, []string{"-c", `echo "hello world"`}, v[0].Invocation.Args)
	assert.Equal(t, dir, v[0].Invocation.Dir)

	assert.Equal(t, scheduler.Coordination, c[0].Kind)
	assert.Equal(t, script, c[0].Invocation.Executable)
	assert.Equal(t, []string{"claim"}, c[0].Invocation.Args)
	assert.Equal(t, opsDir, c[0].Invocation.Dir)
}

func TestPlanOperations_MissingExecutableIsConfigError(t *testing.T) {
	plan, err := ParseYAML([]byte("name: x\nvalidation:\n  - name: gone\n    command: ./does-not-exist.sh\n"), t.TempDir())
	require.NoError(t, err)

	_, _, err = plan.Operations()
	require.Error(t, err)
	assert.True(t, config.IsConfigError(err))
}

func TestPlanApply_RespectsExistingConfig(t *testing.T) {
	plan, err := ParseYAML([]byte(validYAML), "")
	require.NoError(t, err)

	cfg := config.Config{Iterations: 9}
	plan.Apply(&cfg)

	assert.Equal(t, 9, cfg.Iterations)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.True(t, cfg.SeedSet)
	assert.Equal(t, uint64(7), cfg.Seed)
	assert.Equal(t, 50*time.Millisecond, cfg.Settle.Interval)

	flagSeed := config.Config{Seed: 1, SeedSet: true}
	plan.Apply(&flagSeed)
	assert.Equal(t, uint64(1), flagSeed.Seed)
}
