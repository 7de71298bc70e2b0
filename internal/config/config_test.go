package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOf(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestApplyEnv_FlagsWin(t *testing.T) {
	c := Config{SpanLog: "/flag/spans.jsonl"}
	c.ApplyEnv(envOf(map[string]string{
		EnvSpanLog:      "/env/spans.jsonl",
		EnvReport:       "/env/report.json",
		EnvCollectorURL: "http://collector:4318",
		EnvDB:           "",
	}))

	assert.Equal(t, "/flag/spans.jsonl", c.SpanLog)
	assert.Equal(t, "/env/report.json", c.Report)
	assert.Equal(t, "http://collector:4318", c.CollectorURL)
	assert.Empty(t, c.DB)
}

func TestApplyDefaults(t *testing.T) {
	c := Config{Iterations: 2}
	c.ApplyDefaults()

	assert.Equal(t, 2, c.Iterations)
	assert.Equal(t, DefaultTimeout, c.Timeout)
	assert.Equal(t, 50*time.Millisecond, c.Settle.Interval)
	assert.Equal(t, 5*time.Second, c.Settle.Max)
	assert.True(t, c.SeedSet)

	seeded := Config{Seed: 7, SeedSet: true}
	seeded.ApplyDefaults()
	assert.Equal(t, uint64(7), seeded.Seed)
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	valid := func() Config {
		c := Config{SpanLog: filepath.Join(dir, "spans.jsonl"), Report: filepath.Join(dir, "r.json")}
		c.ApplyDefaults()
		return c
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"ok", func(*Config) {}, ""},
		{"missing span log", func(c *Config) { c.SpanLog = "" }, "span_log"},
		{"missing report", func(c *Config) { c.Report = "" }, "report"},
		{"zero iterations", func(c *Config) { c.Iterations = 0 }, "iterations"},
		{"negative timeout", func(c *Config) { c.Timeout = -time.Second }, "timeout"},
		{"quiet beyond max", func(c *Config) { c.Settle.Quiet = time.Minute }, "settle"},
		{"span log is dir", func(c *Config) { c.SpanLog = dir }, "span_log"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.field == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			var cfgErr *Error
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.True(t, IsConfigError(err))
		})
	}
}

func TestResolveExecutable(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "op.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"), 0o755))
	notExec := filepath.Join(dir, "data.txt")
	require.NoError(t, os.WriteFile(notExec, []byte("x"), 0o644))

	path, err := ResolveExecutable("claim", script)
	require.NoError(t, err)
	assert.Equal(t, script, path)

	_, err = ResolveExecutable("sh", "sh")
	assert.NoError(t, err)

	_, err = ResolveExecutable("missing", filepath.Join(dir, "nope"))
	assert.True(t, IsConfigError(err))

	_, err = ResolveExecutable("data", notExec)
	assert.True(t, IsConfigError(err))

	_, err = ResolveExecutable("empty", "")
	assert.True(t, IsConfigError(err))
}
