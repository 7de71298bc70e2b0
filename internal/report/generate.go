package report

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/tracecheck/internal/analyzer"
)

// Summary labels shown to users.
const (
	LabelFullyConfirmed = "fully confirmed"
	LabelPartial        = "partial"
	LabelFailed         = "failed"
)

// Document is the serialized report.
type Document struct {
	*ValidationRun

	Verdict                     analyzer.Verdict `json:"verdict"`
	Summary                     string           `json:"summary"`
	TracePropagationDetected    bool             `json:"trace_propagation_detected"`
	DistributedTracingConfirmed bool             `json:"distributed_tracing_confirmed"`
	WorkflowFullyTraced         bool             `json:"workflow_fully_traced"`
}

// Generate derives the verdict and top-level booleans from the run's master
// trace. A run without a master trace characterization is absent.
func Generate(run *ValidationRun) Document {
	var master analyzer.TraceCharacterization
	if run.MasterTrace != nil {
		master = *run.MasterTrace
	}
	verdict := analyzer.VerdictFor(master.SpanCount, master.DistinctServices)

	return Document{
		ValidationRun:               run,
		Verdict:                     verdict,
		Summary:                     Label(verdict),
		TracePropagationDetected:    analyzer.IsPropagated(master.SpanCount),
		DistributedTracingConfirmed: verdict == analyzer.VerdictConfirmed,
		WorkflowFullyTraced: verdict == analyzer.VerdictConfirmed &&
			master.HasMultipleOperationTypes &&
			run.AllPhasesPassed() &&
			run.AllExpectationsPassed(),
	}
}

// Label maps a verdict to its user-facing summary word.
func Label(v analyzer.Verdict) string {
	switch v {
	case analyzer.VerdictConfirmed:
		return LabelFullyConfirmed
	case analyzer.VerdictPartial:
		return LabelPartial
	default:
		return LabelFailed
	}
}

// Marshal renders the document as indented JSON with a trailing newline.
func Marshal(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFile writes data to path atomically: readers see either the previous
// file or the complete new one.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp report: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp report: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp report: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp report: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace report: %w", err)
	}
	return nil
}

// Write generates, marshals and atomically writes the report for run.
// It returns the bytes written.
func Write(path string, run *ValidationRun) ([]byte, error) {
	data, err := Marshal(Generate(run))
	if err != nil {
		return nil, err
	}
	if err := WriteFile(path, data); err != nil {
		return nil, err
	}
	return data, nil
}

// digestDomain separates report digests from any other sha256 use.
const digestDomain = "tracecheck/report/v1"

// Digest returns the hex sha256 of the report bytes under a domain prefix.
func Digest(data []byte) string {
	h := sha256.New()
	h.Write([]byte(digestDomain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
