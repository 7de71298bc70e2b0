package report

import (
	"bytes"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/roach88/tracecheck/internal/telemetry"
)

// EncodeEvidence compresses the raw log lines of records as zstd JSONL.
func EncodeEvidence(records []telemetry.Record) ([]byte, error) {
	var raw bytes.Buffer
	for _, r := range records {
		raw.Write(r.Raw)
		raw.WriteByte('\n')
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	defer enc.Close()

	return enc.EncodeAll(raw.Bytes(), nil), nil
}

// WriteEvidence writes the compressed evidence archive to path atomically.
func WriteEvidence(path string, records []telemetry.Record) error {
	data, err := EncodeEvidence(records)
	if err != nil {
		return err
	}
	return WriteFile(path, data)
}

// ReadEvidence decompresses an archive written by WriteEvidence and returns
// its lines.
func ReadEvidence(path string) ([][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read evidence: %w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress evidence: %w", err)
	}

	raw = bytes.TrimSuffix(raw, []byte("\n"))
	if len(raw) == 0 {
		return nil, nil
	}
	return bytes.Split(raw, []byte("\n")), nil
}
