// Package spanlog implements the shared append-only span log.
//
// Every process that participates in a validation run appends one JSON
// object per line to the same file. The harness only ever reads it: it takes
// a line count before a unit of work and reads everything past that count
// afterwards.
//
// Appends rely on O_APPEND so that concurrent writers in separate processes
// never interleave within a line. A trailing line without its newline is
// treated as still being written and is not counted.
package spanlog

import "errors"

// ErrEmbeddedNewline is returned when a caller tries to append a line that
// would split into two records.
var ErrEmbeddedNewline = errors.New("spanlog: line contains a newline")

// Log is the harness view of the span log.
type Log interface {
	// Append writes one line. The newline is added by the log.
	Append(line []byte) error

	// Count returns the number of complete lines.
	Count() (int, error)

	// ReadFrom returns every complete line at index offset and beyond.
	ReadFrom(offset int) ([][]byte, error)
}
