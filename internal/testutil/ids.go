// Package testutil holds deterministic id sources for tests that need
// byte-stable span logs.
package testutil

import (
	"fmt"
	"sync"
)

// IDSequence hands out span ids from a counter. Ids have the 16-hex-char shape
// of real span ids so they pass the same validation.
//
// Safe for concurrent use.
type IDSequence struct {
	mu  sync.Mutex
	seq uint64
}

// NewIDSequence creates a sequence whose first id is 0000000000000001.
func NewIDSequence() *IDSequence {
	return &IDSequence{}
}

// Next returns the next id.
func (s *IDSequence) Next() string {
	return fmt.Sprintf("%016x", s.next())
}

func (s *IDSequence) next() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// Issued returns how many ids have been handed out since the last Reset.
func (s *IDSequence) Issued() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Reset restarts the sequence so a scenario can be replayed with identical ids.
func (s *IDSequence) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq = 0
}

// RunIDs is a run id source for propagators under test. Ids read
// "<prefix>-1", "<prefix>-2", ... so assertions and history lookups can name
// the run they expect.
//
// Safe for concurrent use.
type RunIDs struct {
	prefix string
	seq    IDSequence
}

// NewRunIDs creates a run id source. An empty prefix uses "run".
func NewRunIDs(prefix string) *RunIDs {
	if prefix == "" {
		prefix = "run"
	}
	return &RunIDs{prefix: prefix}
}

// Generate returns the next run id.
func (r *RunIDs) Generate() string {
	return fmt.Sprintf("%s-%d", r.prefix, r.seq.next())
}

// FixedIDs cycles through ids in order. Not safe for concurrent use.
func FixedIDs(ids ...string) func() string {
	if len(ids) == 0 {
		ids = []string{"00000000000000ff"}
	}
	i := 0
	return func() string {
		id := ids[i%len(ids)]
		i++
		return id
	}
}
