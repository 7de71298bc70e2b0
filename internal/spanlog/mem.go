package spanlog

import (
	"bytes"
	"context"
	"sync"
)

// MemLog is an in-memory span log for tests and in-process collection.
type MemLog struct {
	mu    sync.Mutex
	lines [][]byte
}

// NewMemLog creates an empty log seeded with lines.
func NewMemLog(lines ...string) *MemLog {
	m := &MemLog{}
	for _, line := range lines {
		m.lines = append(m.lines, []byte(line))
	}
	return m
}

func (m *MemLog) Append(line []byte) error {
	if bytes.IndexByte(line, '\n') >= 0 {
		return ErrEmbeddedNewline
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, append([]byte(nil), line...))
	return nil
}

func (m *MemLog) Count() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lines), nil
}

func (m *MemLog) ReadFrom(offset int) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(m.lines) {
		return nil, nil
	}
	out := make([][]byte, len(m.lines)-offset)
	copy(out, m.lines[offset:])
	return out, nil
}

// Feed appends every line received on ch until ch closes or ctx ends.
func (m *MemLog) Feed(ctx context.Context, ch <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-ch:
			if !ok {
				return nil
			}
			if err := m.Append(line); err != nil {
				return err
			}
		}
	}
}
