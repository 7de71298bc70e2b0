package spanlog

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

// FileLog is a span log backed by a file on disk.
//
// Line offsets are indexed in a ristretto cache so ReadFrom can seek
// straight to a baseline instead of rescanning the file. An evicted entry
// only costs a rescan.
type FileLog struct {
	path   string
	logger *zap.Logger

	writeMu sync.Mutex
	w       *os.File

	readMu sync.Mutex
	cursor checkpoint
	index  *ristretto.Cache
}

// checkpoint is the last scanned position: lines complete lines end at
// byte offset.
type checkpoint struct {
	lines  int
	offset int64
}

// OpenFile opens (creating if needed) the log at path.
func OpenFile(path string, logger *zap.Logger) (*FileLog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create span log directory: %w", err)
		}
	}

	w, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open span log: %w", err)
	}

	index, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1 << 16,
		MaxCost:     1 << 14,
		BufferItems: 64,
	})
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("create offset index: %w", err)
	}

	return &FileLog{
		path:   path,
		logger: logger,
		w:      w,
		index:  index,
	}, nil
}

// Path returns the file path.
func (l *FileLog) Path() string {
	return l.path
}

// Append writes line followed by a newline in a single write call.
func (l *FileLog) Append(line []byte) error {
	if bytes.IndexByte(line, '\n') >= 0 {
		return ErrEmbeddedNewline
	}

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if l.w == nil {
		return fmt.Errorf("span log %s is closed", l.path)
	}
	if _, err := l.w.Write(buf); err != nil {
		return fmt.Errorf("write span log: %w", err)
	}
	return nil
}

// Count returns the number of complete lines in the file.
func (l *FileLog) Count() (int, error) {
	l.readMu.Lock()
	defer l.readMu.Unlock()

	if err := l.advance(); err != nil {
		return 0, err
	}
	return l.cursor.lines, nil
}

// ReadFrom returns the complete lines at index offset and beyond.
func (l *FileLog) ReadFrom(offset int) ([][]byte, error) {
	if offset < 0 {
		offset = 0
	}

	l.readMu.Lock()
	defer l.readMu.Unlock()

	if err := l.advance(); err != nil {
		return nil, err
	}
	if offset >= l.cursor.lines {
		return nil, nil
	}

	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open span log: %w", err)
	}
	defer f.Close()

	start, skip := l.seekPoint(offset)
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek span log: %w", err)
	}

	var lines [][]byte
	r := bufio.NewReader(f)
	for n := offset - skip; n < l.cursor.lines; n++ {
		line, err := r.ReadBytes('\n')
		if err != nil {
			// A partial trailing line is not yet part of the log.
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("read span log: %w", err)
		}
		if n < offset {
			continue
		}
		lines = append(lines, bytes.TrimRight(line, "\r\n"))
	}
	return lines, nil
}

// Close releases the write handle and the offset index.
func (l *FileLog) Close() error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.index.Close()
	if l.w == nil {
		return nil
	}
	err := l.w.Close()
	l.w = nil
	return err
}

// seekPoint returns the byte offset to start reading from and how many lines
// before offset that position is. A cache hit means zero lines to skip.
func (l *FileLog) seekPoint(offset int) (int64, int) {
	if offset == 0 {
		return 0, 0
	}
	if v, ok := l.index.Get(uint64(offset)); ok {
		return v.(int64), 0
	}
	l.logger.Debug("span log index miss", zap.Int("line", offset))
	return 0, offset
}

// advance scans lines appended since the last checkpoint. Callers hold readMu.
func (l *FileLog) advance() error {
	f, err := os.Open(l.path)
	if err != nil {
		return fmt.Errorf("open span log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat span log: %w", err)
	}
	if info.Size() < l.cursor.offset {
		l.logger.Warn("span log shrank, rescanning",
			zap.String("path", l.path),
			zap.Int64("size", info.Size()),
			zap.Int64("checkpoint", l.cursor.offset),
		)
		l.cursor = checkpoint{}
		l.index.Clear()
	}
	if info.Size() == l.cursor.offset {
		return nil
	}

	if _, err := f.Seek(l.cursor.offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek span log: %w", err)
	}

	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read span log: %w", err)
		}
		l.cursor.offset += int64(len(line))
		l.cursor.lines++
		l.index.Set(uint64(l.cursor.lines), l.cursor.offset, 1)
	}
	l.index.Wait()
	return nil
}
