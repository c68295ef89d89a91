package eventlog

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/me/htjob/pkg/model"
)

// Reader tails one event log with a resumable byte cursor. Each Poll
// returns only events appended since the previous Poll.
type Reader struct {
	path string

	mu     sync.Mutex
	offset int64
}

// Open returns a Reader positioned at the start of the log at path. The
// file (and its directory) is created empty if it does not exist yet, so
// the scheduler can append to it later.
func Open(path string) (*Reader, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create event log %s: %w", path, err)
	}
	f.Close()
	return &Reader{path: path}, nil
}

// Path returns the log location.
func (r *Reader) Path() string {
	return r.path
}

// Offset returns the byte position of the cursor.
func (r *Reader) Offset() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offset
}

// Poll reads the events appended since the last call. It never blocks
// waiting for data: a missing, empty or unchanged log yields no events
// and a nil error. A block whose terminator has not been written yet is
// left for a later Poll. If the file shrank below the cursor it was
// replaced, and reading restarts from the beginning.
//
// Errors are *model.LogReadError; the cursor is unchanged on error.
func (r *Reader) Poll() ([]model.LifecycleEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.Open(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &model.LogReadError{Path: r.path, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &model.LogReadError{Path: r.path, Err: err}
	}
	size := info.Size()
	if size < r.offset {
		r.offset = 0
	}
	if size == r.offset {
		return nil, nil
	}

	if _, err := f.Seek(r.offset, io.SeekStart); err != nil {
		return nil, &model.LogReadError{Path: r.path, Err: err}
	}
	data, err := io.ReadAll(io.LimitReader(f, size-r.offset))
	if err != nil {
		return nil, &model.LogReadError{Path: r.path, Err: err}
	}

	events, consumed := parseBlocks(data)
	r.offset += int64(consumed)
	return events, nil
}

// Rewind moves the cursor back to the start of the log so the next Poll
// replays every event.
func (r *Reader) Rewind() {
	r.mu.Lock()
	r.offset = 0
	r.mu.Unlock()
}
