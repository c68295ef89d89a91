package eventlog

import (
	"fmt"
	"os"
	"sync"

	"github.com/me/htjob/pkg/model"
)

// Writer appends event blocks to a log. Each block is written with a
// single write call on an O_APPEND descriptor, so a concurrent Reader
// sees either the whole block or none of it.
type Writer struct {
	path string
	mu   sync.Mutex
}

// NewWriter returns a Writer for the log at path. The file is created on
// first append.
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Path returns the log location.
func (w *Writer) Path() string {
	return w.path
}

// Append writes ev to the end of the log.
func (w *Writer) Append(ev model.LifecycleEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open event log %s: %w", w.path, err)
	}
	if _, err := f.Write(Format(ev)); err != nil {
		f.Close()
		return fmt.Errorf("append event to %s: %w", w.path, err)
	}
	return f.Close()
}
