// Package sink consumes the monitoring event bus: append-only ndjson logs
// for operators and a sqlite archive for durable history. Sinks are
// best-effort by design; a failed write is logged and the monitoring loop
// keeps evaluating.
package sink

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Log file names, one per entity stream.
const (
	AlertsFile    = "alerts.ndjson"
	IncidentsFile = "incidents.ndjson"
	SecurityFile  = "security.ndjson"
)

// WriteError reports a failed append to one log file.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("sink: write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// AsWriteError extracts a WriteError from an error chain.
func AsWriteError(err error) (*WriteError, bool) {
	var we *WriteError
	if errors.As(err, &we) {
		return we, true
	}
	return nil, false
}

// record is the on-disk shape: one JSON object per line.
type record struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Type      string `json:"type"`
	Payload   any    `json:"payload"`
}

// fileWriter serializes appends to one log file.
type fileWriter struct {
	mu sync.Mutex
	f  *os.File
}

// NDJSONWriter appends newline-delimited JSON records under one
// directory. Each file has its own lock, so writes to different streams
// never contend; writes to the same file never interleave.
type NDJSONWriter struct {
	dir string

	mu    sync.Mutex
	files map[string]*fileWriter
}

// NewNDJSONWriter creates the log directory if needed.
func NewNDJSONWriter(dir string) (*NDJSONWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sink: create log dir %s: %w", dir, err)
	}
	return &NDJSONWriter{dir: dir, files: make(map[string]*fileWriter)}, nil
}

// Write appends one record to the named file. The timestamp is rendered
// as ISO 8601 UTC.
func (w *NDJSONWriter) Write(file string, ts time.Time, level, recordType string, payload any) error {
	data, err := json.Marshal(record{
		Timestamp: ts.UTC().Format(time.RFC3339),
		Level:     level,
		Type:      recordType,
		Payload:   payload,
	})
	if err != nil {
		return &WriteError{Path: filepath.Join(w.dir, file), Err: err}
	}
	data = append(data, '\n')

	fw, err := w.writer(file)
	if err != nil {
		return err
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()
	if _, err := fw.f.Write(data); err != nil {
		return &WriteError{Path: fw.f.Name(), Err: err}
	}
	return nil
}

// writer opens (once) and returns the per-file writer.
func (w *NDJSONWriter) writer(file string) (*fileWriter, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if fw, ok := w.files[file]; ok {
		return fw, nil
	}
	path := filepath.Join(w.dir, file)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, &WriteError{Path: path, Err: err}
	}
	fw := &fileWriter{f: f}
	w.files[file] = fw
	return fw, nil
}

// Close closes every open log file.
func (w *NDJSONWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var firstErr error
	for name, fw := range w.files {
		fw.mu.Lock()
		if err := fw.f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sink: close %s: %w", name, err)
		}
		fw.mu.Unlock()
		delete(w.files, name)
	}
	return firstErr
}
