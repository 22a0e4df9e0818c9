package log

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// FileLogger appends protocol events to a .plog trace. It is safe for
// concurrent use.
type FileLogger struct {
	path string
	role Role

	mu      sync.Mutex
	file    *os.File
	encoder *cbor.Encoder
	events  int
	err     error
	closed  bool
}

// FileLoggerOption configures a FileLogger.
type FileLoggerOption func(*FileLogger)

// WithRole tags events that carry no LocalRole.
func WithRole(role Role) FileLoggerOption {
	return func(l *FileLogger) { l.role = role }
}

// NewFileLogger opens the trace at path for appending, creating it and its
// directory if needed. A path without an extension gets TraceExt.
func NewFileLogger(path string, opts ...FileLoggerOption) (*FileLogger, error) {
	if filepath.Ext(path) == "" {
		path += TraceExt
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	l := &FileLogger{path: path, file: f, encoder: NewEncoder(f)}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Log appends event. Events without a timestamp are stamped now. After the
// first write error, later events are dropped and Err reports it.
func (l *FileLogger) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.LocalRole == RoleUnknown {
		event.LocalRole = l.role
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.err != nil {
		return
	}
	if err := l.encoder.Encode(normalize(event)); err != nil {
		l.err = err
		return
	}
	l.events++
}

// Path returns the trace file path, including any added extension.
func (l *FileLogger) Path() string {
	return l.path
}

// Events returns the number of events written.
func (l *FileLogger) Events() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events
}

// Err returns the first write error, if any.
func (l *FileLogger) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close closes the trace. Later calls to Log and Close do nothing.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

var _ Logger = (*FileLogger)(nil)
