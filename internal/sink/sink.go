// Package sink provides line-atomic destinations for request outcome lines.
package sink

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sfarrukhm/sentiment-mlops/internal/outcome"
	"github.com/sfarrukhm/sentiment-mlops/internal/pkg/errors"
)

// Sink receives one line per dispatched request.
// Implementations must be safe for concurrent use and never interleave
// the bytes of two lines.
type Sink interface {
	// WriteLine appends a single line. A trailing newline is added.
	WriteLine(line string) error

	// Close flushes buffered lines and releases resources.
	Close() error
}

// Record formats o with the given excerpt width and writes it to s.
func Record(s Sink, o outcome.RequestOutcome, width int) error {
	return s.WriteLine(outcome.FormatLine(o, width))
}

// FileSink writes lines to a file through a buffered writer.
type FileSink struct {
	path  string
	mu    sync.Mutex
	file  *os.File
	w     *bufio.Writer
	lines int
}

// FileSinkConfig holds configuration for a file sink.
type FileSinkConfig struct {
	// Path is the destination file. Parent directories are created.
	Path string

	// Append keeps existing content instead of truncating it.
	Append bool

	// BufferSize is the write buffer size in bytes (0 = 64KiB).
	BufferSize int
}

// NewFileSink opens path for a fresh run, truncating existing content.
func NewFileSink(path string) (*FileSink, error) {
	return OpenFileSink(FileSinkConfig{Path: path})
}

// OpenFileSink opens a file sink from cfg.
func OpenFileSink(cfg FileSinkConfig) (*FileSink, error) {
	if cfg.Path == "" {
		return nil, errors.ValidationError("sink path is required")
	}

	// Create directory if it doesn't exist
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if cfg.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	file, err := os.OpenFile(cfg.Path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	size := cfg.BufferSize
	if size <= 0 {
		size = 64 * 1024
	}

	return &FileSink{
		path: cfg.Path,
		file: file,
		w:    bufio.NewWriterSize(file, size),
	}, nil
}

// WriteLine appends line and flushes it to the file under the sink lock,
// so readers following the file see every completed request.
func (s *FileSink) WriteLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return errors.New(errors.CodeInternal, "sink is closed")
	}

	if err := writeLine(s.w, line); err != nil {
		return fmt.Errorf("failed to write line: %w", err)
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush line: %w", err)
	}
	s.lines++

	return nil
}

// Flush writes buffered lines to the file.
func (s *FileSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	return s.w.Flush()
}

// Close flushes, syncs and closes the file. It is safe to call twice.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}

	flushErr := s.w.Flush()
	syncErr := s.file.Sync()
	closeErr := s.file.Close()
	s.file = nil
	s.w = nil

	switch {
	case flushErr != nil:
		return fmt.Errorf("failed to flush log file: %w", flushErr)
	case syncErr != nil:
		return fmt.Errorf("failed to sync log file: %w", syncErr)
	case closeErr != nil:
		return fmt.Errorf("failed to close log file: %w", closeErr)
	}
	return nil
}

// Lines returns the number of lines written so far.
func (s *FileSink) Lines() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lines
}

// Path returns the destination path.
func (s *FileSink) Path() string {
	return s.path
}

// WriterSink writes lines to an arbitrary writer, e.g. stdout.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink wraps w. Close does not close w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// WriteLine writes line and a newline in a single call.
func (s *WriterSink) WriteLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeLine(s.w, line)
}

// Close is a no-op.
func (s *WriterSink) Close() error {
	return nil
}

// MemorySink keeps lines in memory. Used by tests and in-process runs.
type MemorySink struct {
	mu     sync.Mutex
	lines  []string
	closed bool
}

// NewMemorySink creates an empty memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// WriteLine stores line.
func (s *MemorySink) WriteLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New(errors.CodeInternal, "sink is closed")
	}
	s.lines = append(s.lines, line)
	return nil
}

// Close marks the sink closed.
func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Lines returns a copy of the stored lines.
func (s *MemorySink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}

// String joins the stored lines as file content.
func (s *MemorySink) String() string {
	lines := s.Lines()
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// Closed reports whether Close was called.
func (s *MemorySink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// multiSink fans each line out to several sinks.
type multiSink struct {
	sinks []Sink
}

// Multi returns a sink that writes every line to all sinks in order.
// The first error is returned but later sinks still receive the line.
func Multi(sinks ...Sink) Sink {
	return &multiSink{sinks: sinks}
}

func (m *multiSink) WriteLine(line string) error {
	var first error
	for _, s := range m.sinks {
		if err := s.WriteLine(line); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *multiSink) Close() error {
	var first error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func writeLine(w io.Writer, line string) error {
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, strings.TrimRight(line, "\r\n")...)
	buf = append(buf, '\n')
	_, err := w.Write(buf)
	return err
}
