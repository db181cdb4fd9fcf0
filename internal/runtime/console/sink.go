package console

import (
	"io"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Sink is the real output stream. It receives every emission, whether or not
// a capture is active.
type Sink interface {
	Write(stream Stream, text string)
}

// WriterSink writes stdout and stderr emissions to two writers.
type WriterSink struct {
	mu      sync.Mutex
	stdout  io.Writer
	stderr  io.Writer
	closers []io.Closer
}

// NewWriterSink returns a sink writing to stdout and stderr. A nil stderr
// shares the stdout writer.
func NewWriterSink(stdout, stderr io.Writer) *WriterSink {
	if stderr == nil {
		stderr = stdout
	}
	return &WriterSink{stdout: stdout, stderr: stderr}
}

// NewStdSink writes to the process standard streams.
func NewStdSink() *WriterSink {
	return NewWriterSink(os.Stdout, os.Stderr)
}

// NewFileSink appends every emission to a size-rotated file.
func NewFileSink(path string, maxSizeMB, maxBackups int) *WriterSink {
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	}
	s := NewWriterSink(file, nil)
	s.closers = append(s.closers, file)
	return s
}

func (s *WriterSink) Write(stream Stream, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.stdout
	if stream == Stderr {
		w = s.stderr
	}
	if w == nil {
		return
	}
	_, _ = io.WriteString(w, text)
}

// Close closes the files opened by NewFileSink.
func (s *WriterSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	for _, c := range s.closers {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Tee fans emissions out to several sinks.
type Tee []Sink

func (t Tee) Write(stream Stream, text string) {
	for _, s := range t {
		if s != nil {
			s.Write(stream, text)
		}
	}
}

var (
	defaultMu   sync.RWMutex
	defaultSink Sink = NewStdSink()
)

// SetDefault replaces the sink used for emissions made outside of any capture.
func SetDefault(s Sink) {
	if s == nil {
		s = NewStdSink()
	}
	defaultMu.Lock()
	defaultSink = s
	defaultMu.Unlock()
}

// Default returns the sink used for emissions made outside of any capture.
func Default() Sink {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultSink
}
