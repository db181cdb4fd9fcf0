// Package console attributes console output to the trigger invocation that
// produced it.
//
// Run installs a capture on the context it hands to the callback. Every
// emission made with that context (or one derived from it, including from
// goroutines the callback starts) is appended to the capture and passed
// through to the real output stream. Emissions with a context that carries no
// capture only pass through.
package console

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"time"

	"github.com/drblury/glue/internal/runtime/inspect"
)

// Stream tags an emission as informational or error output.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// LogEntry is one captured emission.
type LogEntry struct {
	Timestamp int64  `json:"timestamp"`
	Type      Stream `json:"type"`
	Text      string `json:"text"`
}

// Result is what Run returns once the callback finished.
type Result struct {
	Logs  []LogEntry `json:"logs"`
	Error *string    `json:"error,omitempty"`
}

// Failed reports whether the callback returned an error or panicked.
func (r Result) Failed() bool { return r.Error != nil }

// PanicError wraps a value recovered from a panicking callback.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return "panic: " + inspect.Value(e.Value)
}

// Format prints the goroutine stack for %+v.
func (e *PanicError) Format(f fmt.State, verb rune) {
	_, _ = io.WriteString(f, e.Error())
	if verb == 'v' && f.Flag('+') && len(e.Stack) > 0 {
		_, _ = io.WriteString(f, "\n")
		_, _ = f.Write(e.Stack)
	}
}

type capture struct {
	mu      sync.Mutex
	sink    Sink
	entries []LogEntry
	done    bool
}

type contextKey struct{}

// Run executes fn with a fresh capture. A returned error or a panic is
// rendered with inspect rules, appended as a stderr entry and reported in
// Result.Error. The capture is detached before Run returns, so later
// emissions through the same context are no longer attributed to it.
func Run(ctx context.Context, sink Sink, fn func(ctx context.Context) error) Result {
	if sink == nil {
		sink = Default()
	}
	c := &capture{sink: sink}
	err := call(context.WithValue(ctx, contextKey{}, c), fn)

	var res Result
	if err != nil {
		text := inspect.Value(err)
		c.emit(Stderr, text+"\n")
		res.Error = &text
	}
	res.Logs = c.detach()
	return res
}

func call(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}

// Active reports whether ctx carries a live capture.
func Active(ctx context.Context) bool {
	c := fromContext(ctx)
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.done
}

func fromContext(ctx context.Context) *capture {
	if ctx == nil {
		return nil
	}
	c, _ := ctx.Value(contextKey{}).(*capture)
	return c
}

func (c *capture) emit(stream Stream, text string) {
	c.mu.Lock()
	if !c.done {
		c.entries = append(c.entries, LogEntry{
			Timestamp: time.Now().UnixMilli(),
			Type:      stream,
			Text:      text,
		})
	}
	c.mu.Unlock()
	c.sink.Write(stream, text)
}

func (c *capture) detach() []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done = true
	entries := c.entries
	c.entries = nil
	if entries == nil {
		entries = []LogEntry{}
	}
	return entries
}

// Emit writes text to stream, attributing it to the capture on ctx if any.
func Emit(ctx context.Context, stream Stream, text string) {
	if c := fromContext(ctx); c != nil {
		c.emit(stream, text)
		return
	}
	Default().Write(stream, text)
}

// Log writes args to stdout, formatted with inspect rules.
func Log(ctx context.Context, args ...any) {
	Emit(ctx, Stdout, inspect.Line(args...))
}

// Info is an alias of Log.
func Info(ctx context.Context, args ...any) {
	Log(ctx, args...)
}

// Warn writes args to stderr.
func Warn(ctx context.Context, args ...any) {
	Emit(ctx, Stderr, inspect.Line(args...))
}

// Error writes args to stderr.
func Error(ctx context.Context, args ...any) {
	Emit(ctx, Stderr, inspect.Line(args...))
}

// Printf writes a fmt formatted line to stdout.
func Printf(ctx context.Context, format string, args ...any) {
	Emit(ctx, Stdout, sprintln(format, args...))
}

// Errorf writes a fmt formatted line to stderr.
func Errorf(ctx context.Context, format string, args ...any) {
	Emit(ctx, Stderr, sprintln(format, args...))
}

func sprintln(format string, args ...any) string {
	text := fmt.Sprintf(format, args...)
	if len(text) == 0 || text[len(text)-1] != '\n' {
		text += "\n"
	}
	return text
}

type streamWriter struct {
	ctx    context.Context
	stream Stream
}

func (w streamWriter) Write(p []byte) (int, error) {
	Emit(w.ctx, w.stream, string(p))
	return len(p), nil
}

// StdoutWriter returns a writer whose writes are stdout emissions on ctx.
func StdoutWriter(ctx context.Context) io.Writer { return streamWriter{ctx: ctx, stream: Stdout} }

// StderrWriter returns a writer whose writes are stderr emissions on ctx.
func StderrWriter(ctx context.Context) io.Writer { return streamWriter{ctx: ctx, stream: Stderr} }
