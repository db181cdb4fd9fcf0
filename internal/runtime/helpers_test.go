package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/glue/internal/runtime/config"
	"github.com/drblury/glue/internal/runtime/console"
	loggingpkg "github.com/drblury/glue/internal/runtime/logging"
)

func newTestSlogLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(newTestSlogLogger())
}

// recordingSink keeps the passthrough output so tests can assert on it.
type recordingSink struct {
	mu     sync.Mutex
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func (r *recordingSink) Write(stream console.Stream, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stream == console.Stderr {
		r.stderr.WriteString(text)
		return
	}
	r.stdout.WriteString(text)
}

func (r *recordingSink) Stdout() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stdout.String()
}

func (r *recordingSink) Stderr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stderr.String()
}

func newTestService(t *testing.T, conf *configpkg.Config, deps ServiceDependencies) *Service {
	t.Helper()
	if conf == nil {
		conf = &configpkg.Config{}
	}
	if deps.Sink == nil {
		deps.Sink = &recordingSink{}
	}
	svc, err := NewService(conf, newTestLogger(), deps)
	require.NoError(t, err)
	return svc
}

// startTestService runs svc.Start in the background and waits until it serves.
func startTestService(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	select {
	case <-svc.Ready():
	case err := <-done:
		cancel()
		require.FailNow(t, "service stopped before becoming ready", "%v", err)
	}

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func noopHandler(ctx context.Context, data json.RawMessage) error { return nil }

func logHandler(args ...any) Handler {
	return func(ctx context.Context, data json.RawMessage) error {
		console.Log(ctx, args...)
		return nil
	}
}

func texts(entries []console.LogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = strings.TrimSuffix(e.Text, "\n")
	}
	return out
}
