package runtime

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	loggingpkg "github.com/drblury/glue/internal/runtime/logging"
)

const tetherDialTimeout = 5 * time.Second

// tether ties the process lifetime to a supervisor connection. Once the
// supervisor goes away the process exits, so it never outlives the tool that
// spawned it.
type tether struct {
	addr   string
	logger loggingpkg.ServiceLogger
	exit   func(code int)
	dial   func(ctx context.Context, network, addr string) (net.Conn, error)
}

// hold dials the supervisor and returns once connected. A goroutine then
// blocks reading the connection until it drops or ctx ends. Only a drop
// calls exit.
func (t *tether) hold(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, tetherDialTimeout)
	defer cancel()

	conn, err := t.dial(dialCtx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("supervisor: dial %s: %w", t.addr, err)
	}
	t.logger.Info("Connected to supervisor", loggingpkg.LogFields{"address": t.addr})

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	go func() {
		_, err := io.Copy(io.Discard, conn)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = io.EOF
		}
		t.logger.Error("Supervisor connection lost, exiting", err, loggingpkg.LogFields{"address": t.addr})
		t.exit(1)
	}()
	return nil
}
