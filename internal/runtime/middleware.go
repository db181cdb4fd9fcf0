package runtime

import (
	"context"
	"errors"
	"maps"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/glue/internal/runtime/console"
	loggingpkg "github.com/drblury/glue/internal/runtime/logging"
	metadatapkg "github.com/drblury/glue/internal/runtime/metadata"
)

const tracerName = "github.com/drblury/glue/dispatch"

// MiddlewareBuilder constructs a dispatch middleware using the provided service instance.
type MiddlewareBuilder func(*Service) (DispatchMiddleware, error)

// MiddlewareRegistration captures how a middleware should be added to the
// dispatch chain. Middlewares run in registration order, the first one
// registered being the outermost.
type MiddlewareRegistration struct {
	Name       string
	Middleware DispatchMiddleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares returns the standard dispatch chain used by the Service constructor.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		LogInvocationsMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
		StatsMiddleware(),
		RecovererMiddleware(),
	}
}

// CorrelationIDMiddleware ensures each invocation carries a correlation identifier.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "correlation_id",
		Middleware: func(next DispatchFunc) DispatchFunc {
			return func(ctx context.Context, inv *Invocation) error {
				if inv.Metadata[metadatapkg.KeyCorrelationID] == "" {
					inv.Metadata[metadatapkg.KeyCorrelationID] = inv.ID
				}
				return next(ctx, inv)
			}
		},
	}
}

// LogInvocationsMiddleware logs the start and outcome of every invocation.
// A nil logger falls back to the service logger.
func LogInvocationsMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_invocations",
		Builder: func(s *Service) (DispatchMiddleware, error) {
			l := logger
			if l == nil {
				l = s.Logger
			}
			if l == nil {
				return nil, errors.New("log invocations middleware requires a logger")
			}
			return logInvocationsMiddleware(l), nil
		},
	}
}

func logInvocationsMiddleware(logger loggingpkg.ServiceLogger) DispatchMiddleware {
	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, inv *Invocation) error {
			fields := loggingpkg.LogFields{
				"invocation_id": inv.ID,
				"trigger_type":  inv.Type,
				"trigger_label": inv.Label,
			}
			if id := inv.Metadata.DeploymentID(); id != "" {
				fields["deployment_id"] = id
			}
			fields["data_bytes"] = len(inv.Data)
			logger.Debug("Dispatching trigger", fields)

			err := next(ctx, inv)

			fields = maps.Clone(fields)
			fields["duration_ms"] = time.Since(inv.StartedAt).Milliseconds()
			if err != nil {
				logger.Error("Trigger handler failed", err, fields)
			} else {
				logger.Debug("Trigger handled", fields)
			}
			return err
		}
	}
}

// TracerMiddleware wraps handler execution in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Builder: func(s *Service) (DispatchMiddleware, error) {
			if s.Conf != nil && !s.Conf.TracingEnabled {
				return nil, nil
			}
			return tracerMiddleware(), nil
		},
	}
}

func tracerMiddleware() DispatchMiddleware {
	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, inv *Invocation) error {
			ctx, span := otel.Tracer(tracerName).Start(ctx, "TriggerDispatch",
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("glue.trigger.type", inv.Type),
					attribute.String("glue.trigger.label", inv.Label),
					attribute.String("glue.invocation.id", inv.ID),
				),
			)
			defer span.End()

			err := next(ctx, inv)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		}
	}
}

// MetricsMiddleware records Prometheus dispatch metrics when metrics are enabled.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(s *Service) (DispatchMiddleware, error) {
			if s.metrics == nil {
				return nil, nil
			}
			return s.metrics.middleware(), nil
		},
	}
}

// StatsMiddleware feeds the per-trigger stats served on the control plane.
func StatsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "stats",
		Builder: func(s *Service) (DispatchMiddleware, error) {
			return s.statsMiddleware(), nil
		},
	}
}

// RecovererMiddleware converts handler panics into *console.PanicError values
// so the outer middlewares observe them as failures.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "recoverer",
		Middleware: func(next DispatchFunc) DispatchFunc {
			return func(ctx context.Context, inv *Invocation) (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = &console.PanicError{Value: r, Stack: debug.Stack()}
					}
				}()
				return next(ctx, inv)
			}
		},
	}
}

// RegisterMiddleware appends the supplied middleware to the dispatch chain.
// The chain is frozen once the service starts.
func (s *Service) RegisterMiddleware(cfg MiddlewareRegistration) error {
	var mw DispatchMiddleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(s)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}

	s.chainMu.Lock()
	defer s.chainMu.Unlock()
	if s.started {
		return errors.New("middlewares cannot be registered after the service started")
	}
	s.middlewares = append(s.middlewares, mw)
	s.chain = nil
	return nil
}

func (s *Service) dispatchFunc() DispatchFunc {
	s.chainMu.RLock()
	chain := s.chain
	s.chainMu.RUnlock()
	if chain != nil {
		return chain
	}

	s.chainMu.Lock()
	defer s.chainMu.Unlock()
	if s.chain == nil {
		s.chain = chainMiddlewares(s.middlewares, callHandler)
	}
	return s.chain
}
