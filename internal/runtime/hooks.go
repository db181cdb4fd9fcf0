package runtime

import (
	"context"
	"time"

	loggingpkg "github.com/drblury/glue/internal/runtime/logging"
	metadatapkg "github.com/drblury/glue/internal/runtime/metadata"
)

// DispatchContext provides information about a trigger invocation to hooks.
type DispatchContext struct {
	TriggerType  string
	TriggerLabel string
	InvocationID string
	Metadata     metadatapkg.Metadata
	Context      context.Context
	StartedAt    time.Time
	// Duration is only set in OnDispatchDone and OnDispatchError.
	Duration time.Duration
}

// DispatchHooks defines callbacks for invocation lifecycle events.
// All hooks are optional; nil hooks are simply not called.
type DispatchHooks struct {
	// OnDispatchStart is called before the handler is invoked.
	OnDispatchStart func(ctx DispatchContext)

	// OnDispatchDone is called when the handler returned without error.
	OnDispatchDone func(ctx DispatchContext)

	// OnDispatchError is called when the handler returned an error or panicked.
	OnDispatchError func(ctx DispatchContext, err error)
}

// IsZero reports whether no hook is set.
func (h DispatchHooks) IsZero() bool {
	return h.OnDispatchStart == nil && h.OnDispatchDone == nil && h.OnDispatchError == nil
}

// Merge combines two DispatchHooks. The hooks from other are called after
// the hooks from h.
func (h DispatchHooks) Merge(other DispatchHooks) DispatchHooks {
	return DispatchHooks{
		OnDispatchStart: chainHooks(h.OnDispatchStart, other.OnDispatchStart),
		OnDispatchDone:  chainHooks(h.OnDispatchDone, other.OnDispatchDone),
		OnDispatchError: chainErrorHooks(h.OnDispatchError, other.OnDispatchError),
	}
}

func chainHooks(a, b func(DispatchContext)) func(DispatchContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DispatchContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(DispatchContext, error)) func(DispatchContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DispatchContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// DispatchHooksMiddleware creates a middleware that invokes the provided hooks
// around every invocation.
func DispatchHooksMiddleware(hooks DispatchHooks) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "dispatch_hooks",
		Middleware: func(next DispatchFunc) DispatchFunc {
			return func(ctx context.Context, inv *Invocation) error {
				dc := DispatchContext{
					TriggerType:  inv.Type,
					TriggerLabel: inv.Label,
					InvocationID: inv.ID,
					Metadata:     inv.Metadata,
					Context:      ctx,
					StartedAt:    time.Now(),
				}

				if hooks.OnDispatchStart != nil {
					hooks.OnDispatchStart(dc)
				}

				err := next(ctx, inv)
				dc.Duration = time.Since(dc.StartedAt)

				if err != nil {
					if hooks.OnDispatchError != nil {
						hooks.OnDispatchError(dc, err)
					}
				} else if hooks.OnDispatchDone != nil {
					hooks.OnDispatchDone(dc)
				}
				return err
			}
		},
	}
}

// LoggingHooks returns pre-built hooks that log invocation lifecycle events.
func LoggingHooks(logger loggingpkg.ServiceLogger) DispatchHooks {
	return DispatchHooks{
		OnDispatchStart: func(ctx DispatchContext) {
			logger.Info("Trigger started", loggingpkg.LogFields{
				"trigger_type":  ctx.TriggerType,
				"trigger_label": ctx.TriggerLabel,
				"invocation_id": ctx.InvocationID,
			})
		},
		OnDispatchDone: func(ctx DispatchContext) {
			logger.Info("Trigger completed", loggingpkg.LogFields{
				"trigger_type":  ctx.TriggerType,
				"trigger_label": ctx.TriggerLabel,
				"invocation_id": ctx.InvocationID,
				"duration_ms":   ctx.Duration.Milliseconds(),
			})
		},
		OnDispatchError: func(ctx DispatchContext, err error) {
			logger.Error("Trigger failed", err, loggingpkg.LogFields{
				"trigger_type":  ctx.TriggerType,
				"trigger_label": ctx.TriggerLabel,
				"invocation_id": ctx.InvocationID,
				"duration_ms":   ctx.Duration.Milliseconds(),
			})
		},
	}
}

// MetricsHooks returns pre-built hooks that report invocations to custom counters.
func MetricsHooks(onStart, onDone, onError func(triggerType, label string)) DispatchHooks {
	return DispatchHooks{
		OnDispatchStart: func(ctx DispatchContext) {
			if onStart != nil {
				onStart(ctx.TriggerType, ctx.TriggerLabel)
			}
		},
		OnDispatchDone: func(ctx DispatchContext) {
			if onDone != nil {
				onDone(ctx.TriggerType, ctx.TriggerLabel)
			}
		},
		OnDispatchError: func(ctx DispatchContext, err error) {
			if onError != nil {
				onError(ctx.TriggerType, ctx.TriggerLabel)
			}
		},
	}
}

// AlertingHooks returns pre-built hooks that raise alerts on failed invocations.
func AlertingHooks(alertFunc func(ctx DispatchContext, err error)) DispatchHooks {
	return DispatchHooks{
		OnDispatchError: alertFunc,
	}
}
