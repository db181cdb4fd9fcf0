package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	configpkg "github.com/drblury/glue/internal/runtime/config"
	"github.com/drblury/glue/internal/runtime/console"
	loggingpkg "github.com/drblury/glue/internal/runtime/logging"
	metadatapkg "github.com/drblury/glue/internal/runtime/metadata"
)

func recordingMiddleware(name string, calls *[]string) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: name,
		Middleware: func(next DispatchFunc) DispatchFunc {
			return func(ctx context.Context, inv *Invocation) error {
				*calls = append(*calls, name+":before")
				err := next(ctx, inv)
				*calls = append(*calls, name+":after")
				return err
			}
		},
	}
}

func TestMiddlewaresRunInRegistrationOrder(t *testing.T) {
	var calls []string
	svc := newTestService(t, nil, ServiceDependencies{
		DisableDefaultMiddlewares: true,
		Middlewares: []MiddlewareRegistration{
			recordingMiddleware("outer", &calls),
			recordingMiddleware("inner", &calls),
		},
	})
	require.NoError(t, svc.RegisterTrigger("webhook", func(ctx context.Context, data json.RawMessage) error {
		calls = append(calls, "handler")
		return nil
	}, nil))

	_, err := svc.Invoke(context.Background(), TriggerEvent{Type: "webhook", Label: "0"}, nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"outer:before", "inner:before", "handler", "inner:after", "outer:after"}, calls)
}

func TestRegisterMiddlewareValidation(t *testing.T) {
	svc := newTestService(t, nil, ServiceDependencies{DisableDefaultMiddlewares: true})

	err := svc.RegisterMiddleware(MiddlewareRegistration{Name: "empty"})
	assert.EqualError(t, err, "middleware registration requires Middleware or Builder")

	err = svc.RegisterMiddleware(MiddlewareRegistration{
		Name: "broken",
		Builder: func(*Service) (DispatchMiddleware, error) {
			return nil, errors.New("no backend")
		},
	})
	assert.EqualError(t, err, "no backend")

	err = svc.RegisterMiddleware(MiddlewareRegistration{
		Name:    "skipped",
		Builder: func(*Service) (DispatchMiddleware, error) { return nil, nil },
	})
	assert.NoError(t, err)
	assert.Empty(t, svc.middlewares)
}

func TestNewServiceReportsMiddlewareFailure(t *testing.T) {
	_, err := NewService(&configpkg.Config{}, newTestLogger(), ServiceDependencies{
		Middlewares: []MiddlewareRegistration{{
			Builder: func(*Service) (DispatchMiddleware, error) { return nil, errors.New("boom") },
		}},
	})

	assert.EqualError(t, err, "failed to register middleware anonymous_middleware: boom")
}

func TestRegisterMiddlewareAfterStart(t *testing.T) {
	svc := newTestService(t, nil, ServiceDependencies{})
	startTestService(t, svc)

	err := svc.RegisterMiddleware(recordingMiddleware("late", new([]string)))

	assert.EqualError(t, err, "middlewares cannot be registered after the service started")
}

func TestLogInvocationsMiddlewareFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	svc, err := NewService(&configpkg.Config{}, loggingpkg.NewZapServiceLogger(zap.New(core)), ServiceDependencies{
		DisableDefaultMiddlewares: true,
		Middlewares:               []MiddlewareRegistration{LogInvocationsMiddleware(nil)},
		Sink:                      &recordingSink{},
	})
	require.NoError(t, err)
	require.NoError(t, svc.RegisterTrigger("webhook", noopHandler, nil))

	_, err = svc.Invoke(context.Background(), TriggerEvent{Type: "webhook", Label: "0", Data: json.RawMessage(`{"a":1}`)},
		metadatapkg.New(metadatapkg.KeyDeploymentID, "dep-3"))
	require.NoError(t, err)

	started := logs.FilterMessage("Dispatching trigger").All()
	require.Len(t, started, 1)
	fields := started[0].ContextMap()
	assert.Equal(t, "dep-3", fields["deployment_id"])
	assert.EqualValues(t, 7, fields["data_bytes"])
	assert.Equal(t, "webhook", fields["trigger_type"])
	assert.NotContains(t, fields, "duration_ms")

	handled := logs.FilterMessage("Trigger handled").All()
	require.Len(t, handled, 1)
	assert.Equal(t, "dep-3", handled[0].ContextMap()["deployment_id"])
	assert.Contains(t, handled[0].ContextMap(), "duration_ms")
}

func TestCorrelationIDMiddleware(t *testing.T) {
	svc := newTestService(t, nil, ServiceDependencies{})
	var seen []metadatapkg.Metadata
	require.NoError(t, svc.RegisterTrigger("webhook", func(ctx context.Context, data json.RawMessage) error {
		md, _ := metadatapkg.FromContext(ctx)
		seen = append(seen, md)
		return nil
	}, nil))

	_, err := svc.Invoke(context.Background(), TriggerEvent{Type: "webhook", Label: "0"}, nil)
	require.NoError(t, err)
	_, err = svc.Invoke(context.Background(), TriggerEvent{Type: "webhook", Label: "0"},
		metadatapkg.New(metadatapkg.KeyCorrelationID, "corr-1"))
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.Equal(t, seen[0][metadatapkg.KeyInvocationID], seen[0][metadatapkg.KeyCorrelationID])
	assert.Equal(t, "corr-1", seen[1][metadatapkg.KeyCorrelationID])
	assert.Equal(t, "webhook", seen[1][metadatapkg.KeyTriggerType])
	assert.Equal(t, "0", seen[1][metadatapkg.KeyTriggerLabel])
}

func TestRecovererMiddlewareLetsOuterMiddlewareObservePanics(t *testing.T) {
	var observed error
	svc := newTestService(t, nil, ServiceDependencies{
		DisableDefaultMiddlewares: true,
		Middlewares: []MiddlewareRegistration{
			{
				Name: "observer",
				Middleware: func(next DispatchFunc) DispatchFunc {
					return func(ctx context.Context, inv *Invocation) error {
						observed = next(ctx, inv)
						return observed
					}
				},
			},
			RecovererMiddleware(),
		},
	})
	require.NoError(t, svc.RegisterTrigger("webhook", func(ctx context.Context, data json.RawMessage) error {
		panic("boom")
	}, nil))

	result, err := svc.Invoke(context.Background(), TriggerEvent{Type: "webhook", Label: "0"}, nil)

	require.NoError(t, err)
	var panicErr *console.PanicError
	require.ErrorAs(t, observed, &panicErr)
	assert.Equal(t, "boom", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)
	require.NotNil(t, result.Error)
	assert.Equal(t, "panic: boom", *result.Error)
}

func TestTracerMiddlewareOnlyWhenEnabled(t *testing.T) {
	disabled := newTestService(t, nil, ServiceDependencies{
		DisableDefaultMiddlewares: true,
		Middlewares:               []MiddlewareRegistration{TracerMiddleware()},
	})
	assert.Empty(t, disabled.middlewares)

	enabled := newTestService(t, &configpkg.Config{TracingEnabled: true}, ServiceDependencies{
		DisableDefaultMiddlewares: true,
		Middlewares:               []MiddlewareRegistration{TracerMiddleware()},
	})
	assert.Len(t, enabled.middlewares, 1)
	require.NoError(t, enabled.RegisterTrigger("webhook", noopHandler, nil))

	result, err := enabled.Invoke(context.Background(), TriggerEvent{Type: "webhook", Label: "0"}, nil)
	require.NoError(t, err)
	assert.Nil(t, result.Error)
}

func TestMetricsMiddlewareCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	svc := newTestService(t, &configpkg.Config{MetricsEnabled: true}, ServiceDependencies{MetricsRegistry: reg})
	require.NoError(t, svc.RegisterTrigger("webhook", noopHandler, nil))
	require.NoError(t, svc.RegisterTrigger("webhook", func(ctx context.Context, data json.RawMessage) error {
		panic("boom")
	}, nil))

	for range 3 {
		_, err := svc.Invoke(context.Background(), TriggerEvent{Type: "webhook", Label: "0"}, nil)
		require.NoError(t, err)
	}
	_, err := svc.Invoke(context.Background(), TriggerEvent{Type: "webhook", Label: "1"}, nil)
	require.NoError(t, err)

	assert.Equal(t, 3.0, testutil.ToFloat64(svc.metrics.dispatches.WithLabelValues("webhook", "0", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(svc.metrics.dispatches.WithLabelValues("webhook", "1", "panic")))
	assert.Zero(t, testutil.ToFloat64(svc.metrics.inFlight.WithLabelValues("webhook")))
	assert.Equal(t, 2, testutil.CollectAndCount(svc.metrics.duration))
}

func TestMetricsReuseSharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := newTestService(t, &configpkg.Config{MetricsEnabled: true}, ServiceDependencies{MetricsRegistry: reg})
	second := newTestService(t, &configpkg.Config{MetricsEnabled: true}, ServiceDependencies{MetricsRegistry: reg})

	assert.Same(t, first.metrics.dispatches, second.metrics.dispatches)
}

func TestMetricsMiddlewareDisabled(t *testing.T) {
	svc := newTestService(t, nil, ServiceDependencies{})

	assert.Nil(t, svc.metrics)
	assert.Nil(t, svc.metricsGatherer)
}
