package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	loggingpkg "github.com/drblury/glue/internal/runtime/logging"
)

func TestDispatchHooksMerge(t *testing.T) {
	var calls []string
	first := DispatchHooks{
		OnDispatchStart: func(DispatchContext) { calls = append(calls, "first:start") },
		OnDispatchError: func(DispatchContext, error) { calls = append(calls, "first:error") },
	}
	second := DispatchHooks{
		OnDispatchStart: func(DispatchContext) { calls = append(calls, "second:start") },
		OnDispatchDone:  func(DispatchContext) { calls = append(calls, "second:done") },
	}

	merged := first.Merge(second)
	merged.OnDispatchStart(DispatchContext{})
	merged.OnDispatchDone(DispatchContext{})
	merged.OnDispatchError(DispatchContext{}, errors.New("x"))

	assert.Equal(t, []string{"first:start", "second:start", "second:done", "first:error"}, calls)
	assert.True(t, DispatchHooks{}.IsZero())
	assert.False(t, merged.IsZero())
}

func TestDispatchHooksAroundInvocation(t *testing.T) {
	var (
		started []string
		done    []string
		failed  []error
	)
	svc := newTestService(t, nil, ServiceDependencies{
		Hooks: DispatchHooks{
			OnDispatchStart: func(ctx DispatchContext) {
				started = append(started, ctx.TriggerType+":"+ctx.TriggerLabel)
				assert.NotEmpty(t, ctx.InvocationID)
				assert.NotNil(t, ctx.Context)
			},
			OnDispatchDone: func(ctx DispatchContext) {
				done = append(done, ctx.TriggerLabel)
			},
			OnDispatchError: func(ctx DispatchContext, err error) {
				failed = append(failed, err)
			},
		},
	})
	require.NoError(t, svc.RegisterTrigger("webhook", noopHandler, nil))
	require.NoError(t, svc.RegisterTrigger("webhook", func(ctx context.Context, data json.RawMessage) error {
		return errors.New("rejected")
	}, nil))

	_, err := svc.Invoke(context.Background(), TriggerEvent{Type: "webhook", Label: "0"}, nil)
	require.NoError(t, err)
	_, err = svc.Invoke(context.Background(), TriggerEvent{Type: "webhook", Label: "1"}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"webhook:0", "webhook:1"}, started)
	assert.Equal(t, []string{"0"}, done)
	require.Len(t, failed, 1)
	assert.EqualError(t, failed[0], "rejected")
}

func TestLoggingHooks(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := loggingpkg.NewZapServiceLogger(zap.New(core))
	svc := newTestService(t, nil, ServiceDependencies{Hooks: LoggingHooks(logger)})
	require.NoError(t, svc.RegisterTrigger("cron", func(ctx context.Context, data json.RawMessage) error {
		return errors.New("late")
	}, nil))

	_, err := svc.Invoke(context.Background(), TriggerEvent{Type: "cron", Label: "0"}, nil)
	require.NoError(t, err)

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, "Trigger started", entries[0].Message)
	assert.Equal(t, "Trigger failed", entries[1].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	fields := entries[1].ContextMap()
	assert.Equal(t, "cron", fields["trigger_type"])
	assert.Equal(t, "0", fields["trigger_label"])
	assert.Equal(t, "late", fields["error"])
}

func TestMetricsHooks(t *testing.T) {
	counts := map[string]int{}
	hooks := MetricsHooks(
		func(typ, label string) { counts["start:"+typ+":"+label]++ },
		func(typ, label string) { counts["done:"+typ+":"+label]++ },
		nil,
	)

	hooks.OnDispatchStart(DispatchContext{TriggerType: "webhook", TriggerLabel: "0"})
	hooks.OnDispatchDone(DispatchContext{TriggerType: "webhook", TriggerLabel: "0"})
	hooks.OnDispatchError(DispatchContext{TriggerType: "webhook", TriggerLabel: "0"}, errors.New("x"))

	assert.Equal(t, map[string]int{"start:webhook:0": 1, "done:webhook:0": 1}, counts)
}

func TestAlertingHooks(t *testing.T) {
	var alerted error
	hooks := AlertingHooks(func(ctx DispatchContext, err error) { alerted = err })

	assert.Nil(t, hooks.OnDispatchStart)
	hooks.OnDispatchError(DispatchContext{}, errors.New("down"))
	assert.EqualError(t, alerted, "down")
}
