package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "glue"

type dispatchMetrics struct {
	dispatches *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	inFlight   *prometheus.GaugeVec
	classify   ErrorClassifier
}

func newDispatchMetrics(reg prometheus.Registerer, classify ErrorClassifier) (*dispatchMetrics, error) {
	m := &dispatchMetrics{
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "trigger_dispatches_total",
			Help:      "Trigger invocations by outcome.",
		}, []string{"type", "label", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "trigger_dispatch_duration_seconds",
			Help:      "Time spent in trigger handlers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type", "label"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "trigger_dispatches_in_flight",
			Help:      "Trigger invocations currently running.",
		}, []string{"type"}),
		classify: classify,
	}

	var err error
	m.dispatches, err = registerOrReuse(reg, m.dispatches)
	if err != nil {
		return nil, err
	}
	m.duration, err = registerOrReuse(reg, m.duration)
	if err != nil {
		return nil, err
	}
	m.inFlight, err = registerOrReuse(reg, m.inFlight)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// registerOrReuse registers c, returning the already registered collector
// when an identical one exists.
func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *dispatchMetrics) middleware() DispatchMiddleware {
	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, inv *Invocation) error {
			gauge := m.inFlight.WithLabelValues(inv.Type)
			gauge.Inc()
			defer gauge.Dec()

			start := time.Now()
			err := next(ctx, inv)
			m.duration.WithLabelValues(inv.Type, inv.Label).Observe(time.Since(start).Seconds())

			outcome := "success"
			if err != nil {
				classify := m.classify
				if classify == nil {
					classify = defaultErrorClassifier
				}
				outcome = string(classify(err))
			}
			m.dispatches.WithLabelValues(inv.Type, inv.Label, outcome).Inc()
			return err
		}
	}
}
