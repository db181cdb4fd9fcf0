package runtime

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/drblury/glue/internal/runtime/console"
	errspkg "github.com/drblury/glue/internal/runtime/errors"
	jsoncodec "github.com/drblury/glue/internal/runtime/jsoncodec"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// TriggerStats aggregates the invocations of a single trigger.
type TriggerStats struct {
	mu sync.Mutex

	Dispatches        uint64    `json:"dispatches"`
	Failures          uint64    `json:"failures"`
	TotalDispatchTime int64     `json:"total_dispatch_time_ns"`
	LastDispatchedAt  time.Time `json:"last_dispatched_at"`
	InFlight          uint64    `json:"in_flight"`
	MaxInFlight       uint64    `json:"max_in_flight"`

	Latency    LatencyMetrics    `json:"latency"`
	Throughput ThroughputMetrics `json:"throughput"`
	Errors     ErrorBreakdown    `json:"errors"`

	latencyWindow    *latencyWindow
	throughputWindow *throughputWindow
}

// TriggerInfo pairs a trigger with its stats on the stats endpoint.
type TriggerInfo struct {
	Type  string        `json:"type"`
	Label string        `json:"label"`
	Stats *TriggerStats `json:"stats"`
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS         float64 `json:"current_rps"`
	WindowSeconds      float64 `json:"window_seconds"`
	DispatchesInWindow uint64  `json:"dispatches_in_window"`
	TotalDispatches    uint64  `json:"total_dispatches"`
}

type ErrorBreakdown struct {
	Payload    uint64 `json:"payload"`
	Credential uint64 `json:"credential"`
	Canceled   uint64 `json:"canceled"`
	Panic      uint64 `json:"panic"`
	Handler    uint64 `json:"handler"`
	LastError  string `json:"last_error,omitempty"`
}

type ErrorCategory string

const (
	ErrorCategoryNone       ErrorCategory = "none"
	ErrorCategoryPayload    ErrorCategory = "payload"
	ErrorCategoryCredential ErrorCategory = "credential"
	ErrorCategoryCanceled   ErrorCategory = "canceled"
	ErrorCategoryPanic      ErrorCategory = "panic"
	ErrorCategoryHandler    ErrorCategory = "handler"
)

// ErrorClassifier maps a handler error to the category it is counted under.
type ErrorClassifier func(error) ErrorCategory

func newTriggerStats() *TriggerStats {
	return &TriggerStats{
		latencyWindow:    newLatencyWindow(latencySampleSize),
		throughputWindow: newThroughputWindow(throughputWindowSize),
	}
}

func (t *TriggerStats) onDispatchStart() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.InFlight++
	if t.InFlight > t.MaxInFlight {
		t.MaxInFlight = t.InFlight
	}
}

func (t *TriggerStats) onDispatchFinish(duration time.Duration, err error, classifier ErrorClassifier) {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.InFlight > 0 {
		t.InFlight--
	}

	t.Dispatches++
	if err != nil {
		t.Failures++
	}
	t.TotalDispatchTime += int64(duration)
	t.LastDispatchedAt = now.UTC()

	if t.latencyWindow != nil {
		t.latencyWindow.Add(duration)
		snapshot := t.latencyWindow.Snapshot()
		snapshot.AverageNs = t.TotalDispatchTime / int64(t.Dispatches)
		t.Latency = snapshot
	}

	if t.throughputWindow != nil {
		snapshot := t.throughputWindow.AddAndSnapshot(now)
		t.Throughput.CurrentRPS = snapshot.CurrentRPS
		t.Throughput.WindowSeconds = snapshot.WindowSeconds
		t.Throughput.DispatchesInWindow = uint64(snapshot.Count)
	}
	t.Throughput.TotalDispatches = t.Dispatches

	if classifier == nil {
		classifier = defaultErrorClassifier
	}
	t.Errors.Record(classifier(err), err)
}

func (t *TriggerStats) MarshalJSON() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	type snapshot struct {
		Dispatches        uint64            `json:"dispatches"`
		Failures          uint64            `json:"failures"`
		TotalDispatchTime int64             `json:"total_dispatch_time_ns"`
		LastDispatchedAt  time.Time         `json:"last_dispatched_at"`
		InFlight          uint64            `json:"in_flight"`
		MaxInFlight       uint64            `json:"max_in_flight"`
		Latency           LatencyMetrics    `json:"latency"`
		Throughput        ThroughputMetrics `json:"throughput"`
		Errors            ErrorBreakdown    `json:"errors"`
	}
	return jsoncodec.Marshal(snapshot{
		Dispatches:        t.Dispatches,
		Failures:          t.Failures,
		TotalDispatchTime: t.TotalDispatchTime,
		LastDispatchedAt:  t.LastDispatchedAt,
		InFlight:          t.InFlight,
		MaxInFlight:       t.MaxInFlight,
		Latency:           t.Latency,
		Throughput:        t.Throughput,
		Errors:            t.Errors,
	})
}

func (e *ErrorBreakdown) Record(category ErrorCategory, err error) {
	if err == nil {
		return
	}
	switch category {
	case ErrorCategoryPayload:
		e.Payload++
	case ErrorCategoryCredential:
		e.Credential++
	case ErrorCategoryCanceled:
		e.Canceled++
	case ErrorCategoryPanic:
		e.Panic++
	default:
		e.Handler++
	}
	e.LastError = err.Error()
}

func defaultErrorClassifier(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}
	var panicErr *console.PanicError
	switch {
	case errors.As(err, &panicErr):
		return ErrorCategoryPanic
	case errors.Is(err, errspkg.ErrInvalidPayload):
		return ErrorCategoryPayload
	case errors.Is(err, errspkg.ErrCredentialFetch),
		errors.Is(err, errspkg.ErrNotYetReady),
		errors.Is(err, errspkg.ErrAuthorityNotConfigured):
		return ErrorCategoryCredential
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorCategoryCanceled
	}
	return ErrorCategoryHandler
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	if lw == nil || len(lw.samples) == 0 {
		return
	}
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	var metrics LatencyMetrics
	if lw == nil {
		return metrics
	}
	metrics.LastNs = lw.last
	if lw.filled == 0 {
		return metrics
	}

	samples := make([]int64, 0, lw.filled)
	if lw.filled < len(lw.samples) {
		samples = append(samples, lw.samples[:lw.filled]...)
	} else {
		samples = append(samples, lw.samples...)
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	var sum int64
	for _, v := range samples {
		sum += v
	}
	metrics.SampleSize = len(samples)
	metrics.AverageNs = sum / int64(len(samples))
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	return metrics
}

// percentile interpolates linearly between the closest ranks of sorted samples.
func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}

type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{
		horizon: horizon,
		samples: make([]time.Time, 0, 64),
	}
}

func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	if tw == nil {
		return throughputSnapshot{}
	}
	tw.samples = append(tw.samples, now)

	cutoff := now.Add(-tw.horizon)
	idx := sort.Search(len(tw.samples), func(i int) bool { return !tw.samples[i].Before(cutoff) })
	if idx > 0 {
		tw.samples = append(tw.samples[:0], tw.samples[idx:]...)
	}

	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	count := len(tw.samples)
	return throughputSnapshot{
		Count:         count,
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(count) / span.Seconds(),
	}
}

type statsKey = registrationKey

// statsFor returns the stats of a trigger, creating them on first use.
func (s *Service) statsFor(triggerType, label string) *TriggerStats {
	key := statsKey{typ: triggerType, label: label}

	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if s.stats == nil {
		s.stats = make(map[statsKey]*TriggerStats)
	}
	st, ok := s.stats[key]
	if !ok {
		st = newTriggerStats()
		s.stats[key] = st
	}
	return st
}

// Stats returns the stats of every registered trigger in registration order.
func (s *Service) Stats() []TriggerInfo {
	triggers := s.registry.Triggers()
	infos := make([]TriggerInfo, 0, len(triggers))
	for _, t := range triggers {
		infos = append(infos, TriggerInfo{
			Type:  t.Type,
			Label: t.Label,
			Stats: s.statsFor(t.Type, t.Label),
		})
	}
	return infos
}

func (s *Service) statsMiddleware() DispatchMiddleware {
	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, inv *Invocation) error {
			stats := s.statsFor(inv.Type, inv.Label)
			stats.onDispatchStart()
			start := time.Now()
			err := next(ctx, inv)
			stats.onDispatchFinish(time.Since(start), err, s.errorClassifier)
			return err
		}
	}
}
