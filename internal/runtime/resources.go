package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

const (
	metricCPUSeconds = "/cpu/classes/total:cpu-seconds"
	metricHeapBytes  = "/memory/classes/heap/objects:bytes"
	metricGoroutines = "/sched/goroutines:goroutines"
)

// ProcessUsage is a coarse view of the process served by the health endpoint.
type ProcessUsage struct {
	CPUPercent    float64 `json:"cpu_percent"`
	HeapBytes     uint64  `json:"heap_bytes"`
	Goroutines    uint64  `json:"goroutines"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// processSampler computes CPU usage as the delta between two samples.
type processSampler struct {
	mu        sync.Mutex
	startedAt time.Time
	samples   []metrics.Sample

	lastCPU  float64
	lastWall time.Time
}

func newProcessSampler() *processSampler {
	return &processSampler{
		startedAt: time.Now(),
		samples: []metrics.Sample{
			{Name: metricCPUSeconds},
			{Name: metricHeapBytes},
			{Name: metricGoroutines},
		},
	}
}

func (p *processSampler) Sample() ProcessUsage {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	metrics.Read(p.samples)

	usage := ProcessUsage{UptimeSeconds: now.Sub(p.startedAt).Seconds()}
	for _, s := range p.samples {
		switch s.Name {
		case metricCPUSeconds:
			if s.Value.Kind() != metrics.KindFloat64 {
				continue
			}
			cpu := s.Value.Float64()
			if !p.lastWall.IsZero() {
				if wall := now.Sub(p.lastWall).Seconds(); wall > 0 {
					usage.CPUPercent = (cpu - p.lastCPU) / wall / float64(runtime.GOMAXPROCS(0)) * 100
				}
			}
			p.lastCPU = cpu
		case metricHeapBytes:
			if s.Value.Kind() == metrics.KindUint64 {
				usage.HeapBytes = s.Value.Uint64()
			}
		case metricGoroutines:
			if s.Value.Kind() == metrics.KindUint64 {
				usage.Goroutines = s.Value.Uint64()
			}
		}
	}
	p.lastWall = now
	return usage
}
