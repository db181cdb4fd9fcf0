package runtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProcessSamplerSample(t *testing.T) {
	sampler := newProcessSampler()

	first := sampler.Sample()
	assert.Positive(t, first.Goroutines)
	assert.Positive(t, first.HeapBytes)
	assert.Zero(t, first.CPUPercent, "the first sample has no previous reading to compare")

	time.Sleep(10 * time.Millisecond)
	second := sampler.Sample()
	assert.GreaterOrEqual(t, second.CPUPercent, 0.0)
	assert.Greater(t, second.UptimeSeconds, first.UptimeSeconds)
}
