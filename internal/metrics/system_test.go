package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSystemMetricsAttachesToCurrentProcess(t *testing.T) {
	sm := NewSystemMetrics()
	require.NotNil(t, sm)
	assert.NotNil(t, sm.proc, "the running test process should always be attachable")
}

func TestSystemMetricsUpdatePopulatesSamples(t *testing.T) {
	sm := NewSystemMetrics()
	sm.Update()

	assert.GreaterOrEqual(t, sm.CPUPercent(), 0.0)
	assert.Greater(t, sm.MemoryBytes(), uint64(0))
}

func TestSystemMetricsGoroutinesReflectsRuntime(t *testing.T) {
	sm := NewSystemMetrics()
	assert.GreaterOrEqual(t, sm.Goroutines(), 1)
}
