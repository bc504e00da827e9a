package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// New registers every collector on the default Prometheus registerer, so
// this package's tests build exactly one Metrics instance and exercise
// every method against it in a single test function — a second New()
// call in the same test binary would panic on duplicate registration,
// the same constraint the teacher's own metrics tests work under.
func TestMetricsLifecycle(t *testing.T) {
	m := New()

	m.ConnectionOpened()
	m.ConnectionOpened()
	assert.Equal(t, float64(2), testutil.ToFloat64(m.connectionsTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.connectionsActive))

	m.ConnectionClosed(50 * time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.connectionsActive))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.connectionsClosed))

	m.ConnectionError()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.connectionErrors))

	m.RecordCommand("get", time.Microsecond, false)
	m.RecordCommand("get", time.Microsecond, true)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.commandsTotal.WithLabelValues("get")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.commandErrors.WithLabelValues("get")))

	m.SetKeyCount(0, 42)
	assert.Equal(t, float64(42), testutil.ToFloat64(m.keysTotal.WithLabelValues("0")))

	m.RecordKeyEvicted()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.expiredKeys))

	m.SetDirtyChanges(7)
	assert.Equal(t, float64(7), testutil.ToFloat64(m.dirtyChanges))

	m.SnapshotStarted()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.snapshotInFlight))
	m.SnapshotFinished(10*time.Millisecond, nil)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.snapshotInFlight))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.snapshotsTotal))

	m.SnapshotFinished(10*time.Millisecond, errors.New("disk full"))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.snapshotErrors))

	m.SetReplicaConnected(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.replicaConnected))
	m.SetReplicaConnected(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.replicaConnected))

	m.RecordReplicaSync(true)
	m.RecordReplicaSync(false)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.replicaSyncs))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.replicaSyncFails))

	m.SetSlavesLinked(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(m.slavesLinked))

	m.SetEventBusConnected(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.eventBusConnected))

	m.RecordEventPublished(nil)
	m.RecordEventPublished(errors.New("no responders"))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.eventBusPublished))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.eventBusErrors))

	m.UpdateSystem(12, 1<<20, 3.5)
	assert.Equal(t, float64(12), testutil.ToFloat64(m.goroutinesCount))
	assert.Equal(t, float64(1<<20), testutil.ToFloat64(m.memoryUsage))
	assert.Equal(t, 3.5, testutil.ToFloat64(m.cpuUsage))

	m.RefreshRate()
}

func TestDbIndexLabel(t *testing.T) {
	assert.Equal(t, "0", dbIndexLabel(0))
	assert.Equal(t, "9", dbIndexLabel(9))
	assert.Equal(t, "16", dbIndexLabel(16))
	assert.Equal(t, "123", dbIndexLabel(123))
}

func TestRateTrackerComputesRateAndResets(t *testing.T) {
	rt := newRateTracker()
	rt.lastReset = time.Now().Add(-time.Second)
	rt.tick()
	rt.tick()
	rt.tick()

	rate := rt.rate()
	assert.Greater(t, rate, 0.0)
	assert.Equal(t, int64(0), rt.count, "rate() must reset the counter")
}
