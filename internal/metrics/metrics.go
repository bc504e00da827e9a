// Package metrics exposes the server's Prometheus registry. The metric
// names and the promauto wiring follow the teacher's
// internal/metrics/metrics.go exactly; only the metric surface itself
// changes, from WebSocket/NATS fan-out counters to the command/keyspace/
// replication/snapshot counters SPEC_FULL.md's domain stack calls for.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the server publishes on
// /metrics (SPEC_FULL.md admin surface).
type Metrics struct {
	// Connection metrics
	connectionsTotal   prometheus.Counter
	connectionsActive  prometheus.Gauge
	connectionsClosed  prometheus.Counter
	connectionErrors   prometheus.Counter
	connectionDuration prometheus.Histogram

	// Command metrics
	commandsTotal   *prometheus.CounterVec
	commandErrors   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	commandsPerSec  prometheus.Gauge

	// Keyspace metrics
	keysTotal    *prometheus.GaugeVec
	expiredKeys  prometheus.Counter
	dirtyChanges prometheus.Gauge

	// Snapshot metrics
	snapshotsTotal    prometheus.Counter
	snapshotErrors    prometheus.Counter
	snapshotDuration  prometheus.Histogram
	snapshotInFlight  prometheus.Gauge
	lastSaveTimestamp prometheus.Gauge

	// Replication metrics
	replicaConnected prometheus.Gauge
	replicaSyncs     prometheus.Counter
	replicaSyncFails prometheus.Counter
	slavesLinked     prometheus.Gauge

	// Event bus metrics
	eventBusConnected prometheus.Gauge
	eventBusPublished prometheus.Counter
	eventBusErrors    prometheus.Counter

	// System metrics
	goroutinesCount prometheus.Gauge
	memoryUsage     prometheus.Gauge
	cpuUsage        prometheus.Gauge

	startedAt             time.Time
	commandsPerSecTracker *rateTracker
}

// New registers the full collector set on the default Prometheus
// registry, mirroring the teacher's NewMetrics.
func New() *Metrics {
	m := &Metrics{
		startedAt: time.Now(),

		connectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsrv_connections_total",
			Help: "Total number of client connections accepted",
		}),
		connectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kvsrv_connections_active",
			Help: "Number of currently connected clients",
		}),
		connectionsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsrv_connections_closed_total",
			Help: "Total number of client connections closed",
		}),
		connectionErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsrv_connection_errors_total",
			Help: "Total number of connection-level errors",
		}),
		connectionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "kvsrv_connection_duration_seconds",
			Help:    "Lifetime of a client connection",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}),

		commandsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kvsrv_commands_total",
			Help: "Total number of commands dispatched, by command name",
		}, []string{"command"}),
		commandErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kvsrv_command_errors_total",
			Help: "Total number of commands that returned an error reply",
		}, []string{"command"}),
		commandDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kvsrv_command_duration_seconds",
			Help:    "Command handler latency",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
		}, []string{"command"}),
		commandsPerSec: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kvsrv_commands_per_second",
			Help: "Current commands-per-second rate",
		}),

		keysTotal: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kvsrv_keys_total",
			Help: "Number of keys in each database",
		}, []string{"db"}),
		expiredKeys: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsrv_keys_evicted_total",
			Help: "Total number of keys removed on empty-collection deletion",
		}),
		dirtyChanges: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kvsrv_dirty_changes",
			Help: "Number of mutations since the last successful snapshot",
		}),

		snapshotsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsrv_snapshots_total",
			Help: "Total number of completed snapshot saves",
		}),
		snapshotErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsrv_snapshot_errors_total",
			Help: "Total number of failed snapshot saves",
		}),
		snapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "kvsrv_snapshot_duration_seconds",
			Help:    "Wall-clock duration of a snapshot save",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		snapshotInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kvsrv_snapshot_in_progress",
			Help: "1 while a background snapshot is running",
		}),
		lastSaveTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kvsrv_last_save_timestamp",
			Help: "Unix timestamp of the last successful snapshot",
		}),

		replicaConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kvsrv_replica_connected",
			Help: "1 when this server is synced to a configured master",
		}),
		replicaSyncs: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsrv_replica_syncs_total",
			Help: "Total number of successful SYNC bootstraps as a replica",
		}),
		replicaSyncFails: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsrv_replica_sync_failures_total",
			Help: "Total number of failed SYNC attempts as a replica",
		}),
		slavesLinked: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kvsrv_slaves_linked",
			Help: "Number of slaves currently attached to this master",
		}),

		eventBusConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kvsrv_eventbus_connected",
			Help: "1 when the NATS audit event bus connection is up",
		}),
		eventBusPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsrv_eventbus_published_total",
			Help: "Total number of mutation events published to the audit bus",
		}),
		eventBusErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsrv_eventbus_errors_total",
			Help: "Total number of audit event bus publish errors",
		}),

		goroutinesCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kvsrv_goroutines",
			Help: "Number of goroutines",
		}),
		memoryUsage: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kvsrv_memory_usage_bytes",
			Help: "Process resident memory usage in bytes",
		}),
		cpuUsage: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kvsrv_cpu_usage_percent",
			Help: "Process CPU usage percentage",
		}),
	}
	m.commandsPerSecTracker = newRateTracker()
	return m
}

// Connection tracking, mirrors the teacher's IncrementConnections shape.
func (m *Metrics) ConnectionOpened() {
	m.connectionsTotal.Inc()
	m.connectionsActive.Inc()
}

func (m *Metrics) ConnectionClosed(duration time.Duration) {
	m.connectionsClosed.Inc()
	m.connectionsActive.Dec()
	m.connectionDuration.Observe(duration.Seconds())
}

func (m *Metrics) ConnectionError() {
	m.connectionErrors.Inc()
}

// RecordCommand tracks one dispatched command (spec.md §4.7).
func (m *Metrics) RecordCommand(name string, duration time.Duration, isError bool) {
	m.commandsTotal.WithLabelValues(name).Inc()
	m.commandDuration.WithLabelValues(name).Observe(duration.Seconds())
	if isError {
		m.commandErrors.WithLabelValues(name).Inc()
	}
	m.commandsPerSecTracker.tick()
}

// SetKeyCount publishes the current key count for one database.
func (m *Metrics) SetKeyCount(dbIndex int, count int) {
	m.keysTotal.WithLabelValues(dbIndexLabel(dbIndex)).Set(float64(count))
}

func (m *Metrics) RecordKeyEvicted() {
	m.expiredKeys.Inc()
}

func (m *Metrics) SetDirtyChanges(n int64) {
	m.dirtyChanges.Set(float64(n))
}

// Snapshot tracking (spec.md §4.8/4.9).
func (m *Metrics) SnapshotStarted() {
	m.snapshotInFlight.Set(1)
}

func (m *Metrics) SnapshotFinished(duration time.Duration, err error) {
	m.snapshotInFlight.Set(0)
	m.snapshotDuration.Observe(duration.Seconds())
	if err != nil {
		m.snapshotErrors.Inc()
		return
	}
	m.snapshotsTotal.Inc()
	m.lastSaveTimestamp.Set(float64(time.Now().Unix()))
}

// Replication tracking (spec.md §4.10).
func (m *Metrics) SetReplicaConnected(connected bool) {
	if connected {
		m.replicaConnected.Set(1)
		return
	}
	m.replicaConnected.Set(0)
}

func (m *Metrics) RecordReplicaSync(ok bool) {
	if ok {
		m.replicaSyncs.Inc()
		return
	}
	m.replicaSyncFails.Inc()
}

func (m *Metrics) SetSlavesLinked(n int) {
	m.slavesLinked.Set(float64(n))
}

// Event bus tracking (SPEC_FULL.md domain stack).
func (m *Metrics) SetEventBusConnected(connected bool) {
	if connected {
		m.eventBusConnected.Set(1)
		return
	}
	m.eventBusConnected.Set(0)
}

func (m *Metrics) RecordEventPublished(err error) {
	if err != nil {
		m.eventBusErrors.Inc()
		return
	}
	m.eventBusPublished.Inc()
}

// System gauges, refreshed once per maintenance tick from SystemMetrics.
func (m *Metrics) UpdateSystem(goroutines int, memoryBytes uint64, cpuPercent float64) {
	m.goroutinesCount.Set(float64(goroutines))
	m.memoryUsage.Set(float64(memoryBytes))
	m.cpuUsage.Set(cpuPercent)
}

// RefreshRate recomputes and publishes the commands-per-second gauge;
// called once per second from the maintenance cron.
func (m *Metrics) RefreshRate() {
	m.commandsPerSec.Set(m.commandsPerSecTracker.rate())
}

func dbIndexLabel(i int) string {
	const digits = "0123456789"
	if i < 10 {
		return string(digits[i])
	}
	var buf []byte
	for i > 0 {
		buf = append([]byte{digits[i%10]}, buf...)
		i /= 10
	}
	return string(buf)
}

// rateTracker is a one-second sliding counter, the same smoothing shape
// as the teacher's MessageRateTracker.
type rateTracker struct {
	mu        sync.Mutex
	count     int64
	lastReset time.Time
	lastRate  float64
}

func newRateTracker() *rateTracker {
	return &rateTracker{lastReset: time.Now()}
}

func (r *rateTracker) tick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
}

func (r *rateTracker) rate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	elapsed := time.Since(r.lastReset).Seconds()
	if elapsed <= 0 {
		return r.lastRate
	}
	r.lastRate = float64(r.count) / elapsed
	r.count = 0
	r.lastReset = time.Now()
	return r.lastRate
}
