package metrics

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemMetrics samples process-level CPU and memory usage once per
// maintenance tick (spec.md §4.9: "refresh the memory usage counter
// every tick"), the same gopsutil-based smoothing the teacher's
// SystemMetrics uses for its WebSocket hub.
type SystemMetrics struct {
	mu          sync.RWMutex
	proc        *process.Process
	cpuPercent  float64
	memoryBytes uint64
	lastUpdate  time.Time
}

// NewSystemMetrics attaches to the current process for CPU/RSS sampling.
func NewSystemMetrics() *SystemMetrics {
	sm := &SystemMetrics{lastUpdate: time.Now()}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		sm.proc = p
	}
	return sm
}

// Update refreshes the smoothed CPU percentage and the process RSS.
func (sm *SystemMetrics) Update() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.proc != nil {
		if pct, err := sm.proc.CPUPercent(); err == nil {
			if sm.cpuPercent == 0 {
				sm.cpuPercent = pct
			} else {
				const alpha = 0.3
				sm.cpuPercent = alpha*pct + (1-alpha)*sm.cpuPercent
			}
		}
		if mem, err := sm.proc.MemoryInfo(); err == nil && mem != nil {
			sm.memoryBytes = mem.RSS
		}
	} else if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		sm.cpuPercent = pcts[0]
	}
	sm.lastUpdate = time.Now()
}

// CPUPercent returns the last-sampled smoothed CPU usage percentage.
func (sm *SystemMetrics) CPUPercent() float64 {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.cpuPercent
}

// MemoryBytes returns the last-sampled resident set size.
func (sm *SystemMetrics) MemoryBytes() uint64 {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.memoryBytes
}

// Goroutines returns the current goroutine count (the reactor runs on
// one; background saves and the admin HTTP server use their own).
func (sm *SystemMetrics) Goroutines() int {
	return runtime.NumGoroutine()
}
