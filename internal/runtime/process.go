package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

// ProcessUsage is a coarse view of the consumer process.
type ProcessUsage struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryBytes   uint64  `json:"memory_bytes"`
	Goroutines    int     `json:"goroutines"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// processTracker derives CPU usage from the scheduler's cumulative CPU time
// between two snapshots.
type processTracker struct {
	mu             sync.Mutex
	samples        []metrics.Sample
	startedAt      time.Time
	lastCPUSeconds float64
	lastSample     time.Time
	numCPU         float64
}

func newProcessTracker() *processTracker {
	return &processTracker{
		samples:   []metrics.Sample{{Name: "/cpu/classes/total:cpu-seconds"}},
		startedAt: time.Now(),
		numCPU:    float64(runtime.NumCPU()),
	}
}

// Snapshot reads the current usage. CPUPercent is 0 on the first call.
func (p *processTracker) Snapshot() ProcessUsage {
	if p == nil {
		return ProcessUsage{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	metrics.Read(p.samples)
	now := time.Now()

	var cpuPercent float64
	if p.samples[0].Value.Kind() == metrics.KindFloat64 {
		cpuSeconds := p.samples[0].Value.Float64()
		if !p.lastSample.IsZero() {
			wall := now.Sub(p.lastSample).Seconds()
			if wall > 0 && p.numCPU > 0 {
				cpuPercent = (cpuSeconds - p.lastCPUSeconds) / wall / p.numCPU * 100
			}
		}
		p.lastCPUSeconds = cpuSeconds
	}
	p.lastSample = now

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return ProcessUsage{
		CPUPercent:    max(cpuPercent, 0),
		MemoryBytes:   mem.Alloc,
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: now.Sub(p.startedAt).Seconds(),
	}
}
