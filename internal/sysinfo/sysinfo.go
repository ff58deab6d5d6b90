// Package sysinfo samples host CPU/memory for the relay's debug endpoint,
// generalized away from the media-specific fields of the teacher's stats
// overlay.
package sysinfo

import (
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is a point-in-time view of host and process resource usage.
type Snapshot struct {
	CPUPercent     float64 `json:"cpuPercent"`
	MemoryUsedMB   float64 `json:"memoryUsedMB"`
	MemoryTotalMB  float64 `json:"memoryTotalMB"`
	HeapAllocMB    float64 `json:"heapAllocMB"`
	Goroutines     int     `json:"goroutines"`
	GCCount        uint32  `json:"gcCount"`
}

// Sampler tracks a smoothed CPU percentage across repeated Snapshot calls,
// the way the retrieval pack's SystemMetrics applies an exponential moving
// average to avoid spiky single-sample readings.
type Sampler struct {
	mu         sync.Mutex
	cpuPercent float64
}

// NewSampler returns a ready-to-use Sampler.
func NewSampler() *Sampler {
	return &Sampler{}
}

// Snapshot samples current CPU and memory usage. CPU sampling blocks for
// up to the given interval; callers on a hot path should use a short one
// (e.g. 200ms) or call this from a dedicated ticker goroutine.
func (s *Sampler) Snapshot(interval time.Duration) Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	snap := Snapshot{
		HeapAllocMB: float64(memStats.HeapAlloc) / 1024 / 1024,
		Goroutines:  runtime.NumGoroutine(),
		GCCount:     memStats.NumGC,
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemoryUsedMB = float64(vm.Used) / 1024 / 1024
		snap.MemoryTotalMB = float64(vm.Total) / 1024 / 1024
	}

	snap.CPUPercent = s.sampleCPU(interval)
	return snap
}

func (s *Sampler) sampleCPU(interval time.Duration) float64 {
	percents, err := cpu.Percent(interval, false)
	if err != nil || len(percents) == 0 {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.cpuPercent
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	const alpha = 0.3
	if s.cpuPercent == 0 {
		s.cpuPercent = percents[0]
	} else {
		s.cpuPercent = alpha*percents[0] + (1-alpha)*s.cpuPercent
	}
	return s.cpuPercent
}
