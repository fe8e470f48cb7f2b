package profiler

import (
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// systemSampler tracks smoothed CPU usage and live Go memory stats, the same
// combination of gopsutil sampling and exponential smoothing used elsewhere
// in this stack for process resource tracking.
type systemSampler struct {
	mu         sync.Mutex
	cpuPercent float64
	memStats   runtime.MemStats
}

func newSystemSampler() *systemSampler {
	s := &systemSampler{}
	s.sample()
	return s
}

// sample refreshes CPU and memory readings. cpu.Percent blocks for one
// second measuring the interval; callers should invoke it from the
// profiler's own sampling goroutine, not from a request path.
func (s *systemSampler) sample() {
	percents, err := cpu.Percent(time.Second, false)

	s.mu.Lock()
	defer s.mu.Unlock()

	runtime.ReadMemStats(&s.memStats)

	if err != nil || len(percents) == 0 {
		return
	}
	current := percents[0]
	if s.cpuPercent == 0 {
		s.cpuPercent = current
		return
	}
	const alpha = 0.3
	s.cpuPercent = alpha*current + (1-alpha)*s.cpuPercent
}

func (s *systemSampler) cpuUsagePercent() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cpuPercent
}

func (s *systemSampler) memoryUsageMB() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return float64(s.memStats.HeapAlloc) / 1024 / 1024
}
