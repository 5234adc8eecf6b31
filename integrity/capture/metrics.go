package capture

import (
	"sort"
	"sync"
	"time"
)

// latencyWindow bounds the retained cycle latencies; the sampler runs for
// hours and the percentiles only need recent history.
const latencyWindow = 1024

// Metrics collects sampling counters and cycle latencies.
type Metrics struct {
	mu sync.RWMutex

	cycles        int64
	emptyFrames   int64
	captureErrors int64
	entries       int64

	cycleLatency []time.Duration
}

// NewMetrics returns an empty collector.
func NewMetrics() *Metrics {
	return &Metrics{
		cycleLatency: make([]time.Duration, 0, latencyWindow),
	}
}

// RecordCycle records one sampling cycle: its capture+recognition duration,
// the length of the extracted text and the capture error, if any.
func (m *Metrics) RecordCycle(duration time.Duration, textLen int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cycles++
	switch {
	case err != nil:
		m.captureErrors++
	case textLen == 0:
		m.emptyFrames++
	default:
		m.entries++
	}

	if len(m.cycleLatency) == latencyWindow {
		copy(m.cycleLatency, m.cycleLatency[1:])
		m.cycleLatency = m.cycleLatency[:latencyWindow-1]
	}
	m.cycleLatency = append(m.cycleLatency, duration)
}

// Summary returns a point-in-time view of the collected metrics.
func (m *Metrics) Summary() MetricsSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return MetricsSummary{
		Cycles:        m.cycles,
		EmptyFrames:   m.emptyFrames,
		CaptureErrors: m.captureErrors,
		Entries:       m.entries,
		CycleLatency:  percentiles(m.cycleLatency),
	}
}

// Reset clears all collected metrics.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cycles = 0
	m.emptyFrames = 0
	m.captureErrors = 0
	m.entries = 0
	m.cycleLatency = m.cycleLatency[:0]
}

func percentiles(latencies []time.Duration) LatencyPercentiles {
	if len(latencies) == 0 {
		return LatencyPercentiles{}
	}

	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return LatencyPercentiles{
		P50: sorted[len(sorted)*50/100],
		P95: sorted[len(sorted)*95/100],
		P99: sorted[len(sorted)*99/100],
	}
}

// MetricsSummary is a snapshot of the sampling counters.
type MetricsSummary struct {
	Cycles        int64              `json:"cycles"`
	EmptyFrames   int64              `json:"empty_frames"`
	CaptureErrors int64              `json:"capture_errors"`
	Entries       int64              `json:"entries"`
	CycleLatency  LatencyPercentiles `json:"cycle_latency"`
}

// LatencyPercentiles represents cycle latency percentiles.
type LatencyPercentiles struct {
	P50 time.Duration `json:"p50"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
}
