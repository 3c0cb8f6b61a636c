package camera

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

const defaultLatencyWindow = 256

// LatencyStats summarizes recent acquisition latencies in milliseconds.
type LatencyStats struct {
	Count    int     `json:"count"`
	MeanMS   float64 `json:"meanMs"`
	StdDevMS float64 `json:"stdDevMs"`
	P50MS    float64 `json:"p50Ms"`
	P95MS    float64 `json:"p95Ms"`
	MaxMS    float64 `json:"maxMs"`
}

// LatencyRecorder keeps a rolling window of acquisition latencies.
type LatencyRecorder struct {
	mu      sync.Mutex
	samples []float64 // Protected by mu, ring buffer
	next    int       // Protected by mu
	window  int
}

// NewLatencyRecorder keeps the last window samples (256 when window <= 0).
func NewLatencyRecorder(window int) *LatencyRecorder {
	if window <= 0 {
		window = defaultLatencyWindow
	}
	return &LatencyRecorder{window: window, samples: make([]float64, 0, window)}
}

// Record adds one latency sample.
func (r *LatencyRecorder) Record(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.samples) < r.window {
		r.samples = append(r.samples, ms)
		return
	}
	r.samples[r.next] = ms
	r.next = (r.next + 1) % r.window
}

// Snapshot computes statistics over the current window.
func (r *LatencyRecorder) Snapshot() LatencyStats {
	r.mu.Lock()
	sorted := append([]float64(nil), r.samples...)
	r.mu.Unlock()

	if len(sorted) == 0 {
		return LatencyStats{}
	}
	sort.Float64s(sorted)

	mean, std := stat.MeanStdDev(sorted, nil)
	if len(sorted) == 1 {
		std = 0
	}
	return LatencyStats{
		Count:    len(sorted),
		MeanMS:   mean,
		StdDevMS: std,
		P50MS:    stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P95MS:    stat.Quantile(0.95, stat.Empirical, sorted, nil),
		MaxMS:    sorted[len(sorted)-1],
	}
}
