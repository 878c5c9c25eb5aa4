// Package histogram records request latencies into an HDR histogram.
package histogram

import (
	"fmt"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	// MinValue and MaxValue bound the trackable range in milliseconds.
	MinValue = 1
	MaxValue = 300_000
	// SignificantFigures is the value precision kept by the histogram.
	SignificantFigures = 2
)

// Quantiles reported by Percentiles, as fractions.
var Quantiles = []float64{0.5, 0.75, 0.9, 0.95, 0.98, 0.99, 0.999}

// Histogram is a mutex-guarded HDR histogram. The lock is held for a single
// record or query.
type Histogram struct {
	mu sync.Mutex
	h  *hdrhistogram.Histogram
}

// Stats summarises the recorded distribution.
type Stats struct {
	Count  int64   `json:"count"`
	Min    int64   `json:"min"`
	Max    int64   `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
}

// New creates an empty histogram.
func New() *Histogram {
	return &Histogram{h: hdrhistogram.New(MinValue, MaxValue, SignificantFigures)}
}

// Record adds one value in milliseconds. Values outside [0, MaxValue] are
// clamped so they are never dropped.
func (h *Histogram) Record(ms int64) {
	if ms < 0 {
		ms = 0
	}
	if ms > MaxValue {
		ms = MaxValue
	}
	h.mu.Lock()
	h.h.RecordValue(ms)
	h.mu.Unlock()
}

// RecordDuration records d rounded down to whole milliseconds.
func (h *Histogram) RecordDuration(d time.Duration) {
	h.Record(d.Milliseconds())
}

// Percentiles returns the value at each of Quantiles keyed by the quantile
// formatted with three decimals, e.g. "0.999".
func (h *Histogram) Percentiles() map[string]int64 {
	out := make(map[string]int64, len(Quantiles))
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, q := range Quantiles {
		out[Label(q)] = h.h.ValueAtQuantile(q * 100)
	}
	return out
}

// Stats returns count, min, max, mean and standard deviation.
func (h *Histogram) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		Count:  h.h.TotalCount(),
		Min:    h.h.Min(),
		Max:    h.h.Max(),
		Mean:   h.h.Mean(),
		StdDev: h.h.StdDev(),
	}
}

// Label formats a quantile the way Percentiles keys it.
func Label(q float64) string {
	return fmt.Sprintf("%.3f", q)
}
