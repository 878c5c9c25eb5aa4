// Package metrics keeps per-(path, method, status) request counters and
// latency distributions and exports them as JSON or Prometheus text.
package metrics

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/wudi/hyperfast/internal/histogram"
	"github.com/wudi/hyperfast/internal/route"
)

// Record holds the counters for one (path, method, code) triple. Identity
// fields are immutable; counters are updated atomically.
type Record struct {
	Path   string
	Method string
	Code   int

	hits    atomic.Uint64
	errors  atomic.Uint64
	latency *histogram.Histogram
}

func newRecord(path, method string, code int) *Record {
	return &Record{Path: path, Method: method, Code: code, latency: histogram.New()}
}

// Hits returns the number of recorded requests.
func (r *Record) Hits() uint64 { return r.hits.Load() }

// Errors returns the number of recorded non-2xx responses.
func (r *Record) Errors() uint64 { return r.errors.Load() }

// Latency returns the record's latency histogram.
func (r *Record) Latency() *histogram.Histogram { return r.latency }

// Snapshot is a point-in-time view of a Record.
type Snapshot struct {
	Path        string           `json:"path"`
	Method      string           `json:"method"`
	Code        int              `json:"code"`
	HitCount    uint64           `json:"hit_count"`
	ErrorCount  uint64           `json:"error_count"`
	Percentiles map[string]int64 `json:"percentile_metrics"`
}

// Snapshot reads the record. Counters and percentiles are read one after the
// other, so a concurrent update may be reflected in some fields only.
func (r *Record) Snapshot() Snapshot {
	return Snapshot{
		Path:        r.Path,
		Method:      r.Method,
		Code:        r.Code,
		HitCount:    r.hits.Load(),
		ErrorCount:  r.errors.Load(),
		Percentiles: r.latency.Percentiles(),
	}
}

// Registry maps metric keys to records. It is safe for concurrent use and
// never blocks writers on readers.
type Registry struct {
	records *skipList
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: newSkipList()}
}

// Key builds the metric key for a triple.
func Key(path, method string, code int) string {
	return path + "/" + method + "/" + strconv.Itoa(code)
}

// Record counts one completed request for rt. The path is the route's metric
// path override when one was set.
func (r *Registry) Record(rt *route.Route, status int, elapsed time.Duration) {
	r.RecordRequest(rt.MetricPath(), rt.Method, status, elapsed)
}

// RecordRequest counts one completed request.
func (r *Registry) RecordRequest(path, method string, status int, elapsed time.Duration) {
	rec := r.GetOrCreate(path, method, status)
	rec.hits.Add(1)
	rec.latency.RecordDuration(elapsed)
	if status < 200 || status > 299 {
		rec.errors.Add(1)
	}
}

// GetOrCreate returns the record for the triple, creating it on first use.
func (r *Registry) GetOrCreate(path, method string, code int) *Record {
	key := Key(path, method, code)
	if rec := r.records.get(key); rec != nil {
		return rec
	}
	rec, _ := r.records.getOrCreate(key, func() *Record {
		return newRecord(path, method, code)
	})
	return rec
}

// Lookup returns the record for the triple or nil.
func (r *Registry) Lookup(path, method string, code int) *Record {
	return r.records.get(Key(path, method, code))
}

// Len returns the number of distinct records.
func (r *Registry) Len() int {
	return r.records.len()
}

// Range calls fn for every record in key order until fn returns false.
func (r *Registry) Range(fn func(*Record) bool) {
	r.records.rangeAll(fn)
}

// Snapshot returns a view of every record, ordered by key.
func (r *Registry) Snapshot() []Snapshot {
	out := make([]Snapshot, 0, r.Len())
	r.Range(func(rec *Record) bool {
		out = append(out, rec.Snapshot())
		return true
	})
	return out
}
