package metrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/wudi/hyperfast/internal/histogram"
)

var (
	recordLabels   = []string{"path", "method", "code"}
	quantileLabels = []string{"path", "method", "code", "quantile"}
)

// ExportJSON renders every record as a JSON array ordered by key.
func ExportJSON(reg *Registry) ([]byte, error) {
	b, err := json.Marshal(reg.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("metrics: encoding json: %w", err)
	}
	return b, nil
}

// ExportPrometheus renders the registry in the Prometheus text exposition
// format as three counter families: hits, errors and quantiles. A fresh
// prometheus.Registry is built per call so exports never accumulate.
func ExportPrometheus(reg *Registry) ([]byte, error) {
	hits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hits",
		Help: "hits counter",
	}, recordLabels)
	errs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "errors",
		Help: "errors counter",
	}, recordLabels)
	quantiles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quantiles",
		Help: "quantiles counter",
	}, quantileLabels)

	pr := prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{hits, errs, quantiles} {
		if err := pr.Register(c); err != nil {
			return nil, fmt.Errorf("metrics: registering collector: %w", err)
		}
	}

	var rangeErr error
	reg.Range(func(rec *Record) bool {
		snap := rec.Snapshot()
		path, method, code := labelValue(snap.Path), labelValue(snap.Method), strconv.Itoa(snap.Code)

		if rangeErr = addCounter(hits, float64(snap.HitCount), path, method, code); rangeErr != nil {
			return false
		}
		if rangeErr = addCounter(errs, float64(snap.ErrorCount), path, method, code); rangeErr != nil {
			return false
		}
		for _, q := range histogram.Quantiles {
			label := histogram.Label(q)
			if rangeErr = addCounter(quantiles, float64(snap.Percentiles[label]), path, method, code, label); rangeErr != nil {
				return false
			}
		}
		return true
	})
	if rangeErr != nil {
		return nil, fmt.Errorf("metrics: building counters: %w", rangeErr)
	}

	families, err := pr.Gather()
	if err != nil {
		return nil, fmt.Errorf("metrics: gathering: %w", err)
	}
	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return nil, fmt.Errorf("metrics: encoding text: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// labelValue replaces invalid UTF-8 the same way encoding/json does, so both
// exports show the same text for a key.
func labelValue(v string) string {
	return strings.ToValidUTF8(v, "\uFFFD")
}

func addCounter(vec *prometheus.CounterVec, v float64, labels ...string) error {
	c, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		return err
	}
	c.Add(v)
	return nil
}
