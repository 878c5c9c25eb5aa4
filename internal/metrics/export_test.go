package metrics

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/wudi/hyperfast/internal/histogram"
)

func populated() *Registry {
	reg := NewRegistry()
	for i := 0; i < 3; i++ {
		reg.RecordRequest("/api/test", "GET", 200, 10*time.Millisecond)
	}
	reg.RecordRequest("/api/test", "GET", 500, 40*time.Millisecond)
	return reg
}

func TestExportJSON(t *testing.T) {
	b, err := ExportJSON(populated())
	if err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}

	var out []map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d entries, want 2", len(out))
	}

	first := out[0]
	for _, k := range []string{"path", "method", "code", "hit_count", "error_count", "percentile_metrics"} {
		if _, ok := first[k]; !ok {
			t.Errorf("missing field %q", k)
		}
	}
	if first["hit_count"].(float64) != 3 || first["error_count"].(float64) != 0 {
		t.Errorf("first entry = %v", first)
	}
	if out[1]["error_count"].(float64) != 1 {
		t.Errorf("second entry error_count = %v, want 1", out[1]["error_count"])
	}
}

func TestExportJSONEmpty(t *testing.T) {
	b, err := ExportJSON(NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "[]" {
		t.Errorf("empty export = %s, want []", b)
	}
}

func TestExportPrometheus(t *testing.T) {
	b, err := ExportPrometheus(populated())
	if err != nil {
		t.Fatalf("ExportPrometheus: %v", err)
	}
	text := string(b)

	for _, want := range []string{
		"# TYPE hits counter",
		"# TYPE errors counter",
		"# TYPE quantiles counter",
		`hits{code="200",method="GET",path="/api/test"} 3`,
		`errors{code="200",method="GET",path="/api/test"} 0`,
		`hits{code="500",method="GET",path="/api/test"} 1`,
		`errors{code="500",method="GET",path="/api/test"} 1`,
		`quantiles{code="200",method="GET",path="/api/test",quantile="0.999"} 10`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q\n%s", want, text)
		}
	}
}

func TestExportConsistency(t *testing.T) {
	reg := populated()
	jb, _ := ExportJSON(reg)
	pb, _ := ExportPrometheus(reg)

	var snaps []Snapshot
	if err := json.Unmarshal(jb, &snaps); err != nil {
		t.Fatal(err)
	}
	text := string(pb)
	for _, s := range snaps {
		labels := fmt.Sprintf(`code="%d",method="%s",path="%s"`, s.Code, s.Method, s.Path)
		if !strings.Contains(text, fmt.Sprintf("hits{%s} %d", labels, s.HitCount)) {
			t.Errorf("hits for %s disagree with json", labels)
		}
		if !strings.Contains(text, fmt.Sprintf("errors{%s} %d", labels, s.ErrorCount)) {
			t.Errorf("errors for %s disagree with json", labels)
		}
		for _, q := range histogram.Quantiles {
			l := histogram.Label(q)
			line := fmt.Sprintf(`quantiles{%s,quantile="%s"} %d`, labels, l, s.Percentiles[l])
			if !strings.Contains(text, line) {
				t.Errorf("missing %q", line)
			}
		}
	}
}

func TestExportInvalidUTF8Path(t *testing.T) {
	reg := NewRegistry()
	reg.RecordRequest("/\xff", "GET", 404, time.Millisecond)
	reg.RecordRequest("/api/test", "GET", 200, time.Millisecond)

	pb, err := ExportPrometheus(reg)
	if err != nil {
		t.Fatalf("ExportPrometheus: %v", err)
	}
	jb, err := ExportJSON(reg)
	if err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}

	var snaps []Snapshot
	if err := json.Unmarshal(jb, &snaps); err != nil {
		t.Fatal(err)
	}
	text := string(pb)
	if !strings.Contains(text, `hits{code="200",method="GET",path="/api/test"} 1`) {
		t.Error("valid key missing from prometheus export")
	}
	found := false
	for _, s := range snaps {
		if s.Code != 404 {
			continue
		}
		found = true
		if s.Path != "/\uFFFD" {
			t.Errorf("json path = %q, want replacement character", s.Path)
		}
		line := fmt.Sprintf(`hits{code="404",method="GET",path="%s"} 1`, s.Path)
		if !strings.Contains(text, line) {
			t.Errorf("missing %q", line)
		}
	}
	if !found {
		t.Error("404 key missing from json export")
	}
}

func TestExportPrometheusIdempotent(t *testing.T) {
	reg := populated()
	a, _ := ExportPrometheus(reg)
	b, _ := ExportPrometheus(reg)
	if string(a) != string(b) {
		t.Error("repeated exports of an unchanged registry differ")
	}
}
