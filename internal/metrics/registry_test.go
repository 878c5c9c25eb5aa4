package metrics

import (
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/wudi/hyperfast/internal/route"
)

func TestKey(t *testing.T) {
	if got := Key("/api/test", "GET", 200); got != "/api/test/GET/200" {
		t.Errorf("Key() = %q", got)
	}
}

func TestRecord(t *testing.T) {
	reg := NewRegistry()
	rt := route.New(httptest.NewRequest("GET", "/api/test", nil), time.Now(), "h")

	reg.Record(rt, 200, 12*time.Millisecond)
	reg.Record(rt, 200, 20*time.Millisecond)
	reg.Record(rt, 500, 5*time.Millisecond)

	ok := reg.Lookup("/api/test", "GET", 200)
	if ok == nil {
		t.Fatal("missing 200 record")
	}
	if ok.Hits() != 2 || ok.Errors() != 0 {
		t.Errorf("200 record hits=%d errors=%d, want 2/0", ok.Hits(), ok.Errors())
	}

	bad := reg.Lookup("/api/test", "GET", 500)
	if bad == nil {
		t.Fatal("missing 500 record")
	}
	if bad.Hits() != 1 || bad.Errors() != 1 {
		t.Errorf("500 record hits=%d errors=%d, want 1/1", bad.Hits(), bad.Errors())
	}
	if reg.Len() != 2 {
		t.Errorf("Len() = %d, want 2", reg.Len())
	}
}

func TestRecordNon2xxCountsAsError(t *testing.T) {
	reg := NewRegistry()
	for _, code := range []int{101, 204, 299, 301, 404} {
		reg.RecordRequest("/p", "GET", code, time.Millisecond)
	}
	want := map[int]uint64{101: 1, 204: 0, 299: 0, 301: 1, 404: 1}
	for code, errs := range want {
		if got := reg.Lookup("/p", "GET", code).Errors(); got != errs {
			t.Errorf("code %d errors = %d, want %d", code, got, errs)
		}
	}
}

func TestRecordUsesMetricPath(t *testing.T) {
	reg := NewRegistry()
	for _, id := range []string{"1", "2", "3"} {
		rt := route.New(httptest.NewRequest("GET", "/api/users/"+id, nil), time.Now(), "h")
		rt.SetMetricPath("/api/users/:id")
		reg.Record(rt, 200, time.Millisecond)
	}
	if reg.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", reg.Len())
	}
	if rec := reg.Lookup("/api/users/:id", "GET", 200); rec == nil || rec.Hits() != 3 {
		t.Errorf("templated record = %+v", rec)
	}
}

func TestRegistryConcurrentRecord(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for g := 0; g < 32; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				reg.RecordRequest("/hot", "GET", 200, time.Duration(i)*time.Millisecond)
				if i%50 == 0 {
					reg.Snapshot()
				}
			}
		}()
	}
	wg.Wait()

	if reg.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", reg.Len())
	}
	rec := reg.Lookup("/hot", "GET", 200)
	if rec.Hits() != 32*500 {
		t.Errorf("Hits() = %d, want %d", rec.Hits(), 32*500)
	}
	if rec.Latency().Stats().Count != 32*500 {
		t.Errorf("latency count = %d, want %d", rec.Latency().Stats().Count, 32*500)
	}
}

func TestSnapshotOrdered(t *testing.T) {
	reg := NewRegistry()
	reg.RecordRequest("/b", "GET", 200, time.Millisecond)
	reg.RecordRequest("/a", "POST", 201, time.Millisecond)
	reg.RecordRequest("/a", "GET", 200, time.Millisecond)

	snaps := reg.Snapshot()
	if len(snaps) != 3 {
		t.Fatalf("len = %d, want 3", len(snaps))
	}
	got := []string{}
	for _, s := range snaps {
		got = append(got, Key(s.Path, s.Method, s.Code))
	}
	want := []string{"/a/GET/200", "/a/POST/201", "/b/GET/200"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("snapshot[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
