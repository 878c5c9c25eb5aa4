package accesslog

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wudi/hyperfast/internal/response"
	"github.com/wudi/hyperfast/internal/route"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLog(t *testing.T) {
	core, obs := observer.New(zapcore.InfoLevel)
	l := New(zap.New(core))

	req := httptest.NewRequest("POST", "/api/echo?x=1", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")
	rt := route.New(req, time.Now(), "h")
	rt.RequestID = "req-1"

	resp := response.String(route.New(httptest.NewRequest("GET", "/", nil), time.Now(), "h"), "hello")
	l.Log(rt, resp, 1500*time.Microsecond)

	entries := obs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.LoggerName != LoggerName {
		t.Errorf("LoggerName = %q, want %q", e.LoggerName, LoggerName)
	}

	ctx := e.ContextMap()
	checks := map[string]any{
		"remote_ip":               "10.1.2.3",
		"status":                  int64(200),
		"time_taken_ms":           1.5,
		"response_content_length": int64(5),
		"path":                    "/api/echo",
		"query":                   "x=1",
		"request_content_type":    "application/json",
		"request_accept_encoding": "gzip",
		"request_id":              "req-1",
	}
	for k, want := range checks {
		if got := ctx[k]; got != want {
			t.Errorf("%s = %v (%T), want %v (%T)", k, got, got, want, want)
		}
	}
}

func TestLogDisabled(t *testing.T) {
	core, obs := observer.New(zapcore.WarnLevel)
	l := New(zap.New(core))

	rt := route.New(httptest.NewRequest("GET", "/", nil), time.Now(), "h")
	l.Log(rt, response.String(rt, "x"), time.Millisecond)

	if obs.Len() != 0 {
		t.Errorf("expected no entries at warn level, got %d", obs.Len())
	}
}

func TestRemoteIP(t *testing.T) {
	tests := map[string]string{
		"192.0.2.1:1234": "192.0.2.1",
		"[::1]:80":       "::1",
		"no-port":        "no-port",
	}
	for in, want := range tests {
		if got := remoteIP(in); got != want {
			t.Errorf("remoteIP(%q) = %q, want %q", in, got, want)
		}
	}
}
