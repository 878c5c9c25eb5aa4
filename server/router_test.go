package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wudi/hyperfast/internal/route"
)

func newTestRoute(method, path string) *Route {
	return route.New(httptest.NewRequest(method, path, nil), time.Now(), "test-host")
}

func TestRouter(t *testing.T) {
	r := NewRouter().
		GET("/users/:id", func(ctx context.Context, body io.ReadCloser, rt *Route, ps Params) (*Response, error) {
			return String(rt, "user "+ps.ByName("id")), nil
		}).
		POST("/users", func(ctx context.Context, body io.ReadCloser, rt *Route, ps Params) (*Response, error) {
			return String(rt, "created").WithStatus(http.StatusCreated), nil
		}).
		GET("/files/*path", func(ctx context.Context, body io.ReadCloser, rt *Route, ps Params) (*Response, error) {
			return String(rt, ps.ByName("path")), nil
		})

	tests := []struct {
		method     string
		path       string
		segs       []string
		wantStatus int
		wantBody   string
		wantMetric string
	}{
		{"GET", "/api/users/42", []string{"users", "42"}, 200, "user 42", "/api/users/:id"},
		{"POST", "/api/users", []string{"users"}, 201, "created", "/api/users"},
		{"GET", "/api/files/a/b.txt", []string{"files", "a", "b.txt"}, 200, "/a/b.txt", "/api/files/*path"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rt := newTestRoute(tt.method, tt.path)
			resp, err := r.Handle(context.Background(), http.NoBody, rt, tt.segs)
			if err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			b, _ := io.ReadAll(resp.Body)
			if string(b) != tt.wantBody {
				t.Errorf("body = %q, want %q", b, tt.wantBody)
			}
			if rt.MetricPath() != tt.wantMetric {
				t.Errorf("MetricPath() = %q, want %q", rt.MetricPath(), tt.wantMetric)
			}
		})
	}
}

func TestRouterNotFound(t *testing.T) {
	r := NewRouter().GET("/users/:id", func(ctx context.Context, body io.ReadCloser, rt *Route, ps Params) (*Response, error) {
		return String(rt, "unreachable"), nil
	})

	tests := []struct {
		method string
		segs   []string
	}{
		{"GET", []string{"orders", "1"}},
		{"DELETE", []string{"users", "1"}},
		{"GET", nil},
	}
	for _, tt := range tests {
		rt := newTestRoute(tt.method, "/api/x")
		_, err := r.Handle(context.Background(), http.NoBody, rt, tt.segs)
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Code() != http.StatusNotFound {
			t.Errorf("%s %v: err = %v, want NotFound", tt.method, tt.segs, err)
		}
	}
}

func TestRouterAsService(t *testing.T) {
	r := NewRouter().GET("/users/:id", func(ctx context.Context, body io.ReadCloser, rt *Route, ps Params) (*Response, error) {
		return JSON(rt, map[string]string{"id": ps.ByName("id")})
	})
	app := BuilderFunc(func(ctx context.Context) (Service, ServiceDaemon, error) { return r, nil, nil })
	srv := build(t, testConfig(), app)

	for _, id := range []string{"1", "2", "3"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/users/"+id, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	}

	rec := srv.Registry().Lookup("/api/users/:id", "GET", 200)
	if rec == nil {
		t.Fatal("templated metric key not recorded")
	}
	if rec.Hits() != 3 {
		t.Errorf("Hits() = %d, want 3", rec.Hits())
	}
}

func TestRouterUnescapesParams(t *testing.T) {
	r := NewRouter().GET("/files/:name", func(ctx context.Context, body io.ReadCloser, rt *Route, ps Params) (*Response, error) {
		return String(rt, ps.ByName("name")), nil
	})
	app := BuilderFunc(func(ctx context.Context) (Service, ServiceDaemon, error) { return r, nil, nil })
	srv := build(t, testConfig(), app)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/files/a%20b", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "a b" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "a b")
	}
}
