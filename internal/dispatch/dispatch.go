// Package dispatch routes requests to the built-in endpoints or the
// application service and runs the post-request hooks.
package dispatch

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/wudi/hyperfast/internal/errors"
	"github.com/wudi/hyperfast/internal/metrics"
	"github.com/wudi/hyperfast/internal/response"
	"github.com/wudi/hyperfast/internal/rotation"
	"github.com/wudi/hyperfast/internal/route"
	"go.uber.org/zap"
	"golang.org/x/net/http/httpguts"
)

func init() {
	// Batch crypto/rand reads into a pool to avoid a syscall per UUID.
	uuid.EnableRandPool()
}

// RequestIDHeader carries the request id in and out.
const RequestIDHeader = "X-Request-Id"

// Service handles everything under /api. path holds the segments after "api".
type Service interface {
	Handle(ctx context.Context, body io.ReadCloser, rt *route.Route, path []string) (*response.Response, error)
}

// ServiceFunc adapts a function to Service.
type ServiceFunc func(ctx context.Context, body io.ReadCloser, rt *route.Route, path []string) (*response.Response, error)

// Handle calls f.
func (f ServiceFunc) Handle(ctx context.Context, body io.ReadCloser, rt *route.Route, path []string) (*response.Response, error) {
	return f(ctx, body, rt, path)
}

// Hook observes every completed request. Hooks run on the request goroutine
// after the response is final and before it is written.
type Hook func(rt *route.Route, resp *response.Response, elapsed time.Duration)

// Options configures a Dispatcher.
type Options struct {
	Hostname       string
	MetricsEnabled bool
	// ResponseTimeHeader names the elapsed-time header. Empty disables it.
	ResponseTimeHeader string
	// PayloadLimit is copied onto every route for body aggregation.
	PayloadLimit int64
	Logger       *zap.Logger
}

// Dispatcher implements http.Handler for the runtime.
type Dispatcher struct {
	svc      Service
	registry *metrics.Registry
	rotation *rotation.Controller
	hooks    []Hook
	opts     Options
	log      *zap.Logger
	now      func() time.Time
}

// New creates a dispatcher. registry may be nil when metrics are disabled.
func New(svc Service, registry *metrics.Registry, rot *rotation.Controller, opts Options, hooks ...Hook) *Dispatcher {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if registry == nil {
		opts.MetricsEnabled = false
	}
	return &Dispatcher{
		svc:      svc,
		registry: registry,
		rotation: rot,
		hooks:    hooks,
		opts:     opts,
		log:      log,
		now:      time.Now,
	}
}

// ServeHTTP builds the route, dispatches and writes the response.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt := route.New(r, d.now(), d.opts.Hostname)
	rt.PayloadLimit = d.opts.PayloadLimit
	rt.RequestID = r.Header.Get(RequestIDHeader)
	if rt.RequestID == "" {
		rt.RequestID = uuid.New().String()
	}

	resp, err := d.Dispatch(r.Context(), rt, r.Body)
	if err != nil {
		if stderrors.Is(err, context.Canceled) {
			d.log.Debug("request abandoned by client",
				zap.String("path", rt.Path),
				zap.String("request_id", rt.RequestID),
			)
			return
		}
		d.log.Error("dispatch failed",
			zap.String("path", rt.Path),
			zap.String("request_id", rt.RequestID),
			zap.Error(err),
		)
		resp = errors.Internal(err).Response(d.opts.Hostname)
	}
	resp.Header.Set(RequestIDHeader, rt.RequestID)

	if _, err := resp.Write(w); err != nil {
		d.log.Warn("writing response",
			zap.String("path", rt.Path),
			zap.String("request_id", rt.RequestID),
			zap.Error(err),
		)
	}
}

// Dispatch routes one request and returns the final response. Errors from the
// handler are converted to responses. A returned error means the response
// could not be finalised, or the client went away before the handler
// finished; in the latter case the request is not recorded.
func (d *Dispatcher) Dispatch(ctx context.Context, rt *route.Route, body io.ReadCloser) (*response.Response, error) {
	if body == nil {
		body = http.NoBody
	}

	resp, err := d.safeRoute(ctx, rt, body)
	if err != nil {
		if stderrors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, err
		}
		apiErr := errors.FromError(err)
		if apiErr.Kind == errors.KindInternal {
			d.log.Error("request failed",
				zap.String("path", rt.Path),
				zap.String("method", rt.Method),
				zap.String("request_id", rt.RequestID),
				zap.Error(err),
			)
		}
		resp = apiErr.Response(rt.Hostname)
	} else if resp == nil {
		resp = errors.Internalf("no response for %s", rt.Path).Response(rt.Hostname)
	}

	elapsed := rt.Elapsed()
	var hardErr error
	if name := d.opts.ResponseTimeHeader; name != "" {
		value := elapsed.String()
		if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
			hardErr = fmt.Errorf("building %s header value %q", name, value)
			resp.Body.Close()
			resp = errors.Internal(hardErr).Response(rt.Hostname)
		} else {
			resp.Header.Set(name, value)
		}
	}

	for _, hook := range d.hooks {
		hook(rt, resp, elapsed)
	}

	if hardErr != nil {
		resp.Body.Close()
		return nil, hardErr
	}
	return resp, nil
}

// safeRoute runs route and turns a panic into an internal error.
func (d *Dispatcher) safeRoute(ctx context.Context, rt *route.Route, body io.ReadCloser) (resp *response.Response, err error) {
	defer func() {
		if p := recover(); p != nil {
			d.log.Error("Panic recovered",
				zap.Any("error", p),
				zap.String("path", rt.Path),
				zap.ByteString("stack", debug.Stack()),
			)
			resp, err = nil, fmt.Errorf("panic: %v", p)
		}
	}()
	return d.route(ctx, rt, body)
}

func (d *Dispatcher) route(ctx context.Context, rt *route.Route, body io.ReadCloser) (*response.Response, error) {
	segs := rt.Segments
	switch {
	case len(segs) == 0 && rt.Method == http.MethodGet:
		return response.String(rt, "Hello, World!"), nil

	case len(segs) == 1 && segs[0] == "oor":
		if rt.Method == http.MethodGet || rt.Method == http.MethodPost {
			return d.rotation.Toggle(rt)
		}
		return nil, errors.NotFound(rt.Path)

	case len(segs) == 1 && segs[0] == "health" && rt.Method == http.MethodGet:
		return d.rotation.Status(rt)

	case len(segs) >= 1 && segs[0] == "metrics" && d.opts.MetricsEnabled:
		return d.serveMetrics(rt, segs[1:])

	case len(segs) >= 1 && segs[0] == "api":
		if d.svc == nil {
			return nil, errors.NotFound(rt.Path)
		}
		return d.svc.Handle(ctx, body, rt, segs[1:])
	}
	return nil, errors.NotFound(rt.Path)
}

// RecordHook returns a hook that counts every request in registry.
func RecordHook(registry *metrics.Registry) Hook {
	return func(rt *route.Route, resp *response.Response, elapsed time.Duration) {
		registry.Record(rt, resp.StatusCode, elapsed)
	}
}
