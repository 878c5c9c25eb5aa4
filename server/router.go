package server

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/julienschmidt/httprouter"
)

// Params holds the values of named and catch-all pattern segments.
type Params = httprouter.Params

// RouteHandler serves one registered pattern.
type RouteHandler func(ctx context.Context, body io.ReadCloser, rt *Route, ps Params) (*Response, error)

// Router is a Service that matches method and pattern, such as "/users/:id"
// or "/files/*path", against the segments under /api. The matched pattern
// becomes the metric path, so every id shares one metric key.
type Router struct {
	tree *httprouter.Router
}

type routeEntry struct {
	metricPath string
	handler    RouteHandler
}

type matchKey struct{}

type match struct {
	entry  *routeEntry
	params Params
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	tree := httprouter.New()
	tree.RedirectTrailingSlash = false
	tree.RedirectFixedPath = false
	tree.HandleMethodNotAllowed = false
	tree.HandleOPTIONS = false
	return &Router{tree: tree}
}

// Add registers h for method and pattern. Conflicting patterns panic, as in
// httprouter.
func (r *Router) Add(method, pattern string, h RouteHandler) *Router {
	entry := &routeEntry{metricPath: "/api" + pattern, handler: h}
	r.tree.Handle(method, pattern, func(_ http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		if m, ok := req.Context().Value(matchKey{}).(*match); ok {
			m.entry = entry
			m.params = unescapeParams(ps)
		}
	})
	return r
}

// GET registers a GET handler.
func (r *Router) GET(pattern string, h RouteHandler) *Router {
	return r.Add(http.MethodGet, pattern, h)
}

// POST registers a POST handler.
func (r *Router) POST(pattern string, h RouteHandler) *Router {
	return r.Add(http.MethodPost, pattern, h)
}

// PUT registers a PUT handler.
func (r *Router) PUT(pattern string, h RouteHandler) *Router {
	return r.Add(http.MethodPut, pattern, h)
}

// DELETE registers a DELETE handler.
func (r *Router) DELETE(pattern string, h RouteHandler) *Router {
	return r.Add(http.MethodDelete, pattern, h)
}

// unescapeParams decodes percent-encoded values. Values that do not decode
// are kept as sent.
func unescapeParams(ps httprouter.Params) Params {
	out := make(Params, len(ps))
	for i, p := range ps {
		if v, err := url.PathUnescape(p.Value); err == nil {
			p.Value = v
		}
		out[i] = p
	}
	return out
}

// Handle implements Service. Unmatched requests are NotFound.
func (r *Router) Handle(ctx context.Context, body io.ReadCloser, rt *Route, path []string) (*Response, error) {
	handle, ps, _ := r.tree.Lookup(rt.Method, "/"+strings.Join(path, "/"))
	if handle == nil {
		return nil, NotFound(rt.Path)
	}

	m := &match{}
	handle(nil, (&http.Request{Method: rt.Method}).WithContext(context.WithValue(ctx, matchKey{}, m)), ps)
	if m.entry == nil {
		return nil, NotFound(rt.Path)
	}

	rt.SetMetricPath(m.entry.metricPath)
	return m.entry.handler(ctx, body, rt, m.params)
}
