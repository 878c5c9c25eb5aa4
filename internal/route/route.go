// Package route holds the per-request context the runtime builds for every
// inbound request before dispatch.
package route

import (
	"net/http"
	"strings"
	"time"
)

// Supported content codings, in negotiation priority order.
const (
	EncodingBrotli  = "br"
	EncodingGzip    = "gzip"
	EncodingDeflate = "deflate"
)

var negotiationOrder = []string{EncodingBrotli, EncodingGzip, EncodingDeflate}

// Route is the request context handed to dispatch, handlers, codecs and hooks.
// A Route is owned by the goroutine serving its request.
type Route struct {
	RemoteAddr string
	Arrival    time.Time
	Method     string
	// Path is the request path as sent, still percent-encoded.
	Path     string
	Query    string
	Segments []string
	// Header is the inbound request header, kept for access logging.
	Header http.Header

	// ContentEncoding is the lower-cased Content-Encoding of the request body.
	ContentEncoding string
	// AcceptEncoding is the negotiated response coding, or empty for identity.
	AcceptEncoding string

	Hostname  string
	RequestID string
	// PayloadLimit bounds aggregated request bodies; zero means unbounded.
	PayloadLimit int64

	metricPath string
}

// New extracts a Route from r. now is the arrival time; its monotonic reading
// is what Elapsed measures against.
func New(r *http.Request, now time.Time, hostname string) *Route {
	rt := &Route{
		RemoteAddr: r.RemoteAddr,
		Arrival:    now,
		Method:     r.Method,
		Header:     r.Header,
		Hostname:   hostname,
	}
	if r.URL != nil {
		// The escaped form keeps percent-encoding intact and is always valid UTF-8.
		rt.Path = r.URL.EscapedPath()
		rt.Query = r.URL.RawQuery
	}
	rt.Segments = Segments(rt.Path)

	if ce := r.Header.Get("Content-Encoding"); ce != "" {
		rt.ContentEncoding = strings.ToLower(ce)
	}
	rt.AcceptEncoding = Negotiate(r.Header.Get("Accept-Encoding"))
	return rt
}

// Segments splits path on '/' and drops empty segments.
func Segments(path string) []string {
	parts := strings.Split(path, "/")
	segs := parts[:0]
	for _, p := range parts {
		if p != "" {
			segs = append(segs, p)
		}
	}
	return segs
}

// Negotiate picks the first supported coding that appears anywhere in the
// Accept-Encoding value. Quality values are not interpreted.
func Negotiate(acceptEncoding string) string {
	if acceptEncoding == "" {
		return ""
	}
	lower := strings.ToLower(acceptEncoding)
	for _, enc := range negotiationOrder {
		if strings.Contains(lower, enc) {
			return enc
		}
	}
	return ""
}

// SetMetricPath overrides the path used for metric keys, typically with a
// templated form such as "/api/users/:id".
func (rt *Route) SetMetricPath(path string) {
	rt.metricPath = path
}

// MetricPath returns the override if one was set, otherwise the request path.
func (rt *Route) MetricPath() string {
	if rt.metricPath != "" {
		return rt.metricPath
	}
	return rt.Path
}

// Elapsed returns the time since arrival.
func (rt *Route) Elapsed() time.Duration {
	return time.Since(rt.Arrival)
}
