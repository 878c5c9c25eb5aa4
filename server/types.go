package server

import (
	"context"
	"io"

	"github.com/wudi/hyperfast/internal/codec"
	"github.com/wudi/hyperfast/internal/dispatch"
	"github.com/wudi/hyperfast/internal/errors"
	"github.com/wudi/hyperfast/internal/response"
	"github.com/wudi/hyperfast/internal/route"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Re-exported types so applications only import this package.
type (
	// Route is the per-request context.
	Route = route.Route
	// Response is the outbound response.
	Response = response.Response
	// APIError is an error that maps to exactly one HTTP response.
	APIError = errors.APIError
	// Service handles every request under /api.
	Service = dispatch.Service
	// ServiceFunc adapts a function to Service.
	ServiceFunc = dispatch.ServiceFunc
	// Hook observes every completed request.
	Hook = dispatch.Hook
)

// ServiceDaemon is optional background work started once with the built
// service. ctx is cancelled when the server shuts down.
type ServiceDaemon interface {
	Start(ctx context.Context, svc Service)
}

// ServiceBuilder constructs the application. The daemon may be nil.
type ServiceBuilder interface {
	Build(ctx context.Context) (Service, ServiceDaemon, error)
}

// BuilderFunc adapts a function to ServiceBuilder.
type BuilderFunc func(ctx context.Context) (Service, ServiceDaemon, error)

// Build calls f.
func (f BuilderFunc) Build(ctx context.Context) (Service, ServiceDaemon, error) {
	return f(ctx)
}

// Error constructors.
var (
	NotFound  = errors.NotFound
	Forbidden = errors.Forbidden
	NoContent = errors.NoContent
	// BadRequest wraps a cause as a 400.
	BadRequest = errors.BadRequest
	// Internal wraps a cause as a 500.
	Internal = errors.Internal
)

// Response builders.
var (
	OK           = response.OK
	String       = response.String
	Bytes        = response.Bytes
	JSON         = response.JSON
	ProtoBinary  = response.ProtoBinary
	BinaryOrJSON = response.BinaryOrJSON
)

// Body returns the request body wrapped with the decoder for its declared
// Content-Encoding. Decoding starts on first Read.
func Body(rt *Route, body io.ReadCloser) io.ReadCloser {
	return codec.Decode(rt, body)
}

// ReadBody decodes and drains the request body, honouring the configured
// payload limit.
func ReadBody(rt *Route, body io.ReadCloser) ([]byte, error) {
	return codec.AggregateLimited(rt, body, rt.PayloadLimit)
}

// DecodeJSON decodes the request body as JSON into a T. Oversized or
// malformed bodies yield a BadRequest error.
func DecodeJSON[T any](rt *Route, body io.ReadCloser) (T, error) {
	v, err := codec.DecodeAs[T](rt, body, rt.PayloadLimit)
	if err != nil {
		return v, errors.BadRequest(err)
	}
	return v, nil
}

// StartSpan starts a child span of the request span carried by ctx. It is a
// no-op span when tracing is disabled.
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer("github.com/wudi/hyperfast/server").Start(ctx, name)
}
