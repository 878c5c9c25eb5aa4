package dispatch

import (
	"net/http"

	"github.com/wudi/hyperfast/internal/errors"
	"github.com/wudi/hyperfast/internal/metrics"
	"github.com/wudi/hyperfast/internal/response"
	"github.com/wudi/hyperfast/internal/route"
)

// contentTypePrometheus is the text exposition format content type.
const contentTypePrometheus = "text/plain; version=0.0.4; charset=utf-8"

func (d *Dispatcher) serveMetrics(rt *route.Route, rest []string) (*response.Response, error) {
	if len(rest) != 1 || rt.Method != http.MethodGet {
		return nil, errors.NotFound(rt.Path)
	}

	switch rest[0] {
	case "json":
		b, err := metrics.ExportJSON(d.registry)
		if err != nil {
			return nil, errors.Internal(err)
		}
		return response.BinaryOrJSON(rt, b, true), nil

	case "prometheus":
		b, err := metrics.ExportPrometheus(d.registry)
		if err != nil {
			return nil, errors.Internal(err)
		}
		resp := response.Bytes(rt, b)
		resp.Header.Set("Content-Type", contentTypePrometheus)
		return resp, nil
	}
	return nil, errors.NotFound(rt.Path)
}
