// Package accesslog emits one structured entry per served request.
package accesslog

import (
	"net"
	"time"

	"github.com/wudi/hyperfast/internal/response"
	"github.com/wudi/hyperfast/internal/route"
	"go.uber.org/zap"
)

// LoggerName is the name of the zap logger access entries are written to.
const LoggerName = "access_log"

// Logger writes access log entries.
type Logger struct {
	log *zap.Logger
}

// New creates an access logger as a named child of base.
func New(base *zap.Logger) *Logger {
	return &Logger{log: base.Named(LoggerName)}
}

// Log records the outcome of one request. It matches the dispatcher hook signature.
func (l *Logger) Log(rt *route.Route, resp *response.Response, elapsed time.Duration) {
	if !l.log.Core().Enabled(zap.InfoLevel) {
		return
	}

	fields := make([]zap.Field, 0, 15)
	fields = append(fields,
		zap.String("remote_ip", remoteIP(rt.RemoteAddr)),
		zap.String("request_time", rt.Arrival.Format(time.RFC3339)),
		zap.Int("status", resp.StatusCode),
		zap.Float64("time_taken_ms", float64(elapsed.Nanoseconds())/1e6),
		zap.Int64("response_content_length", resp.ContentLength()),
		zap.String("response_content_type", resp.Header.Get("Content-Type")),
		zap.String("response_content_encoding", resp.Header.Get("Content-Encoding")),
		zap.String("method", rt.Method),
		zap.String("path", rt.Path),
		zap.String("query", rt.Query),
		zap.String("request_content_length", rt.Header.Get("Content-Length")),
		zap.String("request_content_type", rt.Header.Get("Content-Type")),
		zap.String("request_content_encoding", rt.Header.Get("Content-Encoding")),
		zap.String("request_accept_encoding", rt.Header.Get("Accept-Encoding")),
	)
	if rt.RequestID != "" {
		fields = append(fields, zap.String("request_id", rt.RequestID))
	}

	l.log.Info("HTTP request", fields...)
}

func remoteIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
