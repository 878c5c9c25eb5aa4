// Package response builds the outbound responses handed back to the dispatcher.
package response

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/wudi/hyperfast/internal/codec"
	"github.com/wudi/hyperfast/internal/route"
)

// Content types set by the builders.
const (
	ContentTypeJSON  = "application/json"
	ContentTypeText  = "text/plain; charset=utf-8"
	ContentTypeProto = "proto/bytes"
)

// Response is a status, headers and a body stream. The body is consumed and
// closed exactly once by Write.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// New creates a response with the Host header set to host.
func New(status int, host string, body io.ReadCloser) *Response {
	if body == nil {
		body = http.NoBody
	}
	h := make(http.Header, 4)
	if host != "" {
		h.Set("Host", host)
	}
	return &Response{StatusCode: status, Header: h, Body: body}
}

// OK streams body with status 200, compressed per the negotiated coding.
func OK(rt *route.Route, body io.Reader) *Response {
	rc, ok := body.(io.ReadCloser)
	if !ok {
		rc = io.NopCloser(body)
	}
	return New(http.StatusOK, rt.Hostname, rc).Encode(rt)
}

// String responds 200 with a plain text body.
func String(rt *route.Route, s string) *Response {
	return Bytes(rt, []byte(s))
}

// Bytes responds 200 with b as the body.
func Bytes(rt *route.Route, b []byte) *Response {
	return fixed(rt, b, "").Encode(rt)
}

// JSON marshals v and responds 200 with Content-Type application/json.
func JSON(rt *route.Route, v any) (*Response, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding json response: %w", err)
	}
	return fixed(rt, b, ContentTypeJSON).Encode(rt), nil
}

// ProtoBinary responds 200 with an already serialized protobuf payload.
func ProtoBinary(rt *route.Route, b []byte) *Response {
	return fixed(rt, b, ContentTypeProto).Encode(rt)
}

// BinaryOrJSON responds with b labelled as JSON when isJSON is set and as a
// protobuf payload otherwise.
func BinaryOrJSON(rt *route.Route, b []byte, isJSON bool) *Response {
	if isJSON {
		return fixed(rt, b, ContentTypeJSON).Encode(rt)
	}
	return ProtoBinary(rt, b)
}

func fixed(rt *route.Route, b []byte, contentType string) *Response {
	r := New(http.StatusOK, rt.Hostname, io.NopCloser(bytes.NewReader(b)))
	r.Header.Set("Content-Length", strconv.Itoa(len(b)))
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	return r
}

// WithStatus overrides the status code.
func (r *Response) WithStatus(code int) *Response {
	r.StatusCode = code
	return r
}

// Encode replaces the body with a compressing stream when rt negotiated a coding.
func (r *Response) Encode(rt *route.Route) *Response {
	r.Body = codec.Encode(rt, r.Header, r.Body)
	return r
}

// ContentLength returns the declared Content-Length, or -1 when unknown.
func (r *Response) ContentLength() int64 {
	v := r.Header.Get("Content-Length")
	if v == "" {
		return -1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// Write copies headers, status and body to w, closing the body. Errors are
// transport level: the status line has already been sent when they occur.
func (r *Response) Write(w http.ResponseWriter) (int64, error) {
	defer r.Body.Close()

	dst := w.Header()
	for k, vs := range r.Header {
		dst[k] = vs
	}
	w.WriteHeader(r.StatusCode)

	if !bodyAllowed(r.StatusCode) {
		return 0, nil
	}
	n, err := io.Copy(w, r.Body)
	if err != nil {
		return n, fmt.Errorf("writing response body: %w", err)
	}
	return n, nil
}

func bodyAllowed(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}
