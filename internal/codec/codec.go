// Package codec decodes request bodies according to their Content-Encoding
// and compresses response bodies according to the negotiated Accept-Encoding.
// All work is pull driven: nothing happens until the caller reads.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/wudi/hyperfast/internal/route"
)

var (
	// ErrInvalidData marks a body that could not be decoded with its declared coding.
	ErrInvalidData = errors.New("codec: invalid data")
	// ErrAggregate marks a failure while draining a body into memory.
	ErrAggregate = errors.New("codec: aggregating body")
	// ErrPayloadTooLarge marks a body that exceeded the aggregation limit.
	ErrPayloadTooLarge = errors.New("codec: payload too large")
	// ErrDecode marks a body that is not valid JSON for the target type.
	ErrDecode = errors.New("codec: decoding body")
)

// encodeChunkSize is how much of the source body is compressed per pull.
const encodeChunkSize = 32 << 10

// Decode wraps body with a decoder selected by rt.ContentEncoding. Unknown or
// absent codings pass the body through untouched.
func Decode(rt *route.Route, body io.ReadCloser) io.ReadCloser {
	if body == nil {
		body = http.NoBody
	}
	switch rt.ContentEncoding {
	case route.EncodingGzip:
		return &lazyDecoder{src: body, open: func(r io.Reader) (io.Reader, error) {
			return gzip.NewReader(r)
		}}
	case route.EncodingBrotli:
		return &lazyDecoder{src: body, open: func(r io.Reader) (io.Reader, error) {
			return brotli.NewReader(r), nil
		}}
	case route.EncodingDeflate:
		return &lazyDecoder{src: body, open: func(r io.Reader) (io.Reader, error) {
			return flate.NewReader(r), nil
		}}
	default:
		return body
	}
}

// lazyDecoder defers decoder construction to the first Read so that a handler
// which never touches the body pays nothing.
type lazyDecoder struct {
	src  io.ReadCloser
	open func(io.Reader) (io.Reader, error)
	r    io.Reader
	err  error
}

func (d *lazyDecoder) Read(p []byte) (int, error) {
	if d.r == nil && d.err == nil {
		r, err := d.open(d.src)
		switch {
		case err == io.EOF:
			// An empty gzip body has no header; treat it as an empty stream.
			d.err = io.EOF
		case err != nil:
			d.err = fmt.Errorf("%w: %w", ErrInvalidData, err)
		default:
			d.r = r
		}
	}
	if d.err != nil {
		return 0, d.err
	}
	n, err := d.r.Read(p)
	if err != nil && err != io.EOF {
		err = fmt.Errorf("%w: %w", ErrInvalidData, err)
	}
	return n, err
}

func (d *lazyDecoder) Close() error {
	if c, ok := d.r.(io.Closer); ok {
		c.Close()
	}
	return d.src.Close()
}

// AggregateBytes drains the decoded body into memory.
func AggregateBytes(rt *route.Route, body io.ReadCloser) ([]byte, error) {
	return AggregateLimited(rt, body, 0)
}

// AggregateLimited drains the decoded body into memory, failing with
// ErrPayloadTooLarge once more than limit bytes were produced. A limit of
// zero or less means unbounded.
func AggregateLimited(rt *route.Route, body io.ReadCloser, limit int64) ([]byte, error) {
	dec := Decode(rt, body)
	defer dec.Close()

	var r io.Reader = dec
	if limit > 0 {
		r = io.LimitReader(dec, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAggregate, err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrPayloadTooLarge, limit)
	}
	return data, nil
}

// DecodeAs aggregates the body and unmarshals it as JSON into a T.
func DecodeAs[T any](rt *route.Route, body io.ReadCloser, limit int64) (T, error) {
	var v T
	data, err := AggregateLimited(rt, body, limit)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return v, nil
}

// Encode compresses body with the coding negotiated on rt. When a coding is
// applied, header gets the new Content-Encoding and loses Content-Length. The
// returned body compresses lazily as it is read.
func Encode(rt *route.Route, header http.Header, body io.ReadCloser) io.ReadCloser {
	if rt == nil || rt.AcceptEncoding == "" || body == nil || body == http.NoBody {
		return body
	}

	er := &encodingReader{src: body}
	switch rt.AcceptEncoding {
	case route.EncodingBrotli:
		er.enc = brotli.NewWriterLevel(&er.buf, brotli.DefaultCompression)
	case route.EncodingGzip:
		gw, err := gzip.NewWriterLevel(&er.buf, gzip.DefaultCompression)
		if err != nil {
			return body
		}
		er.enc = gw
	case route.EncodingDeflate:
		fw, err := flate.NewWriter(&er.buf, flate.DefaultCompression)
		if err != nil {
			return body
		}
		er.enc = fw
	default:
		return body
	}

	header.Set("Content-Encoding", rt.AcceptEncoding)
	header.Del("Content-Length")
	header.Add("Vary", "Accept-Encoding")
	return er
}

// encodingReader pulls a chunk from src, pushes it through enc into buf and
// serves reads from buf.
type encodingReader struct {
	src   io.ReadCloser
	enc   io.WriteCloser
	buf   bytes.Buffer
	chunk []byte
	done  bool
	err   error
}

func (e *encodingReader) Read(p []byte) (int, error) {
	for e.buf.Len() == 0 {
		if e.err != nil {
			return 0, e.err
		}
		if e.done {
			return 0, io.EOF
		}
		e.fill()
	}
	return e.buf.Read(p)
}

func (e *encodingReader) fill() {
	if e.chunk == nil {
		e.chunk = make([]byte, encodeChunkSize)
	}
	n, err := e.src.Read(e.chunk)
	if n > 0 {
		if _, werr := e.enc.Write(e.chunk[:n]); werr != nil {
			e.err = fmt.Errorf("codec: compressing body: %w", werr)
			return
		}
	}
	switch {
	case err == io.EOF:
		if cerr := e.enc.Close(); cerr != nil {
			e.err = fmt.Errorf("codec: finishing stream: %w", cerr)
			return
		}
		e.done = true
	case err != nil:
		e.err = err
	}
}

func (e *encodingReader) Close() error {
	return e.src.Close()
}
