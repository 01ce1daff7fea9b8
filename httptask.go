// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

package spdy

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/yitian134/mod-spdy/framing"
)

// HTTPTaskFactory adapts a net/http.Handler to StreamTaskFactory, so an
// existing http.Handler can serve SPDY streams the same way it serves
// HTTP/1.1 requests. It is grounded on the teacher's stream.handleReq /
// mkrequest / responseWriter, rewritten atop Stream's queue-based
// input/output instead of the teacher's channel-ferried rwWrite/rwRead.
type HTTPTaskFactory struct {
	Handler http.Handler
}

func (f *HTTPTaskFactory) NewStreamTask(str *Stream) Task {
	return &httpTask{str: str, handler: f.Handler}
}

type httpTask struct {
	str       *Stream
	handler   http.Handler
	cancelled int32
}

// Run decodes the stream's SYN_STREAM into an *http.Request, runs the
// handler against a ResponseWriter backed by the stream's output queue,
// and sends the closing FIN once the handler returns.
func (t *httpTask) Run() {
	frame, ok := t.str.GetInputFrame(true)
	if !ok {
		return
	}
	syn, ok := frame.(*framing.SynStreamFrame)
	if !ok {
		t.str.Abort(framing.RstProtocolError)
		return
	}

	req, err := requestFromHeaders(syn.Headers, t.str.Version())
	if err != nil {
		t.str.Abort(framing.RstInvalidStream)
		return
	}
	if t.str.RecvHalfClosed() {
		req.Body = http.NoBody
	} else {
		req.Body = &streamBody{str: t.str}
	}

	rw := &streamResponseWriter{str: t.str, header: make(http.Header)}
	t.handler.ServeHTTP(rw, req)
	rw.finish()
}

// Cancel aborts the stream with RST_CANCEL; called instead of Run when the
// executor is shutting down before this task ever got a worker.
func (t *httpTask) Cancel() {
	if atomic.CompareAndSwapInt32(&t.cancelled, 0, 1) {
		t.str.Abort(framing.RstCancel)
	}
}

// requestFromHeaders builds an *http.Request from a SYN_STREAM's header
// block, translating the version-specific required header names (§4.E
// handleSynStream) the same way mkrequest did for the single name set the
// teacher supported.
func requestFromHeaders(h framing.Headers, version int) (*http.Request, error) {
	get := func(v2name, v3name string) string {
		name := v3name
		if version == 2 {
			name = v2name
		}
		if vals := h[name]; len(vals) > 0 {
			return vals[0]
		}
		return ""
	}
	method := get("method", ":method")
	path := get("url", ":path")
	scheme := get("scheme", ":scheme")
	host := get("host", ":host")
	proto := get("version", ":version")

	u, err := url.ParseRequestURI(path)
	if err != nil {
		u = &url.URL{Path: path}
	}
	u.Scheme = scheme
	u.Host = host

	req := &http.Request{
		Method:        method,
		URL:           u,
		Host:          host,
		Proto:         proto,
		Header:        make(http.Header),
		ContentLength: -1,
	}
	if major, minor, ok := http.ParseHTTPVersion(proto); ok {
		req.ProtoMajor, req.ProtoMinor = major, minor
	} else {
		req.ProtoMajor, req.ProtoMinor = 1, 1
	}

	reserved := make(map[string]bool, 5)
	for _, name := range requiredHeaderNames(version) {
		reserved[name] = true
	}
	for k, v := range h {
		if reserved[k] {
			continue
		}
		req.Header[k] = v
	}
	return req, nil
}

// streamBody is an http.Request.Body backed by a stream's inbound DATA
// frames; it replaces the teacher's responseWriter.Read/rwRead pair, which
// ferried the same bytes over a channel instead of Stream's input queue.
type streamBody struct {
	str  *Stream
	left []byte
	err  error
}

func (b *streamBody) Read(p []byte) (int, error) {
	for len(b.left) == 0 {
		if b.err != nil {
			return 0, b.err
		}
		frame, ok := b.str.GetInputFrame(true)
		if !ok {
			if reset, _ := b.str.IsReset(); reset {
				b.err = io.ErrUnexpectedEOF
			} else {
				b.err = io.EOF
			}
			return 0, b.err
		}
		data, ok := frame.(*framing.DataFrame)
		if !ok {
			continue
		}
		b.left = data.Data
		if data.Flags&framing.DataFlagFin != 0 {
			b.err = io.EOF
		}
	}
	n := copy(p, b.left)
	b.left = b.left[n:]
	return n, nil
}

func (b *streamBody) Close() error { return nil }

// streamResponseWriter is an http.ResponseWriter backed by a stream's
// output queue; it replaces the teacher's responseWriter.Write/WriteHeader
// pair, which ferried the same headers and bytes over ackch/ch instead of
// Stream's SendOutput* calls.
type streamResponseWriter struct {
	str         *Stream
	header      http.Header
	wroteHeader bool
}

func (rw *streamResponseWriter) Header() http.Header { return rw.header }

func (rw *streamResponseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.wroteHeader = true
	rw.header.Set(":status", fmt.Sprintf("%d %s", code, http.StatusText(code)))
	rw.header.Set(":version", "HTTP/1.1")
	rw.str.SendOutputSynReply(framing.FromHTTPHeader(rw.header), false)
}

func (rw *streamResponseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	if len(b) == 0 {
		return 0, nil
	}
	if err := rw.str.SendOutputDataFrame(b, false); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (rw *streamResponseWriter) finish() {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	rw.str.SendOutputDataFrame(nil, true)
}
