// SPDX-License-Identifier: GPL-3.0-or-later

package edge

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bassosimone/runtimex"
)

// Request is an outgoing request to a [Backend].
type Request struct {
	// Method is the HTTP method.
	Method string

	// URL is the absolute request URL.
	URL *url.URL

	// Header contains the request headers.
	Header http.Header

	// Body is the request body, or nil.
	Body *Body

	// AutoDecompressGzip asks [*Request.Send] to advertise gzip support
	// and to transparently decode a gzip-encoded response body.
	AutoDecompressGzip bool
}

// NewRequest parses rawURL and returns a [*Request] without body.
func NewRequest(method, rawURL string) (*Request, error) {
	URL, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	req := &Request{
		Method: method,
		URL:    URL,
		Header: http.Header{},
	}
	return req, nil
}

// CloneWithoutBody returns a copy of r sharing nothing with it and
// having no body. Headers and [Request.AutoDecompressGzip] survive.
func (r *Request) CloneWithoutBody() *Request {
	runtimex.Assert(r != nil)
	clone := &Request{
		Method:             r.Method,
		URL:                nil,
		Header:             r.Header.Clone(),
		AutoDecompressGzip: r.AutoDecompressGzip,
	}
	if clone.Header == nil {
		clone.Header = http.Header{}
	}
	if r.URL != nil {
		URL := *r.URL
		clone.URL = &URL
	}
	return clone
}

// CloneWithBody is like [*Request.CloneWithoutBody] but also copies the body.
func (r *Request) CloneWithBody() *Request {
	clone := r.CloneWithoutBody()
	if r.Body != nil {
		clone.Body = NewBodyFromBytes(r.Body.Bytes())
	}
	return clone
}

// SetURL parses rawURL and assigns it to r. A relative URL is resolved
// against the current URL of r, if any, and kept as is otherwise, in which
// case only backends not needing the origin from the URL can serve r.
func (r *Request) SetURL(rawURL string) error {
	URL, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if r.URL != nil {
		URL = r.URL.ResolveReference(URL)
	}
	r.URL = URL
	return nil
}

// Send sends a copy of r using backend and returns the response.
//
// The response body is fully buffered. Non-2xx statuses are not errors;
// see [*Response.CheckStatus].
func (r *Request) Send(ctx context.Context, backend Backend) (*Response, error) {
	if backend == nil {
		return nil, ErrNoBackend
	}
	req := r.CloneWithBody()
	if req.AutoDecompressGzip {
		req.Header.Set("Accept-Encoding", "gzip")
	}
	resp, err := backend.RoundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	if resp.Body == nil {
		resp.Body = NewBody()
	}
	resp.BackendName = backend.Name()
	resp.BackendRequest = req
	if req.AutoDecompressGzip && strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		if err := decodeGzipBody(resp); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// SendAsync starts sending a copy of r using backend and returns
// immediately with a [*PendingRequest] tracking the operation.
//
// The operation observes ctx; abandoning the handle does not stop it.
func (r *Request) SendAsync(ctx context.Context, backend Backend) *PendingRequest {
	req := r.CloneWithBody()
	op := newOperation()
	go func() {
		resp, err := req.Send(ctx, backend)
		op.complete(resp, err)
	}()
	return newPendingRequest(op)
}

func decodeGzipBody(resp *Response) error {
	zr, err := gzip.NewReader(bytes.NewReader(resp.Body.Bytes()))
	if err != nil {
		return err
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return err
	}
	resp.Body = NewBodyFromBytes(data)
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	return nil
}
