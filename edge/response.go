// SPDX-License-Identifier: GPL-3.0-or-later

package edge

import (
	"fmt"
	"net/http"
)

// Response is a response from a [Backend] or one built for the client.
type Response struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Header contains the response headers.
	Header http.Header

	// Body is the fully buffered response body.
	Body *Body

	// BackendName is the name of the backend that produced the response,
	// or empty for locally built responses.
	BackendName string

	// BackendRequest is the request sent to the backend, or nil.
	BackendRequest *Request
}

// NewResponse returns a 200 [*Response] with empty headers and body.
func NewResponse() *Response {
	return NewResponseFromBody(NewBody())
}

// NewResponseFromBody returns a 200 [*Response] owning body.
func NewResponseFromBody(body *Body) *Response {
	if body == nil {
		body = NewBody()
	}
	return &Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       body,
	}
}

// TakeBody detaches and returns the body, leaving r with an empty one.
func (r *Response) TakeBody() *Body {
	body := r.Body
	if body == nil {
		body = NewBody()
	}
	r.Body = NewBody()
	return body
}

// SetBody replaces the body of r.
func (r *Response) SetBody(body *Body) {
	if body == nil {
		body = NewBody()
	}
	r.Body = body
}

// AppendBody moves the content of body at the end of the body of r.
func (r *Response) AppendBody(body *Body) {
	if r.Body == nil {
		r.Body = NewBody()
	}
	r.Body.Append(body)
}

// CheckStatus returns a [*StatusError] unless the status is 2xx.
func (r *Response) CheckStatus() error {
	if r.StatusCode >= 200 && r.StatusCode < 300 {
		return nil
	}
	err := &StatusError{StatusCode: r.StatusCode}
	if r.BackendRequest != nil && r.BackendRequest.URL != nil {
		err.URL = r.BackendRequest.URL.String()
	}
	return err
}

// StatusError reports a response with a non-2xx status code.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("edge: %s: unexpected status %d", e.URL, e.StatusCode)
}
