// SPDX-License-Identifier: GPL-3.0-or-later

package esi

import (
	"context"

	"github.com/bassosimone/esi/edge"
)

// FragmentContent is what a [FragmentDispatcher] returns for a fragment.
//
// Construct using [Pending], [Completed] or [NoContent].
type FragmentContent struct {
	pending  *edge.PendingRequest
	response *edge.Response
}

// Pending returns content that is still being fetched. The processor
// takes ownership of the handle.
func Pending(handle *edge.PendingRequest) FragmentContent {
	return FragmentContent{pending: handle}
}

// Completed returns content that is already available, e.g. from a cache.
func Completed(resp *edge.Response) FragmentContent {
	return FragmentContent{response: resp}
}

// NoContent returns content meaning that the fragment is not available.
func NoContent() FragmentContent {
	return FragmentContent{}
}

// FragmentDispatcher decides how to obtain each fragment.
type FragmentDispatcher interface {
	// Dispatch receives the fragment request. Returning an error, or
	// [NoContent], fails the fragment with [ErrDispatch].
	Dispatch(ctx context.Context, req *edge.Request) (FragmentContent, error)
}

// DispatchFunc adapts a function to the [FragmentDispatcher] interface.
type DispatchFunc func(ctx context.Context, req *edge.Request) (FragmentContent, error)

var _ FragmentDispatcher = DispatchFunc(nil)

// Dispatch implements [FragmentDispatcher].
func (fx DispatchFunc) Dispatch(ctx context.Context, req *edge.Request) (FragmentContent, error) {
	return fx(ctx, req)
}

// FragmentProcessor transforms fetched fragments before assembly.
type FragmentProcessor interface {
	// Process receives the fragment request and its response and returns
	// the response to assemble. Returning an error, or a nil response,
	// fails the fragment with [ErrPostProcess].
	Process(ctx context.Context, req *edge.Request, resp *edge.Response) (*edge.Response, error)
}

// ProcessFunc adapts a function to the [FragmentProcessor] interface.
type ProcessFunc func(ctx context.Context, req *edge.Request, resp *edge.Response) (*edge.Response, error)

var _ FragmentProcessor = ProcessFunc(nil)

// Process implements [FragmentProcessor].
func (fx ProcessFunc) Process(ctx context.Context, req *edge.Request, resp *edge.Response) (*edge.Response, error) {
	return fx(ctx, req, resp)
}
