// SPDX-License-Identifier: GPL-3.0-or-later

package edge

import (
	"context"
	"sync/atomic"
)

// operation is an in-flight fetch shared by the successive handles
// that track it.
type operation struct {
	done chan struct{}
	err  error
	id   string
	resp *Response
}

func newOperation() *operation {
	return &operation{done: make(chan struct{}), id: NewSpanID()}
}

// complete must be called exactly once.
func (op *operation) complete(resp *Response, err error) {
	op.resp, op.err = resp, err
	close(op.done)
}

func (op *operation) finished() bool {
	select {
	case <-op.done:
		return true
	default:
		return false
	}
}

func (op *operation) completion() *Completion {
	return &Completion{ID: op.id, Response: op.resp, Err: op.err}
}

// PendingRequest is a move-only handle to an in-flight request.
//
// A handle is consumed by exactly one of [*PendingRequest.Poll],
// [*PendingRequest.Wait] or [Select]. Using a consumed handle fails with
// [ErrHandleConsumed]. Operations that leave the request in flight return
// a fresh handle with the same [*PendingRequest.ID].
type PendingRequest struct {
	consumed atomic.Bool
	op       *operation
}

func newPendingRequest(op *operation) *PendingRequest {
	return &PendingRequest{op: op}
}

// ID returns an identifier that stays stable across the handles
// tracking the same request.
func (p *PendingRequest) ID() string {
	return p.op.id
}

func (p *PendingRequest) consume() bool {
	return p.consumed.CompareAndSwap(false, true)
}

// Completion is the outcome of a finished request.
type Completion struct {
	// ID is the [*PendingRequest.ID] of the request.
	ID string

	// Response is the response, when Err is nil.
	Response *Response

	// Err is the transport error, if any.
	Err error
}

// PollResult is the result of [*PendingRequest.Poll]. Exactly one of
// the two fields is non-nil.
type PollResult struct {
	// Completion is set when the request has finished.
	Completion *Completion

	// Pending is the fresh handle when the request is still in flight.
	Pending *PendingRequest
}

// Poll consumes p and checks without blocking whether the request finished.
func (p *PendingRequest) Poll() (*PollResult, error) {
	if !p.consume() {
		return nil, ErrHandleConsumed
	}
	if p.op.finished() {
		return &PollResult{Completion: p.op.completion()}, nil
	}
	return &PollResult{Pending: newPendingRequest(p.op)}, nil
}

// Wait consumes p and blocks until the request finishes or ctx is done.
//
// On ctx expiry the request is abandoned and Wait returns the ctx error.
func (p *PendingRequest) Wait(ctx context.Context) (*Response, error) {
	if !p.consume() {
		return nil, ErrHandleConsumed
	}
	select {
	case <-p.op.done:
		return p.op.resp, p.op.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
