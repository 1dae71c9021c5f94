// SPDX-License-Identifier: GPL-3.0-or-later

package edge

import (
	"context"
	"reflect"
)

// Select consumes all the handles and blocks until at least one request
// finishes or ctx is done.
//
// It returns the [*Completion] of a finished request along with fresh
// handles for all the others, in the original order. When ctx is done,
// the completion is nil, every request gets a fresh handle and the error
// is the ctx error. An empty slice fails with [ErrEmptySelect].
//
// When any handle was already consumed, Select fails with
// [ErrHandleConsumed] and leaves all the handles untouched.
func Select(ctx context.Context, handles []*PendingRequest) (*Completion, []*PendingRequest, error) {
	if len(handles) <= 0 {
		return nil, nil, ErrEmptySelect
	}
	if err := consumeAll(handles); err != nil {
		return nil, nil, err
	}

	// Finished requests are preferred over a done context.
	index := -1
	for idx, handle := range handles {
		if handle.op.finished() {
			index = idx
			break
		}
	}

	if index < 0 {
		cases := make([]reflect.SelectCase, 0, len(handles)+1)
		for _, handle := range handles {
			cases = append(cases, reflect.SelectCase{
				Dir:  reflect.SelectRecv,
				Chan: reflect.ValueOf(handle.op.done),
			})
		}
		cases = append(cases, reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(ctx.Done()),
		})
		chosen, _, _ := reflect.Select(cases)
		if chosen < len(handles) {
			index = chosen
		}
	}

	var (
		completion *Completion
		remaining  = make([]*PendingRequest, 0, len(handles))
	)
	for idx, handle := range handles {
		if idx == index {
			completion = handle.op.completion()
			continue
		}
		remaining = append(remaining, newPendingRequest(handle.op))
	}
	if completion == nil {
		return nil, remaining, ctx.Err()
	}
	return completion, remaining, nil
}

func consumeAll(handles []*PendingRequest) error {
	for idx, handle := range handles {
		if !handle.consume() {
			for _, prev := range handles[:idx] {
				prev.consumed.Store(false)
			}
			return ErrHandleConsumed
		}
	}
	return nil
}
