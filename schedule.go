// SPDX-License-Identifier: GPL-3.0-or-later

package esi

import (
	"context"
	"log/slog"

	"github.com/bassosimone/esi/edge"
)

// schedule drives every pending fragment to a terminal state.
//
// Finished requests are retired first with a non-blocking poll pass, then
// with [edge.Select] while more than one remains, and the last one with
// Wait. When ctx is done, the remaining fragments fail with [ErrTimeout]
// and their requests are abandoned.
func (c *call) schedule(ctx context.Context, frags []*fragment) {
	owners := map[string]*fragment{}
	var handles []*edge.PendingRequest

	for _, frag := range frags {
		if frag.state != fragmentPending {
			continue
		}
		result, err := frag.handle.Poll()
		if err != nil {
			frag.setFailed(ErrDispatch, err)
			continue
		}
		if result.Completion != nil {
			c.settle(frag, result.Completion.Response, result.Completion.Err)
			continue
		}
		frag.handle = result.Pending
		owners[result.Pending.ID()] = frag
		handles = append(handles, result.Pending)
	}

	for len(handles) > 1 {
		completion, rest, err := edge.Select(ctx, handles)
		if err != nil {
			c.expire(owners, err)
			return
		}
		c.settle(owners[completion.ID], completion.Response, completion.Err)
		delete(owners, completion.ID)
		handles = rest
	}

	if len(handles) == 1 {
		frag := owners[handles[0].ID()]
		resp, err := handles[0].Wait(ctx)
		if err != nil && ctx.Err() != nil {
			c.expire(owners, ctx.Err())
			return
		}
		c.settle(frag, resp, err)
	}
}

// settle records the outcome of a finished request.
func (c *call) settle(frag *fragment, resp *edge.Response, err error) {
	if err != nil {
		frag.setFailed(ErrTransport, err)
	} else {
		c.resolve(frag, resp)
	}
	c.cfg.Logger.Info(
		"fragmentFetchDone",
		slog.Int("depth", frag.depth),
		slog.Any("err", frag.err),
		slog.String("errClass", c.cfg.ErrClassifier.Classify(frag.err)),
		slog.Int("nodeIndex", frag.index),
		slog.String("state", frag.state.String()),
		slog.Time("t", c.cfg.TimeNow()),
		slog.String("url", frag.url),
	)
}

// expire fails every fragment in owners with [ErrTimeout]. Their
// requests keep running and their results are ignored.
func (c *call) expire(owners map[string]*fragment, cause error) {
	for _, frag := range owners {
		frag.setFailed(ErrTimeout, cause)
	}
	c.cfg.Logger.Info(
		"fragmentsAbandoned",
		slog.Int("count", len(owners)),
		slog.Any("err", cause),
		slog.String("errClass", c.cfg.ErrClassifier.Classify(cause)),
	)
}
