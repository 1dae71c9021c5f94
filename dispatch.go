// SPDX-License-Identifier: GPL-3.0-or-later

package esi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/bassosimone/esi/edge"
)

// newFragmentRequest derives the request for rawURL from the template.
func (c *call) newFragmentRequest(rawURL string) (*edge.Request, error) {
	var req *edge.Request
	if c.template != nil {
		req = c.template.CloneWithoutBody()
	} else {
		req = &edge.Request{Method: http.MethodGet, Header: http.Header{}}
	}
	if err := req.SetURL(rawURL); err != nil {
		return nil, err
	}
	return req, nil
}

// dispatch starts fetching rawURL for frag, leaving it pending, resolved
// or failed. It never blocks unless the default backend is in use.
func (c *call) dispatch(ctx context.Context, frag *fragment, rawURL string) {
	t0 := c.cfg.TimeNow()
	frag.url = rawURL
	c.cfg.Logger.Info(
		"fragmentDispatchStart",
		slog.Int("depth", frag.depth),
		slog.Int("nodeIndex", frag.index),
		slog.Time("t", t0),
		slog.String("url", rawURL),
	)

	c.dispatchOnce(ctx, frag, rawURL)

	c.cfg.Logger.Info(
		"fragmentDispatchDone",
		slog.Int("depth", frag.depth),
		slog.Any("err", frag.err),
		slog.String("errClass", c.cfg.ErrClassifier.Classify(frag.err)),
		slog.Int("nodeIndex", frag.index),
		slog.String("state", frag.state.String()),
		slog.Time("t0", t0),
		slog.Time("t", c.cfg.TimeNow()),
		slog.String("url", rawURL),
	)
}

func (c *call) dispatchOnce(ctx context.Context, frag *fragment, rawURL string) {
	req, err := c.newFragmentRequest(rawURL)
	if err != nil {
		frag.setFailed(ErrDispatch, err)
		return
	}
	frag.request = req

	if c.dispatcher == nil {
		resp, err := req.Send(ctx, c.backend)
		if err != nil {
			frag.setFailed(ErrTransport, err)
			return
		}
		c.resolve(frag, resp)
		return
	}

	content, err := c.dispatcher.Dispatch(ctx, req)
	switch {
	case err != nil:
		frag.setFailed(ErrDispatch, err)
	case content.pending != nil:
		frag.setPending(content.pending)
	case content.response != nil:
		c.resolve(frag, content.response)
	default:
		frag.setFailed(ErrDispatch, errNoContent)
	}
}

// resolve records resp for frag, failing it unless the status is 2xx.
func (c *call) resolve(frag *fragment, resp *edge.Response) {
	if err := resp.CheckStatus(); err != nil {
		frag.setFailed(ErrTransport, err)
		return
	}
	frag.setResolved(resp)
}
