// SPDX-License-Identifier: GPL-3.0-or-later

package esi

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bassosimone/esi/edge"
)

// expand dispatches and schedules all the includes of doc and then
// assembles doc into out. Fragments whose bodies contain directives are
// expanded recursively at depth+1.
func (c *call) expand(ctx context.Context, doc *Document, depth int, out *edge.Body) error {
	table := newFragmentTable(doc, depth)
	frags := table.inOrder(doc)
	for _, frag := range frags {
		c.dispatch(ctx, frag, frag.include.Src)
	}
	c.schedule(ctx, frags)
	return c.assemble(ctx, doc, table, out)
}

// assemble walks doc in order writing literals and fragments to out.
//
// The output only depends on the document order and on the final state of
// each fragment, never on the order in which fetches completed.
func (c *call) assemble(ctx context.Context, doc *Document, table fragmentTable, out *edge.Body) error {
	for idx, node := range doc.Nodes {
		if node.Kind == NodeLiteral {
			out.Write(node.Text)
			continue
		}

		frag := table[idx]
		body, err := c.render(ctx, frag)
		if err == nil {
			out.Append(body)
			continue
		}
		if errors.Is(err, ErrScan) {
			return err
		}

		if frag.include.Alt != "" && !frag.triedAlt {
			frag.triedAlt = true
			c.cfg.Logger.Info(
				"fragmentFallback",
				slog.String("alt", frag.include.Alt),
				slog.Int("depth", frag.depth),
				slog.Any("err", err),
				slog.String("errClass", c.cfg.ErrClassifier.Classify(err)),
				slog.Int("nodeIndex", frag.index),
				slog.String("url", frag.url),
			)
			c.dispatch(ctx, frag, frag.include.Alt)
			c.schedule(ctx, []*fragment{frag})
			body, err = c.render(ctx, frag)
			if err == nil {
				out.Append(body)
				continue
			}
			if errors.Is(err, ErrScan) {
				return err
			}
		}

		if frag.include.ContinueOnError {
			c.cfg.Logger.Info(
				"fragmentSkipped",
				slog.Int("depth", frag.depth),
				slog.Any("err", err),
				slog.String("errClass", c.cfg.ErrClassifier.Classify(err)),
				slog.Int("nodeIndex", frag.index),
				slog.String("url", frag.url),
			)
			continue
		}
		return err
	}
	return nil
}

// render returns the assembled body of a resolved fragment or the error
// that failed it. A [*ScanError] inside a fragment is returned as is.
func (c *call) render(ctx context.Context, frag *fragment) (*edge.Body, error) {
	if frag.state != fragmentResolved {
		return nil, frag.err
	}

	resp := frag.response
	if c.processor != nil {
		processed, err := c.processor.Process(ctx, frag.request, resp)
		if err == nil && processed == nil {
			err = errNoResponse
		}
		if err != nil {
			frag.setFailed(ErrPostProcess, err)
			return nil, frag.err
		}
		resp = processed
	}

	// Responses may be shared by several includes; never consume the body.
	var source []byte
	if resp.Body != nil {
		source = resp.Body.Bytes()
	}
	nested, err := Parse(source, c.cfg.Namespace, c.cfg.EscapedContent)
	if err != nil {
		return nil, err
	}
	if nested.Includes() <= 0 {
		return literalBody(nested), nil
	}
	if frag.depth+1 > c.cfg.MaxDepth {
		frag.setFailed(ErrDepthExceeded, nil)
		return nil, frag.err
	}

	out := edge.NewBody()
	if err := c.expand(ctx, nested, frag.depth+1, out); err != nil {
		if errors.Is(err, ErrScan) {
			return nil, err
		}
		frag.setFailed(ErrTransport, err)
		return nil, frag.err
	}
	return out, nil
}

// literalBody concatenates the literal nodes of a document without includes.
func literalBody(doc *Document) *edge.Body {
	out := edge.NewBody()
	for _, node := range doc.Nodes {
		out.Write(node.Text)
	}
	return out
}
