// SPDX-License-Identifier: GPL-3.0-or-later

package esi

import (
	"context"
	"log/slog"

	"github.com/bassosimone/esi/edge"
)

// Processor assembles documents containing ESI directives.
//
// A Processor is immutable and safe for concurrent use: each processing
// call keeps its own document and fragment table.
//
// Construct using [NewProcessor].
type Processor struct {
	backend  edge.Backend
	cfg      Config
	template *edge.Request
}

// NewProcessor returns a new [*Processor].
//
// The template argument, which may be nil, is the request whose method,
// headers and flags every fragment request inherits. Relative fragment
// URLs resolve against its URL.
//
// The cfg argument may be nil, meaning [NewConfig]. An invalid cfg
// causes a [*ConfigError].
func NewProcessor(template *edge.Request, cfg *Config) (*Processor, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	proc := &Processor{cfg: *cfg}
	if template != nil {
		proc.template = template.CloneWithoutBody()
	}
	proc.backend = cfg.Backend
	if proc.backend == nil {
		proc.backend = edge.NewDynamicBackend(edge.NewConfig(), cfg.Logger)
	}
	return proc, nil
}

// call is the state of a single processing call.
type call struct {
	backend    edge.Backend
	cfg        *Config
	dispatcher FragmentDispatcher
	processor  FragmentProcessor
	template   *edge.Request
}

// ProcessDocument assembles src and returns the resulting document.
//
// The dispatcher may be nil, in which case fragments are fetched one at a
// time using [Config.Backend]. The post-processor may be nil.
//
// On failure, ProcessDocument returns an empty string and an error.
func (p *Processor) ProcessDocument(
	ctx context.Context, src string, dispatcher FragmentDispatcher, processor FragmentProcessor) (string, error) {
	out, err := p.process(ctx, []byte(src), dispatcher, processor)
	if err != nil {
		return "", err
	}
	return out.String(), nil
}

// ProcessResponse assembles the body of src, replacing it in place.
//
// When clientMeta is not nil, its status code and headers replace those
// of src. Content-Length is removed since the body changed. On failure,
// src is left unmodified.
func (p *Processor) ProcessResponse(ctx context.Context, src, clientMeta *edge.Response,
	dispatcher FragmentDispatcher, processor FragmentProcessor) error {
	source := src.TakeBody()
	out, err := p.process(ctx, source.Bytes(), dispatcher, processor)
	if err != nil {
		src.SetBody(source)
		return err
	}
	src.SetBody(out)
	if clientMeta != nil {
		src.StatusCode = clientMeta.StatusCode
		src.Header = clientMeta.Header.Clone()
	}
	if src.Header != nil {
		src.Header.Del("Content-Length")
	}
	return nil
}

// ProcessResponseTo assembles the body of src into sink and finishes it.
// On failure, nothing is written and sink is not finished.
func (p *Processor) ProcessResponseTo(ctx context.Context, src *edge.Response, sink *edge.StreamingBody,
	dispatcher FragmentDispatcher, processor FragmentProcessor) error {
	var source []byte
	if src.Body != nil {
		source = src.Body.Bytes()
	}
	out, err := p.process(ctx, source, dispatcher, processor)
	if err != nil {
		return err
	}
	if err := sink.Append(out); err != nil {
		return err
	}
	return sink.Finish()
}

func (p *Processor) process(ctx context.Context,
	source []byte, dispatcher FragmentDispatcher, processor FragmentProcessor) (*edge.Body, error) {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	t0 := p.cfg.TimeNow()
	deadline, _ := ctx.Deadline()
	p.cfg.Logger.Info(
		"esiProcessStart",
		slog.Time("deadline", deadline),
		slog.String("namespace", p.cfg.Namespace),
		slog.Int("sourceSize", len(source)),
		slog.Time("t", t0),
	)

	out, doc, err := p.run(ctx, source, dispatcher, processor)

	var includes int
	if doc != nil {
		includes = doc.Includes()
	}
	p.cfg.Logger.Info(
		"esiProcessDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", p.cfg.ErrClassifier.Classify(err)),
		slog.Int("includes", includes),
		slog.String("namespace", p.cfg.Namespace),
		slog.Int("outputSize", out.Len()),
		slog.Time("t0", t0),
		slog.Time("t", p.cfg.TimeNow()),
	)

	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Processor) run(ctx context.Context, source []byte,
	dispatcher FragmentDispatcher, processor FragmentProcessor) (*edge.Body, *Document, error) {
	out := edge.NewBody()
	doc, err := Parse(source, p.cfg.Namespace, p.cfg.EscapedContent)
	if err != nil {
		return out, nil, err
	}
	c := &call{
		backend:    p.backend,
		cfg:        &p.cfg,
		dispatcher: dispatcher,
		processor:  processor,
		template:   p.template,
	}
	if err := c.expand(ctx, doc, 0, out); err != nil {
		return edge.NewBody(), doc, err
	}
	return out, doc, nil
}
