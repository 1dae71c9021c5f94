// SPDX-License-Identifier: GPL-3.0-or-later

package esi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/bassosimone/esi/edge"
	"github.com/bassosimone/slogstub"
)

// recordSink collects log records from concurrent goroutines.
type recordSink struct {
	mu      sync.Mutex
	records []slog.Record
}

// Messages returns the messages of the collected records in order.
func (rs *recordSink) Messages() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	var out []string
	for _, record := range rs.records {
		out = append(out, record.Message)
	}
	return out
}

// newCapturingLogger returns a logger whose records end up in the
// returned [*recordSink].
func newCapturingLogger() (*slog.Logger, *recordSink) {
	sink := &recordSink{}
	handler := &slogstub.FuncHandler{
		EnabledFunc: func(ctx context.Context, level slog.Level) bool {
			return true
		},
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			sink.mu.Lock()
			sink.records = append(sink.records, record)
			sink.mu.Unlock()
			return nil
		},
	}
	return slog.New(handler), sink
}

// stubOrigin serves fragments by URL path.
type stubOrigin struct {
	// bodies maps paths to bodies. Unknown paths get a 404.
	bodies map[string]string

	// delay, when not nil, runs before answering and may block.
	delay func(ctx context.Context, path string) error

	// failures maps paths to transport errors.
	failures map[string]error

	mu       sync.Mutex
	requests []*edge.Request
}

func (o *stubOrigin) Backend() edge.Backend {
	return edge.BackendFunc(func(ctx context.Context, req *edge.Request) (*edge.Response, error) {
		o.mu.Lock()
		o.requests = append(o.requests, req)
		o.mu.Unlock()

		path := req.URL.Path
		if o.delay != nil {
			if err := o.delay(ctx, path); err != nil {
				return nil, err
			}
		}
		if err := o.failures[path]; err != nil {
			return nil, err
		}
		body, found := o.bodies[path]
		if !found {
			resp := edge.NewResponseFromBody(edge.NewBodyFromString("not found"))
			resp.StatusCode = http.StatusNotFound
			return resp, nil
		}
		return edge.NewResponseFromBody(edge.NewBodyFromString(body)), nil
	})
}

// Requests returns the requests received so far.
func (o *stubOrigin) Requests() []*edge.Request {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*edge.Request{}, o.requests...)
}

// asyncDispatcher dispatches every fragment asynchronously to backend.
func asyncDispatcher(backend edge.Backend) FragmentDispatcher {
	return DispatchFunc(func(ctx context.Context, req *edge.Request) (FragmentContent, error) {
		return Pending(req.SendAsync(ctx, backend)), nil
	})
}

var errMocked = errors.New("mocked error")
