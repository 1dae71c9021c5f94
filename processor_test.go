// SPDX-License-Identifier: GPL-3.0-or-later

package esi

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/bassosimone/esi/edge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProcessor(t *testing.T, mutate func(cfg *Config)) *Processor {
	cfg := NewConfig()
	if mutate != nil {
		mutate(cfg)
	}
	proc, err := NewProcessor(nil, cfg)
	require.NoError(t, err)
	return proc
}

// The output follows the document order even when /b completes first.
func TestProcessDocumentOrder(t *testing.T) {
	bDone := make(chan struct{})
	origin := &stubOrigin{
		bodies: map[string]string{"/a": "A", "/b": "B"},
		delay: func(ctx context.Context, path string) error {
			switch path {
			case "/a":
				<-bDone
				time.Sleep(10 * time.Millisecond)
			case "/b":
				close(bDone)
			}
			return nil
		},
	}
	logger, sink := newCapturingLogger()
	proc := newTestProcessor(t, func(cfg *Config) { cfg.Logger = logger })

	out, err := proc.ProcessDocument(context.Background(),
		`<div><esi:include src="/a"/><esi:include src="/b"/></div>`, asyncDispatcher(origin.Backend()), nil)

	require.NoError(t, err)
	assert.Equal(t, "<div>AB</div>", out)
	messages := sink.Messages()
	assert.Equal(t, "esiProcessStart", messages[0])
	assert.Equal(t, "esiProcessDone", messages[len(messages)-1])
	assert.Contains(t, messages, "fragmentFetchDone")
}

// Fragments completing in random order always yield the same output.
func TestProcessDocumentOrderInvariance(t *testing.T) {
	const count = 8
	var (
		source strings.Builder
		want   strings.Builder
	)
	bodies := map[string]string{}
	for idx := range count {
		path := fmt.Sprintf("/f%d", idx)
		bodies[path] = fmt.Sprintf("[%d]", idx)
		fmt.Fprintf(&source, "<li><esi:include src=%q/></li>", path)
		fmt.Fprintf(&want, "<li>[%d]</li>", idx)
	}
	origin := &stubOrigin{
		bodies: bodies,
		delay: func(ctx context.Context, path string) error {
			time.Sleep(time.Duration(rand.IntN(3000)) * time.Microsecond)
			return nil
		},
	}
	proc := newTestProcessor(t, nil)

	for range 16 {
		out, err := proc.ProcessDocument(context.Background(), source.String(), asyncDispatcher(origin.Backend()), nil)
		require.NoError(t, err)
		assert.Equal(t, want.String(), out)
	}
}

func TestProcessDocumentErrorPolicy(t *testing.T) {
	tests := []struct {
		// name describes what this test case verifies.
		name string

		// source is the document to process.
		source string

		// want is the expected output when wantErr is nil.
		want string

		// wantErr is the expected error kind, or nil.
		wantErr error
	}{
		{
			name:   "unreachable src with reachable alt",
			source: `<p><esi:include src="/missing" alt="/ok"/></p>`,
			want:   "<p>OK</p>",
		},

		{
			name:   "transport failure with reachable alt",
			source: `<p><esi:include src="/broken" alt="/ok"/></p>`,
			want:   "<p>OK</p>",
		},

		{
			name:   "continue on error",
			source: `<p>a<esi:include src="/missing" onerror="continue"/>b<esi:include src="/ok"/></p>`,
			want:   "<p>abOK</p>",
		},

		{
			name:   "alt fails too then continue",
			source: `<p><esi:include src="/missing" alt="/broken" onerror="continue"/></p>`,
			want:   "<p></p>",
		},

		{
			name:    "failure without escape aborts",
			source:  `<p><esi:include src="/ok"/><esi:include src="/broken"/></p>`,
			wantErr: ErrTransport,
		},

		{
			name:    "failing alt without continue aborts",
			source:  `<p><esi:include src="/missing" alt="/missing-too"/></p>`,
			wantErr: ErrTransport,
		},

		{
			name:    "malformed directive aborts before any fetch",
			source:  `<p><esi:include src="/ok"/><esi:include alt="/ok"/></p>`,
			wantErr: ErrScan,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			origin := &stubOrigin{
				bodies:   map[string]string{"/ok": "OK"},
				failures: map[string]error{"/broken": errMocked},
			}
			proc := newTestProcessor(t, nil)

			out, err := proc.ProcessDocument(context.Background(), tt.source, asyncDispatcher(origin.Backend()), nil)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, "", out)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestProcessDocumentScanErrorDispatchesNothing(t *testing.T) {
	origin := &stubOrigin{bodies: map[string]string{"/ok": "OK"}}
	proc := newTestProcessor(t, nil)

	_, err := proc.ProcessDocument(context.Background(),
		`<esi:include src="/ok"/><esi:include src="/ok"`, asyncDispatcher(origin.Backend()), nil)

	var scanErr *ScanError
	require.ErrorAs(t, err, &scanErr)
	assert.Equal(t, 24, scanErr.Offset)
	assert.Empty(t, origin.Requests())
}

// A failing fragment without alt or onerror yields an error naming it.
func TestProcessDocumentFragmentError(t *testing.T) {
	origin := &stubOrigin{failures: map[string]error{"/a": errMocked}}
	proc := newTestProcessor(t, nil)

	out, err := proc.ProcessDocument(context.Background(),
		`<div><esi:include src="/a"/></div>`, asyncDispatcher(origin.Backend()), nil)

	assert.Equal(t, "", out)
	var fragErr *FragmentError
	require.ErrorAs(t, err, &fragErr)
	assert.Equal(t, "/a", fragErr.URL)
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, errMocked)
}

// A non-2xx status is a failure reporting the status.
func TestProcessDocumentStatusError(t *testing.T) {
	origin := &stubOrigin{}
	proc := newTestProcessor(t, nil)

	_, err := proc.ProcessDocument(context.Background(),
		`<esi:include src="/missing"/>`, asyncDispatcher(origin.Backend()), nil)

	var statusErr *edge.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 404, statusErr.StatusCode)
}

func TestProcessDocumentDispatchOutcomes(t *testing.T) {
	t.Run("no content everywhere with continue yields the skeleton", func(t *testing.T) {
		dispatcher := DispatchFunc(func(ctx context.Context, req *edge.Request) (FragmentContent, error) {
			return NoContent(), nil
		})
		proc := newTestProcessor(t, nil)

		out, err := proc.ProcessDocument(context.Background(),
			`<ul><li><esi:include src="/a" onerror="continue"/></li><li><esi:include src="/b" onerror="continue"/></li></ul>`,
			dispatcher, nil)

		require.NoError(t, err)
		assert.Equal(t, "<ul><li></li><li></li></ul>", out)
	})

	t.Run("no content without continue", func(t *testing.T) {
		dispatcher := DispatchFunc(func(ctx context.Context, req *edge.Request) (FragmentContent, error) {
			return NoContent(), nil
		})
		proc := newTestProcessor(t, nil)

		_, err := proc.ProcessDocument(context.Background(), `<esi:include src="/a"/>`, dispatcher, nil)
		require.ErrorIs(t, err, ErrDispatch)
	})

	t.Run("dispatcher error", func(t *testing.T) {
		dispatcher := DispatchFunc(func(ctx context.Context, req *edge.Request) (FragmentContent, error) {
			return FragmentContent{}, errMocked
		})
		proc := newTestProcessor(t, nil)

		_, err := proc.ProcessDocument(context.Background(), `<esi:include src="/a"/>`, dispatcher, nil)
		require.ErrorIs(t, err, ErrDispatch)
		require.ErrorIs(t, err, errMocked)
	})

	t.Run("completed content short-circuits", func(t *testing.T) {
		dispatcher := DispatchFunc(func(ctx context.Context, req *edge.Request) (FragmentContent, error) {
			return Completed(edge.NewResponseFromBody(edge.NewBodyFromString("cached:" + req.URL.Path))), nil
		})
		proc := newTestProcessor(t, nil)

		out, err := proc.ProcessDocument(context.Background(), `<esi:include src="/a"/>|<esi:include src="/b"/>`, dispatcher, nil)
		require.NoError(t, err)
		assert.Equal(t, "cached:/a|cached:/b", out)
	})

	t.Run("mixed outcomes", func(t *testing.T) {
		origin := &stubOrigin{bodies: map[string]string{"/async": "async"}}
		dispatcher := DispatchFunc(func(ctx context.Context, req *edge.Request) (FragmentContent, error) {
			switch req.URL.Path {
			case "/async":
				return Pending(req.SendAsync(ctx, origin.Backend())), nil
			case "/sync":
				return Completed(edge.NewResponseFromBody(edge.NewBodyFromString("sync"))), nil
			default:
				return NoContent(), nil
			}
		})
		proc := newTestProcessor(t, nil)

		out, err := proc.ProcessDocument(context.Background(),
			`<esi:include src="/async"/>-<esi:include src="/none" alt="/sync"/>-<esi:include src="/sync"/>`, dispatcher, nil)
		require.NoError(t, err)
		assert.Equal(t, "async-sync-sync", out)
	})

	t.Run("already consumed handle", func(t *testing.T) {
		origin := &stubOrigin{bodies: map[string]string{"/a": "A"}}
		dispatcher := DispatchFunc(func(ctx context.Context, req *edge.Request) (FragmentContent, error) {
			handle := req.SendAsync(ctx, origin.Backend())
			if _, err := handle.Wait(ctx); err != nil {
				return FragmentContent{}, err
			}
			return Pending(handle), nil
		})
		proc := newTestProcessor(t, nil)

		_, err := proc.ProcessDocument(context.Background(), `<esi:include src="/a"/>`, dispatcher, nil)
		require.ErrorIs(t, err, edge.ErrHandleConsumed)
	})
}

func TestProcessDocumentPostProcess(t *testing.T) {
	origin := &stubOrigin{bodies: map[string]string{"/a": "A", "/b": "B", "/alt": "ALT"}}

	t.Run("replaces fragment content", func(t *testing.T) {
		processor := ProcessFunc(func(ctx context.Context, req *edge.Request, resp *edge.Response) (*edge.Response, error) {
			return edge.NewResponseFromBody(edge.NewBodyFromString("<!-- Processed " + req.URL.Path + " -->")), nil
		})
		proc := newTestProcessor(t, nil)

		out, err := proc.ProcessDocument(context.Background(),
			`<esi:include src="/a"/><esi:include src="/b"/>`, asyncDispatcher(origin.Backend()), processor)
		require.NoError(t, err)
		assert.Equal(t, "<!-- Processed /a --><!-- Processed /b -->", out)
	})

	t.Run("failure falls back to alt", func(t *testing.T) {
		processor := ProcessFunc(func(ctx context.Context, req *edge.Request, resp *edge.Response) (*edge.Response, error) {
			if req.URL.Path == "/a" {
				return nil, errMocked
			}
			return resp, nil
		})
		proc := newTestProcessor(t, nil)

		out, err := proc.ProcessDocument(context.Background(),
			`<esi:include src="/a" alt="/alt"/>`, asyncDispatcher(origin.Backend()), processor)
		require.NoError(t, err)
		assert.Equal(t, "ALT", out)
	})

	t.Run("nil response aborts", func(t *testing.T) {
		processor := ProcessFunc(func(ctx context.Context, req *edge.Request, resp *edge.Response) (*edge.Response, error) {
			return nil, nil
		})
		proc := newTestProcessor(t, nil)

		_, err := proc.ProcessDocument(context.Background(), `<esi:include src="/a"/>`, asyncDispatcher(origin.Backend()), processor)
		require.ErrorIs(t, err, ErrPostProcess)
	})
}

// A response shared between includes and calls renders every time.
func TestProcessDocumentSharedResponses(t *testing.T) {
	t.Run("completed content", func(t *testing.T) {
		cached := edge.NewResponseFromBody(edge.NewBodyFromString("HDR"))
		dispatcher := DispatchFunc(func(ctx context.Context, req *edge.Request) (FragmentContent, error) {
			return Completed(cached), nil
		})
		proc := newTestProcessor(t, nil)

		for range 2 {
			out, err := proc.ProcessDocument(context.Background(),
				`<esi:include src="/h"/>|<esi:include src="/h"/>`, dispatcher, nil)
			require.NoError(t, err)
			assert.Equal(t, "HDR|HDR", out)
		}
		assert.Equal(t, "HDR", cached.Body.String())
	})

	t.Run("completed content with directives", func(t *testing.T) {
		origin := &stubOrigin{bodies: map[string]string{"/inner": "in"}}
		cached := edge.NewResponseFromBody(edge.NewBodyFromString(`(<esi:include src="/inner"/>)`))
		dispatcher := DispatchFunc(func(ctx context.Context, req *edge.Request) (FragmentContent, error) {
			if req.URL.Path == "/h" {
				return Completed(cached), nil
			}
			return Pending(req.SendAsync(ctx, origin.Backend())), nil
		})
		proc := newTestProcessor(t, nil)

		out, err := proc.ProcessDocument(context.Background(),
			`<esi:include src="/h"/><esi:include src="/h"/>`, dispatcher, nil)
		require.NoError(t, err)
		assert.Equal(t, "(in)(in)", out)
		assert.Equal(t, `(<esi:include src="/inner"/>)`, cached.Body.String())
	})

	t.Run("post-processor placeholder", func(t *testing.T) {
		origin := &stubOrigin{bodies: map[string]string{"/a": "A", "/b": "B"}}
		placeholder := edge.NewResponseFromBody(edge.NewBodyFromString("<!-- Processed -->"))
		processor := ProcessFunc(func(ctx context.Context, req *edge.Request, resp *edge.Response) (*edge.Response, error) {
			return placeholder, nil
		})
		proc := newTestProcessor(t, nil)

		out, err := proc.ProcessDocument(context.Background(),
			`<esi:include src="/a"/>|<esi:include src="/b"/>`, asyncDispatcher(origin.Backend()), processor)
		require.NoError(t, err)
		assert.Equal(t, "<!-- Processed -->|<!-- Processed -->", out)
		assert.Equal(t, "<!-- Processed -->", placeholder.Body.String())
	})
}

func TestProcessDocumentNested(t *testing.T) {
	origin := &stubOrigin{bodies: map[string]string{
		"/outer": `(<esi:include src="/inner"/><esi:comment text="x"/>)`,
		"/inner": "inner",
		"/plain": "a < b",
		"/loop":  `<esi:include src="/loop"/>`,
		"/bad":   `<esi:include/>`,
	}}

	t.Run("expands nested directives", func(t *testing.T) {
		proc := newTestProcessor(t, nil)
		out, err := proc.ProcessDocument(context.Background(),
			`[<esi:include src="/outer"/>|<esi:include src="/plain"/>]`, asyncDispatcher(origin.Backend()), nil)
		require.NoError(t, err)
		assert.Equal(t, "[(inner)|a < b]", out)
	})

	t.Run("bounded depth", func(t *testing.T) {
		proc := newTestProcessor(t, nil)
		_, err := proc.ProcessDocument(context.Background(), `<esi:include src="/loop"/>`, asyncDispatcher(origin.Backend()), nil)
		require.ErrorIs(t, err, ErrDepthExceeded)

		var loops int
		for _, req := range origin.Requests() {
			if req.URL.Path == "/loop" {
				loops++
			}
		}
		assert.Equal(t, DefaultMaxDepth+1, loops)
	})

	t.Run("zero depth forbids nested directives", func(t *testing.T) {
		proc := newTestProcessor(t, func(cfg *Config) { cfg.MaxDepth = 0 })
		out, err := proc.ProcessDocument(context.Background(),
			`<esi:include src="/outer" onerror="continue"/><esi:include src="/plain"/>`, asyncDispatcher(origin.Backend()), nil)
		require.NoError(t, err)
		assert.Equal(t, "a < b", out)

		_, err = proc.ProcessDocument(context.Background(),
			`<esi:include src="/outer"/>`, asyncDispatcher(origin.Backend()), nil)
		require.ErrorIs(t, err, ErrDepthExceeded)
	})

	t.Run("malformed fragment is fatal", func(t *testing.T) {
		proc := newTestProcessor(t, nil)
		_, err := proc.ProcessDocument(context.Background(),
			`<esi:include src="/bad" onerror="continue"/>`, asyncDispatcher(origin.Backend()), nil)
		require.ErrorIs(t, err, ErrScan)
	})
}

func TestProcessDocumentTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	origin := &stubOrigin{
		bodies: map[string]string{"/fast": "fast", "/slow": "slow"},
		delay: func(ctx context.Context, path string) error {
			if path != "/slow" {
				return nil
			}
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	proc := newTestProcessor(t, func(cfg *Config) { cfg.Timeout = 50 * time.Millisecond })

	t.Run("continue skips the timed out fragments", func(t *testing.T) {
		out, err := proc.ProcessDocument(context.Background(),
			`<esi:include src="/slow" onerror="continue"/>|<esi:include src="/fast"/>|<esi:include src="/slow" onerror="continue"/>`,
			asyncDispatcher(origin.Backend()), nil)
		require.NoError(t, err)
		assert.Equal(t, "|fast|", out)
	})

	t.Run("otherwise the call fails", func(t *testing.T) {
		_, err := proc.ProcessDocument(context.Background(),
			`<esi:include src="/fast"/><esi:include src="/slow"/>`, asyncDispatcher(origin.Backend()), nil)
		require.ErrorIs(t, err, ErrTimeout)
	})
}

// Without a dispatcher, fragments go to the configured backend.
func TestProcessDocumentDefaultBackend(t *testing.T) {
	origin := &stubOrigin{bodies: map[string]string{"/a": "A", "/b": "B"}}
	proc := newTestProcessor(t, func(cfg *Config) { cfg.Backend = origin.Backend() })

	out, err := proc.ProcessDocument(context.Background(),
		`<esi:include src="/a"/><esi:include src="/missing" alt="/b"/>`, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, "AB", out)
	assert.Len(t, origin.Requests(), 3)
}

// Fragment requests inherit from the template request.
func TestProcessDocumentTemplate(t *testing.T) {
	origin := &stubOrigin{bodies: map[string]string{"/frag": "F"}}
	template, err := edge.NewRequest("GET", "https://www.example.com/page?x=1")
	require.NoError(t, err)
	template.Header.Set("X-Client", "abc")
	template.AutoDecompressGzip = true
	template.Body = edge.NewBodyFromString("ignored")

	cfg := NewConfig()
	cfg.Backend = origin.Backend()
	proc, err := NewProcessor(template, cfg)
	require.NoError(t, err)

	out, err := proc.ProcessDocument(context.Background(),
		`<esi:include src="/frag"/><esi:include src="https://other.example/frag"/>`, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "FF", out)

	requests := origin.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, "https://www.example.com/frag", requests[0].URL.String())
	assert.Equal(t, "https://other.example/frag", requests[1].URL.String())
	for _, req := range requests {
		assert.Equal(t, "abc", req.Header.Get("X-Client"))
		assert.True(t, req.AutoDecompressGzip)
		assert.Nil(t, req.Body)
	}
}

func TestProcessResponse(t *testing.T) {
	origin := &stubOrigin{bodies: map[string]string{"/a": "A"}}
	proc := newTestProcessor(t, nil)

	t.Run("success with client metadata", func(t *testing.T) {
		src := edge.NewResponseFromBody(edge.NewBodyFromString(`<b><esi:include src="/a"/></b>`))
		src.Header.Set("Content-Length", "30")
		src.Header.Set("X-Origin", "1")
		meta := edge.NewResponse()
		meta.StatusCode = 203
		meta.Header.Set("X-Client", "2")
		meta.Header.Set("Content-Length", "30")

		err := proc.ProcessResponse(context.Background(), src, meta, asyncDispatcher(origin.Backend()), nil)

		require.NoError(t, err)
		assert.Equal(t, "<b>A</b>", src.Body.String())
		assert.Equal(t, 203, src.StatusCode)
		assert.Equal(t, "2", src.Header.Get("X-Client"))
		assert.Empty(t, src.Header.Get("X-Origin"))
		assert.Empty(t, src.Header.Get("Content-Length"))
		assert.Equal(t, "30", meta.Header.Get("Content-Length"))
	})

	t.Run("success without client metadata", func(t *testing.T) {
		src := edge.NewResponseFromBody(edge.NewBodyFromString(`<b><esi:include src="/a"/></b>`))
		src.Header.Set("X-Origin", "1")

		err := proc.ProcessResponse(context.Background(), src, nil, asyncDispatcher(origin.Backend()), nil)

		require.NoError(t, err)
		assert.Equal(t, "<b>A</b>", src.Body.String())
		assert.Equal(t, 200, src.StatusCode)
		assert.Equal(t, "1", src.Header.Get("X-Origin"))
	})

	t.Run("failure leaves the response untouched", func(t *testing.T) {
		source := `<b><esi:include src="/missing"/></b>`
		src := edge.NewResponseFromBody(edge.NewBodyFromString(source))
		src.Header.Set("Content-Length", "36")

		err := proc.ProcessResponse(context.Background(), src, nil, asyncDispatcher(origin.Backend()), nil)

		require.ErrorIs(t, err, ErrTransport)
		assert.Equal(t, source, src.Body.String())
		assert.Equal(t, "36", src.Header.Get("Content-Length"))
	})
}

type finishingSink struct {
	strings.Builder
	finished bool
}

func (fs *finishingSink) Close() error {
	fs.finished = true
	return nil
}

func TestProcessResponseTo(t *testing.T) {
	origin := &stubOrigin{bodies: map[string]string{"/a": "A"}}
	proc := newTestProcessor(t, nil)

	t.Run("success", func(t *testing.T) {
		sink := &finishingSink{}
		src := edge.NewResponseFromBody(edge.NewBodyFromString(`1<esi:include src="/a"/>2`))

		err := proc.ProcessResponseTo(context.Background(), src, edge.NewStreamingBody(sink), asyncDispatcher(origin.Backend()), nil)

		require.NoError(t, err)
		assert.Equal(t, "1A2", sink.String())
		assert.True(t, sink.finished)
	})

	t.Run("failure writes nothing", func(t *testing.T) {
		sink := &finishingSink{}
		stream := edge.NewStreamingBody(sink)
		src := edge.NewResponseFromBody(edge.NewBodyFromString(`1<esi:include src="/missing"/>2`))

		err := proc.ProcessResponseTo(context.Background(), src, stream, asyncDispatcher(origin.Backend()), nil)

		require.Error(t, err)
		assert.Equal(t, "", sink.String())
		assert.False(t, sink.finished)
		_, err = stream.Write([]byte("error page"))
		require.NoError(t, err)
	})
}

func TestProcessDocumentLogsFallbackAndSkip(t *testing.T) {
	origin := &stubOrigin{bodies: map[string]string{"/ok": "OK"}}
	logger, sink := newCapturingLogger()
	proc := newTestProcessor(t, func(cfg *Config) { cfg.Logger = logger })

	_, err := proc.ProcessDocument(context.Background(),
		`<esi:include src="/missing" alt="/missing-too" onerror="continue"/>`, asyncDispatcher(origin.Backend()), nil)
	require.NoError(t, err)

	messages := sink.Messages()
	assert.Contains(t, messages, "fragmentFallback")
	assert.Contains(t, messages, "fragmentSkipped")
}
