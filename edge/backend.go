// SPDX-License-Identifier: GPL-3.0-or-later

package edge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"sync"

	"github.com/bassosimone/safeconn"
)

// Backend sends requests to an origin.
type Backend interface {
	// Name returns the backend name.
	Name() string

	// RoundTrip sends req and returns a response with a fully buffered
	// body. Non-2xx statuses are not errors.
	RoundTrip(ctx context.Context, req *Request) (*Response, error)
}

// BackendFunc adapts a function to the [Backend] interface.
type BackendFunc func(ctx context.Context, req *Request) (*Response, error)

var _ Backend = BackendFunc(nil)

// Name implements [Backend].
func (fx BackendFunc) Name() string {
	return "func"
}

// RoundTrip implements [Backend].
func (fx BackendFunc) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	return fx(ctx, req)
}

// ErrUnsupportedScheme indicates a URL scheme other than http and https.
var ErrUnsupportedScheme = errors.New("edge: unsupported URL scheme")

// NewDynamicBackend returns a [*DynamicBackend].
func NewDynamicBackend(cfg *Config, logger SLogger) *DynamicBackend {
	return &DynamicBackend{fetcher: newOriginFetcher(cfg, logger)}
}

// DynamicBackend sends each request to the origin named by its URL.
type DynamicBackend struct {
	fetcher *originFetcher
}

var _ Backend = &DynamicBackend{}

// Name implements [Backend].
func (b *DynamicBackend) Name() string {
	return "dynamic"
}

// RoundTrip implements [Backend].
func (b *DynamicBackend) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	if req.URL == nil {
		return nil, fmt.Errorf("%w: missing URL", ErrUnsupportedScheme)
	}
	return b.fetcher.fetch(ctx, b.Name(), req.URL, req)
}

// NewStaticBackend returns a [*StaticBackend] named name that sends every
// request to origin, e.g. "https://origin.example.com".
func NewStaticBackend(cfg *Config, name, origin string, logger SLogger) (*StaticBackend, error) {
	URL, err := url.Parse(origin)
	if err != nil {
		return nil, err
	}
	if URL.Scheme != "http" && URL.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, URL.Scheme)
	}
	backend := &StaticBackend{
		fetcher: newOriginFetcher(cfg, logger),
		name:    name,
		origin:  URL,
	}
	return backend, nil
}

// StaticBackend sends every request to a fixed origin, keeping the
// path and query of the request URL.
type StaticBackend struct {
	fetcher *originFetcher
	name    string
	origin  *url.URL
}

var _ Backend = &StaticBackend{}

// Name implements [Backend].
func (b *StaticBackend) Name() string {
	return b.name
}

// RoundTrip implements [Backend].
func (b *StaticBackend) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	target := *b.origin
	if req.URL != nil {
		target.Path = req.URL.Path
		target.RawPath = req.URL.RawPath
		target.RawQuery = req.URL.RawQuery
	}
	return b.fetcher.fetch(ctx, b.name, &target, req)
}

// originFetcher resolves the origin and runs a fresh connection
// pipeline for each request.
type originFetcher struct {
	cfg          *Config
	logger       SLogger
	resolver     Resolver
	resolverOnce sync.Once
}

func newOriginFetcher(cfg *Config, logger SLogger) *originFetcher {
	return &originFetcher{cfg: cfg, logger: logger}
}

func (f *originFetcher) getResolver() Resolver {
	f.resolverOnce.Do(func() {
		f.resolver = f.cfg.Resolver
		if f.resolver == nil {
			f.resolver = NewDNSResolver(f.cfg, DefaultDNSServer, f.logger)
		}
	})
	return f.resolver
}

func (f *originFetcher) fetch(ctx context.Context, backend string, target *url.URL, req *Request) (*Response, error) {
	port, err := originPort(target)
	if err != nil {
		return nil, err
	}
	addrs, err := f.getResolver().LookupHost(ctx, target.Hostname())
	if err != nil {
		return nil, err
	}

	// Try the addresses in order until one connects.
	var errv []error
	for _, addr := range addrs {
		hc, err := f.dial(ctx, target, netip.AddrPortFrom(addr, port))
		if err != nil {
			errv = append(errv, err)
			continue
		}
		f.logger.Debug(
			"originConnected",
			slog.String("backend", backend),
			slog.String("remoteAddr", safeconn.RemoteAddr(hc.Conn())),
		)
		return f.roundTrip(ctx, hc, target, req)
	}
	if len(errv) <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoAddresses, target.Hostname())
	}
	return nil, errors.Join(errv...)
}

func (f *originFetcher) dial(ctx context.Context, target *url.URL, endpoint netip.AddrPort) (*HTTPConn, error) {
	if target.Scheme == "https" {
		return Compose6(
			NewEndpointFunc(endpoint),
			NewConnectFunc(f.cfg, "tcp", f.logger),
			NewObserveConnFunc(f.cfg, f.logger),
			NewCancelWatchFunc(),
			NewTLSHandshakeFunc(f.cfg, OriginTLSConfig(f.cfg.TLSConfig, target.Hostname()), f.logger),
			NewHTTPConnFunc[TLSConn](f.cfg, f.logger),
		).Call(ctx, Unit{})
	}
	return Compose5(
		NewEndpointFunc(endpoint),
		NewConnectFunc(f.cfg, "tcp", f.logger),
		NewObserveConnFunc(f.cfg, f.logger),
		NewCancelWatchFunc(),
		NewHTTPConnFunc[net.Conn](f.cfg, f.logger),
	).Call(ctx, Unit{})
}

func (f *originFetcher) roundTrip(ctx context.Context, hc *HTTPConn, target *url.URL, req *Request) (*Response, error) {
	defer hc.Close()

	var body io.Reader = http.NoBody
	if req.Body != nil && req.Body.Len() > 0 {
		body = req.Body
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	if body != http.NoBody {
		httpReq.ContentLength = int64(req.Body.Len())
	}
	httpReq.Header = req.Header.Clone()
	if httpReq.Header == nil {
		httpReq.Header = http.Header{}
	}
	if req.URL != nil && req.URL.Host != "" {
		httpReq.Host = req.URL.Host
	}

	httpResp, err := hc.RoundTrip(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()
	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       NewBodyFromBytes(data),
	}
	return resp, nil
}

func originPort(target *url.URL) (uint16, error) {
	if value := target.Port(); value != "" {
		port, err := strconv.ParseUint(value, 10, 16)
		if err != nil {
			return 0, err
		}
		return uint16(port), nil
	}
	switch target.Scheme {
	case "http":
		return 80, nil
	case "https":
		return 443, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedScheme, target.Scheme)
	}
}
