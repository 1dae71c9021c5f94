//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/bassosimone/nop/blob/main/httpconn.go
//

package edge

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/bassosimone/safeconn"
	"github.com/bassosimone/sud"
	"golang.org/x/net/http2"
)

// HTTPConn is an HTTP transport bound to a single origin connection.
//
// Each fragment fetch owns one HTTPConn and closes it once the response
// body has been read, so there is no connection reuse across fetches.
//
// Construct using [NewHTTPConnFunc].
type HTTPConn struct {
	conn          net.Conn
	txp           http.RoundTripper
	closeIdleFunc func()

	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	Logger SLogger

	// TimeNow returns the current time.
	TimeNow func() time.Time
}

// Conn returns the underlying [net.Conn].
func (hc *HTTPConn) Conn() net.Conn {
	return hc.conn
}

// Close closes idle transport state and the underlying connection.
func (hc *HTTPConn) Close() error {
	hc.closeIdleFunc()
	return hc.conn.Close()
}

// RoundTrip implements [http.RoundTripper].
//
// The returned response body emits httpBodyStreamStart on the first read
// and httpBodyStreamDone when closed.
func (hc *HTTPConn) RoundTrip(req *http.Request) (*http.Response, error) {
	t0 := hc.TimeNow()
	deadline, _ := req.Context().Deadline()
	hc.Logger.Info(
		"httpRoundTripStart",
		slog.Time("deadline", deadline),
		slog.String("httpMethod", req.Method),
		slog.String("httpUrl", req.URL.String()),
		slog.Any("httpRequestHeaders", req.Header),
		slog.String("localAddr", safeconn.LocalAddr(hc.conn)),
		slog.String("protocol", safeconn.Network(hc.conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(hc.conn)),
		slog.Time("t", t0),
	)

	resp, err := hc.txp.RoundTrip(req)

	var (
		statusCode int
		headers    http.Header
	)
	if resp != nil {
		statusCode = resp.StatusCode
		headers = resp.Header
	}
	hc.Logger.Info(
		"httpRoundTripDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", hc.ErrClassifier.Classify(err)),
		slog.String("httpMethod", req.Method),
		slog.String("httpUrl", req.URL.String()),
		slog.Any("httpResponseHeaders", headers),
		slog.Int("httpResponseStatusCode", statusCode),
		slog.String("localAddr", safeconn.LocalAddr(hc.conn)),
		slog.String("protocol", safeconn.Network(hc.conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(hc.conn)),
		slog.Time("t0", t0),
		slog.Time("t", hc.TimeNow()),
	)

	if err != nil {
		return nil, err
	}
	resp.Body = newObservedBody(resp.Body, hc)
	return resp, nil
}

// HTTPConnFunc turns a connection into an [*HTTPConn], choosing HTTP/2
// when ALPN negotiated "h2" and HTTP/1.1 otherwise.
//
// Use HTTPConnFunc[net.Conn] for cleartext origins and
// HTTPConnFunc[TLSConn] after a [*TLSHandshakeFunc].
//
// All fields are safe to modify after construction but before first use.
type HTTPConnFunc[T net.Conn] struct {
	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewHTTPConnFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewHTTPConnFunc] to the user-provided logger.
	Logger SLogger

	// TimeNow returns the current time.
	//
	// Set by [NewHTTPConnFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

// NewHTTPConnFunc returns a new [*HTTPConnFunc].
func NewHTTPConnFunc[T net.Conn](cfg *Config, logger SLogger) *HTTPConnFunc[T] {
	return &HTTPConnFunc[T]{
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
	}
}

var (
	_ Func[net.Conn, *HTTPConn] = &HTTPConnFunc[net.Conn]{}
	_ Func[TLSConn, *HTTPConn]  = &HTTPConnFunc[TLSConn]{}
)

// Call implements [Func].
func (op *HTTPConnFunc[T]) Call(ctx context.Context, conn T) (*HTTPConn, error) {
	var alpn string
	if cs, ok := any(conn).(interface{ ConnectionState() tls.ConnectionState }); ok {
		alpn = cs.ConnectionState().NegotiatedProtocol
	}

	dialer := sud.NewSingleUseDialer(conn)
	hc := &HTTPConn{
		conn:          conn,
		ErrClassifier: op.ErrClassifier,
		Logger:        op.Logger,
		TimeNow:       op.TimeNow,
	}

	// Compression stays under our control: see [Request.AutoDecompressGzip].
	if alpn == "h2" {
		txp := &http2.Transport{
			DialTLSContext:     dialer.DialTLSContext,
			DisableCompression: true,
		}
		hc.txp, hc.closeIdleFunc = txp, txp.CloseIdleConnections
		return hc, nil
	}
	txp := &http.Transport{
		DialContext:        dialer.DialContext,
		DialTLSContext:     dialer.DialContext,
		DisableKeepAlives:  true,
		DisableCompression: true,
	}
	hc.txp, hc.closeIdleFunc = txp, txp.CloseIdleConnections
	return hc, nil
}
