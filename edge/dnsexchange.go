// SPDX-License-Identifier: GPL-3.0-or-later

package edge

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/bassosimone/dnscodec"
	"github.com/bassosimone/dnsoverhttps"
	"github.com/bassosimone/dnsoverstream"
	"github.com/bassosimone/minest"
	"github.com/bassosimone/safeconn"
)

// dnsExchangeConn is a connection to a DNS server on which we can
// perform one or more query-response exchanges.
type dnsExchangeConn interface {
	Exchange(ctx context.Context, query *dnscodec.Query) (*dnscodec.Response, error)
	Close() error
}

// dnsLogContext holds the logging state shared by all the exchange kinds.
type dnsLogContext struct {
	errClassifier  ErrClassifier
	localAddr      string
	logger         SLogger
	remoteAddr     string
	serverProtocol string
	timeNow        func() time.Time
}

func newDNSLogContext(cfg *Config, logger SLogger, conn net.Conn, serverProtocol string) *dnsLogContext {
	return &dnsLogContext{
		errClassifier:  cfg.ErrClassifier,
		localAddr:      safeconn.LocalAddr(conn),
		logger:         logger,
		remoteAddr:     safeconn.RemoteAddr(conn),
		serverProtocol: serverProtocol,
		timeNow:        cfg.TimeNow,
	}
}

func (lc *dnsLogContext) start(t0, deadline time.Time) {
	lc.logger.Info(
		"dnsExchangeStart",
		slog.Time("deadline", deadline),
		slog.String("localAddr", lc.localAddr),
		slog.String("remoteAddr", lc.remoteAddr),
		slog.String("serverProtocol", lc.serverProtocol),
		slog.Time("t", t0),
	)
}

func (lc *dnsLogContext) done(t0, deadline time.Time, err error) {
	lc.logger.Info(
		"dnsExchangeDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", lc.errClassifier.Classify(err)),
		slog.String("localAddr", lc.localAddr),
		slog.String("remoteAddr", lc.remoteAddr),
		slog.String("serverProtocol", lc.serverProtocol),
		slog.Time("t0", t0),
		slog.Time("t", lc.timeNow()),
	)
}

func (lc *dnsLogContext) observeQuery(raw []byte) {
	lc.logger.Debug(
		"dnsQuery",
		slog.Any("dnsRawQuery", raw),
		slog.String("serverProtocol", lc.serverProtocol),
		slog.Time("t", lc.timeNow()),
	)
}

func (lc *dnsLogContext) observeResponse(raw []byte) {
	lc.logger.Debug(
		"dnsResponse",
		slog.Any("dnsRawResponse", raw),
		slog.String("serverProtocol", lc.serverProtocol),
		slog.Time("t", lc.timeNow()),
	)
}

// dnsUnusedDialer panics when dialing: exchanges always run on a
// connection that the pipeline has already established.
type dnsUnusedDialer struct{}

var _ Dialer = dnsUnusedDialer{}

func (dnsUnusedDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	panic("edge: DNS transport must not dial")
}

// dnsUnspecifiedAddrPort is the placeholder server address given to the
// transports, which never dial.
var dnsUnspecifiedAddrPort = netip.AddrPortFrom(netip.IPv4Unspecified(), 0)

// dnsOverUDPConn exchanges DNS messages over a connected UDP socket.
type dnsOverUDPConn struct {
	conn net.Conn
	lc   *dnsLogContext
}

func (c *dnsOverUDPConn) Close() error {
	return c.conn.Close()
}

func (c *dnsOverUDPConn) Exchange(ctx context.Context, query *dnscodec.Query) (*dnscodec.Response, error) {
	t0 := c.lc.timeNow()
	deadline, _ := ctx.Deadline()
	txp := minest.NewDNSOverUDPTransport(dnsUnusedDialer{}, dnsUnspecifiedAddrPort)
	txp.ObserveRawQuery = c.lc.observeQuery
	txp.ObserveRawResponse = c.lc.observeResponse
	c.lc.start(t0, deadline)
	resp, err := txp.ExchangeWithConn(ctx, c.conn, query)
	c.lc.done(t0, deadline, err)
	return resp, err
}

// dnsOverTCPConn exchanges DNS messages over a TCP connection.
type dnsOverTCPConn struct {
	conn net.Conn
	lc   *dnsLogContext
}

func (c *dnsOverTCPConn) Close() error {
	return c.conn.Close()
}

func (c *dnsOverTCPConn) Exchange(ctx context.Context, query *dnscodec.Query) (*dnscodec.Response, error) {
	t0 := c.lc.timeNow()
	deadline, _ := ctx.Deadline()
	txp := dnsoverstream.NewTransport(dnsoverstream.NewStreamOpenerDialerTCP(dnsUnusedDialer{}), dnsUnspecifiedAddrPort)
	txp.ObserveRawQuery = c.lc.observeQuery
	txp.ObserveRawResponse = c.lc.observeResponse
	c.lc.start(t0, deadline)
	resp, err := txp.ExchangeWithStreamOpener(ctx, dnsoverstream.NewTCPStreamOpener(c.conn), query)
	c.lc.done(t0, deadline, err)
	return resp, err
}

// dnsOverTLSConn exchanges DNS messages over a TLS connection.
type dnsOverTLSConn struct {
	conn TLSConn
	lc   *dnsLogContext
}

func (c *dnsOverTLSConn) Close() error {
	return c.conn.Close()
}

func (c *dnsOverTLSConn) Exchange(ctx context.Context, query *dnscodec.Query) (*dnscodec.Response, error) {
	t0 := c.lc.timeNow()
	deadline, _ := ctx.Deadline()
	txp := dnsoverstream.NewTransport(dnsoverstream.NewStreamOpenerDialerTCP(dnsUnusedDialer{}), dnsUnspecifiedAddrPort)
	txp.ObserveRawQuery = c.lc.observeQuery
	txp.ObserveRawResponse = c.lc.observeResponse
	c.lc.start(t0, deadline)
	resp, err := txp.ExchangeWithStreamOpener(ctx, dnsoverstream.NewTLSStreamOpener(c.conn), query)
	c.lc.done(t0, deadline, err)
	return resp, err
}

// dnsOverHTTPSConn exchanges DNS messages with a DoH server.
type dnsOverHTTPSConn struct {
	hc  *HTTPConn
	lc  *dnsLogContext
	url string
}

func (c *dnsOverHTTPSConn) Close() error {
	return c.hc.Close()
}

func (c *dnsOverHTTPSConn) Exchange(ctx context.Context, query *dnscodec.Query) (*dnscodec.Response, error) {
	t0 := c.lc.timeNow()
	deadline, _ := ctx.Deadline()
	c.lc.start(t0, deadline)
	resp, err := c.exchange(ctx, query)
	c.lc.done(t0, deadline, err)
	return resp, err
}

func (c *dnsOverHTTPSConn) exchange(ctx context.Context, query *dnscodec.Query) (*dnscodec.Response, error) {
	httpReq, queryMsg, err := dnsoverhttps.NewRequestWithHook(ctx, query, c.url, c.lc.observeQuery)
	if err != nil {
		return nil, err
	}
	httpResp, err := c.hc.RoundTrip(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()
	return dnsoverhttps.ReadResponseWithHook(ctx, httpResp, queryMsg, c.lc.observeResponse)
}
