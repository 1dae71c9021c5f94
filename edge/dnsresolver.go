// SPDX-License-Identifier: GPL-3.0-or-later

package edge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/bassosimone/dnscodec"
	"github.com/miekg/dns"
)

// Resolver maps an origin host name to a list of addresses.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]netip.Addr, error)
}

// ResolverFunc adapts a function to the [Resolver] interface.
type ResolverFunc func(ctx context.Context, host string) ([]netip.Addr, error)

var _ Resolver = ResolverFunc(nil)

// LookupHost implements [Resolver].
func (fx ResolverFunc) LookupHost(ctx context.Context, host string) ([]netip.Addr, error) {
	return fx(ctx, host)
}

// DNS server protocols understood by [*DNSResolver].
const (
	DNSProtocolUDP   = "udp"
	DNSProtocolTCP   = "tcp"
	DNSProtocolTLS   = "dot"
	DNSProtocolHTTPS = "doh"
)

// DNSServer describes the DNS server used by a [*DNSResolver].
type DNSServer struct {
	// Protocol is one of the DNSProtocol constants.
	Protocol string

	// Address is the server endpoint.
	Address netip.AddrPort

	// ServerName is the TLS server name for "dot" and "doh".
	ServerName string

	// URL is the DoH endpoint URL for "doh".
	URL string
}

// DefaultDNSServer is the server used when [Config.Resolver] is nil.
var DefaultDNSServer = DNSServer{
	Protocol: DNSProtocolUDP,
	Address:  netip.MustParseAddrPort("8.8.8.8:53"),
}

// ErrNoAddresses indicates that a lookup returned no usable address.
var ErrNoAddresses = errors.New("edge: no addresses for host")

// ErrUnknownDNSProtocol indicates an unsupported [DNSServer.Protocol].
var ErrUnknownDNSProtocol = errors.New("edge: unknown DNS protocol")

// NewDNSResolver returns a new [*DNSResolver].
func NewDNSResolver(cfg *Config, server DNSServer, logger SLogger) *DNSResolver {
	return &DNSResolver{Config: cfg, Logger: logger, Server: server}
}

// DNSResolver resolves host names by querying A records with a fresh
// connection to [DNSServer] per lookup. IP literals bypass the server.
type DNSResolver struct {
	// Config is the [*Config] used to build connection pipelines.
	//
	// Set by [NewDNSResolver] to the user-provided value.
	Config *Config

	// Logger is the [SLogger] to use.
	//
	// Set by [NewDNSResolver] to the user-provided logger.
	Logger SLogger

	// Server is the [DNSServer] to query.
	//
	// Set by [NewDNSResolver] to the user-provided value.
	Server DNSServer
}

var _ Resolver = &DNSResolver{}

// LookupHost implements [Resolver].
func (r *DNSResolver) LookupHost(ctx context.Context, host string) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{addr}, nil
	}

	conn, err := r.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	resp, err := conn.Exchange(ctx, dnscodec.NewQuery(host, dns.TypeA))
	if err != nil {
		return nil, err
	}
	records, err := resp.RecordsA()
	if err != nil {
		return nil, err
	}

	var addrs []netip.Addr
	for _, record := range records {
		if addr, err := netip.ParseAddr(record); err == nil {
			addrs = append(addrs, addr)
		}
	}
	if len(addrs) <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoAddresses, host)
	}
	return addrs, nil
}

func (r *DNSResolver) dial(ctx context.Context) (dnsExchangeConn, error) {
	cfg, logger, server := r.Config, r.Logger, r.Server
	switch server.Protocol {
	case DNSProtocolUDP:
		return Compose4(
			NewEndpointFunc(server.Address),
			NewConnectFunc(cfg, "udp", logger),
			NewCancelWatchFunc(),
			FuncAdapter[net.Conn, dnsExchangeConn](func(ctx context.Context, conn net.Conn) (dnsExchangeConn, error) {
				return &dnsOverUDPConn{conn, newDNSLogContext(cfg, logger, conn, DNSProtocolUDP)}, nil
			}),
		).Call(ctx, Unit{})

	case DNSProtocolTCP:
		return Compose4(
			NewEndpointFunc(server.Address),
			NewConnectFunc(cfg, "tcp", logger),
			NewCancelWatchFunc(),
			FuncAdapter[net.Conn, dnsExchangeConn](func(ctx context.Context, conn net.Conn) (dnsExchangeConn, error) {
				return &dnsOverTCPConn{conn, newDNSLogContext(cfg, logger, conn, DNSProtocolTCP)}, nil
			}),
		).Call(ctx, Unit{})

	case DNSProtocolTLS:
		tlsConfig := OriginTLSConfig(cfg.TLSConfig, server.ServerName)
		tlsConfig.NextProtos = []string{"dot"}
		return Compose5(
			NewEndpointFunc(server.Address),
			NewConnectFunc(cfg, "tcp", logger),
			NewCancelWatchFunc(),
			NewTLSHandshakeFunc(cfg, tlsConfig, logger),
			FuncAdapter[TLSConn, dnsExchangeConn](func(ctx context.Context, conn TLSConn) (dnsExchangeConn, error) {
				return &dnsOverTLSConn{conn, newDNSLogContext(cfg, logger, conn, DNSProtocolTLS)}, nil
			}),
		).Call(ctx, Unit{})

	case DNSProtocolHTTPS:
		return Compose6(
			NewEndpointFunc(server.Address),
			NewConnectFunc(cfg, "tcp", logger),
			NewCancelWatchFunc(),
			NewTLSHandshakeFunc(cfg, OriginTLSConfig(cfg.TLSConfig, server.ServerName), logger),
			NewHTTPConnFunc[TLSConn](cfg, logger),
			FuncAdapter[*HTTPConn, dnsExchangeConn](func(ctx context.Context, hc *HTTPConn) (dnsExchangeConn, error) {
				lc := newDNSLogContext(cfg, logger, hc.Conn(), DNSProtocolHTTPS)
				return &dnsOverHTTPSConn{hc: hc, lc: lc, url: server.URL}, nil
			}),
		).Call(ctx, Unit{})

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDNSProtocol, server.Protocol)
	}
}
