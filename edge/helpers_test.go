// SPDX-License-Identifier: GPL-3.0-or-later

package edge

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"sync"

	"github.com/bassosimone/netstub"
	"github.com/bassosimone/slogstub"
	"github.com/bassosimone/tlsstub"
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

// newMockTLSEngine returns a [*tlsstub.FuncTLSEngine] always returning conn.
func newMockTLSEngine(conn TLSConn) *tlsstub.FuncTLSEngine[TLSConn] {
	return &tlsstub.FuncTLSEngine[TLSConn]{
		ClientFunc: func(c net.Conn, config *tls.Config) TLSConn {
			return conn
		},
		NameFunc: func() string {
			return "mock"
		},
		ParrotFunc: func() string {
			return ""
		},
	}
}

// newMinimalConn returns a [*netstub.FuncConn] with just the address
// functions set, which is what the safeconn helpers need.
func newMinimalConn() *netstub.FuncConn {
	return &netstub.FuncConn{
		LocalAddrFunc:  func() net.Addr { return &net.TCPAddr{} },
		RemoteAddrFunc: func() net.Addr { return &net.TCPAddr{} },
	}
}
