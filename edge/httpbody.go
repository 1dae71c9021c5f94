// SPDX-License-Identifier: GPL-3.0-or-later

package edge

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bassosimone/safeconn"
)

// observedBody logs httpBodyStreamStart on the first Read and, when at
// least one Read happened, httpBodyStreamDone on Close.
type observedBody struct {
	body      io.ReadCloser
	closeOnce sync.Once
	didRead   atomic.Bool
	hc        *HTTPConn
	readOnce  sync.Once
	t0        time.Time
}

var _ io.ReadCloser = &observedBody{}

func newObservedBody(body io.ReadCloser, hc *HTTPConn) *observedBody {
	return &observedBody{body: body, hc: hc}
}

func (b *observedBody) Read(buf []byte) (int, error) {
	b.readOnce.Do(func() {
		b.t0 = b.hc.TimeNow() // written before the release store below
		b.didRead.Store(true)
		b.hc.Logger.Info(
			"httpBodyStreamStart",
			slog.String("localAddr", safeconn.LocalAddr(b.hc.conn)),
			slog.String("remoteAddr", safeconn.RemoteAddr(b.hc.conn)),
			slog.Time("t", b.t0),
		)
	})
	return b.body.Read(buf)
}

func (b *observedBody) Close() (err error) {
	b.closeOnce.Do(func() {
		err = b.body.Close()
		if !b.didRead.Load() {
			return
		}
		b.hc.Logger.Info(
			"httpBodyStreamDone",
			slog.Any("err", err),
			slog.String("errClass", b.hc.ErrClassifier.Classify(err)),
			slog.String("localAddr", safeconn.LocalAddr(b.hc.conn)),
			slog.String("remoteAddr", safeconn.RemoteAddr(b.hc.conn)),
			slog.Time("t0", b.t0),
			slog.Time("t", b.hc.TimeNow()),
		)
	})
	return
}
