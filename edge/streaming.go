// SPDX-License-Identifier: GPL-3.0-or-later

package edge

import (
	"io"
	"sync"
)

// StreamingBody forwards writes to a client-facing sink until
// [*StreamingBody.Finish] is called.
//
// Methods are safe for concurrent use.
type StreamingBody struct {
	finished bool
	mu       sync.Mutex
	sink     io.Writer
}

var _ io.Writer = &StreamingBody{}

// NewStreamingBody returns a [*StreamingBody] writing to sink. When sink
// also implements [io.Closer], [*StreamingBody.Finish] closes it.
func NewStreamingBody(sink io.Writer) *StreamingBody {
	return &StreamingBody{sink: sink}
}

// Write implements [io.Writer].
func (sb *StreamingBody) Write(data []byte) (int, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.finished {
		return 0, ErrStreamingBodyFinished
	}
	return sb.sink.Write(data)
}

// Append moves the unread content of body into the stream.
func (sb *StreamingBody) Append(body *Body) error {
	if body == nil {
		return nil
	}
	if _, err := sb.Write(body.Bytes()); err != nil {
		return err
	}
	body.buf.Reset()
	return nil
}

// Finish marks the stream as complete. Subsequent writes fail with
// [ErrStreamingBodyFinished] and so does a second Finish.
func (sb *StreamingBody) Finish() error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.finished {
		return ErrStreamingBodyFinished
	}
	sb.finished = true
	if closer, ok := sb.sink.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
