// SPDX-License-Identifier: GPL-3.0-or-later

package edge

import (
	"bytes"
	"io"
)

// Body is an in-memory message body. Writes append at the end and reads
// consume from the front.
//
// A Body is not safe for concurrent use.
//
// The zero value is an empty body ready to use.
type Body struct {
	buf bytes.Buffer
}

var (
	_ io.Reader       = &Body{}
	_ io.Writer       = &Body{}
	_ io.StringWriter = &Body{}
)

// NewBody returns an empty [*Body].
func NewBody() *Body {
	return &Body{}
}

// NewBodyFromBytes returns a [*Body] holding a copy of data.
func NewBodyFromBytes(data []byte) *Body {
	body := &Body{}
	body.buf.Write(data)
	return body
}

// NewBodyFromString returns a [*Body] holding data.
func NewBodyFromString(data string) *Body {
	body := &Body{}
	body.buf.WriteString(data)
	return body
}

// Write implements [io.Writer].
func (b *Body) Write(data []byte) (int, error) {
	return b.buf.Write(data)
}

// WriteString implements [io.StringWriter].
func (b *Body) WriteString(data string) (int, error) {
	return b.buf.WriteString(data)
}

// Append moves the unread content of other at the end of b, leaving
// other empty. Appending a nil body is a no-op.
func (b *Body) Append(other *Body) {
	if other == nil || other == b {
		return
	}
	b.buf.Write(other.buf.Bytes())
	other.buf.Reset()
}

// Read implements [io.Reader].
func (b *Body) Read(data []byte) (int, error) {
	return b.buf.Read(data)
}

// Bytes returns the unread content. The slice aliases the body storage
// and is valid only until the next modification.
func (b *Body) Bytes() []byte {
	return b.buf.Bytes()
}

// String returns the unread content as a string.
func (b *Body) String() string {
	return b.buf.String()
}

// Len returns the number of unread bytes.
func (b *Body) Len() int {
	return b.buf.Len()
}
