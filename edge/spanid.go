// SPDX-License-Identifier: GPL-3.0-or-later

package edge

import (
	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// NewSpanID returns a UUIDv7 identifying a span.
//
// A span is a sequence of operations that can fail in a single, specific
// way, e.g., fetching one fragment or processing one document. The same
// generator names in-flight operations (see [PendingRequest.ID]).
//
// This function panics if the system random number generator fails.
func NewSpanID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}
