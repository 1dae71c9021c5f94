// SPDX-License-Identifier: GPL-3.0-or-later

package edge

import "errors"

// ErrHandleConsumed indicates that a [*PendingRequest] was already
// consumed by [*PendingRequest.Poll], [*PendingRequest.Wait] or [Select].
var ErrHandleConsumed = errors.New("edge: pending request handle already consumed")

// ErrEmptySelect indicates that [Select] was called without handles.
var ErrEmptySelect = errors.New("edge: select called with no pending requests")

// ErrStreamingBodyFinished indicates a write after [*StreamingBody.Finish].
var ErrStreamingBodyFinished = errors.New("edge: streaming body already finished")

// ErrNoBackend indicates that a request was sent without a [Backend].
var ErrNoBackend = errors.New("edge: no backend")
