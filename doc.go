// SPDX-License-Identifier: GPL-3.0-or-later

// Package esi implements Edge Side Includes processing.
//
// A [*Processor] scans a document for directives such as
//
//	<esi:include src="/fragment" alt="/fallback" onerror="continue"/>
//
// fetches all the referenced fragments concurrently, and assembles the
// output in document order, regardless of the order in which fetches
// complete.
//
// # Pipeline
//
// Each processing call runs four stages:
//
//   - [Parse] scans the source into a [*Document] of literal and include
//     nodes. A malformed directive yields a [*ScanError] and nothing else
//     happens.
//   - Every include is dispatched up front, in document order, either via
//     a caller-provided [FragmentDispatcher] or by sending the fragment
//     request to [Config.Backend].
//   - In-flight fragments are retired using the poll, select and wait
//     operations of [edge.PendingRequest].
//   - The document is assembled. A failed fragment is retried once using
//     its alt URL and then either skipped, with onerror="continue", or
//     reported as the error of the whole call.
//
// Fragment bodies containing directives are expanded recursively, up to
// [Config.MaxDepth] levels.
//
// # Errors
//
// Callers get either a complete document or a single error. Use
// [errors.Is] with [ErrScan], [ErrDispatch], [ErrTransport],
// [ErrPostProcess], [ErrTimeout], [ErrDepthExceeded] and [ErrConfig] to
// classify it, and [errors.As] with [*FragmentError] to know which
// fragment failed.
//
// # Observability
//
// Processing emits structured logs through [Config.Logger], which a
// [*log/slog.Logger] satisfies: esiProcessStart and esiProcessDone around
// each call, fragmentDispatchStart and fragmentDispatchDone around each
// dispatch, fragmentFetchDone when an in-flight fragment finishes, and
// fragmentFallback and fragmentSkipped for error handling. The transport
// events are documented in package [edge].
package esi
