// SPDX-License-Identifier: GPL-3.0-or-later

// Package edge provides the transport primitives used by an edge document
// processor to fetch fragments from origin backends.
//
// # Values
//
//   - [Request]: a request to send to a [Backend], carrying the transport
//     flags (e.g., [Request.AutoDecompressGzip]) that fragment requests
//     inherit from a template request.
//   - [Response]: a fully buffered response with a [*Body].
//   - [Body]: an append-only buffer; [StreamingBody] is its streaming
//     counterpart with explicit [StreamingBody.Finish] semantics.
//
// # In-flight Operations
//
// [Request.SendAsync] starts a request and returns a [*PendingRequest]. A
// pending request is a move-only handle: it is consumed exactly once by
// [PendingRequest.Poll], [PendingRequest.Wait] or [Select]. Consuming it a
// second time fails with [ErrHandleConsumed]. When Poll finds the operation
// still running, or when Select returns the operations that did not finish,
// the caller receives fresh handles for them. [PendingRequest.ID] is stable
// across handles for the same operation, so callers can map outcomes back
// to whatever slot started them.
//
// # Backends
//
// A [Backend] performs HTTP round trips. [NewDynamicBackend] connects to the
// origin implied by each request URL; [NewStaticBackend] always connects to
// a fixed origin. Both build connections with composable [Func] primitives:
//
//   - [ConnectFunc]: dials TCP or UDP endpoints
//   - [ObserveConnFunc]: logs I/O operations on a connection
//   - [CancelWatchFunc]: closes the connection when the context is done
//   - [TLSHandshakeFunc]: performs the TLS handshake
//   - [HTTPConnFunc]: wraps a connection with an HTTP/1.1 or HTTP/2 transport
//
// Origin names are resolved by a [Resolver]. The default is a [*DNSResolver]
// speaking DNS-over-UDP, DNS-over-TCP, DNS-over-TLS or DNS-over-HTTPS.
//
// # Observability
//
// All primitives log through [SLogger] (compatible with [log/slog]), which
// discards everything by default. Operations emit *Start/*Done span events;
// *Done events carry t0, t, err and errClass. Use [NewSpanID] with
// [*slog.Logger.With] to correlate the events of one logical operation.
package edge
