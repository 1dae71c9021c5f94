// SPDX-License-Identifier: GPL-3.0-or-later

package edge

// SLogger abstracts the [*slog.Logger] behavior.
//
// Two levels are used:
//   - Info for lifecycle events (send, connect, TLS handshake, HTTP round
//     trip, DNS exchange, fragment dispatch and completion)
//   - Debug for per-I/O events (read, write, set deadline)
//
// The [*slog.Logger] type satisfies this interface.
type SLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

// DefaultSLogger returns the default [SLogger], which discards all output.
//
// Use a custom [*slog.Logger] for emitting logs.
func DefaultSLogger() SLogger {
	return discardSLogger{}
}

type discardSLogger struct{}

var _ SLogger = discardSLogger{}

// Debug implements [SLogger].
func (discardSLogger) Debug(msg string, args ...any) {}

// Info implements [SLogger].
func (discardSLogger) Info(msg string, args ...any) {}
