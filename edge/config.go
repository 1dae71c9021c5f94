// SPDX-License-Identifier: GPL-3.0-or-later

package edge

import (
	"crypto/tls"
	"net"
	"time"
)

// Config holds common configuration for edge operations.
//
// Pass this to constructor functions to pre-wire dependencies.
// All fields have sensible defaults set by [NewConfig].
type Config struct {
	// Dialer is used by [*ConnectFunc].
	//
	// Set by [NewConfig] to [*net.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// Resolver maps origin host names to addresses.
	//
	// Set by [NewConfig] to nil, meaning that backends create a
	// [*DNSResolver] using [DefaultDNSServer] on first use.
	Resolver Resolver

	// TLSConfig is the base [*tls.Config] for HTTPS origins. Backends clone
	// it and fill in ServerName and NextProtos when they are empty.
	//
	// Set by [NewConfig] to an empty [*tls.Config].
	TLSConfig *tls.Config

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Dialer:        &net.Dialer{},
		ErrClassifier: DefaultErrClassifier,
		Resolver:      nil,
		TLSConfig:     &tls.Config{},
		TimeNow:       time.Now,
	}
}
