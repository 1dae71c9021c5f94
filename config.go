// SPDX-License-Identifier: GPL-3.0-or-later

package esi

import (
	"time"

	"github.com/bassosimone/esi/edge"
)

// DefaultNamespace is the default directive namespace.
const DefaultNamespace = "esi"

// DefaultMaxDepth is the default bound on nested fragment expansion.
const DefaultMaxDepth = 5

// Config holds the configuration of a [*Processor].
//
// All fields have sensible defaults set by [NewConfig]. [NewProcessor]
// copies the Config, so changing it afterwards has no effect.
type Config struct {
	// Namespace is the directive prefix, as in <esi:include/>.
	//
	// Set by [NewConfig] to [DefaultNamespace].
	Namespace string

	// EscapedContent indicates that directive attribute values are
	// HTML-escaped and must be unescaped before use. Disable it for
	// templates that are not HTML, such as JSON documents.
	//
	// Set by [NewConfig] to true.
	EscapedContent bool

	// MaxDepth bounds nested expansion. The includes found in the body of
	// a fragment included by the source document are at depth 1. A
	// fragment whose body would need expansion beyond MaxDepth fails with
	// [ErrDepthExceeded], so zero fails every fragment whose body contains
	// includes. Fragments without includes render at any depth.
	//
	// Set by [NewConfig] to [DefaultMaxDepth].
	MaxDepth int

	// Timeout bounds each processing call. Zero means no bound other
	// than the one set by the caller's context.
	//
	// Set by [NewConfig] to zero.
	Timeout time.Duration

	// Backend fetches fragments when no [FragmentDispatcher] is given.
	//
	// Set by [NewConfig] to nil, which makes [NewProcessor] use an
	// [*edge.DynamicBackend] sending each request to the origin in its URL.
	Backend edge.Backend

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [edge.DefaultErrClassifier].
	ErrClassifier edge.ErrClassifier

	// Logger is the [edge.SLogger] to use.
	//
	// Set by [NewConfig] to [edge.DefaultSLogger].
	Logger edge.SLogger

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Namespace:      DefaultNamespace,
		EscapedContent: true,
		MaxDepth:       DefaultMaxDepth,
		Timeout:        0,
		Backend:        nil,
		ErrClassifier:  edge.DefaultErrClassifier,
		Logger:         edge.DefaultSLogger(),
		TimeNow:        time.Now,
	}
}

// Validate returns a [*ConfigError] describing the first invalid field.
func (c *Config) Validate() error {
	if c.Namespace == "" {
		return &ConfigError{Field: "Namespace", Reason: "must not be empty"}
	}
	for _, ch := range c.Namespace {
		if !isNameRune(ch) {
			return &ConfigError{Field: "Namespace", Reason: "must only contain letters, digits, '-' and '_'"}
		}
	}
	if c.MaxDepth < 0 {
		return &ConfigError{Field: "MaxDepth", Reason: "must not be negative"}
	}
	if c.Timeout < 0 {
		return &ConfigError{Field: "Timeout", Reason: "must not be negative"}
	}
	if c.ErrClassifier == nil {
		return &ConfigError{Field: "ErrClassifier", Reason: "must not be nil"}
	}
	if c.Logger == nil {
		return &ConfigError{Field: "Logger", Reason: "must not be nil"}
	}
	if c.TimeNow == nil {
		return &ConfigError{Field: "TimeNow", Reason: "must not be nil"}
	}
	return nil
}

func isNameRune(ch rune) bool {
	switch {
	case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		return true
	case ch == '-' || ch == '_':
		return true
	default:
		return false
	}
}
