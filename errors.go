// SPDX-License-Identifier: GPL-3.0-or-later

package esi

import (
	"errors"
	"fmt"
)

// Error kinds. Use [errors.Is] to check which kind an error is.
var (
	// ErrScan indicates a malformed directive. It is always fatal.
	ErrScan = errors.New("esi: malformed directive")

	// ErrDispatch indicates that the dispatcher declined a fragment.
	ErrDispatch = errors.New("esi: fragment dispatch failed")

	// ErrTransport indicates that fetching a fragment failed, including
	// when the backend answered with a non-2xx status.
	ErrTransport = errors.New("esi: fragment fetch failed")

	// ErrPostProcess indicates that the post-processor rejected a fragment.
	ErrPostProcess = errors.New("esi: fragment post-processing failed")

	// ErrConfig indicates an invalid configuration.
	ErrConfig = errors.New("esi: invalid configuration")

	// ErrTimeout indicates that a fragment was still in flight when the
	// processing deadline expired.
	ErrTimeout = errors.New("esi: fragment timed out")

	// ErrDepthExceeded indicates a fragment nested too deeply.
	ErrDepthExceeded = errors.New("esi: maximum fragment depth exceeded")
)

var (
	errNoContent  = errors.New("dispatcher returned no content")
	errNoResponse = errors.New("post-processor returned no response")
)

// ScanError describes a malformed directive.
type ScanError struct {
	// Offset is the byte offset of the offending directive.
	Offset int

	// Reason describes the problem.
	Reason string
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("esi: malformed directive at offset %d: %s", e.Offset, e.Reason)
}

func (e *ScanError) Unwrap() error {
	return ErrScan
}

// FragmentError describes the failure of a single fragment.
//
// It matches both its Kind and its cause with [errors.Is].
type FragmentError struct {
	// Kind is one of ErrDispatch, ErrTransport, ErrPostProcess,
	// ErrTimeout and ErrDepthExceeded.
	Kind error

	// URL is the fragment URL.
	URL string

	// Err is the underlying cause, if any.
	Err error
}

func (e *FragmentError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.URL)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.URL, e.Err)
}

func (e *FragmentError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ConfigError describes an invalid [Config] field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("esi: invalid configuration: %s %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfig
}
