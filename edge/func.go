// SPDX-License-Identifier: GPL-3.0-or-later

package edge

import (
	"context"
	"net/netip"
)

// Func is a generic operation that accepts an input and returns a result.
//
// Backends build their connection pipelines by chaining Func instances
// with [Compose2], [Compose3], etc.
//
// Resource cleanup contract: when a Func receives a closeable resource as
// input and returns an error, it closes that resource before returning, so
// that a failing pipeline does not leak connections.
type Func[A, B any] interface {
	Call(ctx context.Context, input A) (B, error)
}

// FuncAdapter wraps a function as a [Func] implementation.
type FuncAdapter[A, B any] func(ctx context.Context, input A) (B, error)

// Call implements [Func].
func (f FuncAdapter[A, B]) Call(ctx context.Context, input A) (B, error) {
	return f(ctx, input)
}

// Unit is a type not containing any value. Pipelines that start from a
// constant take a Unit as their input.
type Unit struct{}

// ConstFunc returns a [Func] that always returns the given value.
func ConstFunc[B any](value B) Func[Unit, B] {
	return &constFunc[B]{value}
}

type constFunc[B any] struct {
	value B
}

func (c *constFunc[B]) Call(ctx context.Context, _ Unit) (B, error) {
	return c.value, nil
}

// NewEndpointFunc returns a [Func] that always returns the given origin
// endpoint. Backends use it as the first stage of each dial pipeline.
func NewEndpointFunc(endpoint netip.AddrPort) Func[Unit, netip.AddrPort] {
	return ConstFunc(endpoint)
}
