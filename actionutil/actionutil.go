// Package actionutil provides adapters from ordinary typed Go functions to
// broker.Handler, so an action implementation can declare its params and
// result as concrete types instead of unpacking an any by hand.
package actionutil

import (
	"context"
	"fmt"

	"github.com/relaymesh/broker/broker"
)

// ctxKey is a context key for the call Context passed to a handler.
type ctxKey struct{}

// CallContext returns the broker.Context associated with ctx, or nil if
// ctx was not produced by a handler built with this package.
func CallContext(ctx context.Context) *broker.Context {
	if v := ctx.Value(ctxKey{}); v != nil {
		return v.(*broker.Context)
	}
	return nil
}

// ParamResultError adapts a function that accepts typed params P and
// returns a typed result R and an error to a broker.Handler. The call's
// params are type-asserted to P; a mismatch reports a ValidationError
// rather than panicking.
func ParamResultError[P, R any](f func(context.Context, P) (R, error)) broker.Handler {
	return func(ctx context.Context, c *broker.Context) (any, error) {
		p, err := coerce[P](c)
		if err != nil {
			return nil, err
		}
		hctx := context.WithValue(ctx, ctxKey{}, c)
		return f(hctx, p)
	}
}

// ParamResult adapts a function that accepts typed params P and returns a
// typed result R without an error.
func ParamResult[P, R any](f func(context.Context, P) R) broker.Handler {
	return func(ctx context.Context, c *broker.Context) (any, error) {
		p, err := coerce[P](c)
		if err != nil {
			return nil, err
		}
		hctx := context.WithValue(ctx, ctxKey{}, c)
		return f(hctx, p), nil
	}
}

// ParamError adapts a function that accepts typed params P and returns
// only an error, with no result value.
func ParamError[P any](f func(context.Context, P) error) broker.Handler {
	return func(ctx context.Context, c *broker.Context) (any, error) {
		p, err := coerce[P](c)
		if err != nil {
			return nil, err
		}
		hctx := context.WithValue(ctx, ctxKey{}, c)
		return nil, f(hctx, p)
	}
}

// ResultError adapts a function that accepts no params and returns a typed
// result R and an error.
func ResultError[R any](f func(context.Context) (R, error)) broker.Handler {
	return func(ctx context.Context, c *broker.Context) (any, error) {
		hctx := context.WithValue(ctx, ctxKey{}, c)
		return f(hctx)
	}
}

// coerce type-asserts c.Params to P. When params arrived over the wire as
// a serializer-produced any (for example a map[string]any from JSON), a
// direct assertion to a concrete struct type fails even for compatible
// shapes; callers that need that path should decode through their
// serializer explicitly rather than relying on this adapter.
func coerce[P any](c *broker.Context) (P, error) {
	var zero P
	if c.Params == nil {
		return zero, nil
	}
	p, ok := c.Params.(P)
	if !ok {
		return zero, broker.ValidationError(c.Action, fmt.Sprintf("params: expected %T, got %T", zero, c.Params))
	}
	return p, nil
}
