package broker

import "context"

// Handler is the shape of an action implementation: given a call Context
// (params, meta, and the rest of the per-call state), it returns a result
// or an error.
type Handler func(ctx context.Context, c *Context) (any, error)

// Middleware wraps a Handler for a named action, producing a new Handler.
type Middleware func(next Handler, action string) Handler

// middlewareChain composes registered middlewares in registration order
// but wraps last-registered-outermost: the first registered middleware
// ends up as the innermost wrapper. Once a handler has been wrapped for an
// action, the wrapped form is cached; middlewares added afterward do not
// retroactively rewrap actions already wrapped (see DESIGN.md's Open
// Question log).
type middlewareChain struct {
	middlewares []Middleware
}

func (c *middlewareChain) use(mw Middleware) {
	c.middlewares = append(c.middlewares, mw)
}

// wrap applies every registered middleware to handler for action, in
// registration order, producing h_out = wrap_n(wrap_{n-1}(...wrap_1(h))).
func (c *middlewareChain) wrap(handler Handler, action string) Handler {
	wrapped := handler
	for _, mw := range c.middlewares {
		wrapped = mw(wrapped, action)
	}
	return wrapped
}
