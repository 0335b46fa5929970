package broker

import "time"

// CallOptions collects the optional parameters of a Call. Use the With*
// functions to build a set of CallOption values rather than constructing
// this directly.
type CallOptions struct {
	NodeID           string
	Ctx              *Context
	ParentCtx        *Context
	Timeout          time.Duration
	RetryCount       int
	FallbackResponse any
	Meta             map[string]any
}

// CallOption configures a single Call invocation.
type CallOption func(*CallOptions)

// WithNodeID pins the call to a specific node, bypassing endpoint
// selection. FindEndpoint reports ServiceNotAvailableError if that node
// does not host the action.
func WithNodeID(nodeID string) CallOption {
	return func(o *CallOptions) { o.NodeID = nodeID }
}

// WithContext reuses an existing Context, preserving its params and only
// updating its endpoint and metrics spans. Used internally for retries and
// available to callers that need to re-issue a call with the same
// identity.
func WithContext(c *Context) CallOption {
	return func(o *CallOptions) { o.Ctx = c }
}

// WithParentContext builds a child Context under parent, propagating
// RequestID and enforcing the configured MaxCallLevel.
func WithParentContext(parent *Context) CallOption {
	return func(o *CallOptions) { o.ParentCtx = parent }
}

// WithTimeout bounds how long the call may take before it fails with
// RequestTimeoutError.
func WithTimeout(d time.Duration) CallOption {
	return func(o *CallOptions) { o.Timeout = d }
}

// WithRetry allows the call to be retried up to n times on a retryable
// error (a timeout or a ServiceError with code >= 500).
func WithRetry(n int) CallOption {
	return func(o *CallOptions) { o.RetryCount = n }
}

// WithFallback supplies a value or a func(*Context, error) (any, error) to
// resolve the call when it would otherwise fail after retries are
// exhausted.
func WithFallback(v any) CallOption {
	return func(o *CallOptions) { o.FallbackResponse = v }
}

// WithMeta merges kv into the call's Context.Meta, child overrides taking
// precedence over any inherited from a parent context.
func WithMeta(kv map[string]any) CallOption {
	return func(o *CallOptions) { o.Meta = kv }
}
