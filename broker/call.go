package broker

import (
	"context"
	"errors"
	"time"

	"github.com/relaymesh/broker/transit"
)

// Call invokes action with params, resolving an endpoint through the
// registry and dispatching locally or remotely as appropriate. It
// implements the seven-step call pipeline: resolve endpoint, build or reuse
// a Context, check the circuit breaker, dispatch with a timeout race,
// handle errors (with retry and fallback), and record success.
func (b *Broker) Call(ctx context.Context, action string, params any, opts ...CallOption) (any, error) {
	var o CallOptions
	for _, fn := range opts {
		fn(&o)
	}
	return b.call(ctx, action, params, &o)
}

func (b *Broker) call(ctx context.Context, action string, params any, o *CallOptions) (any, error) {
	ep, cerr := b.registry.FindEndpoint(action, o.NodeID)
	if cerr != nil {
		return nil, cerr
	}

	cc, err := b.resolveContext(action, params, o)
	if err != nil {
		return nil, err
	}
	cc.endpoint = ep
	cc.NodeID = ep.NodeID
	cc.startSpan()

	if b.cfg.CircuitBreaker.Enabled {
		if ep.State() == StateOpen {
			return b.handleCallError(ctx, action, cc, o, ServiceNotAvailableError(action, ep.NodeID))
		}
	}

	timeout := cc.Timeout
	if timeout <= 0 {
		timeout = b.cfg.RequestTimeout
	}

	result, derr := b.dispatch(ctx, ep, cc, timeout)
	if derr != nil {
		return b.handleCallError(ctx, action, cc, o, derr)
	}

	if b.cfg.CircuitBreaker.Enabled {
		ep.Success()
	}
	cc.finishSpan()
	return result, nil
}

// resolveContext implements step 2: reuse an existing Context (retry
// path), build a child of a parent Context, or build a fresh root Context,
// sampling for metrics only on the root path.
func (b *Broker) resolveContext(action string, params any, o *CallOptions) (*Context, error) {
	if o.Ctx != nil {
		return o.Ctx, nil
	}
	if o.ParentCtx != nil {
		cc, err := newChildContext(o.ParentCtx, action, params, o.Meta, b.cfg.MaxCallLevel)
		if err != nil {
			return nil, err
		}
		if o.Timeout > 0 {
			cc.Timeout = o.Timeout
		}
		if o.RetryCount > 0 {
			cc.RetryCount = o.RetryCount
		}
		return cc, nil
	}
	sampled := b.cfg.Metrics && b.sampler.shouldSample()
	cc := newRootContext(action, params, o.Meta, sampled)
	if o.Timeout > 0 {
		cc.Timeout = o.Timeout
	}
	if o.RetryCount > 0 {
		cc.RetryCount = o.RetryCount
	}
	return cc, nil
}

// dispatch implements steps 4 and 5: send the call to a local handler or a
// remote node, racing it against timeout if one is set.
func (b *Broker) dispatch(ctx context.Context, ep *Endpoint, cc *Context, timeout time.Duration) (any, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if ep.Local() {
		return b.dispatchLocal(ctx, ep, cc)
	}
	return b.dispatchRemote(ctx, ep, cc)
}

func (b *Broker) dispatchLocal(ctx context.Context, ep *Endpoint, cc *Context) (any, error) {
	handler := b.lookupLocalAction(ep.Action)
	if handler == nil {
		return nil, ServiceNotFoundError(ep.Action)
	}
	b.metrics.callsLocal.Add(1)

	type outcome struct {
		val any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := handler(ctx, cc)
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		return o.val, o.err
	case <-ctx.Done():
		return nil, RequestTimeoutError(ep.Action, ep.NodeID)
	}
}

func (b *Broker) dispatchRemote(ctx context.Context, ep *Endpoint, cc *Context) (any, error) {
	if b.transitLayer == nil {
		return nil, ServiceNotAvailableError(ep.Action, ep.NodeID)
	}
	b.metrics.callsRemote.Add(1)

	paramBytes, err := b.cfg.Serializer.Serialize(cc.Params)
	if err != nil {
		return nil, ServiceError(err.Error(), 500)
	}
	var metaBytes []byte
	if len(cc.Meta) > 0 {
		metaBytes, err = b.cfg.Serializer.Serialize(cc.Meta)
		if err != nil {
			return nil, ServiceError(err.Error(), 500)
		}
	}

	req := &transit.RequestPayload{
		ID:        cc.ID,
		Action:    ep.Action,
		Params:    paramBytes,
		Meta:      metaBytes,
		TimeoutMS: int64(cc.Timeout / time.Millisecond),
		Level:     cc.Level,
		ParentID:  cc.ParentID,
		RequestID: cc.RequestID,
		Metrics:   cc.Metrics,
	}

	resp, err := b.transitLayer.Request(ctx, ep.NodeID, req)
	if err != nil {
		if errors.Is(err, transit.ErrRequestTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, RequestTimeoutError(ep.Action, ep.NodeID)
		}
		return nil, ServiceNotAvailableError(ep.Action, ep.NodeID)
	}
	if !resp.Success {
		return nil, b.errorFromPayload(resp.Error)
	}

	var result any
	if len(resp.Data) > 0 {
		if err := b.cfg.Serializer.Deserialize(resp.Data, &result); err != nil {
			return nil, ServiceError(err.Error(), 500)
		}
	}
	return result, nil
}

// handleCallError implements step 6: coerce the error, update the circuit
// breaker, retry if the error is retryable and retries remain, fall back
// if a fallback was supplied, or return the terminal error.
func (b *Broker) handleCallError(ctx context.Context, action string, cc *Context, o *CallOptions, cause error) (any, error) {
	if errors.Is(cause, context.DeadlineExceeded) {
		nodeID := ""
		if cc.endpoint != nil {
			nodeID = cc.endpoint.NodeID
		}
		cause = RequestTimeoutError(action, nodeID)
	}
	cerr := coerceError(cause)
	b.metrics.callErrors.Add(1)

	if b.cfg.CircuitBreaker.Enabled && cc.endpoint != nil {
		bc := b.cfg.CircuitBreaker
		if cerr.CountsAsFailure(bc.FailureOnTimeout, bc.FailureOnReject) {
			before := cc.endpoint.State()
			cc.endpoint.Failure()
			if before != StateOpen && cc.endpoint.State() == StateOpen {
				b.metrics.circuitOpens.Add(1)
				b.log.Warn("circuit breaker opened", "action", action, "node", cc.endpoint.NodeID)
			}
		}
	}

	// Do not finish the metrics span here: a retry reuses cc and its span
	// must keep its original start time.

	if cerr.Retryable() && cc.RetryCount > 0 {
		cc.RetryCount--
		b.metrics.callRetries.Add(1)
		retryOpts := *o
		retryOpts.Ctx = cc
		retryOpts.NodeID = ""
		return b.call(ctx, action, cc.Params, &retryOpts)
	}

	if o.FallbackResponse != nil {
		b.metrics.callFallbacks.Add(1)
		cc.finishSpan()
		if fn, ok := o.FallbackResponse.(func(*Context, error) (any, error)); ok {
			return fn(cc, cerr)
		}
		return o.FallbackResponse, nil
	}

	cc.finishSpan()
	return nil, cerr
}
