package broker

import "fmt"

// Error is the base of every error kind the call pipeline returns. It
// carries a human message, a numeric code, optional structured data, and
// the node the error originated on (empty for errors raised locally). The
// shape mirrors the teacher's ErrorData (Code/Message/Data), extended with
// a NodeID field since errors here can originate on a remote node and be
// reconstructed from a RESPONSE frame.
type Error struct {
	Kind    string
	Message string
	Code    int
	Data    map[string]any
	NodeID  string
}

func (e *Error) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s %d] %s (node %s)", e.Kind, e.Code, e.Message, e.NodeID)
	}
	return fmt.Sprintf("[%s %d] %s", e.Kind, e.Code, e.Message)
}

// Retryable reports whether the call pipeline may re-issue a call that
// failed with this error, per the error taxonomy's retryability column.
func (e *Error) Retryable() bool {
	return e.Kind == "RequestTimeoutError" || (e.Kind == "ServiceError" && e.Code >= 500)
}

// CountsAsFailure reports whether this error should increment an
// endpoint's circuit-breaker failure counter, given the breaker's
// configuration.
func (e *Error) CountsAsFailure(failureOnTimeout, failureOnReject bool) bool {
	switch {
	case e.Kind == "RequestTimeoutError":
		return failureOnTimeout
	case e.Kind == "ServiceError" && e.Code >= 500:
		return failureOnReject
	default:
		return false
	}
}

// ServiceNotFoundError reports that no endpoint has ever registered the
// requested action.
func ServiceNotFoundError(action string) *Error {
	return &Error{
		Kind:    "ServiceNotFoundError",
		Message: fmt.Sprintf("Action %q is not registered!", action),
		Code:    404,
		Data:    map[string]any{"action": action},
	}
}

// ServiceNotAvailableError reports that the action is registered but no
// endpoint is currently usable (every endpoint is OPEN, or the requested
// node is not among the endpoints).
func ServiceNotAvailableError(action, nodeID string) *Error {
	msg := fmt.Sprintf("Action %q is not available!", action)
	data := map[string]any{"action": action}
	if nodeID != "" {
		msg = fmt.Sprintf("Action %q is not available on node %q!", action, nodeID)
		data["nodeID"] = nodeID
	}
	return &Error{Kind: "ServiceNotAvailableError", Message: msg, Code: 404, Data: data, NodeID: nodeID}
}

// RequestTimeoutError reports that a call's timeout elapsed before a result
// arrived.
func RequestTimeoutError(action, nodeID string) *Error {
	return &Error{
		Kind:    "RequestTimeoutError",
		Message: fmt.Sprintf("Request is timed out when calling %q.", action),
		Code:    504,
		Data:    map[string]any{"action": action},
		NodeID:  nodeID,
	}
}

// RequestSkippedError reports that a call was abandoned before dispatch,
// for example because its context was canceled while still queued.
func RequestSkippedError(action string) *Error {
	return &Error{
		Kind:    "RequestSkippedError",
		Message: fmt.Sprintf("Calling %q has been skipped.", action),
		Code:    514,
		Data:    map[string]any{"action": action},
	}
}

// ValidationError reports that the supplied params failed validation.
func ValidationError(action, reason string) *Error {
	return &Error{
		Kind:    "ValidationError",
		Message: reason,
		Code:    422,
		Data:    map[string]any{"action": action},
	}
}

// MaxCallLevelError reports that a nested call would exceed the
// configured call-level ceiling.
func MaxCallLevelError(action string, level int) *Error {
	return &Error{
		Kind:    "MaxCallLevelError",
		Message: fmt.Sprintf("Request level is reached the limit (%d) when call %q action.", level, action),
		Code:    500,
		Data:    map[string]any{"action": action, "level": level},
	}
}

// ServiceError is the generic wrapper used to coerce a bare string or
// unrecognized error into the taxonomy.
func ServiceError(message string, code int) *Error {
	return &Error{Kind: "ServiceError", Message: message, Code: code}
}

// coerceError converts an arbitrary error into *Error, matching the call
// pipeline's error-handling step: a value already in the taxonomy passes
// through unchanged; anything else becomes a ServiceError with code 500.
func coerceError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return ServiceError(err.Error(), 500)
}
