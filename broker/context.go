package broker

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// newID returns a fresh 128-bit hex-encoded call identifier, the same
// capability-style random ID generation the teacher uses for its stream
// tokens (crypto/rand, not math/rand, since IDs must not collide across a
// running cluster).
func newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("broker: failed to read random bytes: " + err.Error())
	}
	return hex.EncodeToString(b[:])
}

// MetricSpan records the start and finish time of a call for which metrics
// sampling was enabled.
type MetricSpan struct {
	Start  time.Time
	Finish time.Time
}

// Context is the per-call value object threaded through the call pipeline.
// It is immutable once dispatch begins, except for RetryCount, which the
// error handler decrements in place across a retried call.
type Context struct {
	ID         string
	RequestID  string
	ParentID   string
	Level      int
	NodeID     string
	Action     string
	Params     any
	Meta       map[string]any
	Timeout    time.Duration
	RetryCount int
	Metrics    bool
	Span       *MetricSpan

	endpoint *Endpoint
}

// newRootContext builds a Context with no parent. RequestID is only
// populated when sampled is true, per the metrics-sampling rule that a
// root call's RequestID exists only when that call was sampled.
func newRootContext(action string, params any, meta map[string]any, sampled bool) *Context {
	id := newID()
	c := &Context{
		ID:      id,
		Level:   1,
		Action:  action,
		Params:  params,
		Meta:    meta,
		Metrics: sampled,
	}
	if sampled {
		c.RequestID = id
	}
	return c
}

// newChildContext builds a Context that is a child of parent, enforcing
// maxCallLevel (0 disables the check). Meta is shallow-merged with the
// child's own meta taking precedence over the parent's.
func newChildContext(parent *Context, action string, params any, meta map[string]any, maxCallLevel int) (*Context, error) {
	level := parent.Level + 1
	if maxCallLevel > 0 && level > maxCallLevel {
		return nil, MaxCallLevelError(action, level)
	}
	merged := make(map[string]any, len(parent.Meta)+len(meta))
	for k, v := range parent.Meta {
		merged[k] = v
	}
	for k, v := range meta {
		merged[k] = v
	}
	return &Context{
		ID:        newID(),
		RequestID: parent.RequestID,
		ParentID:  parent.ID,
		Level:     level,
		Action:    action,
		Params:    params,
		Meta:      merged,
		Metrics:   parent.Metrics,
	}, nil
}

func (c *Context) startSpan() {
	if c.Metrics && c.Span == nil {
		c.Span = &MetricSpan{Start: time.Now()}
	}
}

func (c *Context) finishSpan() {
	if c.Metrics && c.Span != nil {
		c.Span.Finish = time.Now()
	}
}
