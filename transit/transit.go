package transit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/robfig/cron"

	"github.com/relaymesh/broker/serializer"
	"github.com/relaymesh/broker/transport"
)

// Topic name components. A Transit subscribes to one shared topic per
// broadcast frame kind and one node-addressed topic per unicast frame kind,
// the same split the teacher's paired channels made implicit by having only
// two parties: here, with N parties, unicast traffic must be addressed.
const (
	topicDiscover   = "DISCOVER"
	topicInfo       = "INFO"
	topicHeartbeat  = "HEARTBEAT"
	topicDisconnect = "DISCONNECT"
	topicEvent      = "EVENT"
	topicRequest    = "REQ"
	topicResponse   = "RES"
)

// ErrRequestTimeout is returned by Request when no RESPONSE frame arrives
// before the caller's context is done.
var ErrRequestTimeout = errors.New("transit: request timed out")

// ErrNodeUnreachable is returned by Request when the target node is known
// to have disconnected or failed its heartbeat while the call was pending.
var ErrNodeUnreachable = errors.New("transit: target node unreachable")

// ErrStopped is returned by Request, and delivered to any call still
// pending, once the local Transit has been stopped.
var ErrStopped = errors.New("transit: stopped")

// A Host receives decoded frames and answers discovery queries. The broker
// package implements Host; Transit depends only on this interface to avoid
// an import cycle between the protocol layer and the call pipeline.
type Host interface {
	// HandleDiscover processes an inbound DISCOVER frame from a newly seen
	// node, before Transit replies with this node's INFO.
	HandleDiscover(from string)

	// HandleRequest processes an inbound REQUEST frame and returns the
	// serialized action result, or a non-nil ErrorPayload on failure.
	HandleRequest(ctx context.Context, from string, req *RequestPayload) ([]byte, *ErrorPayload)

	// HandleEvent processes an inbound EVENT frame.
	HandleEvent(from string, ev *EventPayload)

	// HandleInfo processes an inbound INFO frame, updating the local
	// registry's view of from's services and actions.
	HandleInfo(from string, info *InfoPayload)

	// HandleHeartbeat processes an inbound HEARTBEAT frame.
	HandleHeartbeat(from string, hb *HeartbeatPayload)

	// HandleDisconnect processes the departure of from, signalled by an
	// inbound DISCONNECT frame or by a heartbeat timeout, removing from and
	// its endpoints from the registry.
	HandleDisconnect(from string)

	// LocalInfo reports the services and actions hosted locally, used to
	// answer DISCOVER frames and to populate outgoing INFO frames.
	LocalInfo() *InfoPayload
}

// Config controls a Transit's behavior. The zero value is not ready for
// use; build one with NewConfig.
type Config struct {
	NodeID            string
	Transport         transport.Transport
	Serializer        serializer.Serializer
	Host              Host
	Logger            *slog.Logger
	TopicPrefix       string
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

var defaultConfig = Config{
	Serializer:        serializer.Default,
	TopicPrefix:       "BROKER",
	HeartbeatInterval: 5 * time.Second,
	HeartbeatTimeout:  15 * time.Second,
}

// NewConfig returns a Config built by overlaying the non-zero fields of user
// onto a set of defaults, the same merge-with-defaults shape used for the
// broker's own Config.
func NewConfig(user *Config) *Config {
	cfg := defaultConfig
	if user != nil {
		if user.NodeID != "" {
			cfg.NodeID = user.NodeID
		}
		if user.Transport != nil {
			cfg.Transport = user.Transport
		}
		if user.Serializer != nil {
			cfg.Serializer = user.Serializer
		}
		if user.Host != nil {
			cfg.Host = user.Host
		}
		if user.Logger != nil {
			cfg.Logger = user.Logger
		}
		if user.TopicPrefix != "" {
			cfg.TopicPrefix = user.TopicPrefix
		}
		if user.HeartbeatInterval > 0 {
			cfg.HeartbeatInterval = user.HeartbeatInterval
		}
		if user.HeartbeatTimeout > 0 {
			cfg.HeartbeatTimeout = user.HeartbeatTimeout
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &cfg
}

// Transit drives the node-to-node protocol: it encodes and routes frames
// over a transport.Transport, keeps the pending-request table for outbound
// calls, schedules periodic heartbeats and dead-node sweeps, and sends a
// DISCOVER frame when it starts.
type Transit struct {
	cfg  *Config
	log  *slog.Logger
	ser  serializer.Serializer
	tr   transport.Transport
	host Host

	pending *pendingTable
	tasks   *taskgroup.Group

	mu       sync.Mutex
	lastSeen map[string]time.Time
	started  bool
	stopped  bool
	cron     *cron.Cron
}

// New constructs a Transit from cfg. cfg.NodeID, cfg.Transport, and cfg.Host
// must be set.
func New(cfg *Config) (*Transit, error) {
	cfg = NewConfig(cfg)
	if cfg.NodeID == "" {
		return nil, errors.New("transit: NodeID is required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("transit: Transport is required")
	}
	if cfg.Host == nil {
		return nil, errors.New("transit: Host is required")
	}
	return &Transit{
		cfg:      cfg,
		log:      cfg.Logger.With("component", "transit", "node", cfg.NodeID),
		ser:      cfg.Serializer,
		tr:       cfg.Transport,
		host:     cfg.Host,
		pending:  newPendingTable(),
		tasks:    taskgroup.New(nil),
		lastSeen: make(map[string]time.Time),
	}, nil
}

func (t *Transit) topic(kind, suffix string) string {
	if suffix == "" {
		return t.cfg.TopicPrefix + "." + kind
	}
	return t.cfg.TopicPrefix + "." + kind + "." + suffix
}

// Start connects the transport, subscribes to every frame topic, starts the
// heartbeat/sweep scheduler, and announces this node with a DISCOVER frame.
func (t *Transit) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return errors.New("transit: already started")
	}
	t.started = true
	t.mu.Unlock()

	if err := t.tr.Connect(ctx); err != nil {
		return fmt.Errorf("transit: connect: %w", err)
	}

	subs := []struct {
		topic   string
		handler func([]byte)
	}{
		{t.topic(topicDiscover, ""), t.onDiscover},
		{t.topic(topicInfo, ""), t.onInfo},
		{t.topic(topicHeartbeat, ""), t.onHeartbeat},
		{t.topic(topicDisconnect, ""), t.onDisconnect},
		{t.topic(topicEvent, ""), t.onEvent},
		{t.topic(topicRequest, t.cfg.NodeID), t.onRequest},
		{t.topic(topicResponse, t.cfg.NodeID), t.onResponse},
	}
	for _, s := range subs {
		if err := t.tr.Subscribe(s.topic, s.handler); err != nil {
			return fmt.Errorf("transit: subscribe %s: %w", s.topic, err)
		}
	}

	t.cron = cron.New()
	interval := t.cfg.HeartbeatInterval
	spec := fmt.Sprintf("@every %s", interval)
	if err := t.cron.AddFunc(spec, t.sendHeartbeat); err != nil {
		return fmt.Errorf("transit: schedule heartbeat: %w", err)
	}
	if err := t.cron.AddFunc(spec, t.sweepDeadNodes); err != nil {
		return fmt.Errorf("transit: schedule sweep: %w", err)
	}
	t.cron.Start()

	return t.broadcastDiscover()
}

// Stop announces this node's departure, stops the scheduler, fails every
// pending outbound call, and disconnects the transport.
func (t *Transit) Stop() error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.stopped = true
	c := t.cron
	t.mu.Unlock()

	_ = t.broadcast(topicDisconnect, FrameDisconnect, nil)
	if c != nil {
		c.Stop()
	}
	t.pending.failAll(&ErrorPayload{Kind: "StoppedError", Message: ErrStopped.Error()})
	t.tasks.Wait()
	return t.tr.Disconnect()
}

// Request sends action as a REQUEST frame to targetNode and waits for the
// matching RESPONSE, or for ctx to be done.
func (t *Transit) Request(ctx context.Context, targetNode string, req *RequestPayload) (*ResponsePayload, error) {
	t.mu.Lock()
	stopped := t.stopped
	t.mu.Unlock()
	if stopped {
		return nil, ErrStopped
	}
	body, err := t.ser.Serialize(req)
	if err != nil {
		return nil, fmt.Errorf("transit: serialize request: %w", err)
	}
	p := t.pending.register(req.ID, targetNode)
	defer t.pending.remove(req.ID)

	frame := &Frame{Ver: ProtocolVersion, Sender: t.cfg.NodeID, Kind: FrameRequest, Payload: body}
	if err := t.tr.Publish(t.topic(topicRequest, targetNode), frame.Encode()); err != nil {
		return nil, fmt.Errorf("transit: publish request: %w", err)
	}

	select {
	case resp := <-p.ch:
		if !resp.Success && resp.Error != nil {
			switch resp.Error.Kind {
			case "NodeUnreachableError":
				return nil, ErrNodeUnreachable
			case "StoppedError":
				return nil, ErrStopped
			}
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ErrRequestTimeout
	}
}

// Respond sends a RESPONSE frame for a previously received request back to
// its origin node.
func (t *Transit) Respond(originNode string, resp *ResponsePayload) error {
	body, err := t.ser.Serialize(resp)
	if err != nil {
		return fmt.Errorf("transit: serialize response: %w", err)
	}
	frame := &Frame{Ver: ProtocolVersion, Sender: t.cfg.NodeID, Kind: FrameResponse, Payload: body}
	return t.tr.Publish(t.topic(topicResponse, originNode), frame.Encode())
}

// PublishEvent broadcasts ev to every node subscribed to the shared event
// topic. ev.Groups travels with the event and is handed to the receiving
// handlers; no layer filters handlers by group.
func (t *Transit) PublishEvent(ev *EventPayload) error {
	return t.broadcast(topicEvent, FrameEvent, ev)
}

func (t *Transit) broadcastDiscover() error {
	return t.broadcast(topicDiscover, FrameDiscover, nil)
}

func (t *Transit) sendHeartbeat() {
	hb := &HeartbeatPayload{UptimeMS: time.Now().UnixMilli()}
	if err := t.broadcast(topicHeartbeat, FrameHeartbeat, hb); err != nil {
		t.log.Warn("heartbeat publish failed", "error", err)
	}
}

func (t *Transit) sweepDeadNodes() {
	deadline := time.Now().Add(-t.cfg.HeartbeatTimeout)
	t.mu.Lock()
	var dead []string
	for node, seen := range t.lastSeen {
		if seen.Before(deadline) {
			dead = append(dead, node)
			delete(t.lastSeen, node)
		}
	}
	t.mu.Unlock()

	for _, node := range dead {
		t.log.Info("node heartbeat timed out", "peer", node)
		t.pending.failNode(node, &ErrorPayload{Kind: "NodeUnreachableError", Message: ErrNodeUnreachable.Error(), NodeID: node})
		t.host.HandleDisconnect(node)
	}
}

func (t *Transit) touch(node string) {
	if node == "" || node == t.cfg.NodeID {
		return
	}
	t.mu.Lock()
	t.lastSeen[node] = time.Now()
	t.mu.Unlock()
}

func (t *Transit) broadcast(kind string, frameKind FrameKind, payload any) error {
	var body []byte
	if payload != nil {
		b, err := t.ser.Serialize(payload)
		if err != nil {
			return fmt.Errorf("transit: serialize %s: %w", kind, err)
		}
		body = b
	}
	frame := &Frame{Ver: ProtocolVersion, Sender: t.cfg.NodeID, Kind: frameKind, Payload: body}
	return t.tr.Publish(t.topic(kind, ""), frame.Encode())
}

func (t *Transit) decodeAndTouch(raw []byte) (*Frame, bool) {
	frame, err := DecodeFrame(raw)
	if err != nil {
		t.log.Warn("dropping malformed frame", "error", err)
		return nil, false
	}
	if frame.Sender == t.cfg.NodeID {
		return nil, false
	}
	t.touch(frame.Sender)
	return frame, true
}

func (t *Transit) onDiscover(raw []byte) {
	frame, ok := t.decodeAndTouch(raw)
	if !ok {
		return
	}
	t.host.HandleDiscover(frame.Sender)
	info := t.host.LocalInfo()
	if err := t.broadcast(topicInfo, FrameInfo, info); err != nil {
		t.log.Warn("info reply failed", "error", err)
	}
}

func (t *Transit) onInfo(raw []byte) {
	frame, ok := t.decodeAndTouch(raw)
	if !ok {
		return
	}
	var info InfoPayload
	if err := t.ser.Deserialize(frame.Payload, &info); err != nil {
		t.log.Warn("malformed INFO payload", "peer", frame.Sender, "error", err)
		return
	}
	t.host.HandleInfo(frame.Sender, &info)
}

func (t *Transit) onHeartbeat(raw []byte) {
	frame, ok := t.decodeAndTouch(raw)
	if !ok {
		return
	}
	var hb HeartbeatPayload
	if err := t.ser.Deserialize(frame.Payload, &hb); err != nil {
		t.log.Warn("malformed HEARTBEAT payload", "peer", frame.Sender, "error", err)
		return
	}
	t.host.HandleHeartbeat(frame.Sender, &hb)
}

func (t *Transit) onDisconnect(raw []byte) {
	frame, ok := t.decodeAndTouch(raw)
	if !ok {
		return
	}
	t.mu.Lock()
	delete(t.lastSeen, frame.Sender)
	t.mu.Unlock()
	t.pending.failNode(frame.Sender, &ErrorPayload{Kind: "NodeUnreachableError", Message: ErrNodeUnreachable.Error(), NodeID: frame.Sender})
	t.host.HandleDisconnect(frame.Sender)
}

func (t *Transit) onEvent(raw []byte) {
	frame, ok := t.decodeAndTouch(raw)
	if !ok {
		return
	}
	var ev EventPayload
	if err := t.ser.Deserialize(frame.Payload, &ev); err != nil {
		t.log.Warn("malformed EVENT payload", "peer", frame.Sender, "error", err)
		return
	}
	t.host.HandleEvent(frame.Sender, &ev)
}

func (t *Transit) onRequest(raw []byte) {
	frame, err := DecodeFrame(raw)
	if err != nil {
		t.log.Warn("dropping malformed frame", "error", err)
		return
	}
	t.touch(frame.Sender)

	var req RequestPayload
	if err := t.ser.Deserialize(frame.Payload, &req); err != nil {
		t.log.Warn("malformed REQUEST payload", "peer", frame.Sender, "error", err)
		return
	}

	t.tasks.Go(func() error {
		ctx := context.Background()
		if req.TimeoutMS > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMS)*time.Millisecond)
			defer cancel()
		}
		data, callErr := t.host.HandleRequest(ctx, frame.Sender, &req)
		resp := &ResponsePayload{ID: req.ID, Success: callErr == nil, Data: data, Error: callErr}
		if err := t.Respond(frame.Sender, resp); err != nil {
			t.log.Warn("respond failed", "peer", frame.Sender, "request", req.ID, "error", err)
		}
		return nil
	})
}

func (t *Transit) onResponse(raw []byte) {
	frame, err := DecodeFrame(raw)
	if err != nil {
		t.log.Warn("dropping malformed frame", "error", err)
		return
	}
	t.touch(frame.Sender)

	var resp ResponsePayload
	if err := t.ser.Deserialize(frame.Payload, &resp); err != nil {
		t.log.Warn("malformed RESPONSE payload", "peer", frame.Sender, "error", err)
		return
	}
	if p := t.pending.take(resp.ID); p != nil {
		p.deliver(&resp)
	}
}
