package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/hashicorp/serf/serf"
)

// MembershipListener is notified of gossip-level membership changes
// observed by a Serf transport, independent of the broker's own transit
// heartbeat/discovery protocol. It exists so a multi-process deployment can
// watch the underlying network ring directly, mirroring the way the
// teacher's secondary coordinator repo surfaces join/leave/failed events
// to registered handlers.
type MembershipListener func(event string, nodes []string)

// Serf is a Transport backed by HashiCorp Serf's gossip protocol. Topics
// are mapped onto Serf user events: Publish broadcasts a coalesced user
// event named topic, and Subscribe filters the event stream for matching
// names. This is an optional backend for real multi-process clusters; the
// in-memory Loopback remains the default for tests and single-process use.
type Serf struct {
	nodeID string
	conf   *serf.Config
	seeds  []string
	logger *slog.Logger

	mu        sync.Mutex
	ring      *serf.Serf
	events    chan serf.Event
	subs      map[string][]func([]byte)
	listeners []MembershipListener
	closed    bool
	done      chan struct{}
}

// NewSerf constructs a Serf transport for nodeID, binding Serf's underlying
// memberlist using conf (caller-supplied, typically starting from
// serf.DefaultConfig()) and joining seeds on Connect. If logger is nil,
// slog.Default() is used.
func NewSerf(nodeID string, conf *serf.Config, seeds []string, logger *slog.Logger) *Serf {
	if logger == nil {
		logger = slog.Default()
	}
	if conf == nil {
		conf = serf.DefaultConfig()
	}
	return &Serf{
		nodeID: nodeID,
		conf:   conf,
		seeds:  seeds,
		logger: logger.With("component", "transport.serf", "node", nodeID),
		subs:   make(map[string][]func([]byte)),
	}
}

// OnMembershipChange registers a listener invoked for member-join,
// member-leave, and member-failed gossip events.
func (s *Serf) OnMembershipChange(listener MembershipListener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, listener)
	s.mu.Unlock()
}

// Connect implements the Transport interface: it starts the local Serf
// agent, joins the configured seeds, and begins dispatching events.
func (s *Serf) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.ring != nil {
		s.mu.Unlock()
		return errors.New("transport: serf already connected")
	}
	s.conf.NodeName = s.nodeID
	s.conf.LogOutput = io.Discard
	if s.conf.MemberlistConfig != nil {
		s.conf.MemberlistConfig.LogOutput = io.Discard
	}
	s.events = make(chan serf.Event, 256)
	s.conf.EventCh = s.events
	s.done = make(chan struct{})
	s.mu.Unlock()

	ring, err := serf.Create(s.conf)
	if err != nil {
		return fmt.Errorf("transport: serf create: %w", err)
	}

	s.mu.Lock()
	s.ring = ring
	s.mu.Unlock()

	if len(s.seeds) > 0 {
		if _, err := ring.Join(s.seeds, true); err != nil {
			s.logger.Warn("failed to join existing cluster, running standalone", "error", err)
		}
	}

	go s.dispatchLoop()
	return nil
}

// Disconnect implements the Transport interface: it leaves the gossip ring
// gracefully and shuts down the local agent.
func (s *Serf) Disconnect() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ring := s.ring
	done := s.done
	s.mu.Unlock()

	if ring == nil {
		return nil
	}
	if err := ring.Leave(); err != nil {
		s.logger.Warn("leave failed, shutting down anyway", "error", err)
	}
	if done != nil {
		close(done)
	}
	return ring.Shutdown()
}

// Subscribe implements the Transport interface.
func (s *Serf) Subscribe(topic string, handler func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("transport: subscribe on disconnected serf transport")
	}
	s.subs[topic] = append(s.subs[topic], handler)
	return nil
}

// Publish implements the Transport interface by broadcasting a coalesced
// Serf user event named topic.
func (s *Serf) Publish(topic string, payload []byte) error {
	s.mu.Lock()
	ring := s.ring
	closed := s.closed
	s.mu.Unlock()
	if closed || ring == nil {
		return errors.New("transport: publish on disconnected serf transport")
	}
	return ring.UserEvent(topic, payload, true)
}

// Members reports the currently alive gossip members.
func (s *Serf) Members() []serf.Member {
	s.mu.Lock()
	ring := s.ring
	s.mu.Unlock()
	if ring == nil {
		return nil
	}
	var alive []serf.Member
	for _, m := range ring.Members() {
		if m.Status == serf.StatusAlive {
			alive = append(alive, m)
		}
	}
	return alive
}

func (s *Serf) dispatchLoop() {
	for {
		select {
		case evt := <-s.events:
			s.dispatch(evt)
		case <-s.done:
			return
		}
	}
}

func (s *Serf) dispatch(evt serf.Event) {
	switch e := evt.(type) {
	case serf.UserEvent:
		s.mu.Lock()
		handlers := append(([]func([]byte))(nil), s.subs[e.Name]...)
		s.mu.Unlock()
		for _, h := range handlers {
			h(e.Payload)
		}
	case serf.MemberEvent:
		nodes := make([]string, len(e.Members))
		for i, m := range e.Members {
			nodes[i] = m.Name
		}
		s.mu.Lock()
		listeners := append([]MembershipListener(nil), s.listeners...)
		s.mu.Unlock()
		for _, l := range listeners {
			l(e.Type.String(), nodes)
		}
	}
}
