// Package brokertest provides support code for building and testing
// clusters of connected brokers, generalizing the teacher's paired-peer
// test harness from a fixed two-party direct channel to an arbitrary-size
// cluster sharing an in-memory transport bus.
package brokertest

import (
	"context"
	"fmt"
	"time"

	"github.com/relaymesh/broker/broker"
	"github.com/relaymesh/broker/transport"
)

// Local is a pair of in-memory connected brokers, suitable for tests that
// only need two nodes.
type Local struct {
	A *broker.Broker
	B *broker.Broker
}

// NewLocal creates a pair of brokers sharing a fresh transport.Bus and
// starts both. cfgA and cfgB may be nil to accept every default; NodeID is
// forced to "a" and "b" respectively so tests can address nodes by name.
func NewLocal(ctx context.Context, cfgA, cfgB *broker.Config) (*Local, error) {
	bus := transport.NewBus()

	a, err := newNode(bus, "a", cfgA)
	if err != nil {
		return nil, fmt.Errorf("brokertest: build node a: %w", err)
	}
	b, err := newNode(bus, "b", cfgB)
	if err != nil {
		return nil, fmt.Errorf("brokertest: build node b: %w", err)
	}

	if err := a.Start(ctx); err != nil {
		return nil, fmt.Errorf("brokertest: start node a: %w", err)
	}
	if err := b.Start(ctx); err != nil {
		return nil, fmt.Errorf("brokertest: start node b: %w", err)
	}
	return &Local{A: a, B: b}, nil
}

// Stop shuts down both brokers, returning the first error encountered.
func (p *Local) Stop() error {
	aerr := p.A.Stop()
	berr := p.B.Stop()
	if aerr != nil {
		return aerr
	}
	return berr
}

// Cluster is a named group of brokers sharing one in-memory transport bus.
type Cluster struct {
	Bus     *transport.Bus
	Brokers map[string]*broker.Broker
}

// NewCluster builds and starts one broker per (nodeID, config) pair in
// nodes, all sharing a fresh transport.Bus.
func NewCluster(ctx context.Context, nodes map[string]*broker.Config) (*Cluster, error) {
	bus := transport.NewBus()
	c := &Cluster{Bus: bus, Brokers: make(map[string]*broker.Broker, len(nodes))}
	for id, cfg := range nodes {
		b, err := newNode(bus, id, cfg)
		if err != nil {
			return nil, fmt.Errorf("brokertest: build node %s: %w", id, err)
		}
		c.Brokers[id] = b
	}
	for id, b := range c.Brokers {
		if err := b.Start(ctx); err != nil {
			return nil, fmt.Errorf("brokertest: start node %s: %w", id, err)
		}
	}
	return c, nil
}

// Stop shuts down every broker in the cluster, returning the first error
// encountered.
func (c *Cluster) Stop() error {
	var firstErr error
	for _, b := range c.Brokers {
		if err := b.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func newNode(bus *transport.Bus, nodeID string, cfg *broker.Config) (*broker.Broker, error) {
	merged := broker.NewConfig(cfg)
	merged.NodeID = nodeID
	merged.Transport = transport.NewLoopback(bus)
	return broker.New(merged)
}

// WaitForAction polls until b's registry reports at least one endpoint for
// action, whatever its circuit state, or the deadline elapses, returning an
// error naming the action on timeout. This exists because remote endpoint
// registration is asynchronous: a peer's INFO frame may not have arrived
// yet when a test issues its first Call.
func WaitForAction(b *broker.Broker, action string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if b.HasAction(action) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("brokertest: action %q did not become available within %s", action, timeout)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
