package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/creachadair/taskgroup"
)

// A Bus is a shared in-memory message router. Multiple Loopback transports
// attached to the same Bus behave as if they were connected through a real
// broker: a Publish on one is delivered to every Subscribe registered (on
// any Loopback sharing the Bus) for the matching topic.
//
// This generalizes the teacher's paired in-memory channel (a fixed two-party
// direct connection) to an arbitrary number of parties exchanging messages
// by topic, which is what the transit layer's broadcast and unicast frames
// require.
type Bus struct {
	mu   sync.Mutex
	subs map[string][]chan []byte
}

// NewBus creates an empty, ready-to-use Bus.
func NewBus() *Bus { return &Bus{subs: make(map[string][]chan []byte)} }

func (b *Bus) subscribe(topic string) chan []byte {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()
	return ch
}

func (b *Bus) unsubscribe(topic string, ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[topic]
	for i, s := range subs {
		if s == ch {
			b.subs[topic] = append(subs[:i], subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (b *Bus) publish(topic string, payload []byte) {
	b.mu.Lock()
	subs := append([]chan []byte(nil), b.subs[topic]...)
	b.mu.Unlock()
	for _, ch := range subs {
		ch <- payload
	}
}

// Loopback is a Transport backed by a shared Bus. It delivers payloads to
// each of its own subscribers, in the order they were published, on a
// dedicated goroutine per subscription so that a slow handler cannot stall
// delivery to other topics.
type Loopback struct {
	bus  *Bus
	tasks *taskgroup.Group

	mu     sync.Mutex
	closed bool
	subs   []loopbackSub
}

type loopbackSub struct {
	topic string
	ch    chan []byte
}

// NewLoopback constructs a Loopback transport attached to bus.
func NewLoopback(bus *Bus) *Loopback {
	return &Loopback{bus: bus, tasks: taskgroup.New(nil)}
}

// Connect implements the Transport interface. For a Loopback there is
// nothing to dial; Connect only marks the transport ready.
func (l *Loopback) Connect(ctx context.Context) error { return nil }

// Disconnect implements the Transport interface.
func (l *Loopback) Disconnect() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	subs := l.subs
	l.subs = nil
	l.mu.Unlock()

	for _, s := range subs {
		l.bus.unsubscribe(s.topic, s.ch)
	}
	l.tasks.Wait()
	return nil
}

// Subscribe implements the Transport interface.
func (l *Loopback) Subscribe(topic string, handler func([]byte)) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return errors.New("transport: subscribe on disconnected loopback")
	}
	ch := l.bus.subscribe(topic)
	l.subs = append(l.subs, loopbackSub{topic: topic, ch: ch})
	l.mu.Unlock()

	l.tasks.Go(func() error {
		for payload := range ch {
			handler(payload)
		}
		return nil
	})
	return nil
}

// Publish implements the Transport interface.
func (l *Loopback) Publish(topic string, payload []byte) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return errors.New("transport: publish on disconnected loopback")
	}
	l.bus.publish(topic, payload)
	return nil
}
