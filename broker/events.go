package broker

import (
	"sort"
	"strings"
	"sync"
)

// EventHandler receives a locally or remotely emitted event.
type EventHandler func(name string, payload any, groups []string)

type eventSub struct {
	seq     uint64
	pattern string
	handler EventHandler
	once    bool
}

// eventNode is one segment position in the dot-separated pattern trie.
// Subscriptions ending in a literal segment are stored in subs at the node
// reached by walking every segment; subscriptions ending in "**" are
// stored in globstarSubs at the node reached by walking every segment
// before the "**", since "**" matches that position and any suffix.
type eventNode struct {
	children     map[string]*eventNode
	star         *eventNode
	subs         []*eventSub
	globstarSubs []*eventSub
}

func (n *eventNode) child(seg string) *eventNode {
	if seg == "*" {
		if n.star == nil {
			n.star = &eventNode{}
		}
		return n.star
	}
	if n.children == nil {
		n.children = make(map[string]*eventNode)
	}
	c, ok := n.children[seg]
	if !ok {
		c = &eventNode{}
		n.children[seg] = c
	}
	return c
}

func (n *eventNode) collect(segments []string, out *[]*eventSub) {
	*out = append(*out, n.globstarSubs...)
	if len(segments) == 0 {
		*out = append(*out, n.subs...)
		return
	}
	seg, rest := segments[0], segments[1:]
	if child, ok := n.children[seg]; ok {
		child.collect(rest, out)
	}
	if n.star != nil {
		n.star.collect(rest, out)
	}
}

// EventBus is the broker's local publish/subscribe hub: a hierarchical
// wildcard matcher over dot-separated event names, implemented as a trie
// keyed by segment for O(depth) matching rather than a linear scan over
// every registered pattern.
type EventBus struct {
	mu      sync.Mutex
	root    *eventNode
	nextSeq uint64
}

// NewEventBus returns an empty EventBus.
func NewEventBus() *EventBus { return &EventBus{root: &eventNode{}} }

// Subscribe registers handler for every event name matching pattern
// ("*" matches exactly one dot-separated segment, "**" matches any
// suffix including zero segments) and returns an unsubscribe function.
func (b *EventBus) Subscribe(pattern string, handler EventHandler) (unsubscribe func()) {
	return b.subscribe(pattern, handler, false)
}

// Once behaves like Subscribe but automatically unsubscribes after the
// first delivery.
func (b *EventBus) Once(pattern string, handler EventHandler) (unsubscribe func()) {
	return b.subscribe(pattern, handler, true)
}

func (b *EventBus) subscribe(pattern string, handler EventHandler, once bool) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &eventSub{seq: b.nextSeq, pattern: pattern, handler: handler, once: once}
	b.nextSeq++

	node := b.root
	segments := strings.Split(pattern, ".")
	for i, seg := range segments {
		if seg == "**" && i == len(segments)-1 {
			node.globstarSubs = append(node.globstarSubs, sub)
			return func() { b.remove(sub) }
		}
		node = node.child(seg)
	}
	node.subs = append(node.subs, sub)
	return func() { b.remove(sub) }
}

func (b *EventBus) remove(target *eventSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	removeFrom := func(subs []*eventSub) []*eventSub {
		for i, s := range subs {
			if s == target {
				return append(subs[:i], subs[i+1:]...)
			}
		}
		return subs
	}
	var walk func(n *eventNode)
	walk = func(n *eventNode) {
		if n == nil {
			return
		}
		n.subs = removeFrom(n.subs)
		n.globstarSubs = removeFrom(n.globstarSubs)
		walk(n.star)
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(b.root)
}

// Emit delivers payload to every subscriber whose pattern matches name, in
// subscription order, synchronously on the calling goroutine. Once
// subscribers are removed after this call returns.
func (b *EventBus) Emit(name string, payload any, groups []string) {
	segments := strings.Split(name, ".")

	b.mu.Lock()
	var matches []*eventSub
	b.root.collect(segments, &matches)
	sort.Slice(matches, func(i, j int) bool { return matches[i].seq < matches[j].seq })
	b.mu.Unlock()

	var toRemove []*eventSub
	for _, sub := range matches {
		sub.handler(name, payload, groups)
		if sub.once {
			toRemove = append(toRemove, sub)
		}
	}
	for _, sub := range toRemove {
		b.remove(sub)
	}
}
