package broker

import (
	"math/rand/v2"
	"sync"
)

// Strategy selects among an action's non-OPEN endpoints.
type Strategy int

const (
	StrategyRoundRobin Strategy = iota
	StrategyRandom
)

// actionMap holds every endpoint currently exposing one action, plus a
// round-robin cursor. It is never empty while registered: the owning
// registry removes an actionMap entirely once its last endpoint leaves.
type actionMap struct {
	mu        sync.Mutex
	endpoints []*Endpoint
	cursor    int
}

func newActionMap() *actionMap { return &actionMap{} }

func (m *actionMap) add(ep *Endpoint) (isNew bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.endpoints {
		if e.NodeID == ep.NodeID {
			return false
		}
	}
	m.endpoints = append(m.endpoints, ep)
	return true
}

func (m *actionMap) remove(nodeID string) (empty bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.endpoints {
		if e.NodeID == nodeID {
			m.endpoints = append(m.endpoints[:i], m.endpoints[i+1:]...)
			break
		}
	}
	if m.cursor >= len(m.endpoints) {
		m.cursor = 0
	}
	return len(m.endpoints) == 0
}

func (m *actionMap) byNode(nodeID string) *Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.endpoints {
		if e.NodeID == nodeID {
			return e
		}
	}
	return nil
}

func (m *actionMap) list() []*Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Endpoint, len(m.endpoints))
	copy(out, m.endpoints)
	return out
}

// pick applies the selection policy over the current endpoint set:
// preferLocal first, then the configured strategy among non-OPEN
// endpoints, then half-open recovery probing of an OPEN endpoint whose
// halfOpenTime has elapsed. It returns nil if nothing is currently usable.
func (m *actionMap) pick(strategy Strategy, preferLocal bool) *Endpoint {
	m.mu.Lock()
	endpoints := make([]*Endpoint, len(m.endpoints))
	copy(endpoints, m.endpoints)
	m.mu.Unlock()

	if len(endpoints) == 0 {
		return nil
	}

	if preferLocal {
		for _, e := range endpoints {
			if e.Local() && e.State() != StateOpen {
				return e
			}
		}
	}

	var usable []*Endpoint
	for _, e := range endpoints {
		if e.State() != StateOpen {
			usable = append(usable, e)
		}
	}
	if len(usable) > 0 {
		return m.selectFrom(usable, strategy)
	}

	for _, e := range endpoints {
		if e.probe() == StateHalfOpen {
			return e
		}
	}
	return nil
}

func (m *actionMap) selectFrom(usable []*Endpoint, strategy Strategy) *Endpoint {
	if strategy == StrategyRandom {
		return usable[rand.IntN(len(usable))]
	}

	// Round-robin over the full, stable endpoint set (not just the usable
	// subset) so the cursor position is meaningful across calls even as
	// endpoints flip between OPEN and non-OPEN.
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.endpoints)
	if n == 0 {
		return usable[0]
	}
	for i := 0; i < n; i++ {
		idx := m.cursor % n
		m.cursor++
		candidate := m.endpoints[idx]
		for _, u := range usable {
			if u == candidate {
				return candidate
			}
		}
	}
	return usable[0]
}
