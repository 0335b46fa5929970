package broker

import "sync"

// Registry maps action names to the set of endpoints that expose them, and
// tracks which actions belong to which node so that a single node
// departure can deregister every one of its endpoints in one pass.
//
// Writers (local registration, INFO-driven remote registration, and
// DISCONNECT-driven bulk deregistration) serialize against readers via a
// RWMutex; each actionMap additionally guards its own cursor and endpoint
// slice so that concurrent calls to different actions never contend on this
// lock (see SPEC_FULL.md §5).
type Registry struct {
	strategy    Strategy
	preferLocal bool
	breakerCfg  CircuitBreakerConfig

	mu          sync.RWMutex
	actions     map[string]*actionMap
	nodeActions map[string]map[string]bool // nodeID -> action -> true
}

// NewRegistry constructs an empty Registry using the given selection
// strategy, local-preference flag, and circuit-breaker configuration for
// every endpoint it creates.
func NewRegistry(strategy Strategy, preferLocal bool, breakerCfg CircuitBreakerConfig) *Registry {
	return &Registry{
		strategy:    strategy,
		preferLocal: preferLocal,
		breakerCfg:  breakerCfg,
		actions:     make(map[string]*actionMap),
		nodeActions: make(map[string]map[string]bool),
	}
}

// Register adds an endpoint for action on nodeID ("" for local), reporting
// whether the endpoint is new.
func (r *Registry) Register(nodeID, action string) bool {
	r.mu.Lock()
	m, ok := r.actions[action]
	if !ok {
		m = newActionMap()
		r.actions[action] = m
	}
	if r.nodeActions[nodeID] == nil {
		r.nodeActions[nodeID] = make(map[string]bool)
	}
	r.nodeActions[nodeID][action] = true
	r.mu.Unlock()

	return m.add(newEndpoint(nodeID, action, r.breakerCfg))
}

// Deregister removes the endpoint for action on nodeID, dropping the
// action's entry entirely once its last endpoint leaves.
func (r *Registry) Deregister(nodeID, action string) {
	r.mu.Lock()
	m, ok := r.actions[action]
	if !ok {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	if empty := m.remove(nodeID); empty {
		r.mu.Lock()
		delete(r.actions, action)
		r.mu.Unlock()
	}

	r.mu.Lock()
	if actions := r.nodeActions[nodeID]; actions != nil {
		delete(actions, action)
		if len(actions) == 0 {
			delete(r.nodeActions, nodeID)
		}
	}
	r.mu.Unlock()
}

// DeregisterNode removes every endpoint belonging to nodeID, as happens on
// an explicit DISCONNECT frame or a heartbeat timeout.
func (r *Registry) DeregisterNode(nodeID string) {
	r.mu.Lock()
	actions := make([]string, 0, len(r.nodeActions[nodeID]))
	for action := range r.nodeActions[nodeID] {
		actions = append(actions, action)
	}
	r.mu.Unlock()

	for _, action := range actions {
		r.Deregister(nodeID, action)
	}
}

// FindEndpoint resolves an endpoint for action. If preferNodeID is
// non-empty, only that node's endpoint is considered. Otherwise the
// registry's selection policy applies.
func (r *Registry) FindEndpoint(action, preferNodeID string) (*Endpoint, *Error) {
	r.mu.RLock()
	m, ok := r.actions[action]
	r.mu.RUnlock()
	if !ok {
		return nil, ServiceNotFoundError(action)
	}

	if preferNodeID != "" {
		ep := m.byNode(preferNodeID)
		if ep == nil {
			return nil, ServiceNotAvailableError(action, preferNodeID)
		}
		return ep, nil
	}

	ep := m.pick(r.strategy, r.preferLocal)
	if ep == nil {
		return nil, ServiceNotAvailableError(action, "")
	}
	return ep, nil
}

// HasAction reports whether any endpoint currently exposes action.
func (r *Registry) HasAction(action string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.actions[action]
	return ok && len(m.list()) > 0
}

// List returns every endpoint currently registered for action, or across
// all actions when action is empty.
func (r *Registry) List(action string) []*Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if action != "" {
		if m, ok := r.actions[action]; ok {
			return m.list()
		}
		return nil
	}
	var out []*Endpoint
	for _, m := range r.actions {
		out = append(out, m.list()...)
	}
	return out
}

// Actions reports the names of every action with at least one endpoint.
func (r *Registry) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.actions))
	for name := range r.actions {
		out = append(out, name)
	}
	return out
}
