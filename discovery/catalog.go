// Package discovery tracks which services and actions are hosted locally
// and by each known remote node, the same name-to-owner mapping idea as the
// teacher's method catalog generalized from a single bound peer to a
// cluster of many.
package discovery

import (
	"sort"
	"sync"
)

// Service describes one hosted service and the actions it exposes.
type Service struct {
	Name    string
	Version string
	Actions []string
}

// FullName returns the service's fully qualified name, "name" or
// "name@version" when a version is set.
func (s Service) FullName() string {
	if s.Version == "" {
		return s.Name
	}
	return s.Name + "@" + s.Version
}

// Catalog tracks the local node's own services plus a snapshot of every
// known remote node's services, keyed by node ID. Unlike the teacher's
// Catalog, which maps names to method IDs for a single bound peer, this
// Catalog maps names to an owning node (or to "" for local), because the
// same action name can be hosted by several nodes at once.
type Catalog struct {
	mu     sync.RWMutex
	local  map[string]Service
	remote map[string]map[string]Service // nodeID -> full service name -> Service
}

// New returns an empty Catalog.
func New() *Catalog {
	return &Catalog{
		local:  make(map[string]Service),
		remote: make(map[string]map[string]Service),
	}
}

// AddLocal registers svc as hosted by the local node.
func (c *Catalog) AddLocal(svc Service) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local[svc.FullName()] = svc
}

// RemoveLocal deregisters the local service with the given full name.
func (c *Catalog) RemoveLocal(fullName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.local, fullName)
}

// Local reports the services currently hosted by the local node, sorted by
// full name for deterministic output (used when answering discovery
// queries and in the $node.services internal action).
func (c *Catalog) Local() []Service {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedServices(c.local)
}

// SetRemote replaces the set of services known to be hosted by node. An
// empty services slice clears the node's catalog entry without forgetting
// that the node exists; use RemoveNode to forget it entirely.
func (c *Catalog) SetRemote(node string, services []Service) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := make(map[string]Service, len(services))
	for _, s := range services {
		m[s.FullName()] = s
	}
	c.remote[node] = m
}

// RemoveNode forgets everything known about node, local catalog entries
// for other nodes are unaffected.
func (c *Catalog) RemoveNode(node string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.remote, node)
}

// Remote reports the services known to be hosted by node.
func (c *Catalog) Remote(node string) []Service {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedServices(c.remote[node])
}

// Nodes reports the IDs of every remote node with a catalog entry, including
// one whose services were set to an empty list, sorted for deterministic
// output.
func (c *Catalog) Nodes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	nodes := make([]string, 0, len(c.remote))
	for node := range c.remote {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	return nodes
}

// ActionHosts reports every node known to host action, using "" to denote
// the local node. The result is not sorted by any particular priority;
// callers that care about locality should check for "" explicitly.
func (c *Catalog) ActionHosts(action string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var hosts []string
	for _, svc := range c.local {
		if hasAction(svc.Actions, action) {
			hosts = append(hosts, "")
			break
		}
	}
	for node, services := range c.remote {
		for _, svc := range services {
			if hasAction(svc.Actions, action) {
				hosts = append(hosts, node)
				break
			}
		}
	}
	return hosts
}

func hasAction(actions []string, name string) bool {
	for _, a := range actions {
		if a == name {
			return true
		}
	}
	return false
}

func sortedServices(m map[string]Service) []Service {
	out := make([]Service, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName() < out[j].FullName() })
	return out
}
