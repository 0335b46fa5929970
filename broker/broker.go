package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/relaymesh/broker/discovery"
	"github.com/relaymesh/broker/transit"
)

// Broker is the top-level runtime: a local registry of actions and events,
// an optional transit layer connecting it to remote nodes, and the
// bookkeeping (catalog, node table, metrics) that both consult.
type Broker struct {
	cfg *Config
	log *slog.Logger

	registry    *Registry
	nodes       *nodeTable
	catalog     *discovery.Catalog
	events      *EventBus
	middlewares *middlewareChain
	metrics     *brokerMetrics
	sampler     *sampler

	transitLayer *transit.Transit

	mu       sync.RWMutex
	handlers map[string]Handler
	services map[string]*ServiceDefinition
	started  bool
}

// New builds a Broker from cfg, registering the $node.* internal actions
// unless Config.InternalActions is false. The broker does not connect to
// any transport until Start is called.
func New(cfg *Config) (*Broker, error) {
	cfg = NewConfig(cfg)
	b := &Broker{
		cfg:         cfg,
		log:         cfg.Logger.With("component", "broker", "node", cfg.NodeID),
		registry:    NewRegistry(cfg.Registry.Strategy, cfg.Registry.PreferLocal, cfg.CircuitBreaker),
		nodes:       newNodeTable(),
		catalog:     discovery.New(),
		events:      NewEventBus(),
		middlewares: &middlewareChain{},
		metrics:     newBrokerMetrics(),
		sampler:     newSampler(cfg.MetricsRate),
		handlers:    make(map[string]Handler),
		services:    make(map[string]*ServiceDefinition),
	}
	if cfg.InternalActions {
		b.registerInternalActions()
	}
	return b, nil
}

// Use registers a middleware. Middlewares wrap only handlers registered
// after the call, per middlewareChain's documented caching behavior.
func (b *Broker) Use(mw Middleware) {
	b.middlewares.use(mw)
}

func (b *Broker) registerLocalAction(name string, h Handler) {
	wrapped := b.middlewares.wrap(h, name)
	b.mu.Lock()
	b.handlers[name] = wrapped
	b.mu.Unlock()
	b.registry.Register("", name)
}

func (b *Broker) lookupLocalAction(name string) Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.handlers[name]
}

// CreateService registers every action and event def declares, and calls
// its Created hook, if any. A service's full name (name, or name@version)
// must be unique within the broker.
func (b *Broker) CreateService(def *ServiceDefinition) error {
	b.mu.Lock()
	if _, exists := b.services[def.FullName()]; exists {
		b.mu.Unlock()
		return fmt.Errorf("broker: service %q is already registered", def.FullName())
	}
	b.services[def.FullName()] = def
	b.mu.Unlock()

	actionNames := make([]string, 0, len(def.actions))
	for name, h := range def.actions {
		full := def.name + "." + name
		b.registerLocalAction(full, h)
		actionNames = append(actionNames, full)
	}
	for _, ev := range def.events {
		b.events.Subscribe(ev.Pattern, ev.Handler)
	}
	b.catalog.AddLocal(discovery.Service{Name: def.name, Version: def.version, Actions: actionNames})

	if def.created != nil {
		def.created()
	}
	return nil
}

// Start brings up the transit layer and announces this node to the cluster,
// if a transport was configured, and then runs every registered service's
// Started hook. Calling Start on a broker that is already started does
// nothing.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = true
	services := make([]*ServiceDefinition, 0, len(b.services))
	for _, s := range b.services {
		services = append(services, s)
	}
	b.mu.Unlock()

	if b.cfg.Transport != nil {
		tr, err := transit.New(&transit.Config{
			NodeID:            b.cfg.NodeID,
			Transport:         b.cfg.Transport,
			Serializer:        b.cfg.Serializer,
			Host:              b,
			Logger:            b.cfg.Logger,
			HeartbeatInterval: b.cfg.HeartbeatInterval,
			HeartbeatTimeout:  b.cfg.HeartbeatTimeout,
		})
		if err != nil {
			return fmt.Errorf("broker: build transit: %w", err)
		}
		if err := tr.Start(ctx); err != nil {
			return fmt.Errorf("broker: start transit: %w", err)
		}
		b.transitLayer = tr
	}

	for _, s := range services {
		if s.started != nil {
			if err := s.started(); err != nil {
				return fmt.Errorf("broker: start service %q: %w", s.FullName(), err)
			}
		}
	}

	return nil
}

// Stop runs every registered service's Stopped hook and then tears down the
// transit layer, if any, returning the first error encountered. Calling
// Stop on a broker that is not started does nothing.
func (b *Broker) Stop() error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	services := make([]*ServiceDefinition, 0, len(b.services))
	for _, s := range b.services {
		services = append(services, s)
	}
	tr := b.transitLayer
	b.started = false
	b.mu.Unlock()

	var firstErr error
	for _, s := range services {
		if s.stopped != nil {
			if err := s.stopped(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	if tr != nil {
		if err := tr.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Emit delivers an event to local subscribers and, when connected to a
// transport, broadcasts it to the rest of the cluster.
func (b *Broker) Emit(name string, payload any, groups ...string) error {
	b.metrics.eventsEmitted.Add(1)
	b.events.Emit(name, payload, groups)

	b.mu.RLock()
	tr := b.transitLayer
	b.mu.RUnlock()
	if tr == nil {
		return nil
	}
	data, err := b.cfg.Serializer.Serialize(payload)
	if err != nil {
		return err
	}
	return tr.PublishEvent(&transit.EventPayload{Name: name, Data: data, Groups: groups})
}

// On subscribes handler to every locally or remotely emitted event whose
// name matches pattern.
func (b *Broker) On(pattern string, handler EventHandler) (unsubscribe func()) {
	return b.events.Subscribe(pattern, handler)
}

// HasAction reports whether any endpoint, local or remote, currently
// exposes action.
func (b *Broker) HasAction(action string) bool {
	return b.registry.HasAction(action)
}
