package broker

// ActionDefinition binds a handler to an action name within a service.
type ActionDefinition struct {
	Name    string
	Handler Handler
}

// EventDefinition binds a handler to an event pattern within a service.
type EventDefinition struct {
	Pattern string
	Handler EventHandler
}

// ServiceDefinition replaces the free-form schema-merging surface with a
// typed builder: settings are deep-merged with arrays replaced (never
// concatenated), actions are keyed by name with the later registration
// winning, events are appended, and name/version/lifecycle hooks are wholly
// overridden when set. There is no methods section.
type ServiceDefinition struct {
	name    string
	version string

	settings map[string]any
	actions  map[string]Handler
	events   []EventDefinition

	created func()
	started func() error
	stopped func() error
}

// NewServiceDefinition starts building a service named name.
func NewServiceDefinition(name string) *ServiceDefinition {
	return &ServiceDefinition{
		name:     name,
		settings: make(map[string]any),
		actions:  make(map[string]Handler),
	}
}

// Version sets the service's version, included in its FullName.
func (d *ServiceDefinition) Version(v string) *ServiceDefinition {
	d.version = v
	return d
}

// Settings deep-merges kv into the service's settings. A key present in kv
// overwrites the existing value entirely, including when both are slices:
// arrays are replaced, never concatenated. Nested maps are merged
// recursively.
func (d *ServiceDefinition) Settings(kv map[string]any) *ServiceDefinition {
	d.settings = deepMergeSettings(d.settings, kv)
	return d
}

func deepMergeSettings(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		if existing, ok := out[k].(map[string]any); ok {
			if incoming, ok := v.(map[string]any); ok {
				out[k] = deepMergeSettings(existing, incoming)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// Action registers or replaces the handler for name.
func (d *ServiceDefinition) Action(name string, h Handler) *ServiceDefinition {
	d.actions[name] = h
	return d
}

// Event registers an additional local event subscription hosted by this
// service. Unlike actions, events are appended rather than keyed by name,
// since a service may legitimately listen to the same pattern twice with
// different handlers.
func (d *ServiceDefinition) Event(pattern string, h EventHandler) *ServiceDefinition {
	d.events = append(d.events, EventDefinition{Pattern: pattern, Handler: h})
	return d
}

// Created sets the service's created lifecycle hook, replacing any
// previously set hook.
func (d *ServiceDefinition) Created(fn func()) *ServiceDefinition {
	d.created = fn
	return d
}

// Started sets the service's started lifecycle hook.
func (d *ServiceDefinition) Started(fn func() error) *ServiceDefinition {
	d.started = fn
	return d
}

// Stopped sets the service's stopped lifecycle hook.
func (d *ServiceDefinition) Stopped(fn func() error) *ServiceDefinition {
	d.stopped = fn
	return d
}

// FullName returns "name" or "name@version" when a version is set.
func (d *ServiceDefinition) FullName() string {
	if d.version == "" {
		return d.name
	}
	return d.name + "@" + d.version
}

// ActionNames reports the full "service.action" names this definition
// contributes to a registry.
func (d *ServiceDefinition) ActionNames() []string {
	out := make([]string, 0, len(d.actions))
	for name := range d.actions {
		out = append(out, d.name+"."+name)
	}
	return out
}
