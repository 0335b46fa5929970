package broker

import "context"

// registerInternalActions installs the $node.* introspection actions when
// Config.InternalActions is set, matching SPEC_FULL.md's external
// interfaces list.
func (b *Broker) registerInternalActions() {
	b.registerLocalAction("$node.list", func(ctx context.Context, c *Context) (any, error) {
		nodes := b.nodes.list()
		out := make([]map[string]any, 0, len(nodes)+1)
		out = append(out, map[string]any{"id": b.cfg.NodeID, "local": true, "status": "alive"})
		for _, n := range nodes {
			out = append(out, map[string]any{
				"id":       n.ID,
				"local":    false,
				"status":   n.Status.String(),
				"ipList":   n.IPList,
				"cpu":      n.CPU,
				"lastSeen": n.LastHeartbeat,
			})
		}
		return out, nil
	})

	b.registerLocalAction("$node.services", func(ctx context.Context, c *Context) (any, error) {
		return b.catalog.Local(), nil
	})

	b.registerLocalAction("$node.actions", func(ctx context.Context, c *Context) (any, error) {
		return b.registry.Actions(), nil
	})

	b.registerLocalAction("$node.health", func(ctx context.Context, c *Context) (any, error) {
		return map[string]any{
			"nodeID": b.cfg.NodeID,
			"nodes":  len(b.nodes.list()),
		}, nil
	})

	if b.cfg.Statistics {
		b.registerLocalAction("$node.stats", func(ctx context.Context, c *Context) (any, error) {
			return map[string]any{
				"calls_local":    b.metrics.callsLocal.Value(),
				"calls_remote":   b.metrics.callsRemote.Value(),
				"call_errors":    b.metrics.callErrors.Value(),
				"call_retries":   b.metrics.callRetries.Value(),
				"call_fallbacks": b.metrics.callFallbacks.Value(),
				"circuit_opens":  b.metrics.circuitOpens.Value(),
				"events_emitted": b.metrics.eventsEmitted.Value(),
			}, nil
		})
	}
}
