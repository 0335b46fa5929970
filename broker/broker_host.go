package broker

import (
	"context"

	"github.com/relaymesh/broker/discovery"
	"github.com/relaymesh/broker/transit"
)

// Broker implements transit.Host, translating between transit's wire
// payloads and the broker's own Context/Error types so that transit never
// needs to know about the call pipeline, the registry, or the catalog.

// HandleDiscover records that from exists, ahead of Transit's automatic
// INFO reply.
func (b *Broker) HandleDiscover(from string) {
	b.nodes.touch(from, nil)
}

// HandleRequest looks up the local handler for req.Action, builds a
// Context reconstructed from the wire payload's identity fields, and
// invokes it.
func (b *Broker) HandleRequest(ctx context.Context, from string, req *transit.RequestPayload) ([]byte, *transit.ErrorPayload) {
	handler := b.lookupLocalAction(req.Action)
	if handler == nil {
		return nil, b.payloadFromError(ServiceNotFoundError(req.Action))
	}

	var params any
	if len(req.Params) > 0 {
		if err := b.cfg.Serializer.Deserialize(req.Params, &params); err != nil {
			return nil, b.payloadFromError(ServiceError(err.Error(), 500))
		}
	}
	var meta map[string]any
	if len(req.Meta) > 0 {
		if err := b.cfg.Serializer.Deserialize(req.Meta, &meta); err != nil {
			return nil, b.payloadFromError(ServiceError(err.Error(), 500))
		}
	}

	cc := &Context{
		ID:        req.ID,
		RequestID: req.RequestID,
		ParentID:  req.ParentID,
		Level:     req.Level,
		NodeID:    from,
		Action:    req.Action,
		Params:    params,
		Meta:      meta,
		Metrics:   req.Metrics,
	}
	cc.startSpan()

	result, err := handler(ctx, cc)
	cc.finishSpan()
	if err != nil {
		return nil, b.payloadFromError(coerceError(err))
	}

	data, serr := b.cfg.Serializer.Serialize(result)
	if serr != nil {
		return nil, b.payloadFromError(ServiceError(serr.Error(), 500))
	}
	return data, nil
}

// HandleEvent decodes an inbound EVENT frame and re-emits it on the local
// event bus so remote and local publishers are indistinguishable to
// subscribers.
func (b *Broker) HandleEvent(from string, ev *transit.EventPayload) {
	var payload any
	if len(ev.Data) > 0 {
		if err := b.cfg.Serializer.Deserialize(ev.Data, &payload); err != nil {
			b.log.Warn("malformed event payload", "peer", from, "event", ev.Name, "error", err)
			return
		}
	}
	b.events.Emit(ev.Name, payload, ev.Groups)
}

// HandleInfo replaces the registry's and catalog's view of from's services
// with the snapshot carried in info.
func (b *Broker) HandleInfo(from string, info *transit.InfoPayload) {
	b.registry.DeregisterNode(from)

	services := make([]discovery.Service, 0, len(info.Services))
	for _, svc := range info.Services {
		services = append(services, discovery.Service{Name: svc.Name, Version: svc.Version, Actions: svc.Actions})
		for _, action := range svc.Actions {
			b.registry.Register(from, action)
		}
	}
	b.catalog.SetRemote(from, services)

	if _, isNew := b.nodes.touch(from, info.IPList); isNew {
		b.metrics.nodesJoined.Add(1)
		b.log.Info("node joined", "peer", from)
	}
}

// HandleHeartbeat records a liveness signal from a remote node.
func (b *Broker) HandleHeartbeat(from string, hb *transit.HeartbeatPayload) {
	b.nodes.heartbeat(from, hb.CPU)
}

// HandleDisconnect forgets from's endpoints and catalog entry, and marks its
// liveness record disconnected.
func (b *Broker) HandleDisconnect(from string) {
	b.nodes.disconnect(from)
	b.registry.DeregisterNode(from)
	b.catalog.RemoveNode(from)
	b.metrics.nodesLeft.Add(1)
	b.log.Info("node disconnected", "peer", from)
}

// LocalInfo reports the services hosted by this node, used to answer
// DISCOVER frames with an INFO broadcast.
func (b *Broker) LocalInfo() *transit.InfoPayload {
	local := b.catalog.Local()
	out := make([]transit.ServiceInfo, 0, len(local))
	for _, s := range local {
		out = append(out, transit.ServiceInfo{Name: s.Name, Version: s.Version, Actions: s.Actions})
	}
	return &transit.InfoPayload{Services: out}
}

func (b *Broker) payloadFromError(e *Error) *transit.ErrorPayload {
	if e == nil {
		return nil
	}
	var data []byte
	if len(e.Data) > 0 {
		if enc, err := b.cfg.Serializer.Serialize(e.Data); err == nil {
			data = enc
		}
	}
	return &transit.ErrorPayload{Kind: e.Kind, Message: e.Message, Code: e.Code, Data: data, NodeID: e.NodeID}
}

func (b *Broker) errorFromPayload(p *transit.ErrorPayload) *Error {
	if p == nil {
		return ServiceError("remote call failed with no error detail", 500)
	}
	var data map[string]any
	if len(p.Data) > 0 {
		_ = b.cfg.Serializer.Deserialize(p.Data, &data)
	}
	return &Error{Kind: p.Kind, Message: p.Message, Code: p.Code, Data: data, NodeID: p.NodeID}
}
