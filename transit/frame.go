// Package transit implements the node-to-node wire protocol used to
// correlate remote calls, broadcast events, and discover cluster peers.
//
// A Transit sits between a broker and an abstract transport.Transport: it
// encodes/decodes Frame envelopes, maintains the pending-request table for
// outbound calls, and drives heartbeat and discovery traffic. It has no
// knowledge of services, endpoints, or the call pipeline; callers supply a
// Host implementation to receive decoded frames.
package transit

import (
	"fmt"

	"github.com/relaymesh/broker/wire"
)

// FrameKind identifies the structure of a Frame's payload, mirroring the
// packet-type byte of the teacher protocol (creachadair/chirp) generalized
// from a single request/response/cancel triad to the broker's full set of
// discovery, heartbeat, request, response, and event frames.
type FrameKind byte

const (
	FrameDiscover   FrameKind = 1
	FrameInfo       FrameKind = 2
	FrameHeartbeat  FrameKind = 3
	FrameDisconnect FrameKind = 4
	FrameRequest    FrameKind = 5
	FrameResponse   FrameKind = 6
	FrameEvent      FrameKind = 7
)

func (k FrameKind) String() string {
	switch k {
	case FrameDiscover:
		return "DISCOVER"
	case FrameInfo:
		return "INFO"
	case FrameHeartbeat:
		return "HEARTBEAT"
	case FrameDisconnect:
		return "DISCONNECT"
	case FrameRequest:
		return "REQUEST"
	case FrameResponse:
		return "RESPONSE"
	case FrameEvent:
		return "EVENT"
	default:
		return fmt.Sprintf("FRAME:%d", byte(k))
	}
}

// ProtocolVersion is the current transit wire protocol version.
const ProtocolVersion = 0

// A Frame is the envelope exchanged between transit instances. Payload is
// the serializer-encoded form of one of the Kind-specific payload types
// declared in this package (RequestPayload, ResponsePayload, ...); DISCOVER
// and DISCONNECT frames carry an empty payload.
type Frame struct {
	Ver     byte
	Sender  string
	Kind    FrameKind
	Payload []byte
}

// Encode renders f in binary envelope form. The envelope itself never uses
// the injected Serializer: only Payload's contents are serializer-specific,
// so a frame can always be routed and its Sender/Kind identified without
// deserializing the body.
func (f *Frame) Encode() []byte {
	var b wire.Builder
	b.Put(f.Ver)
	b.VPutString(f.Sender)
	b.Put(byte(f.Kind))
	b.VPut(f.Payload)
	return b.Bytes()
}

// DecodeFrame parses data as a Frame envelope.
func DecodeFrame(data []byte) (*Frame, error) {
	s := wire.NewScanner(data)
	ver, err := s.Byte()
	if err != nil {
		return nil, fmt.Errorf("transit: decode version: %w", err)
	}
	sender, err := wire.VGet[string](s)
	if err != nil {
		return nil, fmt.Errorf("transit: decode sender: %w", err)
	}
	kindByte, err := s.Byte()
	if err != nil {
		return nil, fmt.Errorf("transit: decode kind: %w", err)
	}
	payload, err := wire.VGet[[]byte](s)
	if err != nil {
		return nil, fmt.Errorf("transit: decode payload: %w", err)
	}
	if len(payload) == 0 {
		payload = nil
	}
	return &Frame{Ver: ver, Sender: sender, Kind: FrameKind(kindByte), Payload: payload}, nil
}

// RequestPayload is the serializer-encoded payload of a REQUEST frame.
type RequestPayload struct {
	ID        string `json:"id"`
	Action    string `json:"action"`
	Params    []byte `json:"params,omitempty"`
	Meta      []byte `json:"meta,omitempty"`
	TimeoutMS int64  `json:"timeout_ms,omitempty"`
	Level     int    `json:"level"`
	ParentID  string `json:"parent_id,omitempty"`
	RequestID string `json:"request_id"`
	Metrics   bool   `json:"metrics,omitempty"`
}

// ErrorPayload carries a reconstructable error across the wire.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Code    int    `json:"code"`
	Data    []byte `json:"data,omitempty"`
	NodeID  string `json:"node_id,omitempty"`
}

// ResponsePayload is the serializer-encoded payload of a RESPONSE frame.
type ResponsePayload struct {
	ID      string        `json:"id"`
	Success bool          `json:"success"`
	Data    []byte        `json:"data,omitempty"`
	Error   *ErrorPayload `json:"error,omitempty"`
}

// EventPayload is the serializer-encoded payload of an EVENT frame.
type EventPayload struct {
	Name   string   `json:"name"`
	Data   []byte   `json:"data,omitempty"`
	Groups []string `json:"groups,omitempty"`
}

// ServiceInfo describes one hosted service for an INFO frame.
type ServiceInfo struct {
	Name    string   `json:"name"`
	Version string   `json:"version,omitempty"`
	Actions []string `json:"actions"`
}

// InfoPayload is the serializer-encoded payload of an INFO frame.
type InfoPayload struct {
	Services []ServiceInfo `json:"services"`
	IPList   []string      `json:"ip_list,omitempty"`
}

// HeartbeatPayload is the serializer-encoded payload of a HEARTBEAT frame.
type HeartbeatPayload struct {
	CPU      float64 `json:"cpu"`
	UptimeMS int64   `json:"uptime_ms"`
}
