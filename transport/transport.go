// Package transport defines the abstract publish/subscribe transport used
// by the transit layer, and provides an in-memory loopback implementation
// suitable for tests and single-process clusters.
//
// Concrete network transporters (NATS, MQTT, AMQP, Redis, ...) are named as
// external collaborators by this module's specification but are not
// implemented here.
package transport

import "context"

// A Transport delivers byte payloads to topic subscribers, in arrival order
// per topic per subscriber. Implementations must report connection loss
// out-of-band (for example, by closing subscriber channels or invoking a
// registered handler with an error) rather than blocking Publish/Subscribe
// forever.
type Transport interface {
	// Connect establishes the underlying connection. It must be safe to call
	// once before any Subscribe or Publish call.
	Connect(ctx context.Context) error

	// Disconnect tears down the underlying connection. After Disconnect
	// returns, further Publish calls must report an error.
	Disconnect() error

	// Subscribe registers handler to be invoked, in order, for every payload
	// published to topic. Subscribe may be called before or after Connect.
	Subscribe(topic string, handler func([]byte)) error

	// Publish sends payload to every current subscriber of topic. Payload is
	// already serialized; the transport must not interpret its contents.
	Publish(topic string, payload []byte) error
}
