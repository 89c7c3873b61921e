package relay

import "context"

// Relay is the hosted pub/sub primitive that two browsers (or agents) that
// cannot address each other directly use as a rendezvous point. It is the
// only piece of shared infrastructure the session core depends on; there is
// no dedicated signaling server.
//
// Guarantees expected from an implementation:
//   - at-least-once delivery to handlers of an active subscription,
//   - per-channel, per-publisher ordering,
//   - no delivery before the subscription is active or after it is gone.
//
// Whether a publisher receives its own messages back is backend-specific.
// Implementations here do not suppress self-delivery; receivers filter by
// sender identity at the message-handling layer.
type Relay interface {
	// Subscribe registers a handler on a channel. It returns only once the
	// subscription is acknowledged as active by the backend, so a publish
	// performed after a successful Subscribe is observable by the handler.
	Subscribe(ctx context.Context, channel string, handler func(data []byte)) (Subscription, error)

	// Publish sends a payload to every active subscriber of the channel.
	// Fire-and-forget: there is no acknowledgement of remote receipt.
	Publish(ctx context.Context, channel string, data []byte) error
}

// Subscription is a live registration on a relay channel.
type Subscription interface {
	// Unsubscribe tears the registration down. Implementations must be
	// idempotent: teardown paths race and may unsubscribe twice.
	Unsubscribe() error
}
