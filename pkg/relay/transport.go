package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/peerprep/interviewd/pkg/signaling"
	"github.com/sirupsen/logrus"
)

var (
	// ErrTransportClosed is returned for broadcasts after Close.
	ErrTransportClosed = errors.New("transport is closed")
	// ErrTransportUnavailable is returned while the relay subscription is
	// down. The caller decides when to Reopen; the transport never retries
	// in the background.
	ErrTransportUnavailable = errors.New("relay subscription is not active")
)

// How many broadcasts may pile up before the subscription becomes active.
const maxPendingBroadcasts = 64

// Transport is the signaling transport of one interview session: a typed
// broadcast/subscribe interface over a single relay channel. Every message
// kind of the session (negotiation, state updates, presence) is multiplexed
// over this one channel.
//
// Broadcasts issued before Open are queued and flushed once the subscription
// is active; they are never silently dropped. Broadcasts after a detected
// subscription drop fail with ErrTransportUnavailable so the caller knows a
// retry is needed.
type Transport struct {
	relay   Relay
	channel string
	localID string
	logger  *logrus.Entry

	mutex        sync.Mutex
	subscription Subscription
	opened       bool
	closed       bool
	available    bool
	pending      []signaling.Message
	handlers     []func(signaling.Message)
}

// NewTransport prepares a transport for the given session. No relay traffic
// happens until Open.
func NewTransport(r Relay, sessionID, localID string, logger *logrus.Entry) *Transport {
	return &Transport{
		relay:   r,
		channel: ChannelName(sessionID),
		localID: localID,
		logger:  logger.WithField("channel", ChannelName(sessionID)),
	}
}

// ChannelName maps a session ID to its relay channel.
func ChannelName(sessionID string) string {
	return "interview:" + sessionID
}

// OnMessage registers a handler for every message published on the session
// channel, including the local participant's own messages if the relay
// echoes them. Handlers registered after Open may miss early messages.
func (t *Transport) OnMessage(handler func(signaling.Message)) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.handlers = append(t.handlers, handler)
}

// Open subscribes to the session channel. It returns once the subscription
// is acknowledged as active, then flushes any queued broadcasts.
func (t *Transport) Open(ctx context.Context) error {
	t.mutex.Lock()
	if t.closed {
		t.mutex.Unlock()
		return ErrTransportClosed
	}
	if t.opened && t.available {
		t.mutex.Unlock()
		return nil
	}
	t.mutex.Unlock()

	subscription, err := t.relay.Subscribe(ctx, t.channel, t.dispatch)
	if err != nil {
		return fmt.Errorf("failed to subscribe to relay channel: %w", err)
	}

	t.mutex.Lock()
	if t.closed {
		// Lost the race against Close; roll the subscription back.
		t.mutex.Unlock()
		if err := subscription.Unsubscribe(); err != nil {
			t.logger.WithError(err).Warn("failed to roll back subscription")
		}
		return ErrTransportClosed
	}
	t.subscription = subscription
	t.opened = true
	t.available = true
	queued := t.pending
	t.pending = nil
	t.mutex.Unlock()

	go t.watchSubscription(subscription)

	for _, message := range queued {
		if err := t.Broadcast(ctx, message); err != nil {
			t.logger.WithError(err).WithField("kind", message.Kind).Error("failed to flush queued broadcast")
		}
	}

	return nil
}

// Reopen re-establishes a dropped subscription. Intended to be called from
// a user-initiated action after a broadcast failed with
// ErrTransportUnavailable, not from a background retry loop.
func (t *Transport) Reopen(ctx context.Context) error {
	return t.Open(ctx)
}

// Broadcast publishes a message on the session channel. Fire-and-forget:
// a nil error means the relay accepted the message, not that any remote
// participant received it.
func (t *Transport) Broadcast(ctx context.Context, message signaling.Message) error {
	t.mutex.Lock()
	if t.closed {
		t.mutex.Unlock()
		return ErrTransportClosed
	}

	if !t.opened {
		// Not active yet: queue for the flush that follows Open.
		if len(t.pending) >= maxPendingBroadcasts {
			t.mutex.Unlock()
			return ErrTransportUnavailable
		}
		t.pending = append(t.pending, message)
		t.mutex.Unlock()
		return nil
	}

	if !t.available {
		t.mutex.Unlock()
		return ErrTransportUnavailable
	}
	t.mutex.Unlock()

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal signaling message: %w", err)
	}

	if err := t.relay.Publish(ctx, t.channel, data); err != nil {
		return fmt.Errorf("failed to publish signaling message: %w", err)
	}

	return nil
}

// Close unsubscribes from the session channel. Safe to call multiple times
// and concurrently with Open.
func (t *Transport) Close() error {
	t.mutex.Lock()
	if t.closed {
		t.mutex.Unlock()
		return nil
	}
	t.closed = true
	t.available = false
	subscription := t.subscription
	t.subscription = nil
	t.pending = nil
	t.mutex.Unlock()

	if subscription != nil {
		return subscription.Unsubscribe()
	}
	return nil
}

// LocalID returns the participant identity this transport was opened for.
func (t *Transport) LocalID() string {
	return t.localID
}

func (t *Transport) dispatch(data []byte) {
	var message signaling.Message
	if err := json.Unmarshal(data, &message); err != nil {
		t.logger.WithError(err).Warn("dropping malformed signaling message")
		return
	}

	t.mutex.Lock()
	handlers := make([]func(signaling.Message), len(t.handlers))
	copy(handlers, t.handlers)
	t.mutex.Unlock()

	for _, handler := range handlers {
		handler(message)
	}
}

// Marks the transport unavailable once the backend reports the subscription
// gone, unless we closed it ourselves.
func (t *Transport) watchSubscription(subscription Subscription) {
	watcher, ok := subscription.(interface{ Done() <-chan struct{} })
	if !ok {
		return
	}

	<-watcher.Done()

	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.closed || t.subscription != subscription {
		return
	}
	t.available = false
	t.logger.Warn("relay subscription dropped, transport unavailable until reopened")
}
