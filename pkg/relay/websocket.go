package relay

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Configuration for the websocket relay backend.
type WebsocketConfig struct {
	// Base URL of the relay server, e.g. "ws://localhost:8090".
	URL string `yaml:"url"`
}

// Frame is the wire format between the websocket relay server and its
// clients. The payload travels opaque to the relay.
type Frame struct {
	Type string `json:"type"`
	Data []byte `json:"data,omitempty"`
}

// Frame types.
const (
	FrameSubscribed = "subscribed"
	FramePublish    = "publish"
	FrameMessage    = "message"
)

// Websocket implements the relay against the development relay server
// (cmd/relayd). One websocket connection per subscribed channel; the server
// echoes published messages to every connection on the channel, the
// publishing one included.
type Websocket struct {
	config WebsocketConfig
	logger *logrus.Entry

	mutex         sync.Mutex
	subscriptions map[string]*websocketSubscription
}

func NewWebsocket(config WebsocketConfig) *Websocket {
	return &Websocket{
		config:        config,
		logger:        logrus.WithField("relay", "websocket"),
		subscriptions: make(map[string]*websocketSubscription),
	}
}

func (w *Websocket) Subscribe(ctx context.Context, channel string, handler func(data []byte)) (Subscription, error) {
	connection, err := w.dial(ctx, channel)
	if err != nil {
		return nil, err
	}

	// The server confirms the subscription before forwarding anything, so a
	// successful read of the confirmation frame means we are live.
	var confirmation Frame
	if err := connection.ReadJSON(&confirmation); err != nil || confirmation.Type != FrameSubscribed {
		connection.Close()
		return nil, fmt.Errorf("websocket subscription was not confirmed: %w", err)
	}

	subscription := &websocketSubscription{
		relay:      w,
		channel:    channel,
		connection: connection,
		done:       make(chan struct{}),
	}

	w.mutex.Lock()
	w.subscriptions[channel] = subscription
	w.mutex.Unlock()

	go func() {
		defer subscription.markDone()
		for {
			var frame Frame
			if err := connection.ReadJSON(&frame); err != nil {
				return
			}
			if frame.Type == FrameMessage {
				handler(frame.Data)
			}
		}
	}()

	return subscription, nil
}

func (w *Websocket) Publish(ctx context.Context, channel string, data []byte) error {
	w.mutex.Lock()
	subscription := w.subscriptions[channel]
	w.mutex.Unlock()

	frame := Frame{Type: FramePublish, Data: data}

	// Reuse the subscription connection when we have one; otherwise publish
	// over a short-lived connection.
	if subscription != nil {
		return subscription.write(frame)
	}

	connection, err := w.dial(ctx, channel)
	if err != nil {
		return err
	}
	defer connection.Close()

	var confirmation Frame
	if err := connection.ReadJSON(&confirmation); err != nil {
		return fmt.Errorf("websocket relay did not answer: %w", err)
	}

	if err := connection.WriteJSON(frame); err != nil {
		return fmt.Errorf("websocket publish failed: %w", err)
	}
	return nil
}

func (w *Websocket) dial(ctx context.Context, channel string) (*websocket.Conn, error) {
	endpoint := fmt.Sprintf("%s/ws?channel=%s", w.config.URL, url.QueryEscape(channel))
	connection, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial relay server: %w", err)
	}
	return connection, nil
}

func (w *Websocket) forget(subscription *websocketSubscription) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.subscriptions[subscription.channel] == subscription {
		delete(w.subscriptions, subscription.channel)
	}
}

type websocketSubscription struct {
	relay      *Websocket
	channel    string
	connection *websocket.Conn

	writeMutex sync.Mutex
	closeOnce  sync.Once
	doneOnce   sync.Once
	done       chan struct{}
}

func (s *websocketSubscription) write(frame Frame) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if err := s.connection.WriteJSON(frame); err != nil {
		return fmt.Errorf("websocket publish failed: %w", err)
	}
	return nil
}

func (s *websocketSubscription) Unsubscribe() error {
	s.closeOnce.Do(func() {
		s.relay.forget(s)
		s.connection.Close()
	})
	return nil
}

func (s *websocketSubscription) markDone() {
	s.relay.forget(s)
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *websocketSubscription) Done() <-chan struct{} {
	return s.done
}
