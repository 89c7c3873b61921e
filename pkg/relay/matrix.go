package relay

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Configuration for the Matrix relay backend.
type MatrixConfig struct {
	// The Matrix ID (MXID) of the participant agent.
	UserID id.UserID `yaml:"userId"`
	// The URL of the homeserver the agent talks to.
	HomeserverURL string `yaml:"homeserverUrl"`
	// The access token for the Matrix SDK.
	AccessToken string `yaml:"accessToken"`
}

// The custom room event carrying relayed signaling payloads.
var signalEventType = event.Type{Type: "com.peerprep.interview.signal", Class: event.MessageEventType}

type signalEventContent struct {
	Channel string `json:"channel"`
	Data    []byte `json:"data"`
}

// Matrix implements the relay over Matrix rooms: one room per channel,
// addressed by a deterministic alias, with payloads wrapped in a custom
// event type. The sender's own events come back through /sync like everyone
// else's, so self-echo filtering stays with the receiver.
type Matrix struct {
	client *mautrix.Client
	logger *logrus.Entry

	mutex         sync.Mutex
	subscriptions map[id.RoomID]*matrixSubscription
	syncStarted   bool
}

// NewMatrix creates the client and verifies the access token, mirroring the
// whoami handshake the homeserver expects.
func NewMatrix(config MatrixConfig) (*Matrix, error) {
	client, err := mautrix.NewClient(config.HomeserverURL, config.UserID, config.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create matrix client: %w", err)
	}

	whoami, err := client.Whoami()
	if err != nil {
		return nil, fmt.Errorf("failed to identify relay user: %w", err)
	}
	if config.UserID != whoami.UserID {
		return nil, fmt.Errorf("access token belongs to %s, not %s", whoami.UserID, config.UserID)
	}
	client.DeviceID = whoami.DeviceID

	return &Matrix{
		client:        client,
		logger:        logrus.WithField("relay", "matrix"),
		subscriptions: make(map[id.RoomID]*matrixSubscription),
	}, nil
}

func (m *Matrix) Subscribe(_ context.Context, channel string, handler func(data []byte)) (Subscription, error) {
	roomID, err := m.joinChannelRoom(channel)
	if err != nil {
		return nil, err
	}

	subscription := &matrixSubscription{
		relay:  m,
		roomID: roomID,
		done:   make(chan struct{}),
	}

	subscription.handler = handler

	m.mutex.Lock()
	m.subscriptions[roomID] = subscription
	m.ensureSyncingLocked()
	m.mutex.Unlock()

	return subscription, nil
}

func (m *Matrix) Publish(_ context.Context, channel string, data []byte) error {
	roomID, err := m.joinChannelRoom(channel)
	if err != nil {
		return err
	}

	content := signalEventContent{Channel: channel, Data: data}
	if _, err := m.client.SendMessageEvent(roomID, signalEventType, &content); err != nil {
		return fmt.Errorf("failed to send signal event: %w", err)
	}
	return nil
}

// Resolves the channel's room alias, creating the room on first use. The
// alias is deterministic so both participants end up in the same room
// without exchanging anything beforehand.
func (m *Matrix) joinChannelRoom(channel string) (id.RoomID, error) {
	localpart := "relay." + strings.ReplaceAll(channel, ":", ".")
	alias := id.NewRoomAlias(localpart, m.client.UserID.Homeserver())

	resolved, err := m.client.ResolveAlias(alias)
	if err != nil {
		created, createErr := m.client.CreateRoom(&mautrix.ReqCreateRoom{
			RoomAliasName: localpart,
			Preset:        "public_chat",
		})
		if createErr != nil {
			return "", fmt.Errorf("failed to resolve or create relay room %s: %w", alias, createErr)
		}
		return created.RoomID, nil
	}

	if _, err := m.client.JoinRoomByID(resolved.RoomID); err != nil {
		return "", fmt.Errorf("failed to join relay room %s: %w", alias, err)
	}
	return resolved.RoomID, nil
}

// Starts the sync loop once; all subscriptions share it.
func (m *Matrix) ensureSyncingLocked() {
	if m.syncStarted {
		return
	}
	m.syncStarted = true

	syncer, ok := m.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		m.logger.Panic("matrix syncer is not the default syncer")
	}

	syncer.OnEventType(signalEventType, func(_ mautrix.EventSource, evt *event.Event) {
		// Custom event types are not parsed by the SDK; read the raw content.
		encoded, ok := evt.Content.Raw["data"].(string)
		if !ok {
			m.logger.Warn("ignoring signal event without payload")
			return
		}

		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			m.logger.WithError(err).Warn("ignoring signal event with malformed payload")
			return
		}

		m.dispatch(evt.RoomID, data)
	})

	go func() {
		if err := m.client.Sync(); err != nil {
			m.logger.WithError(err).Error("matrix sync stopped")
		}

		m.mutex.Lock()
		defer m.mutex.Unlock()
		m.syncStarted = false
		for _, subscription := range m.subscriptions {
			subscription.markDone()
		}
	}()
}

func (m *Matrix) dispatch(roomID id.RoomID, data []byte) {
	m.mutex.Lock()
	subscription := m.subscriptions[roomID]
	m.mutex.Unlock()

	if subscription != nil {
		subscription.handler(data)
	}
}

type matrixSubscription struct {
	relay   *Matrix
	roomID  id.RoomID
	handler func(data []byte)

	doneOnce sync.Once
	done     chan struct{}
}

func (s *matrixSubscription) Unsubscribe() error {
	s.relay.mutex.Lock()
	if s.relay.subscriptions[s.roomID] == s {
		delete(s.relay.subscriptions, s.roomID)
	}
	s.relay.mutex.Unlock()

	s.markDone()
	return nil
}

func (s *matrixSubscription) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *matrixSubscription) Done() <-chan struct{} {
	return s.done
}
