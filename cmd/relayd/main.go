// relayd is the development signaling relay: a websocket fan-out server for
// local setups without Redis or a Matrix homeserver. Every frame published
// on a channel is forwarded to all connections subscribed to it, the
// publishing connection included; the participant agents filter their own
// messages by sender ID.
package main

import (
	"flag"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/peerprep/interviewd/pkg/relay"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	// The relay is a development tool; it trusts every origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

type server struct {
	logger *logrus.Entry

	mutex    sync.Mutex
	channels map[string]map[*client]struct{}
}

type client struct {
	connection *websocket.Conn
	writeMutex sync.Mutex
}

func (c *client) send(frame relay.Frame) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	return c.connection.WriteJSON(frame)
}

func newServer() *server {
	return &server{
		logger:   logrus.WithField("component", "relayd"),
		channels: make(map[string]map[*client]struct{}),
	}
}

func (s *server) handle(writer http.ResponseWriter, request *http.Request) {
	channel := request.URL.Query().Get("channel")
	if channel == "" {
		http.Error(writer, "missing channel parameter", http.StatusBadRequest)
		return
	}

	connection, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		s.logger.WithError(err).Warn("failed to upgrade connection")
		return
	}

	subscriber := &client{connection: connection}
	s.subscribe(channel, subscriber)
	defer s.unsubscribe(channel, subscriber)

	// The subscription is live from this point on; confirm it so the client
	// knows it will not miss messages published after the confirmation.
	if err := subscriber.send(relay.Frame{Type: relay.FrameSubscribed}); err != nil {
		return
	}

	logger := s.logger.WithField("channel", channel)
	logger.Info("client subscribed")

	for {
		var frame relay.Frame
		if err := connection.ReadJSON(&frame); err != nil {
			logger.Info("client disconnected")
			return
		}
		if frame.Type != relay.FramePublish {
			logger.WithField("type", frame.Type).Warn("ignoring unexpected frame")
			continue
		}
		s.broadcast(channel, frame.Data)
	}
}

func (s *server) subscribe(channel string, subscriber *client) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.channels[channel] == nil {
		s.channels[channel] = make(map[*client]struct{})
	}
	s.channels[channel][subscriber] = struct{}{}
}

func (s *server) unsubscribe(channel string, subscriber *client) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.channels[channel], subscriber)
	if len(s.channels[channel]) == 0 {
		delete(s.channels, channel)
	}
	subscriber.connection.Close()
}

// broadcast forwards a published payload to every subscriber of the channel,
// the publisher included.
func (s *server) broadcast(channel string, data []byte) {
	s.mutex.Lock()
	subscribers := make([]*client, 0, len(s.channels[channel]))
	for subscriber := range s.channels[channel] {
		subscribers = append(subscribers, subscriber)
	}
	s.mutex.Unlock()

	frame := relay.Frame{Type: relay.FrameMessage, Data: data}
	for _, subscriber := range subscribers {
		if err := subscriber.send(frame); err != nil {
			s.logger.WithError(err).Warn("failed to forward message")
		}
	}
}

func main() {
	listenAddress := flag.String("listen", ":8090", "address to listen on")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})

	relayServer := newServer()
	http.HandleFunc("/ws", relayServer.handle)

	logrus.WithField("address", *listenAddress).Info("relay server listening")
	if err := http.ListenAndServe(*listenAddress, nil); err != nil {
		logrus.WithError(err).Fatal("relay server failed")
	}
}
