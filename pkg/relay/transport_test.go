package relay_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/peerprep/interviewd/pkg/relay"
	"github.com/peerprep/interviewd/pkg/signaling"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(logger)
}

func collectMessages(t *testing.T, transport *relay.Transport) func() []signaling.Message {
	t.Helper()

	var mutex sync.Mutex
	var received []signaling.Message
	transport.OnMessage(func(message signaling.Message) {
		mutex.Lock()
		defer mutex.Unlock()
		received = append(received, message)
	})

	return func() []signaling.Message {
		mutex.Lock()
		defer mutex.Unlock()
		out := make([]signaling.Message, len(received))
		copy(out, received)
		return out
	}
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestTransport_DeliversBetweenParticipants(t *testing.T) {
	memory := relay.NewMemory()
	ctx := context.Background()

	interviewer := relay.NewTransport(memory, "session-1", "alice", testLogger())
	interviewee := relay.NewTransport(memory, "session-1", "bob", testLogger())
	receivedByBob := collectMessages(t, interviewee)

	require.NoError(t, interviewer.Open(ctx))
	require.NoError(t, interviewee.Open(ctx))
	defer interviewer.Close()
	defer interviewee.Close()

	message, err := signaling.NewMessage(signaling.KindOffer, "alice", signaling.SDPPayload{SDP: "v=0"})
	require.NoError(t, err)
	require.NoError(t, interviewer.Broadcast(ctx, message))

	waitFor(t, func() bool { return len(receivedByBob()) == 1 })

	got := receivedByBob()[0]
	assert.Equal(t, signaling.KindOffer, got.Kind)
	assert.Equal(t, "alice", got.SenderID)

	payload, err := signaling.ParsePayload[signaling.SDPPayload](got)
	require.NoError(t, err)
	assert.Equal(t, "v=0", payload.SDP)
}

// The relay echoes a sender's own messages back; the transport must not
// hide that, since echo suppression belongs to the message-handling layer.
func TestTransport_DeliversOwnMessagesBack(t *testing.T) {
	memory := relay.NewMemory()
	ctx := context.Background()

	transport := relay.NewTransport(memory, "session-1", "alice", testLogger())
	received := collectMessages(t, transport)

	require.NoError(t, transport.Open(ctx))
	defer transport.Close()

	message, err := signaling.NewMessage(signaling.KindControl, "alice", signaling.ControlPayload{Action: "noop"})
	require.NoError(t, err)
	require.NoError(t, transport.Broadcast(ctx, message))

	waitFor(t, func() bool { return len(received()) == 1 })
	assert.Equal(t, "alice", received()[0].SenderID)
}

func TestTransport_QueuesBroadcastsUntilOpen(t *testing.T) {
	memory := relay.NewMemory()
	ctx := context.Background()

	listener := relay.NewTransport(memory, "session-1", "bob", testLogger())
	received := collectMessages(t, listener)
	require.NoError(t, listener.Open(ctx))
	defer listener.Close()

	sender := relay.NewTransport(memory, "session-1", "alice", testLogger())
	defer sender.Close()

	// Not open yet: broadcasts must be queued, not dropped or failed.
	for i := 0; i < 3; i++ {
		message, err := signaling.NewMessage(signaling.KindStateUpdate, "alice", signaling.StateUpdatePayload{
			Artifact: "code",
			Content:  json.RawMessage(`"x"`),
			Revision: int64(i),
		})
		require.NoError(t, err)
		require.NoError(t, sender.Broadcast(ctx, message))
	}
	assert.Empty(t, received())

	require.NoError(t, sender.Open(ctx))
	waitFor(t, func() bool { return len(received()) == 3 })

	// Per-sender order must survive the queue flush.
	for i, message := range received() {
		payload, err := signaling.ParsePayload[signaling.StateUpdatePayload](message)
		require.NoError(t, err)
		assert.Equal(t, int64(i), payload.Revision)
	}
}

func TestTransport_PreservesPerSenderOrder(t *testing.T) {
	memory := relay.NewMemory()
	ctx := context.Background()

	sender := relay.NewTransport(memory, "session-1", "alice", testLogger())
	receiver := relay.NewTransport(memory, "session-1", "bob", testLogger())
	received := collectMessages(t, receiver)

	require.NoError(t, sender.Open(ctx))
	require.NoError(t, receiver.Open(ctx))
	defer sender.Close()
	defer receiver.Close()

	const total = 50
	for i := 0; i < total; i++ {
		message, err := signaling.NewMessage(signaling.KindStateUpdate, "alice", signaling.StateUpdatePayload{
			Artifact: "code",
			Content:  json.RawMessage(`"x"`),
			Revision: int64(i),
		})
		require.NoError(t, err)
		require.NoError(t, sender.Broadcast(ctx, message))
	}

	waitFor(t, func() bool { return len(received()) == total })
	for i, message := range received() {
		payload, err := signaling.ParsePayload[signaling.StateUpdatePayload](message)
		require.NoError(t, err)
		assert.Equal(t, int64(i), payload.Revision)
	}
}

func TestTransport_CloseIsIdempotent(t *testing.T) {
	memory := relay.NewMemory()
	ctx := context.Background()

	transport := relay.NewTransport(memory, "session-1", "alice", testLogger())
	require.NoError(t, transport.Open(ctx))

	assert.NoError(t, transport.Close())
	assert.NoError(t, transport.Close())

	message, err := signaling.NewMessage(signaling.KindControl, "alice", signaling.ControlPayload{Action: "noop"})
	require.NoError(t, err)
	assert.ErrorIs(t, transport.Broadcast(ctx, message), relay.ErrTransportClosed)
}

func TestTransport_CloseBeforeOpen(t *testing.T) {
	memory := relay.NewMemory()

	transport := relay.NewTransport(memory, "session-1", "alice", testLogger())
	assert.NoError(t, transport.Close())
	assert.ErrorIs(t, transport.Open(context.Background()), relay.ErrTransportClosed)
}
