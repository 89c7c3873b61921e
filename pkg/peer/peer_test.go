package peer_test

import (
	"testing"
	"time"

	"github.com/peerprep/interviewd/pkg/common"
	"github.com/peerprep/interviewd/pkg/peer"
	"github.com/peerprep/interviewd/pkg/rtc"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPeer(t *testing.T, initiator bool) (*peer.Peer, chan common.Message[string, peer.Event]) {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	factory, err := rtc.NewPeerConnectionFactory(rtc.Config{})
	require.NoError(t, err)

	events := make(chan common.Message[string, peer.Event], common.UnboundedChannelSize)
	sink := common.NewMessageSink("test", events)

	p, err := peer.NewPeer(factory, initiator, sink, logrus.NewEntry(logger))
	require.NoError(t, err)
	t.Cleanup(p.Terminate)

	return p, events
}

// waitForEvent drains the sink until an event of type E shows up.
func waitForEvent[E any](t *testing.T, events chan common.Message[string, peer.Event]) E {
	t.Helper()

	deadline := time.After(10 * time.Second)
	for {
		select {
		case message := <-events:
			if event, ok := message.Content.(E); ok {
				return event
			}
		case <-deadline:
			var zero E
			t.Fatalf("no %T event arrived", zero)
			return zero
		}
	}
}

func TestStartNegotiation_ProducesOffer(t *testing.T) {
	initiator, events := newTestPeer(t, true)

	require.NoError(t, initiator.StartNegotiation())

	required := waitForEvent[peer.RenegotiationRequired](t, events)
	require.NotNil(t, required.Offer)
	assert.Equal(t, webrtc.SDPTypeOffer, required.Offer.Type)
	assert.NotEmpty(t, required.Offer.SDP)
}

func TestStartNegotiation_RejectedOnResponder(t *testing.T) {
	responder, _ := newTestPeer(t, false)
	assert.Error(t, responder.StartNegotiation())
}

func TestOfferAnswerExchange(t *testing.T) {
	initiator, initiatorEvents := newTestPeer(t, true)
	responder, _ := newTestPeer(t, false)

	require.NoError(t, initiator.StartNegotiation())
	required := waitForEvent[peer.RenegotiationRequired](t, initiatorEvents)

	answer, err := responder.ProcessOffer(required.Offer.SDP)
	require.NoError(t, err)
	require.NotNil(t, answer)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)

	require.NoError(t, initiator.ProcessAnswer(answer.SDP))
}

func TestAddICECandidate_BuffersUntilRemoteDescription(t *testing.T) {
	initiator, initiatorEvents := newTestPeer(t, true)
	responder, _ := newTestPeer(t, false)

	// Trickled candidates may outrun the offer on the relay; they must be
	// held back rather than rejected.
	early := webrtc.ICECandidateInit{
		Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 54321 typ host",
	}
	responder.AddICECandidate(early)
	responder.AddICECandidate(early)

	require.NoError(t, initiator.StartNegotiation())
	required := waitForEvent[peer.RenegotiationRequired](t, initiatorEvents)

	// Applying the offer flushes the buffered candidates.
	answer, err := responder.ProcessOffer(required.Offer.SDP)
	require.NoError(t, err)
	require.NotNil(t, answer)
}

func TestProcessOffer_RejectsGarbage(t *testing.T) {
	responder, _ := newTestPeer(t, false)

	_, err := responder.ProcessOffer("not an SDP")
	assert.ErrorIs(t, err, peer.ErrCantSetRemoteDescription)
}

func TestProcessAnswer_RejectsGarbage(t *testing.T) {
	initiator, initiatorEvents := newTestPeer(t, true)

	require.NoError(t, initiator.StartNegotiation())
	waitForEvent[peer.RenegotiationRequired](t, initiatorEvents)

	assert.ErrorIs(t, initiator.ProcessAnswer("not an SDP"), peer.ErrCantSetRemoteDescription)
}

func TestTerminate_IsIdempotent(t *testing.T) {
	p, _ := newTestPeer(t, true)
	p.Terminate()
	p.Terminate()
}
