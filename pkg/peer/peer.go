package peer

import (
	"errors"
	"sync"
	"time"

	"github.com/peerprep/interviewd/pkg/common"
	"github.com/peerprep/interviewd/pkg/rtc"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

var (
	ErrCantCreatePeerConnection = errors.New("can't create peer connection")
	ErrCantSetRemoteDescription = errors.New("can't set remote description")
	ErrCantCreateOffer          = errors.New("can't create offer")
	ErrCantCreateAnswer         = errors.New("can't create answer")
	ErrCantSetLocalDescription  = errors.New("can't set local description")
	ErrCantAttachTrack          = errors.New("can't attach track")
	ErrCantDetachTrack          = errors.New("can't detach track")
	ErrControlsNotAvailable     = errors.New("controls channel is not available")
	ErrControlsNotReady         = errors.New("controls channel is not ready")
)

// Peer owns the direct media+data connection to the other participant of an
// interview. The session informs the peer about the outside world through
// public methods; the peer informs the session about the connection through
// messages posted to its sink.
//
// Exactly one side, the negotiation initiator (the interviewer by
// convention), produces the first offer. After the connection is up, either
// side renegotiates whenever its track set changes; callers only add and
// remove tracks, the offer/answer cycle is driven from here.
type Peer struct {
	logger    *logrus.Entry
	sink      *common.MessageSink[string, Event]
	initiator bool

	connection *webrtc.PeerConnection

	mutex                sync.Mutex
	controls             *webrtc.DataChannel
	senders              map[string]*webrtc.RTPSender
	pendingCandidates    []webrtc.ICECandidateInit
	remoteDescriptionSet bool
	negotiationEnabled   bool
	negotiationPending   bool
	packetHandler        func(TrackInfo, *rtp.Packet)

	controlsWorker *common.Worker[string]
	closeOnce      sync.Once
}

// NewPeer constructs the underlying peer connection. No negotiation happens
// until StartNegotiation (initiator) or an incoming offer (responder).
func NewPeer(
	factory *rtc.PeerConnectionFactory,
	initiator bool,
	sink *common.MessageSink[string, Event],
	logger *logrus.Entry,
) (*Peer, error) {
	connection, err := factory.CreatePeerConnection()
	if err != nil {
		logger.WithError(err).Error("failed to create peer connection")
		return nil, ErrCantCreatePeerConnection
	}

	peer := &Peer{
		logger:     logger,
		sink:       sink,
		initiator:  initiator,
		connection: connection,
		senders:    make(map[string]*webrtc.RTPSender),
	}
	peer.controlsWorker = peer.newControlsWorker()

	connection.OnTrack(peer.onRemoteTrackReceived)
	connection.OnICECandidate(peer.onICECandidateGathered)
	connection.OnNegotiationNeeded(peer.onNegotiationNeeded)
	connection.OnICEConnectionStateChange(peer.onICEConnectionStateChanged)
	connection.OnICEGatheringStateChange(peer.onICEGatheringStateChanged)
	connection.OnConnectionStateChange(peer.onConnectionStateChanged)
	connection.OnSignalingStateChange(peer.onSignalingStateChanged)

	// Only the responder accepts an incoming controls channel; the
	// initiator creates its own in StartNegotiation.
	if !initiator {
		connection.OnDataChannel(peer.onDataChannelReceived)
	}

	return peer, nil
}

// StartNegotiation kicks off the initial offer on the initiator side. The
// controls data channel is created first so that it is included in the SDP;
// its creation makes the underlying connection request negotiation, which
// produces the offer.
func (p *Peer) StartNegotiation() error {
	if !p.initiator {
		return errors.New("only the negotiation initiator may start negotiation")
	}

	p.mutex.Lock()
	p.negotiationEnabled = true
	p.mutex.Unlock()

	controls, err := p.connection.CreateDataChannel(ControlsChannelLabel, nil)
	if err != nil {
		p.logger.WithError(err).Error("failed to create controls channel")
		return ErrControlsNotAvailable
	}

	p.setupControls(controls)
	return nil
}

// EnableRenegotiation allows this peer to produce offers of its own. The
// responder calls it once the initial negotiation is done, so that its own
// later track changes (camera toggle, screen share) trigger a new
// offer/answer round instead of being silently ignored.
func (p *Peer) EnableRenegotiation() {
	p.mutex.Lock()
	p.negotiationEnabled = true
	pending := p.negotiationPending
	p.negotiationPending = false
	p.mutex.Unlock()

	if pending {
		p.makeOffer()
	}
}

// ProcessOffer applies an offer from the remote participant and produces the
// answer. Offers are tolerated at any time, not only during initial setup:
// a post-connection offer is the remote side renegotiating its track set.
func (p *Peer) ProcessOffer(sdpOffer string) (*webrtc.SessionDescription, error) {
	err := p.connection.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdpOffer,
	})
	if err != nil {
		p.logger.WithError(err).Error("failed to set remote description")
		return nil, ErrCantSetRemoteDescription
	}

	p.flushPendingCandidates()

	answer, err := p.connection.CreateAnswer(nil)
	if err != nil {
		p.logger.WithError(err).Error("failed to create answer")
		return nil, ErrCantCreateAnswer
	}

	if err := p.connection.SetLocalDescription(answer); err != nil {
		p.logger.WithError(err).Error("failed to set local description")
		return nil, ErrCantSetLocalDescription
	}

	return p.connection.LocalDescription(), nil
}

// ProcessAnswer applies the answer to an offer this peer produced earlier.
func (p *Peer) ProcessAnswer(sdpAnswer string) error {
	err := p.connection.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdpAnswer,
	})
	if err != nil {
		p.logger.WithError(err).Error("failed to set remote description")
		return ErrCantSetRemoteDescription
	}

	p.flushPendingCandidates()
	return nil
}

// AddICECandidate applies a trickled remote candidate. Candidates that
// arrive before the remote description is set are buffered, not dropped.
// Individual candidate failures are logged and swallowed: ICE is best-effort
// and redundant by design of the protocol.
func (p *Peer) AddICECandidate(candidate webrtc.ICECandidateInit) {
	p.mutex.Lock()
	if !p.remoteDescriptionSet {
		p.pendingCandidates = append(p.pendingCandidates, candidate)
		p.mutex.Unlock()
		return
	}
	p.mutex.Unlock()

	if err := p.connection.AddICECandidate(candidate); err != nil {
		p.logger.WithError(err).Error("failed to add ICE candidate")
	}
}

func (p *Peer) flushPendingCandidates() {
	p.mutex.Lock()
	p.remoteDescriptionSet = true
	buffered := p.pendingCandidates
	p.pendingCandidates = nil
	p.mutex.Unlock()

	for _, candidate := range buffered {
		if err := p.connection.AddICECandidate(candidate); err != nil {
			p.logger.WithError(err).Error("failed to add buffered ICE candidate")
		}
	}
}

// AttachTracks adds local tracks to the connection. Callable any number of
// times as the track set changes; each change triggers renegotiation once
// this peer is allowed to produce offers.
func (p *Peer) AttachTracks(tracks []webrtc.TrackLocal) error {
	for _, track := range tracks {
		sender, err := p.connection.AddTrack(track)
		if err != nil {
			p.logger.WithError(err).WithField("track_id", track.ID()).Error("failed to add track")
			return ErrCantAttachTrack
		}

		p.mutex.Lock()
		p.senders[track.ID()] = sender
		p.mutex.Unlock()
	}

	return nil
}

// DetachTracks removes previously attached local tracks, triggering
// renegotiation. Unknown tracks are ignored; detaching races with teardown.
func (p *Peer) DetachTracks(tracks []webrtc.TrackLocal) error {
	for _, track := range tracks {
		p.mutex.Lock()
		sender, ok := p.senders[track.ID()]
		delete(p.senders, track.ID())
		p.mutex.Unlock()

		if !ok {
			continue
		}

		if err := p.connection.RemoveTrack(sender); err != nil {
			p.logger.WithError(err).WithField("track_id", track.ID()).Error("failed to remove track")
			return ErrCantDetachTrack
		}
	}

	return nil
}

// SendControl queues a message for the controls data channel. The send
// happens on the controls worker so the session loop never blocks on the
// channel's flow control.
func (p *Peer) SendControl(message ControlMessage) error {
	encoded, err := message.encode()
	if err != nil {
		return err
	}
	return p.controlsWorker.Send(encoded)
}

// SetPacketHandler installs the consumer for incoming RTP packets of remote
// tracks. Must be set before the connection comes up.
func (p *Peer) SetPacketHandler(handler func(TrackInfo, *rtp.Packet)) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.packetHandler = handler
}

// Terminate closes the peer connection. From this moment on, no new messages
// are sent from the peer. Safe to call more than once.
func (p *Peer) Terminate() {
	p.closeOnce.Do(func() {
		// Seal first so that callbacks firing during close don't post to a
		// session loop that is already tearing down.
		p.sink.Seal()
		p.controlsWorker.Stop()

		if err := p.connection.Close(); err != nil {
			p.logger.WithError(err).Error("failed to close peer connection")
		}
	})
}

func (p *Peer) makeOffer() {
	if p.connection.SignalingState() != webrtc.SignalingStateStable {
		// A negotiation round is in flight; retry when it settles.
		p.mutex.Lock()
		p.negotiationPending = true
		p.mutex.Unlock()
		return
	}

	offer, err := p.connection.CreateOffer(nil)
	if err != nil {
		p.logger.WithError(err).Error("failed to create offer")
		return
	}

	if err := p.connection.SetLocalDescription(offer); err != nil {
		p.logger.WithError(err).Error("failed to set local description")
		return
	}

	p.sink.Send(RenegotiationRequired{Offer: &offer})
}

// The worker that owns writes to the controls channel (mirrors the data
// channel handling of the media connection: sends must not block callers).
func (p *Peer) newControlsWorker() *common.Worker[string] {
	return common.StartWorker(common.WorkerConfig[string]{
		ChannelSize: 32,
		Timeout:     time.Hour,
		OnTimeout:   func() {},
		OnTask: func(encoded string) {
			p.mutex.Lock()
			controls := p.controls
			p.mutex.Unlock()

			if controls == nil {
				p.logger.Warn("dropping control message, channel not available")
				return
			}
			if controls.ReadyState() != webrtc.DataChannelStateOpen {
				p.logger.Warn("dropping control message, channel not open")
				return
			}

			if err := controls.SendText(encoded); err != nil {
				p.logger.WithError(err).Error("failed to send control message")
			}
		},
	})
}
