package peer

import (
	"errors"
	"io"

	"github.com/pion/webrtc/v3"
)

// A callback that is called each time a new remote track starts arriving.
func (p *Peer) onRemoteTrackReceived(remoteTrack *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	trackInfo := trackInfoFromTrack(remoteTrack)

	p.sink.Send(RemoteTrackPublished{TrackInfo: trackInfo, Track: remoteTrack})

	// Drain the track and hand packets to the installed consumer. Without a
	// reader the jitter buffer backs up and pion stops the track.
	go func() {
		for {
			packet, _, readErr := remoteTrack.ReadRTP()
			if readErr != nil {
				if errors.Is(readErr, io.EOF) {
					p.logger.WithField("track_id", trackInfo.TrackID).Info("remote track closed")
				} else {
					p.logger.WithError(readErr).Error("failed to read from remote track")
				}
				p.sink.Send(RemoteTrackEnded{trackInfo})
				return
			}

			p.mutex.Lock()
			handler := p.packetHandler
			p.mutex.Unlock()

			if handler != nil {
				handler(trackInfo, packet)
			}
		}
	}()
}

// A callback that is called once we discover a local ICE candidate that the
// remote side needs to know about.
func (p *Peer) onICECandidateGathered(candidate *webrtc.ICECandidate) {
	if candidate == nil {
		p.logger.Debug("ICE candidate gathering finished")
		p.sink.Send(ICEGatheringComplete{})
		return
	}

	p.logger.WithField("candidate", candidate).Debug("ICE candidate gathered")
	p.sink.Send(NewICECandidate{Candidate: candidate})
}

// A callback that is called whenever the track set changes and the SDP must
// be renegotiated. Offers are suppressed until the peer is allowed to
// negotiate (the responder never offers before the initial round is done).
func (p *Peer) onNegotiationNeeded() {
	p.logger.Debug("negotiation needed")

	p.mutex.Lock()
	if !p.negotiationEnabled {
		p.negotiationPending = true
		p.mutex.Unlock()
		return
	}
	p.mutex.Unlock()

	p.makeOffer()
}

func (p *Peer) onICEConnectionStateChanged(state webrtc.ICEConnectionState) {
	p.logger.Debugf("ICE connection state changed: %v", state)
}

func (p *Peer) onICEGatheringStateChanged(state webrtc.ICEGathererState) {
	p.logger.Debugf("ICE gathering state changed: %v", state)
}

// Once a negotiation round settles back to stable, run the offer that was
// held back while the round was in flight (if any).
func (p *Peer) onSignalingStateChanged(state webrtc.SignalingState) {
	p.logger.Debugf("signaling state changed: %v", state)

	if state != webrtc.SignalingStateStable {
		return
	}

	p.mutex.Lock()
	pending := p.negotiationPending && p.negotiationEnabled
	if pending {
		p.negotiationPending = false
	}
	p.mutex.Unlock()

	if pending {
		p.makeOffer()
	}
}

func (p *Peer) onConnectionStateChanged(state webrtc.PeerConnectionState) {
	p.logger.Infof("connection state changed: %v", state)

	switch state {
	case webrtc.PeerConnectionStateNew:
		p.sink.Send(ConnectionStateChanged{ConnectionStateNew})
	case webrtc.PeerConnectionStateConnecting:
		p.sink.Send(ConnectionStateChanged{ConnectionStateConnecting})
	case webrtc.PeerConnectionStateConnected:
		p.sink.Send(ConnectionStateChanged{ConnectionStateConnected})
	case webrtc.PeerConnectionStateDisconnected:
		p.sink.Send(ConnectionStateChanged{ConnectionStateDisconnected})
	case webrtc.PeerConnectionStateFailed:
		p.sink.Send(ConnectionStateChanged{ConnectionStateFailed})
	case webrtc.PeerConnectionStateClosed:
		p.sink.Send(ConnectionStateChanged{ConnectionStateClosed})
	}
}

// A callback on the responder side that is called when the initiator's
// controls channel comes in with the SDP.
func (p *Peer) onDataChannelReceived(channel *webrtc.DataChannel) {
	if channel.Label() != ControlsChannelLabel {
		p.logger.WithField("label", channel.Label()).Warn("ignoring unexpected data channel")
		return
	}

	p.setupControls(channel)
}

func (p *Peer) setupControls(channel *webrtc.DataChannel) {
	p.mutex.Lock()
	if p.controls != nil {
		p.mutex.Unlock()
		p.logger.Error("controls channel already exists")
		channel.Close()
		return
	}
	p.controls = channel
	p.mutex.Unlock()

	channel.OnOpen(func() {
		p.logger.Debug("controls channel open")
		p.sink.Send(ControlsAvailable{})
	})

	channel.OnMessage(func(message webrtc.DataChannelMessage) {
		if !message.IsString {
			p.logger.Warn("controls message is not a string, ignoring")
			return
		}

		control, err := decodeControlMessage(string(message.Data))
		if err != nil {
			p.logger.WithError(err).Warn("ignoring malformed controls message")
			return
		}

		p.sink.Send(ControlReceived{Message: control})
	})

	channel.OnError(func(err error) {
		p.logger.WithError(err).Error("controls channel error")
	})

	channel.OnClose(func() {
		p.logger.Info("controls channel closed")
	})
}
