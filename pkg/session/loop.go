package session

import (
	"context"
	"fmt"
	"time"

	"github.com/peerprep/interviewd/pkg/common"
	"github.com/peerprep/interviewd/pkg/peer"
	"github.com/peerprep/interviewd/pkg/signaling"
	"github.com/peerprep/interviewd/pkg/store"
	"github.com/pion/webrtc/v3"
)

// run is the session event loop. Everything that mutates session state goes
// through here: relay messages, peer connection events, API commands and the
// periodic schedule check.
func (s *Session) run() {
	gate := time.NewTicker(s.timing.gateRecheckInterval)
	defer gate.Stop()

	for {
		select {
		case <-s.done:
			return
		case message := <-s.relayReceiver.Channel:
			s.handleSignal(message)
		case event := <-s.peerEvents:
			s.handlePeerEvent(event.Content)
		case command := <-s.commands:
			command()
		case <-gate.C:
			s.checkOverrun()
		}
	}
}

func (s *Session) handleSignal(message signaling.Message) {
	// The relay may echo our own broadcasts back; they carry nothing we
	// don't already know.
	if message.SenderID == s.localID {
		return
	}

	switch message.Kind {
	case signaling.KindOffer:
		payload, err := signaling.ParsePayload[signaling.SDPPayload](message)
		if err != nil {
			s.logger.WithError(err).Warn("dropping malformed offer")
			return
		}
		answer, err := s.peer.ProcessOffer(payload.SDP)
		if err != nil {
			s.logger.WithError(err).Error("failed to process offer")
			s.notify(Notice{Kind: NoticeNegotiationFailed, Message: "failed to negotiate a connection with the other participant"})
			return
		}
		if err := s.broadcast(signaling.KindAnswer, signaling.SDPPayload{SDP: answer.SDP}); err != nil {
			s.logger.WithError(err).Error("failed to send answer")
			s.notify(Notice{Kind: NoticeNegotiationFailed, Message: "failed to negotiate a connection with the other participant"})
		}

	case signaling.KindAnswer:
		payload, err := signaling.ParsePayload[signaling.SDPPayload](message)
		if err != nil {
			s.logger.WithError(err).Warn("dropping malformed answer")
			return
		}
		if err := s.peer.ProcessAnswer(payload.SDP); err != nil {
			s.logger.WithError(err).Error("failed to process answer")
			s.notify(Notice{Kind: NoticeNegotiationFailed, Message: "failed to negotiate a connection with the other participant"})
		}

	case signaling.KindICECandidate:
		payload, err := signaling.ParsePayload[signaling.CandidatePayload](message)
		if err != nil {
			s.logger.WithError(err).Warn("dropping malformed ICE candidate")
			return
		}
		s.peer.AddICECandidate(payload.Candidate)

	case signaling.KindStateUpdate:
		payload, err := signaling.ParsePayload[signaling.StateUpdatePayload](message)
		if err != nil {
			s.logger.WithError(err).Warn("dropping malformed state update")
			return
		}
		switch payload.Artifact {
		case ArtifactCode:
			s.code.ApplyRemote(message.SenderID, payload)
		case ArtifactQuestions:
			s.questions.ApplyRemote(message.SenderID, payload)
		case ArtifactChat:
			s.chat.ApplyRemote(message.SenderID, payload)
		default:
			s.logger.WithField("artifact", payload.Artifact).Warn("ignoring update for unknown artifact")
		}

	case signaling.KindPresenceJoined:
		s.handlePresenceJoined(message)

	case signaling.KindPresenceLeft:
		s.mutex.Lock()
		s.remotePresent = false
		s.mutex.Unlock()
		s.notify(Notice{Kind: NoticePeerLeft, Message: "the other participant left the session"})

	case signaling.KindControl:
		payload, err := signaling.ParsePayload[signaling.ControlPayload](message)
		if err != nil {
			s.logger.WithError(err).Warn("dropping malformed control message")
			return
		}
		if payload.Action == signaling.ControlSessionEnded {
			s.notify(Notice{Kind: NoticeSessionEnded, Message: "the session was ended by the other participant"})
			go s.Teardown(context.Background())
		}

	default:
		s.logger.WithField("kind", message.Kind).Warn("ignoring unknown signaling message")
	}
}

func (s *Session) handlePresenceJoined(message signaling.Message) {
	payload, err := signaling.ParsePayload[signaling.PresencePayload](message)
	if err != nil {
		s.logger.WithError(err).Warn("dropping malformed presence message")
		return
	}

	// Two participants claiming the same role means a stale or duplicate
	// client; it gets ignored rather than hijacking the peer connection.
	if Role(payload.Role) == s.role {
		s.logger.WithField("sender_id", message.SenderID).Warn("ignoring presence of duplicate role")
		return
	}

	s.mutex.Lock()
	alreadyPresent := s.remotePresent
	s.remotePresent = true
	startNegotiation := s.role == RoleInterviewer && !s.negotiationStarted
	if startNegotiation {
		s.negotiationStarted = true
	}
	s.mutex.Unlock()

	if !alreadyPresent {
		s.notify(Notice{Kind: NoticePeerJoined, Message: "the other participant joined the session"})

		// Answer with our own presence: whoever joined second never saw the
		// first participant's original announcement.
		if err := s.broadcast(signaling.KindPresenceJoined, s.presence()); err != nil {
			s.logger.WithError(err).Warn("failed to acknowledge presence")
		}

		// Catch the joiner up on the shared state once its subscription has
		// settled. Its own bootstrap handling replaces replicas wholesale,
		// so a redundant rebroadcast is harmless.
		time.AfterFunc(s.timing.bootstrapDelay, func() {
			select {
			case s.commands <- func() { s.rebroadcastState() }:
			case <-s.done:
			}
		})
	}

	if startNegotiation {
		if err := s.peer.StartNegotiation(); err != nil {
			s.logger.WithError(err).Error("failed to start negotiation")
		}
	}
}

func (s *Session) handlePeerEvent(event peer.Event) {
	switch event := event.(type) {
	case peer.RenegotiationRequired:
		if err := s.broadcast(signaling.KindOffer, signaling.SDPPayload{SDP: event.Offer.SDP}); err != nil {
			s.logger.WithError(err).Error("failed to send offer")
		}

	case peer.NewICECandidate:
		if event.Candidate == nil {
			return
		}
		payload := signaling.CandidatePayload{Candidate: event.Candidate.ToJSON()}
		if err := s.broadcast(signaling.KindICECandidate, payload); err != nil {
			s.logger.WithError(err).Error("failed to send ICE candidate")
		}

	case peer.ICEGatheringComplete:
		s.logger.Debug("ICE gathering complete")

	case peer.ConnectionStateChanged:
		s.handleConnectionState(event.State)

	case peer.RemoteTrackPublished:
		s.mutex.Lock()
		handlers := make([]func(peer.TrackInfo, *webrtc.TrackRemote), len(s.trackHandlers))
		copy(handlers, s.trackHandlers)
		s.mutex.Unlock()
		for _, handler := range handlers {
			handler(event.TrackInfo, event.Track)
		}

	case peer.RemoteTrackEnded:
		s.mutex.Lock()
		handlers := make([]func(peer.TrackInfo), len(s.trackEndedHandlers))
		copy(handlers, s.trackEndedHandlers)
		s.mutex.Unlock()
		for _, handler := range handlers {
			handler(event.TrackInfo)
		}

	case peer.ControlsAvailable:
		s.startHeartbeat()
		// Announce the current share flag in case a toggle raced the
		// channel becoming available.
		s.mutex.Lock()
		sharing := s.screen != nil
		s.mutex.Unlock()
		if sharing {
			s.announceScreenShare(true)
		}

	case peer.ControlReceived:
		s.handleControl(event.Message)

	default:
		s.logger.WithField("event", fmt.Sprintf("%T", event)).Warn("ignoring unknown peer event")
	}
}

func (s *Session) handleConnectionState(state peer.ConnectionState) {
	s.mutex.Lock()
	s.connectionState = state
	handlers := make([]func(peer.ConnectionState), len(s.stateHandlers))
	copy(handlers, s.stateHandlers)
	s.mutex.Unlock()

	s.logger.WithField("state", state).Info("peer connection state changed")

	switch state {
	case peer.ConnectionStateConnected:
		// From here on the responder's own track changes (camera toggle,
		// screen share) may produce offers too.
		if s.role == RoleInterviewee {
			s.peer.EnableRenegotiation()
		}
	case peer.ConnectionStateDisconnected:
		s.notify(Notice{Kind: NoticeConnectionLost, Message: "connection to the other participant was lost"})
	case peer.ConnectionStateFailed:
		s.notify(Notice{Kind: NoticeConnectionFailed, Message: "connection to the other participant failed"})
	}

	for _, handler := range handlers {
		handler(state)
	}
}

func (s *Session) handleControl(message peer.ControlMessage) {
	switch message.Op {
	case peer.ControlOpPing:
		if err := s.peer.SendControl(peer.ControlMessage{Op: peer.ControlOpPong}); err != nil {
			s.logger.WithError(err).Warn("failed to answer ping")
		}

	case peer.ControlOpPong:
		// The send stays under the mutex so closePongs cannot close the
		// channel between the nil check and the send.
		s.mutex.Lock()
		if s.pongs != nil {
			select {
			case s.pongs <- common.Pong{}:
			default:
			}
		}
		s.mutex.Unlock()

	case peer.ControlOpScreenShare:
		s.mutex.Lock()
		s.remoteScreenSharing = message.ScreenShareActive
		s.mutex.Unlock()

	default:
		s.logger.WithField("op", message.Op).Warn("ignoring unknown control message")
	}
}

// startHeartbeat begins pinging over the controls channel once it is open on
// both ends. A lost heartbeat surfaces a notice well before the ICE layer
// notices the peer is gone.
func (s *Session) startHeartbeat() {
	s.mutex.Lock()
	if s.heartbeatStarted {
		s.mutex.Unlock()
		return
	}
	s.heartbeatStarted = true
	s.mutex.Unlock()

	heartbeat := common.Heartbeat{
		Interval: s.timing.heartbeatInterval,
		Timeout:  s.timing.heartbeatTimeout,
		SendPing: func() bool {
			return s.peer.SendControl(peer.ControlMessage{Op: peer.ControlOpPing}) == nil
		},
		OnTimeout: func() {
			s.notify(Notice{Kind: NoticeHeartbeatLost, Message: "the other participant stopped responding"})
		},
	}

	pongs := heartbeat.Start()
	s.mutex.Lock()
	s.pongs = pongs
	s.mutex.Unlock()
}

// checkOverrun flags a session running past its scheduled end. The session
// keeps running: cutting a live interview off mid-sentence would be worse
// than overrunning, so the enforcement is a notice, not a disconnect.
func (s *Session) checkOverrun() {
	if !s.deps.Clock().After(s.record.ScheduledEnd) {
		return
	}

	s.mutex.Lock()
	notified := s.overrunNotified
	s.overrunNotified = true
	s.mutex.Unlock()

	if notified {
		return
	}

	s.notify(Notice{Kind: NoticeSessionOverrun, Message: "the session has run past its scheduled end"})

	// The record flips to completed as soon as the window closes, so an
	// abandoned client cannot leave it in progress forever. Best-effort: the
	// live session keeps running either way, and teardown writes the status
	// again.
	if err := s.deps.Store.UpdateSessionStatus(context.Background(), s.id, store.StatusCompleted); err != nil {
		s.logger.WithError(err).Warn("failed to mark overrun session completed")
	}
}
