// Package session ties the pieces of one live interview together: the
// signaling transport, the peer connection, the local capture devices and
// the shared artifact synchronizers. A session is driven by a single event
// loop; public methods hand work to that loop instead of touching the state
// from the caller's goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/peerprep/interviewd/pkg/common"
	"github.com/peerprep/interviewd/pkg/media"
	"github.com/peerprep/interviewd/pkg/peer"
	"github.com/peerprep/interviewd/pkg/relay"
	"github.com/peerprep/interviewd/pkg/rtc"
	"github.com/peerprep/interviewd/pkg/signaling"
	"github.com/peerprep/interviewd/pkg/store"
	"github.com/peerprep/interviewd/pkg/sync"
	"github.com/peerprep/interviewd/pkg/telemetry"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrSessionEnded is returned by operations issued after teardown began.
	ErrSessionEnded = errors.New("session has ended")
	// ErrScreenShareBusy is returned when the remote participant is already
	// sharing its screen. Only one side may share at a time.
	ErrScreenShareBusy = errors.New("the other participant is sharing their screen")
	// ErrNotAParticipant is returned when the joining user is neither the
	// interviewer nor the interviewee of the session record.
	ErrNotAParticipant = errors.New("user is not a participant of this session")
)

// Role of the local participant in the interview.
type Role string

const (
	RoleInterviewer Role = "interviewer"
	RoleInterviewee Role = "interviewee"
)

// Deps are the external capabilities a session runs on. All of them are
// injected: the session core has no opinion on which relay backend or store
// implementation it is wired to.
type Deps struct {
	Relay             relay.Relay
	Store             store.Store
	Media             media.Source
	ConnectionFactory *rtc.PeerConnectionFactory
	Logger            *logrus.Entry
	// DisplayName is announced with presence so the other side can render
	// who joined. Optional.
	DisplayName string
	// Clock is used for the entry gate and the overrun check. Defaults to
	// time.Now; tests inject their own.
	Clock func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return d
}

// Session is one participant's view of a live interview.
type Session struct {
	id      string
	localID string
	role    Role
	record  store.Record
	timing  timings
	deps    Deps
	logger  *logrus.Entry

	transport *relay.Transport
	peer      *peer.Peer

	relaySender   common.Sender[signaling.Message]
	relayReceiver common.Receiver[signaling.Message]
	peerEvents    chan common.Message[string, peer.Event]
	commands      chan func()
	done          chan struct{}
	teardownOnce  stdsync.Once

	code      *sync.Synchronizer[string]
	questions *sync.Synchronizer[[]string]
	chat      *sync.Synchronizer[[]ChatMessage]

	mutex               stdsync.Mutex
	camera              *media.Stream
	microphone          *media.Stream
	screen              *media.Stream
	remotePresent       bool
	remoteScreenSharing bool
	negotiationStarted  bool
	overrunNotified     bool
	connectionState     peer.ConnectionState
	pongs               chan<- common.Pong
	heartbeatStarted    bool

	stateHandlers      []func(peer.ConnectionState)
	trackHandlers      []func(peer.TrackInfo, *webrtc.TrackRemote)
	trackEndedHandlers []func(peer.TrackInfo)
	noticeHandlers     []func(Notice)
}

// Join enters the interview session with the given ID as the given
// participant. It gates entry against the schedule window, acquires camera
// and microphone, opens the signaling transport and announces presence. The
// returned session is live; the caller must eventually call Teardown.
func Join(ctx context.Context, sessionID, participantID string, config Config, deps Deps) (*Session, error) {
	tel := telemetry.NewTelemetry(
		ctx,
		"session.Join",
		attribute.String("session_id", sessionID),
		attribute.String("participant_id", participantID),
	)
	defer tel.End()

	session, err := join(tel.Context(), sessionID, participantID, config, deps)
	if err != nil {
		tel.Fail(err)
	}
	return session, err
}

func join(ctx context.Context, sessionID, participantID string, config Config, deps Deps) (*Session, error) {
	deps = deps.withDefaults()
	timing := config.timings()

	logger := deps.Logger.WithFields(logrus.Fields{
		"session_id":     sessionID,
		"participant_id": participantID,
	})

	record, err := deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session record: %w", err)
	}

	var role Role
	switch participantID {
	case record.InterviewerID:
		role = RoleInterviewer
	case record.IntervieweeID:
		role = RoleInterviewee
	default:
		return nil, ErrNotAParticipant
	}

	if err := checkEntry(deps.Clock(), record, timing.entryGrace); err != nil {
		return nil, err
	}

	// Camera and microphone are separate streams so that toggling one does
	// not release the other's device.
	camera, err := deps.Media.AcquireUserMedia(media.Constraints{Video: true})
	if err != nil {
		return nil, fmt.Errorf("failed to acquire camera: %w", err)
	}
	microphone, err := deps.Media.AcquireUserMedia(media.Constraints{Audio: true})
	if err != nil {
		camera.Close()
		return nil, fmt.Errorf("failed to acquire microphone: %w", err)
	}

	session := &Session{
		id:         sessionID,
		localID:    participantID,
		role:       role,
		record:     *record,
		timing:     timing,
		deps:       deps,
		logger:     logger.WithField("role", role),
		peerEvents: make(chan common.Message[string, peer.Event], common.UnboundedChannelSize),
		commands:   make(chan func(), common.UnboundedChannelSize),
		done:       make(chan struct{}),
		camera:     camera,
		microphone: microphone,
	}
	session.relaySender, session.relayReceiver = common.NewChannel[signaling.Message]()

	session.transport = relay.NewTransport(deps.Relay, sessionID, participantID, session.logger)
	session.transport.OnMessage(func(message signaling.Message) {
		// Sends after teardown are handed back; the session is gone, the
		// message has nowhere to go.
		session.relaySender.Send(message)
	})

	if err := session.transport.Open(ctx); err != nil {
		session.closeStreams()
		return nil, fmt.Errorf("failed to open signaling transport: %w", err)
	}

	// The status transition is best-effort: the interview proceeds on the
	// strength of the live connection, not the record.
	if record.Status == store.StatusScheduled {
		if err := deps.Store.UpdateSessionStatus(ctx, sessionID, store.StatusInProgress); err != nil {
			session.logger.WithError(err).Warn("failed to mark session in progress")
		}
	}

	sink := common.NewMessageSink(participantID, session.peerEvents)
	session.peer, err = peer.NewPeer(deps.ConnectionFactory, role == RoleInterviewer, sink, session.logger)
	if err != nil {
		if closeErr := session.transport.Close(); closeErr != nil {
			session.logger.WithError(closeErr).Warn("failed to close transport")
		}
		session.closeStreams()
		return nil, err
	}

	if err := session.peer.AttachTracks(append(camera.Tracks(), microphone.Tracks()...)); err != nil {
		session.peer.Terminate()
		if closeErr := session.transport.Close(); closeErr != nil {
			session.logger.WithError(closeErr).Warn("failed to close transport")
		}
		session.closeStreams()
		return nil, err
	}

	session.createSynchronizers(record.Questions)

	go session.run()

	if err := session.broadcast(signaling.KindPresenceJoined, session.presence()); err != nil {
		session.logger.WithError(err).Error("failed to announce presence")
	}

	return session, nil
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// Role returns the local participant's role.
func (s *Session) Role() Role {
	return s.role
}

// Done is closed once teardown has started. Callers use it to wait for the
// session to end.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// ConnectionState returns the last observed state of the peer connection.
func (s *Session) ConnectionState() peer.ConnectionState {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.connectionState
}

// OnConnectionStateChange registers a handler for peer connection state
// transitions. Handlers run on the session loop and must not block.
func (s *Session) OnConnectionStateChange(handler func(peer.ConnectionState)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.stateHandlers = append(s.stateHandlers, handler)
}

// OnRemoteTrack registers a handler invoked when a remote media track starts
// arriving (camera, microphone or screen share of the other participant).
func (s *Session) OnRemoteTrack(handler func(peer.TrackInfo, *webrtc.TrackRemote)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.trackHandlers = append(s.trackHandlers, handler)
}

// OnRemoteTrackEnded registers a handler invoked when a remote track stops.
func (s *Session) OnRemoteTrackEnded(handler func(peer.TrackInfo)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.trackEndedHandlers = append(s.trackEndedHandlers, handler)
}

// OnNotice registers a handler for user-facing session notices (participant
// joined or left, connection trouble, schedule overrun).
func (s *Session) OnNotice(handler func(Notice)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.noticeHandlers = append(s.noticeHandlers, handler)
}

// ToggleCamera turns the camera off if it is on and back on if it is off.
// Track changes trigger renegotiation with the remote participant.
func (s *Session) ToggleCamera() error {
	return s.do(func() error {
		s.mutex.Lock()
		current := s.camera
		s.mutex.Unlock()

		if current != nil {
			if err := s.peer.DetachTracks(current.Tracks()); err != nil {
				return err
			}
			current.Close()
			s.mutex.Lock()
			s.camera = nil
			s.mutex.Unlock()
			return nil
		}

		acquired, err := s.deps.Media.AcquireUserMedia(media.Constraints{Video: true})
		if err != nil {
			return fmt.Errorf("failed to acquire camera: %w", err)
		}
		if err := s.peer.AttachTracks(acquired.Tracks()); err != nil {
			acquired.Close()
			return err
		}

		s.mutex.Lock()
		s.camera = acquired
		s.mutex.Unlock()
		return nil
	})
}

// ToggleMicrophone turns the microphone off if it is on and back on if off.
func (s *Session) ToggleMicrophone() error {
	return s.do(func() error {
		s.mutex.Lock()
		current := s.microphone
		s.mutex.Unlock()

		if current != nil {
			if err := s.peer.DetachTracks(current.Tracks()); err != nil {
				return err
			}
			current.Close()
			s.mutex.Lock()
			s.microphone = nil
			s.mutex.Unlock()
			return nil
		}

		acquired, err := s.deps.Media.AcquireUserMedia(media.Constraints{Audio: true})
		if err != nil {
			return fmt.Errorf("failed to acquire microphone: %w", err)
		}
		if err := s.peer.AttachTracks(acquired.Tracks()); err != nil {
			acquired.Close()
			return err
		}

		s.mutex.Lock()
		s.microphone = acquired
		s.mutex.Unlock()
		return nil
	})
}

// ToggleScreenShare starts sharing the screen, or stops an active share.
// Starting fails with ErrScreenShareBusy while the remote participant
// shares; the restriction is enforced through the controls channel flag.
func (s *Session) ToggleScreenShare() error {
	return s.do(func() error {
		s.mutex.Lock()
		current := s.screen
		remoteSharing := s.remoteScreenSharing
		s.mutex.Unlock()

		if current != nil {
			if err := s.peer.DetachTracks(current.Tracks()); err != nil {
				return err
			}
			current.Close()
			s.mutex.Lock()
			s.screen = nil
			s.mutex.Unlock()
			s.announceScreenShare(false)
			return nil
		}

		if remoteSharing {
			return ErrScreenShareBusy
		}

		acquired, err := s.deps.Media.AcquireDisplayMedia()
		if err != nil {
			return fmt.Errorf("failed to acquire screen capture: %w", err)
		}
		if err := s.peer.AttachTracks(acquired.Tracks()); err != nil {
			acquired.Close()
			return err
		}

		s.mutex.Lock()
		s.screen = acquired
		s.mutex.Unlock()
		s.announceScreenShare(true)
		return nil
	})
}

// ScreenSharing reports whether the local participant currently shares.
func (s *Session) ScreenSharing() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.screen != nil
}

// RemoteScreenSharing reports whether the remote participant currently
// shares, per the last controls channel announcement.
func (s *Session) RemoteScreenSharing() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.remoteScreenSharing
}

// ReopenTransport re-establishes a dropped relay subscription. Intended to
// back a user-facing reconnect action after an operation failed with
// relay.ErrTransportUnavailable.
func (s *Session) ReopenTransport(ctx context.Context) error {
	select {
	case <-s.done:
		return ErrSessionEnded
	default:
	}
	return s.transport.Reopen(ctx)
}

// EndSession ends the interview for both participants: the remote side is
// told to tear down over the relay, then the local teardown runs.
func (s *Session) EndSession(ctx context.Context) {
	err := s.broadcast(signaling.KindControl, signaling.ControlPayload{
		Action: signaling.ControlSessionEnded,
	})
	if err != nil {
		s.logger.WithError(err).Warn("failed to notify remote participant of session end")
	}
	s.Teardown(ctx)
}

// Teardown ends the session: media is released, the peer connection closed,
// presence withdrawn, the transport unsubscribed and the debounce timers
// cancelled, in that order. Pending unsent artifact updates are dropped.
// Safe to call multiple times.
func (s *Session) Teardown(ctx context.Context) {
	s.teardownOnce.Do(func() {
		tel := telemetry.NewTelemetry(ctx, "session.Teardown", attribute.String("session_id", s.id))
		defer tel.End()
		ctx = tel.Context()

		close(s.done)
		s.relayReceiver.Close()
		s.logger.Info("tearing down session")

		s.mutex.Lock()
		streams := []*media.Stream{s.camera, s.microphone, s.screen}
		s.camera, s.microphone, s.screen = nil, nil, nil
		s.mutex.Unlock()

		s.closePongs()

		for _, stream := range streams {
			if stream == nil {
				continue
			}
			if err := s.peer.DetachTracks(stream.Tracks()); err != nil {
				s.logger.WithError(err).Warn("failed to detach tracks during teardown")
			}
			stream.Close()
		}

		s.peer.Terminate()

		if err := s.broadcast(signaling.KindPresenceLeft, s.presence()); err != nil {
			s.logger.WithError(err).Warn("failed to withdraw presence")
		}
		if err := s.transport.Close(); err != nil {
			s.logger.WithError(err).Warn("failed to close transport")
		}

		s.code.Close()
		s.questions.Close()
		s.chat.Close()

		if err := s.SaveSnapshot(ctx); err != nil {
			s.logger.WithError(err).Warn("failed to persist artifact snapshots")
		}
		if err := s.deps.Store.UpdateSessionStatus(ctx, s.id, store.StatusCompleted); err != nil {
			s.logger.WithError(err).Warn("failed to mark session completed")
		}
	})
}

// closePongs stops feeding the heartbeat. The close happens under the same
// mutex the pong handler sends under, so a pong racing teardown can never
// hit a closed channel.
func (s *Session) closePongs() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.pongs != nil {
		close(s.pongs)
		s.pongs = nil
	}
}

// do hands a closure to the session loop and waits for its result.
func (s *Session) do(fn func() error) error {
	reply := make(chan error, 1)

	select {
	case s.commands <- func() { reply <- fn() }:
	case <-s.done:
		return ErrSessionEnded
	}

	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrSessionEnded
	}
}

func (s *Session) broadcast(kind signaling.Kind, payload any) error {
	message, err := signaling.NewMessage(kind, s.localID, payload)
	if err != nil {
		return err
	}
	return s.transport.Broadcast(context.Background(), message)
}

func (s *Session) presence() signaling.PresencePayload {
	return signaling.PresencePayload{
		Role:        string(s.role),
		DisplayName: s.deps.DisplayName,
	}
}

// announceScreenShare publishes the local share flag over the controls
// channel. Failure to deliver is logged; the flag is re-announced implicitly
// by the next toggle.
func (s *Session) announceScreenShare(active bool) {
	err := s.peer.SendControl(peer.ControlMessage{
		Op:                peer.ControlOpScreenShare,
		ScreenShareActive: active,
	})
	if err != nil {
		s.logger.WithError(err).Warn("failed to announce screen share state")
	}
}

func (s *Session) closeStreams() {
	s.mutex.Lock()
	streams := []*media.Stream{s.camera, s.microphone, s.screen}
	s.camera, s.microphone, s.screen = nil, nil, nil
	s.mutex.Unlock()

	for _, stream := range streams {
		if stream != nil {
			stream.Close()
		}
	}
}

func (s *Session) notify(notice Notice) {
	s.mutex.Lock()
	handlers := make([]func(Notice), len(s.noticeHandlers))
	copy(handlers, s.noticeHandlers)
	s.mutex.Unlock()

	for _, handler := range handlers {
		handler(notice)
	}
}
