package peer

import (
	"github.com/pion/webrtc/v3"
)

// Due to the limitation of Go, we're using `interface{}` to be able to
// switch on the actual type of the message at runtime.
type Event = interface{}

// ConnectionState is the connection status surfaced to the session. It is a
// reduced view of the underlying peer connection states.
type ConnectionState int

const (
	ConnectionStateNew ConnectionState = iota
	ConnectionStateConnecting
	ConnectionStateConnected
	ConnectionStateDisconnected
	ConnectionStateFailed
	ConnectionStateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionStateNew:
		return "new"
	case ConnectionStateConnecting:
		return "connecting"
	case ConnectionStateConnected:
		return "connected"
	case ConnectionStateDisconnected:
		return "disconnected"
	case ConnectionStateFailed:
		return "failed"
	case ConnectionStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Basic information about a track.
type TrackInfo struct {
	TrackID  string
	StreamID string
	Kind     webrtc.RTPCodecType
	Codec    webrtc.RTPCodecCapability
}

func trackInfoFromTrack(track *webrtc.TrackRemote) TrackInfo {
	return TrackInfo{
		TrackID:  track.ID(),
		StreamID: track.StreamID(),
		Kind:     track.Kind(),
		Codec:    track.Codec().RTPCodecCapability,
	}
}

// The connection state changed; on `failed` and `disconnected` the session
// surfaces a notice but does not retry on its own.
type ConnectionStateChanged struct {
	State ConnectionState
}

// A remote media track started arriving.
type RemoteTrackPublished struct {
	TrackInfo
	Track *webrtc.TrackRemote
}

// A previously published remote track stopped (EOF or read failure).
type RemoteTrackEnded struct {
	TrackInfo
}

// A local ICE candidate was discovered and must be relayed to the remote
// participant.
type NewICECandidate struct {
	Candidate *webrtc.ICECandidate
}

type ICEGatheringComplete struct{}

// The local track set changed and a new offer must be relayed to the remote
// participant.
type RenegotiationRequired struct {
	Offer *webrtc.SessionDescription
}

// The controls data channel is open in both directions.
type ControlsAvailable struct{}

// A message arrived over the controls data channel.
type ControlReceived struct {
	Message ControlMessage
}
