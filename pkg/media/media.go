package media

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v3"
)

// ErrPermissionDenied is returned when the platform refuses access to a
// capture device. It is deliberately distinct from other acquisition
// failures: the caller presents a retry path for it instead of a generic
// connection error.
var ErrPermissionDenied = errors.New("permission to capture device denied")

// Constraints describes which capture devices to acquire.
type Constraints struct {
	Video bool
	Audio bool
}

// Source is the capability through which the session acquires local media.
// It is injected by the embedding application and owned per session, with
// explicit acquire/close lifecycle; nothing in this package is process-wide.
type Source interface {
	// AcquireUserMedia opens camera and/or microphone per the constraints.
	// Returns ErrPermissionDenied (possibly wrapped) on refusal.
	AcquireUserMedia(constraints Constraints) (*Stream, error)

	// AcquireDisplayMedia opens a display capture for screen sharing.
	// Returns ErrPermissionDenied (possibly wrapped) on refusal.
	AcquireDisplayMedia() (*Stream, error)
}

// Stream is a set of local tracks acquired together, typically camera+mic
// or one screen capture. Closing the stream releases the devices.
type Stream struct {
	id        string
	tracks    []webrtc.TrackLocal
	release   func()
	closeOnce sync.Once
}

// NewStream wraps acquired tracks. The release closure frees the underlying
// devices and is invoked exactly once.
func NewStream(id string, tracks []webrtc.TrackLocal, release func()) *Stream {
	return &Stream{id: id, tracks: tracks, release: release}
}

func (s *Stream) ID() string {
	return s.id
}

// Tracks returns all tracks of the stream.
func (s *Stream) Tracks() []webrtc.TrackLocal {
	return s.tracks
}

// VideoTracks returns the video tracks of the stream.
func (s *Stream) VideoTracks() []webrtc.TrackLocal {
	return s.tracksOfKind(webrtc.RTPCodecTypeVideo)
}

// AudioTracks returns the audio tracks of the stream.
func (s *Stream) AudioTracks() []webrtc.TrackLocal {
	return s.tracksOfKind(webrtc.RTPCodecTypeAudio)
}

func (s *Stream) tracksOfKind(kind webrtc.RTPCodecType) []webrtc.TrackLocal {
	var matching []webrtc.TrackLocal
	for _, track := range s.tracks {
		if track.Kind() == kind {
			matching = append(matching, track)
		}
	}
	return matching
}

// Close releases the capture devices behind the stream. Idempotent: the
// teardown path and the device's own stop control may race to call it.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}
