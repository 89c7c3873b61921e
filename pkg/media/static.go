package media

import (
	"fmt"

	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
)

// StaticSource produces sample-fed tracks without touching any capture
// device. It backs the test suites and headless agent runs; real
// deployments inject a Source wired to actual capture hardware.
type StaticSource struct {
	// Simulate a user denying the capture permission prompt.
	DenyUserMedia    bool
	DenyDisplayMedia bool
}

func (s *StaticSource) AcquireUserMedia(constraints Constraints) (*Stream, error) {
	if s.DenyUserMedia {
		return nil, fmt.Errorf("user media: %w", ErrPermissionDenied)
	}

	streamID := "camera-" + uuid.NewString()
	var tracks []webrtc.TrackLocal

	if constraints.Video {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"camera-video-"+uuid.NewString(),
			streamID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create video track: %w", err)
		}
		tracks = append(tracks, track)
	}

	if constraints.Audio {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
			"camera-audio-"+uuid.NewString(),
			streamID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create audio track: %w", err)
		}
		tracks = append(tracks, track)
	}

	return NewStream(streamID, tracks, nil), nil
}

func (s *StaticSource) AcquireDisplayMedia() (*Stream, error) {
	if s.DenyDisplayMedia {
		return nil, fmt.Errorf("display media: %w", ErrPermissionDenied)
	}

	streamID := "screen-" + uuid.NewString()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"screen-video-"+uuid.NewString(),
		streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create screen track: %w", err)
	}

	return NewStream(streamID, []webrtc.TrackLocal{track}, nil), nil
}

// WriteBlankSample pushes one empty sample into a static track. Tests use it
// to make a track produce traffic.
func WriteBlankSample(track webrtc.TrackLocal) error {
	sample, ok := track.(*webrtc.TrackLocalStaticSample)
	if !ok {
		return fmt.Errorf("track %s is not sample-fed", track.ID())
	}
	return sample.WriteSample(pionmedia.Sample{Data: []byte{0x00}, Duration: time.Millisecond})
}
