package rtc

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
)

// PeerConnectionFactory constructs pre-configured peer connections: default
// codecs, the default RTP/RTCP interceptor pipeline and the ICE server set
// from the configuration.
type PeerConnectionFactory struct {
	api        *webrtc.API
	iceServers []webrtc.ICEServer
}

func NewPeerConnectionFactory(config Config) (*PeerConnectionFactory, error) {
	api, err := createWebRTCAPI(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create WebRTC API: %w", err)
	}

	return &PeerConnectionFactory{
		api:        api,
		iceServers: iceServersFromConfig(config),
	}, nil
}

// CreatePeerConnection creates a peer connection with the shared API
// configuration and the configured ICE servers.
func (f *PeerConnectionFactory) CreatePeerConnection() (*webrtc.PeerConnection, error) {
	return f.api.NewPeerConnection(webrtc.Configuration{ICEServers: f.iceServers})
}

func iceServersFromConfig(config Config) []webrtc.ICEServer {
	stunServers := config.STUNServers
	if len(stunServers) == 0 {
		stunServers = defaultSTUNServers
	}

	servers := []webrtc.ICEServer{{URLs: stunServers}}

	if config.TURNServer != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{config.TURNServer},
			Username:   config.TURNUsername,
			Credential: config.TURNPassword,
		})
	}

	return servers
}

// Creates Pion's WebRTC API with the media engine and interceptor registry
// that all peer connections of this process share.
func createWebRTCAPI(config Config) (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register default codecs: %w", err)
	}

	// The user configurable RTP/RTCP pipeline. Provides NACKs, RTCP reports
	// and friends; enabled by default with `webrtc.NewPeerConnection`, but
	// must be set up manually when the API is constructed by hand.
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("failed to set default interceptors: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if len(config.PublicIPs) > 0 {
		settingEngine.SetNAT1To1IPs(config.PublicIPs, webrtc.ICECandidateTypeHost)
	}
	if config.IncludeLoopbackCandidates {
		settingEngine.SetIncludeLoopbackCandidate(true)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settingEngine),
	), nil
}
