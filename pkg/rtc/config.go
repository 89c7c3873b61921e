package rtc

// Configuration of the WebRTC API for the participant agent.
type Config struct {
	// STUN servers used for NAT traversal. Defaults to a set of public
	// Google STUN servers when empty.
	STUNServers []string `yaml:"stunServers"`
	// Optional TURN relay. Left empty in the default deployment; direct
	// connections between two participants succeed with STUN alone in the
	// vast majority of networks. The fields exist so a relay can be added
	// without touching code.
	TURNServer   string `yaml:"turnServer"`
	TURNUsername string `yaml:"turnUsername"`
	TURNPassword string `yaml:"turnPassword"`
	// Public IP addresses of the host, for deployments behind 1:1 NAT.
	PublicIPs []string `yaml:"ipAddresses"`
	// Allow candidates on the loopback interface, for local setups where
	// both participants run on the same machine.
	IncludeLoopbackCandidates bool `yaml:"includeLoopbackCandidates"`
}

// The STUN servers used when the config does not name any.
var defaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
}
