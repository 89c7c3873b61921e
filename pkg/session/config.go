package session

import (
	"time"

	"github.com/peerprep/interviewd/pkg/sync"
)

// Configuration of the session lifecycle.
type Config struct {
	// How early before the scheduled start a participant may enter.
	// (in minutes)
	EntryGrace int `yaml:"entryGrace"`
	// How often to re-check the schedule window while the session runs, so
	// a session running past its end time is flagged. (in seconds)
	GateRecheckInterval int `yaml:"gateRecheckInterval"`
	// Debounce window for shared artifact broadcasts. (in milliseconds,
	// capped at 100)
	DebounceWindow int `yaml:"debounceWindow"`
	// How long to wait after a participant joins before rebroadcasting the
	// current shared state to it. The delay lets the joiner's relay
	// subscription become fully active first. (in milliseconds)
	BootstrapDelay int `yaml:"bootstrapDelay"`
	// Keepalive over the controls data channel. (in seconds)
	HeartbeatInterval int `yaml:"heartbeatInterval"`
	HeartbeatTimeout  int `yaml:"heartbeatTimeout"`
}

// The resolved form of the configuration the session works with.
type timings struct {
	entryGrace          time.Duration
	gateRecheckInterval time.Duration
	debounceWindow      time.Duration
	bootstrapDelay      time.Duration
	heartbeatInterval   time.Duration
	heartbeatTimeout    time.Duration
}

func (c Config) timings() timings {
	resolved := timings{
		entryGrace:          time.Duration(c.EntryGrace) * time.Minute,
		gateRecheckInterval: time.Duration(c.GateRecheckInterval) * time.Second,
		debounceWindow:      time.Duration(c.DebounceWindow) * time.Millisecond,
		bootstrapDelay:      time.Duration(c.BootstrapDelay) * time.Millisecond,
		heartbeatInterval:   time.Duration(c.HeartbeatInterval) * time.Second,
		heartbeatTimeout:    time.Duration(c.HeartbeatTimeout) * time.Second,
	}

	if resolved.entryGrace <= 0 {
		resolved.entryGrace = 5 * time.Minute
	}
	if resolved.gateRecheckInterval <= 0 {
		resolved.gateRecheckInterval = time.Minute
	}
	if resolved.debounceWindow <= 0 {
		resolved.debounceWindow = sync.DefaultDebounceWindow
	}
	if resolved.debounceWindow > sync.MaxDebounceWindow {
		resolved.debounceWindow = sync.MaxDebounceWindow
	}
	if resolved.bootstrapDelay <= 0 {
		resolved.bootstrapDelay = 500 * time.Millisecond
	}
	if resolved.heartbeatInterval <= 0 {
		resolved.heartbeatInterval = 10 * time.Second
	}
	if resolved.heartbeatTimeout <= 0 {
		resolved.heartbeatTimeout = 5 * time.Second
	}

	return resolved
}
