package common

import (
	"time"
)

type Pong struct{}

// Heartbeat periodically pings the remote participant over the controls data
// channel and reports when the remote side stopped answering. Connection
// state changes from the ICE layer can take tens of seconds to fire; the
// heartbeat notices a dead peer much earlier.
type Heartbeat struct {
	// How often to send pings.
	Interval time.Duration
	// After which time to consider the communication stalled.
	Timeout time.Duration
	// A closure that is called when a ping is to be sent.
	// Returns `false` if an attempt to send a ping failed.
	SendPing func() bool
	// A closure that is called once `Timeout` is reached.
	OnTimeout func()
}

// Start spawns a goroutine that sends a ping every `Interval` and waits for a
// pong on the returned channel for `Timeout`. If no pong arrives in time,
// `OnTimeout` is called and the goroutine stops. Closing the returned channel
// stops the heartbeat.
func (h *Heartbeat) Start() chan<- Pong {
	pong := make(chan Pong, UnboundedChannelSize)

	go func() {
		ticker := time.NewTicker(h.Interval)
		defer ticker.Stop()

		for range ticker.C {
			if !h.sendWithRetry() {
				return
			}

			select {
			case <-time.After(h.Timeout):
				h.OnTimeout()
				return
			case _, ok := <-pong:
				if !ok {
					return
				}
			}
		}
	}()

	return pong
}

// Tries to send a ping message using `SendPing` and retries if it fails.
// Returns `true` if the ping was sent successfully.
func (h *Heartbeat) sendWithRetry() bool {
	const retries = 3
	retryInterval := h.Timeout / retries

	for i := 0; i < retries; i++ {
		if !h.SendPing() {
			time.Sleep(retryInterval)
			continue
		}
		return true
	}

	return false
}
