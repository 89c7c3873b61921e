package common

import "sync/atomic"

// Capacity used for channels that must never block the producer in practice.
const UnboundedChannelSize = 128

// NewChannel creates a channel and returns its two counterparts: one that can
// only send and one that can only receive. Unlike a plain Go channel, the
// receiver may mark the channel as closed, after which sends are returned to
// the caller instead of being delivered (or blocking forever).
func NewChannel[M any]() (Sender[M], Receiver[M]) {
	channel := make(chan M, UnboundedChannelSize)
	closed := &atomic.Bool{}
	return Sender[M]{channel, closed}, Receiver[M]{channel, closed}
}

type Sender[M any] struct {
	channel        chan<- M
	receiverClosed *atomic.Bool
}

// Send delivers the message unless the receiver has closed the channel, in
// which case the undelivered message is handed back.
func (s *Sender[M]) Send(message M) *M {
	if !s.receiverClosed.Load() {
		s.channel <- message
		return nil
	}
	return &message
}

type Receiver[M any] struct {
	Channel        <-chan M
	receiverClosed *atomic.Bool
}

// Close marks the channel as closed for senders. Messages already buffered
// remain readable from Channel.
func (r *Receiver[M]) Close() {
	r.receiverClosed.Store(true)
}
