package common

import (
	"errors"
	"sync/atomic"
)

// ErrSinkSealed is returned on attempts to send through a sealed sink.
var ErrSinkSealed = errors.New("the sink is sealed, no messages can be sent over it")

// MessageSink is a write handle to a shared message channel that is bound to
// a fixed sender. Components that report events into the session loop (the
// peer connection, the synchronizers) get a sink with their identity baked
// in, so they cannot impersonate each other and the receiving loop always
// knows who a message came from.
type MessageSink[SenderType comparable, MessageType any] struct {
	// The sender on whose behalf all messages are sent.
	sender SenderType
	// The channel shared with the receiving loop.
	messageSink chan<- Message[SenderType, MessageType]
	// Set once the receiver is no longer interested in messages from this
	// particular sender. Unlike closing the channel, sealing only affects
	// this sink; other senders keep their access.
	sealed atomic.Bool
}

// NewMessageSink binds a sender identity to a shared message channel.
func NewMessageSink[S comparable, M any](sender S, messageSink chan<- Message[S, M]) *MessageSink[S, M] {
	return &MessageSink[S, M]{
		sender:      sender,
		messageSink: messageSink,
	}
}

// Send delivers a message to the receiving loop, stamped with the sender
// this sink was created for.
func (s *MessageSink[S, M]) Send(message M) error {
	if s.sealed.Load() {
		return ErrSinkSealed
	}

	s.messageSink <- Message[S, M]{
		Sender:  s.sender,
		Content: message,
	}

	return nil
}

// Seal marks the sink as dead. Subsequent sends fail with ErrSinkSealed.
// The underlying channel is left open for the remaining senders.
func (s *MessageSink[S, M]) Seal() {
	s.sealed.Store(true)
}

// Message is a sender-stamped message as seen by the receiving loop.
type Message[SenderType comparable, MessageType any] struct {
	Sender  SenderType
	Content MessageType
}
