package relay

import (
	"context"
	"sync"
)

// Memory is an in-process relay. It backs the test suites and lets two
// sessions in the same process rendezvous without external infrastructure.
//
// Like the hosted backends, it delivers published messages to every active
// subscriber of the channel, the publisher's own subscription included.
// Delivery to each subscriber is sequential, which preserves per-publisher
// ordering.
type Memory struct {
	mutex    sync.Mutex
	channels map[string][]*memorySubscription
}

func NewMemory() *Memory {
	return &Memory{channels: make(map[string][]*memorySubscription)}
}

func (m *Memory) Subscribe(_ context.Context, channel string, handler func(data []byte)) (Subscription, error) {
	subscription := &memorySubscription{
		relay:   m,
		channel: channel,
		handler: handler,
		done:    make(chan struct{}),
		queue:   make(chan []byte, UnboundedQueueSize),
	}

	m.mutex.Lock()
	m.channels[channel] = append(m.channels[channel], subscription)
	m.mutex.Unlock()

	go subscription.run()

	return subscription, nil
}

func (m *Memory) Publish(_ context.Context, channel string, data []byte) error {
	m.mutex.Lock()
	subscribers := make([]*memorySubscription, len(m.channels[channel]))
	copy(subscribers, m.channels[channel])
	m.mutex.Unlock()

	for _, subscription := range subscribers {
		subscription.deliver(data)
	}

	return nil
}

// UnboundedQueueSize bounds per-subscriber delivery queues. Signaling
// traffic is low volume; hitting the bound means the subscriber stopped
// consuming long ago.
const UnboundedQueueSize = 256

type memorySubscription struct {
	relay   *Memory
	channel string
	handler func(data []byte)

	once  sync.Once
	done  chan struct{}
	queue chan []byte
}

// Delivery runs on a per-subscriber goroutine so that a slow handler delays
// only its own subscription while keeping the per-publisher order intact.
func (s *memorySubscription) run() {
	for {
		select {
		case <-s.done:
			return
		case data := <-s.queue:
			s.handler(data)
		}
	}
}

func (s *memorySubscription) deliver(data []byte) {
	select {
	case <-s.done:
	case s.queue <- data:
	}
}

func (s *memorySubscription) Unsubscribe() error {
	s.once.Do(func() {
		close(s.done)

		s.relay.mutex.Lock()
		defer s.relay.mutex.Unlock()

		remaining := s.relay.channels[s.channel][:0]
		for _, candidate := range s.relay.channels[s.channel] {
			if candidate != s {
				remaining = append(remaining, candidate)
			}
		}
		s.relay.channels[s.channel] = remaining
	})

	return nil
}

func (s *memorySubscription) Done() <-chan struct{} {
	return s.done
}
