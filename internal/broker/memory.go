package broker

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// DefaultSubscriptionBuffer is the per-subscription queue length of the
// in-memory broker.
const DefaultSubscriptionBuffer = 256

// Memory is an in-process broker. It serves single-instance deployments and
// tests; publications never leave the process.
type Memory struct {
	mu     sync.RWMutex
	subs   map[*memorySubscription]struct{}
	buffer int
	closed bool
}

// NewMemory creates an in-process broker whose subscriptions queue up to
// buffer messages. A full subscription drops new publications.
func NewMemory(buffer int) *Memory {
	if buffer <= 0 {
		buffer = DefaultSubscriptionBuffer
	}
	return &Memory{
		subs:   make(map[*memorySubscription]struct{}),
		buffer: buffer,
	}
}

func (m *Memory) Publish(ctx context.Context, channel, payload string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}

	msg := Message{Channel: channel, Payload: payload}
	for sub := range m.subs {
		if !matchGlob(sub.pattern, channel) {
			continue
		}
		select {
		case sub.messages <- msg:
		default:
			log.Warn().Str("channel", channel).Str("pattern", sub.pattern).Msg("subscription full; dropping publication")
		}
	}
	return nil
}

func (m *Memory) PSubscribe(ctx context.Context, pattern string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	sub := &memorySubscription{
		broker:   m,
		pattern:  pattern,
		messages: make(chan Message, m.buffer),
		done:     make(chan struct{}),
	}
	m.subs[sub] = struct{}{}
	return sub, nil
}

// Close closes the broker and every open subscription.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subs := m.subs
	m.subs = make(map[*memorySubscription]struct{})
	m.mu.Unlock()

	for sub := range subs {
		sub.stop()
	}
	return nil
}

func (m *Memory) remove(sub *memorySubscription) {
	m.mu.Lock()
	delete(m.subs, sub)
	m.mu.Unlock()
}

type memorySubscription struct {
	broker   *Memory
	pattern  string
	messages chan Message
	done     chan struct{}
	once     sync.Once
}

func (s *memorySubscription) Receive(ctx context.Context) (Message, error) {
	select {
	case msg := <-s.messages:
		return msg, nil
	case <-s.done:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (s *memorySubscription) Close() error {
	s.broker.remove(s)
	s.stop()
	return nil
}

func (s *memorySubscription) stop() {
	s.once.Do(func() { close(s.done) })
}
