package registry

import (
	"sync"

	"github.com/Tyrowin/roomrelay/internal/protocol"
)

// DefaultMailboxSize is the number of events a mailbox buffers before sends
// start failing with ErrMailboxFull.
const DefaultMailboxSize = 32

// Mailbox is the outbound queue of a single connection. Sends never block:
// a slow consumer gets ErrMailboxFull instead of stalling the sender.
//
// Close events do not take a buffer slot. They trip the Quit channel so a
// writer can be told to stop even when its queue is full.
type Mailbox struct {
	mu     sync.Mutex
	events chan protocol.Event
	quit   chan struct{}
	// quitting is set once a close event was accepted.
	quitting bool
	closed   bool
}

// NewMailbox creates a mailbox buffering up to size events.
func NewMailbox(size int) *Mailbox {
	if size <= 0 {
		size = DefaultMailboxSize
	}
	return &Mailbox{
		events: make(chan protocol.Event, size),
		quit:   make(chan struct{}),
	}
}

// Send queues ev for the consumer.
func (m *Mailbox) Send(ev protocol.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrMailboxClosed
	}

	if ev.Kind == protocol.KindClose {
		if !m.quitting {
			m.quitting = true
			close(m.quit)
		}
		return nil
	}

	select {
	case m.events <- ev:
		return nil
	default:
		return ErrMailboxFull
	}
}

// Events returns the queue drained by the connection writer. The channel is
// never closed; consumers also select on Quit.
func (m *Mailbox) Events() <-chan protocol.Event {
	return m.events
}

// Quit is closed once a close event has been sent.
func (m *Mailbox) Quit() <-chan struct{} {
	return m.quit
}

// Close rejects all further sends. It is idempotent.
func (m *Mailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

// Closed reports whether Close has been called.
func (m *Mailbox) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
