package bridge

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/roomrelay/internal/broker"
	"github.com/Tyrowin/roomrelay/internal/protocol"
	"github.com/Tyrowin/roomrelay/internal/registry"
)

// DefaultBuffer is the capacity of the channel between the subscription
// reader and the dispatch loop.
const DefaultBuffer = 32

// RelayedMessage is the message text of relayed room events.
const RelayedMessage = "message"

// Rooms is the part of the registry the relay delivers into.
type Rooms interface {
	Room(name string) (registry.Room, bool)
	Broadcast(name string, ev protocol.Event) (int, error)
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithBuffer sets the reader-to-dispatcher channel capacity.
func WithBuffer(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.buffer = n
		}
	}
}

// WithPattern overrides the subscription pattern.
func WithPattern(pattern string) RelayOption {
	return func(r *Relay) { r.pattern = pattern }
}

// Relay subscribes to every room channel and broadcasts what it receives into
// the local rooms.
type Relay struct {
	broker  broker.Broker
	rooms   Rooms
	pattern string
	buffer  int
	log     zerolog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	stop    chan struct{}
	done    chan struct{}
	err     error
}

// NewRelay creates a relay delivering publications from b into rooms.
func NewRelay(b broker.Broker, rooms Rooms, opts ...RelayOption) *Relay {
	r := &Relay{
		broker:  b,
		rooms:   rooms,
		pattern: Pattern,
		buffer:  DefaultBuffer,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = log.With().Str("component", "relay").Str("pattern", r.pattern).Logger()
	return r
}

type received struct {
	msg broker.Message
	err error
}

// Start subscribes and launches the relay. It returns once the subscription
// is active. The relay runs until Stop is called, ctx is done, or the
// subscription fails.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	switch {
	case r.stopped:
		r.mu.Unlock()
		return ErrRelayStopped
	case r.started:
		r.mu.Unlock()
		return ErrRelayRunning
	}
	r.started = true
	r.mu.Unlock()

	sub, err := r.broker.PSubscribe(ctx, r.pattern)
	if err != nil {
		r.mu.Lock()
		r.started = false
		r.mu.Unlock()
		return errors.Wrap(err, "relay subscribe")
	}

	runCtx, cancel := context.WithCancel(ctx)
	incoming := make(chan received, r.buffer)

	go r.receive(runCtx, sub, incoming)
	go r.run(runCtx, cancel, sub, incoming)

	r.log.Info().Msg("relay started")
	return nil
}

// receive owns the blocking subscription read. It is the only goroutine that
// touches the subscription stream and hands everything to run through
// incoming, so a slow broadcast never blocks the medium's client directly.
func (r *Relay) receive(ctx context.Context, sub broker.Subscription, incoming chan<- received) {
	for {
		msg, err := sub.Receive(ctx)
		select {
		case incoming <- received{msg: msg, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (r *Relay) run(ctx context.Context, cancel context.CancelFunc, sub broker.Subscription, incoming <-chan received) {
	defer close(r.done)
	defer cancel()
	defer func() {
		if err := sub.Close(); err != nil {
			r.log.Debug().Err(err).Msg("closing subscription")
		}
	}()

	for {
		select {
		case <-r.stop:
			r.log.Info().Msg("relay stopped")
			return

		case <-ctx.Done():
			r.log.Info().Err(ctx.Err()).Msg("relay context done")
			return

		case in := <-incoming:
			if in.err != nil {
				if r.stopRequested() {
					r.log.Info().Msg("relay stopped")
					return
				}
				r.fail(in.err)
				return
			}
			// Stop is observed between messages.
			if r.stopRequested() {
				r.log.Info().Msg("relay stopped")
				return
			}
			r.deliver(in.msg)
		}
	}
}

func (r *Relay) deliver(msg broker.Message) {
	name, ok := RoomFromChannel(msg.Channel)
	if !ok {
		r.log.Warn().Str("channel", msg.Channel).Msg("malformed channel; dropping message")
		return
	}

	if _, ok := r.rooms.Room(name); !ok {
		r.log.Debug().Str("room", name).Msg("no local room; dropping message")
		return
	}

	delivered, err := r.rooms.Broadcast(name, protocol.OKWithData(protocol.MethodMessage, RelayedMessage, msg.Payload))
	if err != nil {
		r.log.Warn().Err(err).Str("room", name).Msg("broadcast failed; dropping message")
		return
	}
	r.log.Debug().Str("room", name).Int("delivered", delivered).Msg("relayed message")
}

func (r *Relay) fail(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	r.log.Error().Err(err).Msg("subscription failed; relay terminated")
}

func (r *Relay) stopRequested() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

// Stop signals the relay to terminate. The signal is observed between
// message reads; a read already in progress may complete first. Calling Stop
// a second time returns ErrRelayStopped.
func (r *Relay) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return ErrRelayStopped
	}
	r.stopped = true
	close(r.stop)
	return nil
}

// IsStopped reports whether Stop has been called, whether or not the loop has
// observed it yet.
func (r *Relay) IsStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// Done is closed when a started relay has terminated.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

// Err returns the transport error that terminated the relay, if any.
func (r *Relay) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
