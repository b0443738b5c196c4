// Package bridge relays room messages through an external broadcast medium so
// several relay instances can share rooms.
//
// Publishing never delivers locally. Every instance, including the one that
// published, receives its own publications back through its Relay, which is
// the only path that broadcasts into the local registry. Local and remote
// members therefore see the same messages in the same order, and a message is
// only delivered while the relay is running.
package bridge

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/Tyrowin/roomrelay/internal/broker"
)

var (
	// ErrInvalidRoom is returned for room names that cannot be carried on a
	// channel.
	ErrInvalidRoom = errors.New("invalid room name")
	// ErrRelayStopped is returned when stopping a relay twice, or starting a
	// relay that was already stopped.
	ErrRelayStopped = errors.New("relay is already stopped")
	// ErrRelayRunning is returned when starting a relay twice.
	ErrRelayRunning = errors.New("relay is already running")
)

// Bridge publishes locally-originated room messages.
type Bridge struct {
	broker broker.Broker
}

// New creates a Bridge publishing on b.
func New(b broker.Broker) *Bridge {
	return &Bridge{broker: b}
}

// ValidRoom reports whether room can be carried on a channel.
func ValidRoom(room string) bool {
	return room != "" && !strings.Contains(room, Separator)
}

// Publish sends text to every instance subscribed to room's channel.
func (b *Bridge) Publish(ctx context.Context, room, text string) error {
	if !ValidRoom(room) {
		return errors.Wrapf(ErrInvalidRoom, "%q", room)
	}
	channel := ChannelFor(room)
	return errors.Wrapf(b.broker.Publish(ctx, channel, text), "publish to %s", channel)
}
