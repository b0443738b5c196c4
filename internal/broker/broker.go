// Package broker abstracts the external broadcast medium that lets several
// relay instances share rooms. Channels are plain strings; subscriptions use
// Redis-style glob patterns.
package broker

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrClosed is returned by operations on a closed broker or subscription.
	ErrClosed = errors.New("broker closed")
	// ErrInvalidChannel is returned for channel names a broker cannot carry.
	ErrInvalidChannel = errors.New("invalid channel name")
	// ErrUnknownKind is returned by Open for unsupported broker kinds.
	ErrUnknownKind = errors.New("unknown broker kind")
)

// Message is a single publication received from the medium.
type Message struct {
	Channel string
	Payload string
}

// Broker publishes payloads and opens pattern subscriptions.
type Broker interface {
	Publish(ctx context.Context, channel, payload string) error
	// PSubscribe returns once the subscription is active on the medium.
	PSubscribe(ctx context.Context, pattern string) (Subscription, error)
	Close() error
}

// Subscription is a stream of publications matching a pattern.
type Subscription interface {
	// Receive blocks until a message arrives, ctx is done or the
	// subscription is closed (ErrClosed).
	Receive(ctx context.Context) (Message, error)
	Close() error
}

// Kind selects a broker implementation.
type Kind string

const (
	KindMemory Kind = "memory"
	KindRedis  Kind = "redis"
	KindNATS   Kind = "nats"
)

// ParseKind normalizes a configured broker kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "", KindMemory:
		return KindMemory, nil
	case KindRedis, KindNATS:
		return k, nil
	default:
		return "", errors.Wrapf(ErrUnknownKind, "%q", s)
	}
}

// Open connects to the broker of the given kind. url is ignored for the
// in-memory broker.
func Open(ctx context.Context, kind Kind, url string) (Broker, error) {
	switch kind {
	case KindMemory, "":
		return NewMemory(DefaultSubscriptionBuffer), nil
	case KindRedis:
		r, err := NewRedis(url)
		if err != nil {
			return nil, err
		}
		if err := r.Ping(ctx); err != nil {
			_ = r.Close()
			return nil, err
		}
		return r, nil
	case KindNATS:
		return NewNATS(url)
	default:
		return nil, errors.Wrapf(ErrUnknownKind, "%q", kind)
	}
}
