package broker

import (
	"context"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// channelSeparator separates channel segments, e.g. "room::lobby".
const channelSeparator = "::"

const defaultFlushTimeout = 5 * time.Second

// NATS carries publications over NATS core subjects. Channel segments map to
// subject tokens: "room::lobby" is published on "room.lobby", and the pattern
// "room::*" subscribes to "room.*".
type NATS struct {
	conn *nats.Conn
}

// NewNATS connects to the given server URL (nats.DefaultURL when empty).
func NewNATS(url string, opts ...nats.Option) (*NATS, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "nats connect")
	}
	return &NATS{conn: nc}, nil
}

func (n *NATS) Publish(_ context.Context, channel, payload string) error {
	subject, err := subjectFor(channel, false)
	if err != nil {
		return err
	}
	return errors.Wrapf(n.conn.Publish(subject, []byte(payload)), "nats publish %s", subject)
}

func (n *NATS) PSubscribe(ctx context.Context, pattern string) (Subscription, error) {
	subject, err := subjectFor(pattern, true)
	if err != nil {
		return nil, err
	}

	sub, err := n.conn.SubscribeSync(subject)
	if err != nil {
		return nil, errors.Wrapf(err, "nats subscribe %s", subject)
	}
	if err := n.conn.FlushTimeout(flushTimeout(ctx)); err != nil {
		_ = sub.Unsubscribe()
		return nil, errors.Wrap(err, "nats flush")
	}
	return &natsSubscription{sub: sub}, nil
}

func (n *NATS) Close() error {
	n.conn.Close()
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Receive(ctx context.Context) (Message, error) {
	msg, err := s.sub.NextMsgWithContext(ctx)
	if err != nil {
		if errors.Is(err, nats.ErrBadSubscription) || errors.Is(err, nats.ErrConnectionClosed) {
			return Message{}, ErrClosed
		}
		return Message{}, errors.Wrap(err, "nats receive")
	}
	return Message{Channel: channelFor(msg.Subject), Payload: string(msg.Data)}, nil
}

func (s *natsSubscription) Close() error {
	err := s.sub.Unsubscribe()
	if errors.Is(err, nats.ErrBadSubscription) || errors.Is(err, nats.ErrConnectionClosed) {
		return nil
	}
	return err
}

// subjectFor maps a channel (or, with wildcard set, a pattern) to a NATS
// subject. Only whole-segment '*' wildcards can be expressed.
func subjectFor(channel string, wildcard bool) (string, error) {
	segments := strings.Split(channel, channelSeparator)
	for _, seg := range segments {
		if seg == "" {
			return "", errors.Wrapf(ErrInvalidChannel, "%q has an empty segment", channel)
		}
		if wildcard && seg == "*" {
			continue
		}
		if strings.ContainsAny(seg, ".*>? \t\r\n") {
			return "", errors.Wrapf(ErrInvalidChannel, "%q cannot be expressed as a nats subject", channel)
		}
	}
	return strings.Join(segments, "."), nil
}

func channelFor(subject string) string {
	return strings.ReplaceAll(subject, ".", channelSeparator)
}

func flushTimeout(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			return d
		}
	}
	return defaultFlushTimeout
}
