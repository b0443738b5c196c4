package broker

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Redis carries publications over Redis PUBLISH/PSUBSCRIBE.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a broker from a redis:// URL.
func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	return &Redis{client: redis.NewClient(opts)}, nil
}

// NewRedisFromClient wraps an existing client. Close closes the client.
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return errors.Wrap(r.client.Ping(ctx).Err(), "redis ping")
}

func (r *Redis) Publish(ctx context.Context, channel, payload string) error {
	return errors.Wrapf(r.client.Publish(ctx, channel, payload).Err(), "redis publish %s", channel)
}

func (r *Redis) PSubscribe(ctx context.Context, pattern string) (Subscription, error) {
	ps := r.client.PSubscribe(ctx, pattern)

	// Wait for the subscription confirmation so publications issued after
	// PSubscribe returns are guaranteed to be seen.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errors.Wrapf(err, "redis psubscribe %s", pattern)
	}
	return &redisSubscription{pubsub: ps}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

type redisSubscription struct {
	pubsub *redis.PubSub
}

func (s *redisSubscription) Receive(ctx context.Context) (Message, error) {
	msg, err := s.pubsub.ReceiveMessage(ctx)
	if err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return Message{}, ErrClosed
		}
		return Message{}, errors.Wrap(err, "redis receive")
	}
	return Message{Channel: msg.Channel, Payload: msg.Payload}, nil
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}
