package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Configuration for the Redis relay backend.
type RedisConfig struct {
	// Address of the Redis instance, host:port.
	Addr string `yaml:"addr"`
	// Optional password.
	Password string `yaml:"password"`
	// Database index.
	DB int `yaml:"db"`
}

// Redis implements the relay over Redis pub/sub. Redis delivers a published
// message to every subscriber of the channel except none — the publisher's
// own subscription receives it too — and preserves publish order per
// connection, which matches the ordering contract of the transport.
type Redis struct {
	client *redis.Client
	logger *logrus.Entry
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, config RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Redis{
		client: client,
		logger: logrus.WithField("relay", "redis"),
	}, nil
}

func (r *Redis) Subscribe(ctx context.Context, channel string, handler func(data []byte)) (Subscription, error) {
	pubsub := r.client.Subscribe(ctx, channel)

	// Wait for the subscription confirmation so that the caller can rely on
	// the subscription being active once we return.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis subscription was not confirmed: %w", err)
	}

	subscription := &redisSubscription{
		pubsub: pubsub,
		done:   make(chan struct{}),
	}

	go func() {
		// The channel closes when the subscription dies, either through
		// Unsubscribe or because the connection to Redis was lost.
		for message := range pubsub.Channel() {
			handler([]byte(message.Payload))
		}
		subscription.markDone()
	}()

	return subscription, nil
}

func (r *Redis) Publish(ctx context.Context, channel string, data []byte) error {
	if err := r.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// Close releases the underlying Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}

type redisSubscription struct {
	pubsub *redis.PubSub

	closeOnce sync.Once
	closeErr  error
	doneOnce  sync.Once
	done      chan struct{}
}

func (s *redisSubscription) Unsubscribe() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.pubsub.Close()
		s.markDone()
	})
	return s.closeErr
}

func (s *redisSubscription) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *redisSubscription) Done() <-chan struct{} {
	return s.done
}
