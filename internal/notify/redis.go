package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisSink publishes events on a Redis channel so every server process
// can relay them to its own hub.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink creates a sink publishing to channel.
func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Notify(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", s.channel, err)
	}
	return nil
}

// Relay copies events from a Redis channel into a local hub.
type Relay struct {
	client  *redis.Client
	channel string
	hub     *Hub
	logger  *zap.SugaredLogger
}

// NewRelay creates a relay from channel to hub.
func NewRelay(client *redis.Client, channel string, hub *Hub, logger *zap.SugaredLogger) *Relay {
	return &Relay{client: client, channel: channel, hub: hub, logger: logger}
}

// Run blocks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	r.logger.Infow("Notification relay started", "channel", r.channel)
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Notification relay stopped")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.forward([]byte(msg.Payload))
		}
	}
}

func (r *Relay) forward(payload []byte) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		r.logger.Warnw("Dropping malformed event", "error", err)
		return
	}
	r.hub.broadcast(payload)
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}
