package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Channel names used for cross-process invalidation.
const (
	ChannelLatest    = "attendance:latest"
	ChannelDirectory = "directory:changed"
)

// Redis wraps the redis client.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// Notify publishes a fire-and-forget invalidation message on a channel.
func (r *Redis) Notify(ctx context.Context, channel, payload string) {
	if r == nil || r.Client == nil {
		return
	}
	_ = r.Client.Publish(ctx, channel, payload).Err()
}
