package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores the cooldown as a key with a PX expiry, so several bot
// processes sharing a Redis instance share channel cooldowns.
type Redis struct {
	client   *redis.Client
	cooldown time.Duration
	prefix   string
}

func NewRedis(client *redis.Client, cooldown time.Duration) *Redis {
	return &Redis{client: client, cooldown: cooldown, prefix: "chatter:cooldown:"}
}

// NewRedisFromURL parses a redis:// URL and verifies the connection.
func NewRedisFromURL(ctx context.Context, url string, cooldown time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(client, cooldown), nil
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	if r.cooldown <= 0 {
		return true, nil
	}
	n, err := r.client.Exists(ctx, r.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n == 0, nil
}

func (r *Redis) Mark(ctx context.Context, key string) error {
	if r.cooldown <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.prefix+key, time.Now().UnixMilli(), r.cooldown).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *Redis) Close() error { return r.client.Close() }
