package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultScanCount = 100

// Redis reads dynamic service configuration stored as plain string keys in Redis, one key
// per property, e.g. SET edge/services/auth/endpoint auth.internal.
type Redis struct {
	client    *redis.Client
	scanCount int64
}

// Connect initializes a Redis client from URL or host:port input.
func Connect(_ context.Context, redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// NewRedis creates a Redis source on top of client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, scanCount: defaultScanCount}
}

// List implements healthgate.KVSource. Keys are collected with SCAN so large keyspaces are
// never blocked on, then read in one MGET.
func (r *Redis) List(ctx context.Context, prefix string) (map[string]string, error) {
	pattern := "*"
	if p := strings.Trim(prefix, "/"); p != "" {
		pattern = p + "/*"
	}

	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, r.scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %q: %w", pattern, err)
	}

	entries := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return entries, nil
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget %q: %w", pattern, err)
	}

	for i, value := range values {
		// Keys deleted between SCAN and MGET come back nil; non-string types are skipped.
		if s, ok := value.(string); ok {
			entries[keys[i]] = s
		}
	}
	return entries, nil
}

// Healthy checks connectivity to Redis.
func (r *Redis) Healthy(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
