package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores each owner's values as one Redis hash per namespace.
// HSET with several fields is a single command, which keeps multi-field
// writes atomic.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend connects to url and verifies the connection with PING.
func NewRedisBackend(ctx context.Context, url, prefix string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisBackendFromClient(client, prefix), nil
}

// NewRedisBackendFromClient wraps an existing client.
func NewRedisBackendFromClient(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "m365gate"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (r *RedisBackend) key(ns Namespace, owner string) string {
	return r.prefix + ":" + string(ns) + ":" + owner
}

func (r *RedisBackend) Get(ctx context.Context, ns Namespace, owner, name string) ([]byte, error) {
	v, err := r.client.HGet(ctx, r.key(ns, owner), name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis hget: %w", err)
	}
	return v, nil
}

func (r *RedisBackend) Put(ctx context.Context, ns Namespace, owner string, values map[string][]byte) error {
	if len(values) == 0 {
		return nil
	}
	fields := make(map[string]interface{}, len(values))
	for name, v := range values {
		fields[name] = v
	}
	if err := r.client.HSet(ctx, r.key(ns, owner), fields).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

func (r *RedisBackend) Delete(ctx context.Context, ns Namespace, owner string, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	if err := r.client.HDel(ctx, r.key(ns, owner), names...).Err(); err != nil {
		return fmt.Errorf("redis hdel: %w", err)
	}
	return nil
}

// Health checks the connection.
func (r *RedisBackend) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
