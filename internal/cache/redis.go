package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces keys, default "coderag:emb:".
	Prefix string
	// TTL expires entries; zero keeps them forever.
	TTL time.Duration
}

// RedisStore shares cached vectors between machines through Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	return NewRedisFromClient(client, opts.Prefix, opts.TTL), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "coderag:emb:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) GetMany(ctx context.Context, keys []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.prefix + k
	}
	vals, err := r.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	for i, val := range vals {
		s, ok := val.(string)
		if !ok {
			continue
		}
		v, err := decodeVector([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("cache key %s: %w", keys[i], err)
		}
		out[keys[i]] = v
	}
	return out, nil
}

func (r *RedisStore) PutMany(ctx context.Context, entries map[string][]float32) error {
	if len(entries) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for k, v := range entries {
		pipe.Set(ctx, r.prefix+k, encodeVector(v), r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
