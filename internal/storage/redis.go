package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"calmie/internal/config"
)

// Redis stores each key as a plain string under a shared prefix.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w: %v", ErrUnavailable, err)
	}

	return client, nil
}

func NewRedis(ctx context.Context, cfg config.RedisConfig) (*Redis, error) {
	client, err := NewRedisClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewRedisFromClient(client, cfg.Prefix), nil
}

// NewRedisFromClient wraps an existing client. The backend takes ownership and
// closes it on Close.
func NewRedisFromClient(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Client() *redis.Client {
	return r.client
}

func (r *Redis) key(k string) string {
	return r.prefix + k
}

func (r *Redis) Get(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}

	values, err := r.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, classifyRedisError("mget", err)
	}
	for i, v := range values {
		if s, ok := v.(string); ok {
			out[keys[i]] = s
		}
	}
	return out, nil
}

func (r *Redis) Set(ctx context.Context, entries map[string]string) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range entries {
			pipe.Set(ctx, r.key(k), v, 0)
		}
		return nil
	})
	if err != nil {
		return classifyRedisError("set", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	if err := r.client.Del(ctx, full...).Err(); err != nil {
		return classifyRedisError("del", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func classifyRedisError(op string, err error) error {
	var netErr net.Error
	switch {
	case strings.HasPrefix(err.Error(), "OOM"):
		return fmt.Errorf("redis storage: %s: %w: %v", op, ErrQuotaExceeded, err)
	case errors.Is(err, redis.ErrClosed), errors.Is(err, io.EOF), errors.As(err, &netErr):
		return fmt.Errorf("redis storage: %s: %w: %v", op, ErrUnavailable, err)
	default:
		return fmt.Errorf("redis storage: %s: %w", op, err)
	}
}
