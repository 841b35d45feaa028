package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
)

// RedisStore is an optional backend for deployments that already run
// Redis. Keys are stored as plain strings with no expiry; eviction is
// the repository's job, not the store's.
type RedisStore struct {
	pool *redis.Pool
}

// OpenRedis creates a store backed by a Redis connection pool at addr.
func OpenRedis(addr string) *RedisStore {
	return &RedisStore{
		pool: &redis.Pool{
			MaxIdle:     3,
			IdleTimeout: 240 * time.Second,
			DialContext: func(ctx context.Context) (redis.Conn, error) {
				return redis.DialContext(ctx, "tcp", addr)
			},
			TestOnBorrow: func(c redis.Conn, t time.Time) error {
				if time.Since(t) < time.Minute {
					return nil
				}
				_, err := c.Do("PING")
				return err
			},
		},
	}
}

// Get retrieves the value for key.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return "", false, fmt.Errorf("acquiring redis conn: %w", err)
	}
	defer conn.Close()

	value, err := redis.String(conn.Do("GET", key))
	if err == redis.ErrNil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading key %s: %w", key, err)
	}
	return value, true, nil
}

// Set writes the value for key.
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("acquiring redis conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Do("SET", key, value); err != nil {
		return fmt.Errorf("writing key %s: %w", key, err)
	}
	return nil
}

// Remove deletes key.
func (s *RedisStore) Remove(ctx context.Context, key string) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("acquiring redis conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Do("DEL", key); err != nil {
		return fmt.Errorf("removing key %s: %w", key, err)
	}
	return nil
}

// Close drains the connection pool.
func (s *RedisStore) Close() error {
	return s.pool.Close()
}
