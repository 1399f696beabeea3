package kv

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis-backed durable key-value store. Expiry is
// enforced by Redis itself.
type RedisStore struct {
	client *redis.Client
}

// RedisConfig holds the configuration for the Redis store
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// NewRedisStore creates a new Redis store client
func NewRedisStore(config RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
	})

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{
		client: client,
	}, nil
}

// Get retrieves a value from the store
func (r *RedisStore) Get(ctx context.Context, key string, dest interface{}) error {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return ErrKeyNotFound
	} else if err != nil {
		return err
	}

	return json.Unmarshal([]byte(val), dest)
}

// Set stores a value with optional expiration
func (r *RedisStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return r.client.Set(ctx, key, data, ttl).Err()
}

// Delete removes a value from the store
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Exists checks if a key exists in the store
func (r *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	res, err := r.client.Exists(ctx, key).Result()
	return res > 0, err
}

// Close closes the Redis client connection
func (r *RedisStore) Close() error {
	return r.client.Close()
}
