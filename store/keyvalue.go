// Package store holds the optional storage capabilities the facade
// composes in: a Redis-backed key-value store and a document database.
// Both are thin pass-throughs over their client libraries; the messaging
// layer never depends on them.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrKeyNotFound is returned when a key does not exist.
var ErrKeyNotFound = errors.New("store: key not found")

// KeyValue wraps a Redis client behind the small surface the toolkit's
// consumers use.
type KeyValue struct {
	client *redis.Client
}

// NewKeyValue wraps an existing Redis client.
func NewKeyValue(client *redis.Client) *KeyValue {
	return &KeyValue{client: client}
}

// DialKeyValue connects to Redis at addr.
func DialKeyValue(addr, password string, db int) *KeyValue {
	return NewKeyValue(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

// Get returns the string value for key.
func (kv *KeyValue) Get(ctx context.Context, key string) (string, error) {
	v, err := kv.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return v, err
}

// Set stores value under key; a zero expiration keeps it forever.
func (kv *KeyValue) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	return kv.client.Set(ctx, key, value, expiration).Err()
}

// GetJSON unmarshals the value stored under key into out.
func (kv *KeyValue) GetJSON(ctx context.Context, key string, out any) error {
	v, err := kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(v), out); err != nil {
		return fmt.Errorf("store: decode %s: %w", key, err)
	}
	return nil
}

// SetJSON marshals value and stores it under key.
func (kv *KeyValue) SetJSON(ctx context.Context, key string, value any, expiration time.Duration) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", key, err)
	}
	return kv.Set(ctx, key, body, expiration)
}

// Del removes keys.
func (kv *KeyValue) Del(ctx context.Context, keys ...string) error {
	return kv.client.Del(ctx, keys...).Err()
}

// Expire sets a TTL on key.
func (kv *KeyValue) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return kv.client.Expire(ctx, key, ttl).Err()
}

// Close releases the underlying client.
func (kv *KeyValue) Close() error {
	return kv.client.Close()
}
