package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
)

const defaultPrefix = "workflow:runtime:"

// Redis is a Store keeping each record as a JSON string under prefix+runtimeID.
type Redis struct {
	client backend.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ Store = (*Redis)(nil)

type RedisOption func(*Redis)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// WithTTL expires records ttl after their last save. Zero keeps them forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		r.ttl = ttl
	}
}

// NewRedis connects to the redis server at addr.
func NewRedis(addr, password string, db int, opts ...RedisOption) *Redis {
	client := backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return NewRedisFromClient(client, opts...)
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client backend.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: defaultPrefix,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *Redis) key(runtimeID string) string {
	return r.prefix + runtimeID
}

func (r *Redis) Save(ctx context.Context, runtimeID string, record Record) error {
	if runtimeID == "" {
		return ErrEmptyRuntimeID
	}

	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if err := r.client.Set(ctx, r.key(runtimeID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}

	return nil
}

func (r *Redis) Load(ctx context.Context, runtimeID string) (Record, error) {
	val, err := r.client.Get(ctx, r.key(runtimeID)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return Record{}, ErrNotFound
		}

		return Record{}, fmt.Errorf("failed to get from redis: %w", err)
	}

	var record Record
	if err := json.Unmarshal(val, &record); err != nil {
		return Record{}, fmt.Errorf("failed to unmarshal record: %w", err)
	}

	return record, nil
}

func (r *Redis) Delete(ctx context.Context, runtimeID string) error {
	if err := r.client.Del(ctx, r.key(runtimeID)).Err(); err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}

	return nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
