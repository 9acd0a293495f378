package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "monarch:session"

// RedisStore persists the encoded session in Redis. It suits deployments
// where several short-lived processes (cron jobs, workers) share one
// authenticated session instead of each keeping a file.
type RedisStore struct {
	client *redis.Client
	codec  Codec
	key    string
	ttl    time.Duration
}

// NewRedisStore returns a Redis-backed store. An empty key selects
// "monarch:session"; a nil codec selects an [AESCodec] with the default
// passphrase; ttl <= 0 persists without expiry.
func NewRedisStore(client *redis.Client, key string, codec Codec, ttl time.Duration) *RedisStore {
	if key == "" {
		key = defaultRedisKey
	}
	if codec == nil {
		codec = NewAESCodec("")
	}
	return &RedisStore{client: client, codec: codec, key: key, ttl: ttl}
}

func (r *RedisStore) Load(ctx context.Context) (*State, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoSession
		}
		return nil, err
	}

	s, err := r.codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoSession, err)
	}
	return s, nil
}

func (r *RedisStore) Save(ctx context.Context, s *State) error {
	data, err := r.codec.Encode(s)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key, data, r.ttl).Err()
}

func (r *RedisStore) Delete(ctx context.Context) error {
	return r.client.Del(ctx, r.key).Err()
}
