package redisrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jrsteele09/neuroscan-portal/tokenstore"
	"github.com/redis/go-redis/v9"
)

var _ tokenstore.Repo = (*RedisRepo)(nil)

const defaultTimeout = 2 * time.Second

// RedisRepo stores keys as "<namespace>:<key>" so that portal replicas serving the
// same origin share a single session cache.
type RedisRepo struct {
	client    redis.UniversalClient
	namespace string
	timeout   time.Duration
}

func New(client redis.UniversalClient, namespace string) *RedisRepo {
	return &RedisRepo{
		client:    client,
		namespace: namespace,
		timeout:   defaultTimeout,
	}
}

func (r *RedisRepo) key(key string) string {
	return r.namespace + ":" + key
}

func (r *RedisRepo) Get(key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	value, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("[redisrepo Get] %s: %w", key, err)
	}
	return value, true, nil
}

func (r *RedisRepo) Set(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("[redisrepo Set] %s: %w", key, err)
	}
	return nil
}

func (r *RedisRepo) Delete(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	namespaced := make([]string, len(keys))
	for i, key := range keys {
		namespaced[i] = r.key(key)
	}
	if err := r.client.Del(ctx, namespaced...).Err(); err != nil {
		return fmt.Errorf("[redisrepo Delete] %w", err)
	}
	return nil
}
