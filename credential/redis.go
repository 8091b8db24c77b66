package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisMedium stores values in Redis under "<prefix>:<namespace>:<key>".
type RedisMedium struct {
	rdb       redis.UniversalClient
	prefix    string
	namespace string
}

// NewRedisMedium wraps an existing Redis client.
func NewRedisMedium(rdb redis.UniversalClient, prefix, namespace string) *RedisMedium {
	if prefix == "" {
		prefix = "authsession"
	}
	return &RedisMedium{rdb: rdb, prefix: prefix, namespace: namespace}
}

func (r *RedisMedium) key(k string) string {
	return r.prefix + ":" + r.namespace + ":" + k
}

func (r *RedisMedium) Get(ctx context.Context, key string) (string, error) {
	v, err := r.rdb.Get(ctx, r.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrKeyNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return v, nil
}

func (r *RedisMedium) Set(ctx context.Context, key, value string) error {
	if err := r.rdb.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// SetMany writes every value inside one MULTI/EXEC transaction.
func (r *RedisMedium) SetMany(ctx context.Context, values map[string]string) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range values {
			pipe.Set(ctx, r.key(k), v, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (r *RedisMedium) Remove(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}
