package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 500

// RedisBackend shares entries between processes. All keys are stored under
// namespace so that prefix scans never touch foreign keys.
type RedisBackend struct {
	client    redis.UniversalClient
	namespace string
}

// NewRedisBackend stores entries in client under keys prefixed with
// namespace, so several services can share one Redis.
func NewRedisBackend(client redis.UniversalClient, namespace string) *RedisBackend {
	return &RedisBackend{client: client, namespace: namespace}
}

// DialRedis parses url and verifies the server answers.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := b.client.Get(ctx, b.namespace+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.client.Set(ctx, b.namespace+key, value, ttl).Err()
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	return b.client.Del(ctx, b.namespace+key).Err()
}

func (b *RedisBackend) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	pattern := escapeGlob(b.namespace+prefix) + "*"
	iter := b.client.Scan(ctx, 0, pattern, scanBatch).Iterator()

	removed := 0
	batch := make([]string, 0, scanBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := b.client.Del(ctx, batch...).Result()
		if err != nil {
			return err
		}
		removed += int(n)
		batch = batch[:0]
		return nil
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, err
	}
	return removed, flush()
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
