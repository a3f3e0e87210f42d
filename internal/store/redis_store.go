package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisStoreConfig struct {
	KeyPrefix string
}

type RedisStore struct {
	config RedisStoreConfig
	client *redis.Client
}

func NewRedisStore(config RedisStoreConfig, client *redis.Client) *RedisStore {
	return &RedisStore{
		config: config,
		client: client,
	}
}

func (s *RedisStore) Init(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	return nil
}

func (s *RedisStore) key(key string) string {
	return s.config.KeyPrefix + key
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return value, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return ok, nil
}

var compareAndSwapScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('GET', key) ~= ARGV[1] then
  return 0
end
local ttl = redis.call('PTTL', key)
if ttl > 0 then
  redis.call('SET', key, ARGV[2], 'PX', ttl)
else
  redis.call('SET', key, ARGV[2])
end
return 1
`)

func (s *RedisStore) CompareAndSwap(ctx context.Context, key string, old []byte, value []byte) (bool, error) {
	res, err := compareAndSwapScript.Run(ctx, s.client, []string{s.key(key)}, old, value).Int()
	if err != nil {
		return false, fmt.Errorf("failed to swap key %s: %w", key, err)
	}
	return res == 1, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	count, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check key %s: %w", key, err)
	}
	return count > 0, nil
}

func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys := make([]string, 0)
	var cursor uint64

	for {
		batch, next, err := s.client.Scan(ctx, cursor, s.key(pattern), 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}
		for _, key := range batch {
			keys = append(keys, strings.TrimPrefix(key, s.config.KeyPrefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	return keys, nil
}

// Consume uses GETDEL so the read and delete are one server-side command.
func (s *RedisStore) Consume(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.GetDel(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume key %s: %w", key, err)
	}
	return value, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
