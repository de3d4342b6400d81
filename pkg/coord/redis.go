package coord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the coordination contract with Redis. Consume
// operations use GETDEL so delivery stays at-most-once across processes.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects and pings the server before returning.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) SetStatus(ctx context.Context, account string, statusJSON []byte) error {
	return s.rdb.Set(ctx, key(account, "status"), statusJSON, 0).Err()
}

func (s *RedisStore) Status(ctx context.Context, account string) ([]byte, error) {
	v, err := s.rdb.Get(ctx, key(account, "status")).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return v, err
}

func (s *RedisStore) ReplaceLogs(ctx context.Context, account string, logsJSON []byte) error {
	return s.rdb.Set(ctx, key(account, "logs"), logsJSON, 0).Err()
}

func (s *RedisStore) Logs(ctx context.Context, account string) ([]byte, error) {
	v, err := s.rdb.Get(ctx, key(account, "logs")).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return v, err
}

func (s *RedisStore) SetActive(ctx context.Context, account, token string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key(account, "active"), token, ttl).Err()
}

func (s *RedisStore) ActiveToken(ctx context.Context, account string) (string, error) {
	v, err := s.rdb.Get(ctx, key(account, "active")).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

func (s *RedisStore) ClearActive(ctx context.Context, account string) error {
	return s.rdb.Del(ctx, key(account, "active")).Err()
}

func (s *RedisStore) RequestStop(ctx context.Context, account string) error {
	return s.rdb.Set(ctx, key(account, "stop"), "1", 0).Err()
}

func (s *RedisStore) ConsumeStop(ctx context.Context, account string) (bool, error) {
	v, err := s.rdb.GetDel(ctx, key(account, "stop")).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v != "", nil
}

func (s *RedisStore) PushConfig(ctx context.Context, account string, configJSON []byte) error {
	return s.rdb.Set(ctx, key(account, "config"), configJSON, 0).Err()
}

func (s *RedisStore) ConsumeConfig(ctx context.Context, account string) ([]byte, error) {
	v, err := s.rdb.GetDel(ctx, key(account, "config")).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return v, err
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
