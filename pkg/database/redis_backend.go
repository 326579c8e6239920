package database

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const DefaultRedisKey = "vidshare:dataset"

type RedisConfig struct {
	Addr     string // host:port
	Password string
	DB       int
	Key      string // key holding the JSON document, DefaultRedisKey if empty
}

// RedisBackend stores the dataset as one JSON document under a single key,
// so several stateless instances can share it. Writes are last-write-wins.
type RedisBackend struct {
	client *redis.Client
	key    string
}

func NewRedisBackend(ctx context.Context, cfg RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return newRedisBackend(client, cfg.Key), nil
}

func newRedisBackend(client *redis.Client, key string) *RedisBackend {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisBackend{client: client, key: key}
}

func (b *RedisBackend) Load(ctx context.Context) (Dataset, error) {
	data, err := b.client.Get(ctx, b.key).Bytes()
	if err == redis.Nil {
		return NewDataset(), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "redis get %s", b.key)
	}
	d, err := decodeDataset(data)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", b.key)
	}
	return d, nil
}

func (b *RedisBackend) Save(ctx context.Context, d Dataset) error {
	data, err := encodeDataset(d)
	if err != nil {
		return errors.Wrap(err, "encode dataset")
	}
	if err := b.client.Set(ctx, b.key, data, 0).Err(); err != nil {
		return errors.Wrapf(err, "redis set %s", b.key)
	}
	return nil
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
