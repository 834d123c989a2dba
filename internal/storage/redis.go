package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/proxy-scraper-checker/internal/types"
	"github.com/redis/go-redis/v9"
)

const (
	redisSnapshotKey = "proxyscraper:snapshot"
	redisOpTimeout   = 5 * time.Second
)

// RedisStorage keeps the snapshot under a single key. Snapshots are small
// enough that one value beats spreading entries over a hash.
type RedisStorage struct {
	client *redis.Client
}

func NewRedisStorage(addr string) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  redisOpTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := opContext()
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	return &RedisStorage{client: client}, nil
}

func opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), redisOpTimeout)
}

func (r *RedisStorage) Save(snap *types.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	ctx, cancel := opContext()
	defer cancel()

	if err := r.client.Set(ctx, redisSnapshotKey, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisStorage) Load() (*types.Snapshot, error) {
	ctx, cancel := opContext()
	defer cancel()

	data, err := r.client.Get(ctx, redisSnapshotKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var snap types.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (r *RedisStorage) Close() error {
	return r.client.Close()
}
