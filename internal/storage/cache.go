package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	latestSnapshotKey = "watchtower:snapshot:latest"
	snapshotKeyPrefix = "watchtower:snapshot:"
)

// SnapshotCache keeps the encoded form of recent snapshots.
type SnapshotCache interface {
	Put(ctx context.Context, id string, data []byte) error
	Latest(ctx context.Context) ([]byte, error)
	Get(ctx context.Context, id string) ([]byte, error)
}

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to the redis instance at url (redis://...).
func NewRedisCache(ctx context.Context, url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

func (c *RedisCache) Put(ctx context.Context, id string, data []byte) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, snapshotKeyPrefix+id, data, c.ttl)
		pipe.Set(ctx, latestSnapshotKey, data, 0)
		return nil
	})
	return err
}

func (c *RedisCache) Latest(ctx context.Context) ([]byte, error) {
	return c.get(ctx, latestSnapshotKey)
}

func (c *RedisCache) Get(ctx context.Context, id string) ([]byte, error) {
	return c.get(ctx, snapshotKeyPrefix+id)
}

func (c *RedisCache) get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return val, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// MemoryCache is the in-process cache used when no redis is configured. It
// keeps the latest snapshot and a bounded number of earlier ones.
type MemoryCache struct {
	mu     sync.RWMutex
	limit  int
	order  []string
	byID   map[string][]byte
	latest []byte
}

func NewMemoryCache(limit int) *MemoryCache {
	if limit <= 0 {
		limit = 1
	}
	return &MemoryCache{limit: limit, byID: map[string][]byte{}}
}

func (c *MemoryCache) Put(ctx context.Context, id string, data []byte) error {
	copied := append([]byte(nil), data...)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byID[id]; !ok {
		c.order = append(c.order, id)
	}
	c.byID[id] = copied
	c.latest = copied
	for len(c.order) > c.limit {
		delete(c.byID, c.order[0])
		c.order = c.order[1:]
	}
	return nil
}

func (c *MemoryCache) Latest(ctx context.Context) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.latest == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), c.latest...), nil
}

func (c *MemoryCache) Get(ctx context.Context, id string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}
