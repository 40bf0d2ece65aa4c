package services

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"time"

	"github.com/justsurfingit/jobtracker/internal/dtos"
	"github.com/redis/go-redis/v9"
)

const defaultParseCacheTTL = 24 * time.Hour

var ErrCacheMiss = stderrors.New("key not found in cache")

// ParseCache stores AI parse results keyed by input digest.
type ParseCache interface {
	Get(ctx context.Context, key string) (*dtos.ParsedJob, error)
	Set(ctx context.Context, key string, value *dtos.ParsedJob, ttl time.Duration) error
}

type RedisParseCache struct {
	client *redis.Client
}

func NewRedisParseCache(addr, password string, db int) *RedisParseCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisParseCache{client: client}
}

func (c *RedisParseCache) Get(ctx context.Context, key string) (*dtos.ParsedJob, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	var parsed dtos.ParsedJob
	if err := json.Unmarshal(val, &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

func (c *RedisParseCache) Set(ctx context.Context, key string, value *dtos.ParsedJob, ttl time.Duration) error {
	if ttl == 0 {
		ttl = defaultParseCacheTTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

func (c *RedisParseCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisParseCache) Close() error {
	return c.client.Close()
}

type memoryEntry struct {
	value   dtos.ParsedJob
	expires time.Time
}

// MemoryParseCache is the in-process fallback when REDIS_ADDR is unset.
type MemoryParseCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryParseCache() *MemoryParseCache {
	return &MemoryParseCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryParseCache) Get(_ context.Context, key string) (*dtos.ParsedJob, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	if c.now().After(e.expires) {
		delete(c.entries, key)
		return nil, ErrCacheMiss
	}
	v := e.value
	v.TechStack = append([]string(nil), e.value.TechStack...)
	return &v, nil
}

func (c *MemoryParseCache) Set(_ context.Context, key string, value *dtos.ParsedJob, ttl time.Duration) error {
	if ttl == 0 {
		ttl = defaultParseCacheTTL
	}
	v := *value
	v.TechStack = append([]string(nil), value.TechStack...)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{value: v, expires: c.now().Add(ttl)}
	return nil
}
