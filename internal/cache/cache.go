// Package cache provides the shared TTL cache used for upstream market data.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/shift-donations/internal/observability"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Cache stores opaque values with a time-to-live.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is a process-local Cache.
type Memory struct {
	mu    sync.RWMutex
	items map[string]memoryEntry
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{items: make(map[string]memoryEntry), now: time.Now}
}

// WithClock replaces the time source.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	entry, ok := m.items[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(entry.expiresAt) {
		m.mu.Lock()
		if cur, ok := m.items[key]; ok && !m.now().Before(cur.expiresAt) {
			delete(m.items, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = memoryEntry{value: value, expiresAt: m.now().Add(ttl)}
	return nil
}

// Redis is a Cache shared across replicas.
type Redis struct {
	client redis.Cmdable
	prefix string
}

func NewRedis(client redis.Cmdable, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.key(key), value, ttl).Err()
}

func (r *Redis) key(key string) string {
	return fmt.Sprintf("%s:%s", r.prefix, key)
}

// Loader fronts a Cache so that concurrent misses for one key trigger a single load.
type Loader struct {
	cache       Cache
	ttl         time.Duration
	loadTimeout time.Duration
	group       singleflight.Group
}

const defaultLoadTimeout = 15 * time.Second

func NewLoader(cache Cache, ttl time.Duration) *Loader {
	return &Loader{cache: cache, ttl: ttl, loadTimeout: defaultLoadTimeout}
}

// WithLoadTimeout bounds a single shared load.
func (l *Loader) WithLoadTimeout(d time.Duration) *Loader {
	l.loadTimeout = d
	return l
}

// GetOrLoad returns the cached value for key or calls load once and caches its result.
// Cache read and write failures are logged and treated as misses.
func (l *Loader) GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if val, ok, err := l.cache.Get(ctx, key); err != nil {
		observability.IncrementPriceCache("error")
		zap.L().Warn("cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		observability.IncrementPriceCache("hit")
		return val, nil
	}

	observability.IncrementPriceCache("miss")
	ch := l.group.DoChan(key, func() (interface{}, error) {
		// Outlives any single waiter.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.loadTimeout)
		defer cancel()
		if val, ok, err := l.cache.Get(loadCtx, key); err == nil && ok {
			return val, nil
		}
		val, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		if err := l.cache.Set(loadCtx, key, val, l.ttl); err != nil {
			zap.L().Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
		return val, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}
