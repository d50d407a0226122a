// Package cache provides an in-process TTL cache used when Redis is not configured.
package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Memory is a process-local cache with the same surface as the Redis client.
type Memory struct {
	items *ttlcache.Cache[string, []byte]
}

// NewMemory creates a cache whose entries default to ttl.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		items: ttlcache.New[string, []byte](
			ttlcache.WithTTL[string, []byte](ttl),
			ttlcache.WithDisableTouchOnHit[string, []byte](),
		),
	}
}

// Start runs the expiry loop until Stop is called.
func (m *Memory) Start() {
	go m.items.Start()
}

// Stop ends the expiry loop.
func (m *Memory) Stop() {
	m.items.Stop()
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	item := m.items.Get(key)
	if item == nil {
		return nil, false, nil
	}
	return append([]byte(nil), item.Value()...), true, nil
}

// Set stores value. A zero ttl uses the cache default.
func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = ttlcache.DefaultTTL
	}
	m.items.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

func (m *Memory) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		m.items.Delete(k)
	}
	return nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Len returns the number of live entries.
func (m *Memory) Len() int {
	return m.items.Len()
}
