// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache provides a TTL cache with refresh-on-miss loading.
//
// Cache wraps ristretto. Concurrent misses for the same key share a single
// load through singleflight, so an expensive loader such as a provider
// client constructor runs once per expiry.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/singleflight"
)

// ErrInvalidConfig indicates an unusable cache configuration.
var ErrInvalidConfig = errors.New("invalid cache configuration")

// Config sizes a Cache.
type Config struct {
	// MaxEntries bounds the number of cached values.
	MaxEntries int64
	// TTL is how long a value stays cached. Zero means no expiry.
	TTL time.Duration
}

// DefaultConfig returns room for 1024 entries with a ten minute TTL.
func DefaultConfig() Config {
	return Config{MaxEntries: 1024, TTL: 10 * time.Minute}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxEntries < 1 {
		return fmt.Errorf("%w: max entries %d", ErrInvalidConfig, c.MaxEntries)
	}
	if c.TTL < 0 {
		return fmt.Errorf("%w: negative ttl", ErrInvalidConfig)
	}
	return nil
}

// Loader produces the value for a key on a cache miss.
type Loader[V any] func(ctx context.Context, key string) (V, error)

// Cache is a string-keyed TTL cache safe for concurrent use.
type Cache[V any] struct {
	store *ristretto.Cache[string, V]
	ttl   time.Duration
	group singleflight.Group
}

// New creates a Cache.
func New[V any](cfg Config) (*Cache[V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := ristretto.NewCache(&ristretto.Config[string, V]{
		NumCounters:        cfg.MaxEntries * 10,
		MaxCost:            cfg.MaxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &Cache[V]{store: store, ttl: cfg.TTL}, nil
}

// Get returns the cached value for key.
func (c *Cache[V]) Get(key string) (V, bool) {
	return c.store.Get(key)
}

// Set caches value under key. The value is visible to Get when Set returns.
func (c *Cache[V]) Set(key string, value V) {
	c.store.SetWithTTL(key, value, 1, c.ttl)
	c.store.Wait()
}

// Delete evicts key.
func (c *Cache[V]) Delete(key string) {
	c.store.Del(key)
}

// GetOrLoad returns the cached value for key, calling load on a miss and
// caching its result. Failed loads are not cached.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key string, load Loader[V]) (V, error) {
	if v, ok := c.store.Get(key); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.store.Get(key); ok {
			return v, nil
		}
		v, err := load(ctx, key)
		if err != nil {
			return v, err
		}
		c.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// Close stops the cache's background goroutines.
func (c *Cache[V]) Close() {
	c.store.Close()
}
