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

package breaker

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// Registry lazily creates one Breaker per sanitized dependency key and keeps
// it for the life of the process.
type Registry struct {
	cfg    Config
	now    func() time.Time
	logger *slog.Logger

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// Option configures a Registry.
type Option func(*Registry) error

// WithConfig sets the configuration applied to every breaker.
func WithConfig(cfg Config) Option {
	return func(r *Registry) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		r.cfg = cfg.normalize()
		return nil
	}
}

// WithClock replaces the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) error {
		r.now = now
		return nil
	}
}

// WithLogger sets the logger used for state transitions.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) error {
		r.logger = logger
		return nil
	}
}

// NewRegistry creates a Registry with the default configuration unless overridden.
func NewRegistry(opts ...Option) (*Registry, error) {
	r := &Registry{
		cfg:      DefaultConfig(),
		now:      time.Now,
		logger:   slog.Default(),
		breakers: make(map[string]*Breaker),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.logger = r.logger.With("component", "breaker")
	return r, nil
}

// SanitizeKey maps any dependency name to a safe breaker key by replacing
// every character outside [A-Za-z0-9] with an underscore.
func SanitizeKey(key string) string {
	if key == "" {
		return "default"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, key)
}

// Get returns the breaker for key, creating it on first use.
func (r *Registry) Get(key string) *Breaker {
	key = SanitizeKey(key)

	r.mu.RLock()
	b, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[key]; ok {
		return b
	}
	b = newBreaker(key, r.cfg, r.now, r.logger)
	r.breakers[key] = b
	return b
}

// Execute runs op through the breaker for key.
func (r *Registry) Execute(ctx context.Context, key string, op func(ctx context.Context) error) error {
	return r.Get(key).Execute(ctx, op)
}

// Do runs an operation returning a value through the breaker for key.
func Do[T any](ctx context.Context, r *Registry, key string, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Execute(ctx, key, func(ctx context.Context) error {
		var err error
		result, err = op(ctx)
		return err
	})
	return result, err
}

// Available reports whether calls for key are currently admitted, and
// otherwise the suggested retry-after interval.
func (r *Registry) Available(key string) (bool, time.Duration) {
	return r.Get(key).Available()
}

// Snapshot returns the status of every known breaker ordered by key.
func (r *Registry) Snapshot() []Status {
	r.mu.RLock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.RUnlock()

	statuses := make([]Status, len(breakers))
	for i, b := range breakers {
		statuses[i] = b.Status()
	}
	slices.SortFunc(statuses, func(a, b Status) int { return strings.Compare(a.Key, b.Key) })
	return statuses
}
