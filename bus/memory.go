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

package bus

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/nuvine/core"
)

const defaultRedeliveryDelay = 100 * time.Millisecond

// MemoryBus is an in-process Bus. Each subscribed topic is served by its own
// ants worker pool. Messages published to topics with no handler are kept
// in a backlog until a handler subscribes or the backlog is drained.
//
// Delivery order is not preserved.
type MemoryBus struct {
	poolSize        int
	redeliveryDelay time.Duration
	logger          *slog.Logger

	mu       sync.Mutex
	handlers map[string]Handler
	pools    map[string]*ants.Pool
	backlog  map[string][]*Message
	timers   map[*time.Timer]struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	closed   bool

	inflight atomic.Int64
	wg       sync.WaitGroup
}

var _ Bus = (*MemoryBus)(nil)

// MemoryOption configures a MemoryBus.
type MemoryOption func(*MemoryBus) error

// WithPoolSize sets the per-topic worker pool size.
// Default is runtime.NumCPU(), with a minimum of 1.
func WithPoolSize(size int) MemoryOption {
	return func(b *MemoryBus) error {
		b.poolSize = max(size, 1)
		return nil
	}
}

// WithRedeliveryDelay sets the delay before a message whose handler failed is delivered again.
func WithRedeliveryDelay(d time.Duration) MemoryOption {
	return func(b *MemoryBus) error {
		b.redeliveryDelay = d
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) MemoryOption {
	return func(b *MemoryBus) error {
		if logger == nil {
			logger = slog.Default()
		}
		b.logger = logger
		return nil
	}
}

// NewMemoryBus creates an in-process bus.
func NewMemoryBus(opts ...MemoryOption) (*MemoryBus, error) {
	b := &MemoryBus{
		poolSize:        max(runtime.NumCPU(), 1),
		redeliveryDelay: defaultRedeliveryDelay,
		logger:          slog.Default(),
		handlers:        make(map[string]Handler),
		pools:           make(map[string]*ants.Pool),
		backlog:         make(map[string][]*Message),
		timers:          make(map[*time.Timer]struct{}),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	b.logger = b.logger.With("component", "memory-bus")
	return b, nil
}

// Subscribe registers a handler and flushes any backlog for the topic once started.
func (b *MemoryBus) Subscribe(topic string, handler Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if _, ok := b.handlers[topic]; ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadySubscribed, topic)
	}
	pool, err := ants.NewPool(b.poolSize)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	b.handlers[topic] = handler
	b.pools[topic] = pool
	var ready []delivery
	if b.started {
		ready = b.flushLocked(topic)
	}
	b.mu.Unlock()

	b.dispatch(ready...)
	return nil
}

// Start begins delivery. Handlers receive a context that is cancelled on Close.
func (b *MemoryBus) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.started {
		b.mu.Unlock()
		return nil
	}
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.started = true
	var ready []delivery
	for topic := range b.handlers {
		ready = append(ready, b.flushLocked(topic)...)
	}
	b.mu.Unlock()

	b.dispatch(ready...)
	return nil
}

// Publish enqueues a copy of msg. A future AvailableAt delays delivery.
func (b *MemoryBus) Publish(ctx context.Context, msg *Message) error {
	msg = msg.Clone()
	if msg.ID == "" {
		msg.ID = core.NewID()
	}
	msg.PublishedAt = time.Now().UTC()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if delay := time.Until(msg.AvailableAt); delay > 0 {
		b.scheduleLocked(msg, delay)
		b.mu.Unlock()
		return nil
	}
	d, ok := b.routeLocked(msg)
	b.mu.Unlock()

	if ok {
		b.dispatch(d)
	}
	return nil
}

// Pending returns the number of backlogged messages for a topic.
func (b *MemoryBus) Pending(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.backlog[topic])
}

// Drain removes and returns the backlog of a topic.
func (b *MemoryBus) Drain(topic string) []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.backlog[topic]
	delete(b.backlog, topic)
	return msgs
}

// WaitIdle blocks until no message is scheduled, queued or being handled.
func (b *MemoryBus) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for b.inflight.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Close stops timers, waits for running handlers and releases the pools.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for t := range b.timers {
		if t.Stop() {
			b.inflight.Add(-1)
		}
	}
	clear(b.timers)
	if b.cancel != nil {
		b.cancel()
	}
	b.mu.Unlock()

	b.wg.Wait()
	for _, pool := range b.pools {
		pool.Release()
	}
	return nil
}

// delivery is a message bound to its handler, counted in inflight and wg
// from the moment it is routed.
type delivery struct {
	ctx     context.Context
	pool    *ants.Pool
	handler Handler
	msg     *Message
}

func (b *MemoryBus) scheduleLocked(msg *Message, delay time.Duration) {
	b.inflight.Add(1)
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		b.mu.Lock()
		delete(b.timers, t)
		if b.closed {
			b.mu.Unlock()
			b.inflight.Add(-1)
			return
		}
		d, ok := b.routeLocked(msg)
		b.mu.Unlock()
		b.inflight.Add(-1)
		if ok {
			b.dispatch(d)
		}
	})
	b.timers[t] = struct{}{}
}

func (b *MemoryBus) routeLocked(msg *Message) (delivery, bool) {
	handler, ok := b.handlers[msg.Topic]
	if !ok || !b.started {
		b.backlog[msg.Topic] = append(b.backlog[msg.Topic], msg)
		return delivery{}, false
	}
	b.inflight.Add(1)
	b.wg.Add(1)
	return delivery{ctx: b.ctx, pool: b.pools[msg.Topic], handler: handler, msg: msg}, true
}

func (b *MemoryBus) flushLocked(topic string) []delivery {
	msgs := b.backlog[topic]
	delete(b.backlog, topic)
	ready := make([]delivery, 0, len(msgs))
	for _, msg := range msgs {
		if d, ok := b.routeLocked(msg); ok {
			ready = append(ready, d)
		}
	}
	return ready
}

// dispatch hands deliveries to their topic pools. Submit blocks while a pool
// is saturated, and handlers publish back onto the bus, so each submission
// waits on its own goroutine. Must be called without b.mu held.
func (b *MemoryBus) dispatch(ds ...delivery) {
	for _, d := range ds {
		go b.submit(d)
	}
}

func (b *MemoryBus) submit(d delivery) {
	err := d.pool.Submit(func() {
		defer b.wg.Done()
		defer b.inflight.Add(-1)
		b.handle(d)
	})
	if err != nil {
		b.logger.Error("failed to submit message", "topic", d.msg.Topic, "id", d.msg.ID, "err", err)
		b.retry(d.msg)
		b.inflight.Add(-1)
		b.wg.Done()
	}
}

func (b *MemoryBus) handle(d delivery) {
	if err := d.handler(d.ctx, d.msg); err != nil {
		b.logger.Warn("handler failed, redelivering", "topic", d.msg.Topic, "id", d.msg.ID, "err", err)
		b.retry(d.msg)
	}
}

func (b *MemoryBus) retry(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.scheduleLocked(msg, b.redeliveryDelay)
	}
}
