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

package badgerbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/nuvine/bus"
	"github.com/poiesic/nuvine/core"
	badgerstore "github.com/poiesic/nuvine/storage/badger"
)

const (
	defaultPartitions      = 4
	defaultPollInterval    = 250 * time.Millisecond
	defaultRedeliveryDelay = time.Second
)

// Bus is a durable Bus backed by BadgerDB. Messages stay on disk until a
// handler returns nil, so a restart resumes delivery of everything that was
// published but not yet handled.
//
// Each topic's messages are spread over a fixed number of partitions by
// message key. A partition has at most one message in flight, which keeps
// messages sharing a key in publish order except across redeliveries.
type Bus struct {
	db              *badger.DB
	seq             *badger.Sequence
	partitions      int
	pollInterval    time.Duration
	redeliveryDelay time.Duration
	logger          *slog.Logger

	mu      sync.Mutex
	subs    map[string]*subscription
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	closed  bool
	wg      sync.WaitGroup
}

var _ bus.Bus = (*Bus)(nil)

// subscription is a topic's handler with its worker pool and partition state.
type subscription struct {
	topic   string
	handler bus.Handler
	pool    *ants.Pool
	wake    chan struct{}

	mu   sync.Mutex
	busy map[int]bool
}

// Option configures a Bus.
type Option func(*Bus) error

// WithPartitions sets the number of partitions, and so the maximum
// concurrency, per topic. Default is 4.
func WithPartitions(n int) Option {
	return func(b *Bus) error {
		if n < 1 {
			return fmt.Errorf("partitions must be positive, got %d", n)
		}
		b.partitions = n
		return nil
	}
}

// WithPollInterval sets how often each topic is scanned for due messages.
func WithPollInterval(d time.Duration) Option {
	return func(b *Bus) error {
		if d <= 0 {
			return fmt.Errorf("poll interval must be positive, got %v", d)
		}
		b.pollInterval = d
		return nil
	}
}

// WithRedeliveryDelay sets the delay before a message whose handler failed is delivered again.
func WithRedeliveryDelay(d time.Duration) Option {
	return func(b *Bus) error {
		b.redeliveryDelay = d
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) error {
		if logger == nil {
			logger = slog.Default()
		}
		b.logger = logger
		return nil
	}
}

// New creates a durable bus sharing the backend's database.
// The backend must outlive the bus.
func New(backend *badgerstore.Backend, opts ...Option) (*Bus, error) {
	if backend == nil {
		return nil, badgerstore.ErrBackendRequired
	}
	b := &Bus{
		db:              backend.DB(),
		partitions:      defaultPartitions,
		pollInterval:    defaultPollInterval,
		redeliveryDelay: defaultRedeliveryDelay,
		logger:          slog.Default(),
		subs:            make(map[string]*subscription),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	seq, err := backend.GetSequence(sequenceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open message sequence: %w", err)
	}
	b.seq = seq
	b.logger = b.logger.With("component", "badger-bus")
	return b, nil
}

// Subscribe registers a handler. Messages already stored for the topic are
// delivered once the bus is started.
func (b *Bus) Subscribe(topic string, handler bus.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return bus.ErrClosed
	}
	if _, ok := b.subs[topic]; ok {
		return fmt.Errorf("%w: %s", bus.ErrAlreadySubscribed, topic)
	}
	pool, err := ants.NewPool(b.partitions)
	if err != nil {
		return err
	}
	sub := &subscription{
		topic:   topic,
		handler: handler,
		pool:    pool,
		wake:    make(chan struct{}, 1),
		busy:    make(map[int]bool),
	}
	b.subs[topic] = sub
	if b.started {
		b.startPoller(sub)
	}
	return nil
}

// Start launches one poller per subscribed topic.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return bus.ErrClosed
	}
	if b.started {
		return nil
	}
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.started = true
	for _, sub := range b.subs {
		b.startPoller(sub)
	}
	return nil
}

// Publish stores a copy of msg. A future AvailableAt delays delivery.
func (b *Bus) Publish(ctx context.Context, msg *bus.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	closed := b.closed
	sub := b.subs[msg.Topic]
	b.mu.Unlock()
	if closed {
		return bus.ErrClosed
	}

	msg = msg.Clone()
	if msg.ID == "" {
		msg.ID = core.NewID()
	}
	msg.PublishedAt = time.Now().UTC()
	due := msg.AvailableAt
	if due.IsZero() {
		due = msg.PublishedAt
	}
	if err := b.put(msg, due); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", msg.Topic, err)
	}
	if sub != nil {
		sub.notify()
	}
	return nil
}

// Pending returns the number of stored messages for a topic, due or not.
func (b *Bus) Pending(topic string) (int, error) {
	count := 0
	err := b.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeTopicPrefix(topic)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close stops the pollers, waits for running handlers and releases the pools.
// Undelivered messages remain stored.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	if b.cancel != nil {
		b.cancel()
	}
	b.mu.Unlock()

	b.wg.Wait()
	for _, sub := range b.subs {
		sub.pool.Release()
	}
	return b.seq.Release()
}

func (b *Bus) put(msg *bus.Message, due time.Time) error {
	n, err := b.seq.Next()
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *badger.Txn) error {
		return tx.Set(makeMessageKey(msg.Topic, due, n), marshalMessage(msg))
	})
}

func (s *subscription) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// startPoller must be called with b.mu held and b.ctx set.
func (b *Bus) startPoller(sub *subscription) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.pollInterval)
		defer ticker.Stop()
		for {
			b.poll(sub)
			select {
			case <-b.ctx.Done():
				return
			case <-ticker.C:
			case <-sub.wake:
			}
		}
	}()
}

type pending struct {
	key []byte
	msg *bus.Message
}

// poll dispatches every due message whose partition is idle.
func (b *Bus) poll(sub *subscription) {
	now := time.Now()
	var ready []pending
	claimed := make(map[int]bool)
	err := b.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeTopicPrefix(sub.topic)
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			item := iter.Item()
			if keyDue(item.Key()).After(now) {
				break
			}
			var msg *bus.Message
			err := item.Value(func(val []byte) error {
				var err error
				msg, err = unmarshalMessage(val)
				return err
			})
			if err != nil {
				b.logger.Error("dropping undecodable message", "topic", sub.topic, "err", err)
				ready = append(ready, pending{key: item.KeyCopy(nil)})
				continue
			}
			p := bus.PartitionFor(msg.Key, b.partitions)
			if claimed[p] {
				continue
			}
			claimed[p] = true
			if !sub.claim(p) {
				continue
			}
			ready = append(ready, pending{key: item.KeyCopy(nil), msg: msg})
		}
		return nil
	})
	if err != nil {
		b.logger.Error("failed to scan topic", "topic", sub.topic, "err", err)
		return
	}

	for _, r := range ready {
		if r.msg == nil {
			b.remove(r.key)
			continue
		}
		b.dispatch(sub, r)
	}
}

func (s *subscription) claim(partition int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy[partition] {
		return false
	}
	s.busy[partition] = true
	return true
}

func (s *subscription) release(partition int) {
	s.mu.Lock()
	delete(s.busy, partition)
	s.mu.Unlock()
	s.notify()
}

func (b *Bus) dispatch(sub *subscription, r pending) {
	partition := bus.PartitionFor(r.msg.Key, b.partitions)
	b.wg.Add(1)
	err := sub.pool.Submit(func() {
		defer b.wg.Done()
		defer sub.release(partition)
		b.handle(sub, r)
	})
	if err != nil {
		b.logger.Error("failed to submit message", "topic", sub.topic, "id", r.msg.ID, "err", err)
		sub.release(partition)
		b.wg.Done()
	}
}

func (b *Bus) handle(sub *subscription, r pending) {
	if err := sub.handler(b.ctx, r.msg); err != nil {
		if errors.Is(err, context.Canceled) && b.ctx.Err() != nil {
			return
		}
		b.logger.Warn("handler failed, redelivering", "topic", sub.topic, "id", r.msg.ID, "err", err, "delay", b.redeliveryDelay)
		b.reschedule(r)
		return
	}
	b.remove(r.key)
}

func (b *Bus) remove(key []byte) {
	err := b.db.Update(func(tx *badger.Txn) error {
		return tx.Delete(key)
	})
	if err != nil {
		b.logger.Error("failed to remove delivered message", "err", err)
	}
}

// reschedule moves a message to a later due time in one transaction.
func (b *Bus) reschedule(r pending) {
	n, err := b.seq.Next()
	if err == nil {
		due := time.Now().Add(b.redeliveryDelay)
		err = b.db.Update(func(tx *badger.Txn) error {
			if err := tx.Delete(r.key); err != nil {
				return err
			}
			return tx.Set(makeMessageKey(r.msg.Topic, due, n), marshalMessage(r.msg))
		})
	}
	if err != nil {
		b.logger.Error("failed to reschedule message", "topic", r.msg.Topic, "id", r.msg.ID, "err", err)
	}
}
