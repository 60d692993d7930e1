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

package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/poiesic/nuvine/breaker"
	"github.com/poiesic/nuvine/bus"
	"github.com/poiesic/nuvine/core"
)

// Headers carrying the retry envelope on a redelivered message.
const (
	HeaderAttempt       = "retry-attempt"
	HeaderFirstFailedAt = "retry-first-failed-at"
	HeaderLastError     = "retry-last-error"

	// EnvelopeSchema tags dead-letter messages.
	EnvelopeSchema = "nuvine.DeadLetterEnvelope.v1"
)

// Config holds the attempt budgets and redelivery backoff.
type Config struct {
	// MaxAttempts is the attempt budget for topics without an override.
	MaxAttempts int
	// TopicMaxAttempts overrides MaxAttempts per topic.
	TopicMaxAttempts map[string]int
	// Backoff computes the redelivery delay. Defaults to Fixed(DefaultDelay).
	Backoff Backoff
}

// DefaultConfig returns three attempts per topic, five for embedding
// requests, with a fixed two second delay.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      3,
		TopicMaxAttempts: map[string]int{core.TopicEmbeddingRequest: 5},
		Backoff:          Fixed(DefaultDelay),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts %d", ErrInvalidConfig, c.MaxAttempts)
	}
	for topic, n := range c.TopicMaxAttempts {
		if n < 1 {
			return fmt.Errorf("%w: max attempts %d for %s", ErrInvalidConfig, n, topic)
		}
	}
	return nil
}

// AttemptsFor returns the attempt budget of a topic.
func (c Config) AttemptsFor(topic string) int {
	if n, ok := c.TopicMaxAttempts[topic]; ok {
		return n
	}
	return c.MaxAttempts
}

// Middleware redelivers failed messages and dead-letters those that cannot succeed.
type Middleware struct {
	publisher bus.Publisher
	config    Config
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Middleware.
type Option func(*Middleware) error

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(m *Middleware) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if cfg.Backoff == nil {
			cfg.Backoff = Fixed(DefaultDelay)
		}
		m.config = cfg
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Middleware) error {
		if logger == nil {
			logger = slog.Default()
		}
		m.logger = logger
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Middleware) error {
		m.now = now
		return nil
	}
}

// NewMiddleware creates a Middleware that republishes through publisher.
func NewMiddleware(publisher bus.Publisher, opts ...Option) (*Middleware, error) {
	if publisher == nil {
		return nil, ErrPublisherRequired
	}
	m := &Middleware{
		publisher: publisher,
		config:    DefaultConfig(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	m.logger = m.logger.With("component", "retry")
	return m, nil
}

// Config returns the active configuration.
func (m *Middleware) Config() Config {
	return m.config
}

// Wrap returns a handler for topic that never hands a failure back to the
// bus once the failure has been republished or dead-lettered. Only a failed
// republish is returned, leaving the bus to redeliver.
func (m *Middleware) Wrap(topic string, handler bus.Handler) bus.Handler {
	maxAttempts := m.config.AttemptsFor(topic)
	logger := m.logger.With("topic", topic)

	return func(ctx context.Context, msg *bus.Message) error {
		err := handler(ctx, msg)
		if err == nil {
			return nil
		}

		now := m.now().UTC()
		attempt := Attempt(msg) + 1
		firstFailedAt := now
		if t, perr := time.Parse(time.RFC3339Nano, msg.Header(HeaderFirstFailedAt)); perr == nil {
			firstFailedAt = t
		}

		if IsPermanent(err) || attempt >= maxAttempts {
			env := &core.DeadLetterEnvelope{
				ID:            core.NewID(),
				OriginalTopic: topic,
				MessageKey:    msg.Key,
				OriginalEvent: msg.Payload,
				AttemptCount:  attempt,
				ErrorMessage:  err.Error(),
				ErrorClass:    Classify(err),
				FirstFailedAt: firstFailedAt,
				LastFailedAt:  now,
			}
			logger.Warn("dead-lettering message", "id", msg.ID, "key", msg.Key, "attempts", attempt, "class", env.ErrorClass, "err", err)
			if perr := m.publisher.Publish(ctx, EnvelopeMessage(env)); perr != nil {
				return fmt.Errorf("dead-letter %s: %w", msg.ID, perr)
			}
			return nil
		}

		next := msg.Clone()
		next.SetHeader(HeaderAttempt, strconv.Itoa(attempt))
		next.SetHeader(HeaderFirstFailedAt, firstFailedAt.Format(time.RFC3339Nano))
		next.SetHeader(HeaderLastError, err.Error())
		delay := m.config.Backoff.Delay(attempt)
		var open *breaker.OpenError
		if errors.As(err, &open) && open.RetryAfter > delay {
			delay = open.RetryAfter
		}
		next.AvailableAt = now.Add(delay)

		logger.Info("scheduling redelivery", "id", msg.ID, "key", msg.Key, "attempt", attempt, "maxAttempts", maxAttempts, "delay", delay, "err", err)
		if perr := m.publisher.Publish(ctx, next); perr != nil {
			return fmt.Errorf("republish %s: %w", msg.ID, perr)
		}
		return nil
	}
}

// Attempt returns how many times a message has already failed.
func Attempt(msg *bus.Message) int {
	n, err := strconv.Atoi(msg.Header(HeaderAttempt))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// EnvelopeMessage encodes an envelope as a message on its dead-letter topic.
func EnvelopeMessage(env *core.DeadLetterEnvelope) *bus.Message {
	// DeadLetterEnvelope has only JSON-safe fields, so Marshal cannot fail.
	payload, _ := json.Marshal(env)
	return &bus.Message{
		ID:      env.ID,
		Topic:   core.DeadLetterTopic(env.OriginalTopic),
		Key:     env.MessageKey,
		Payload: payload,
		Headers: map[string]string{bus.HeaderSchema: EnvelopeSchema},
	}
}

// DecodeEnvelope decodes a dead-letter message.
func DecodeEnvelope(msg *bus.Message) (*core.DeadLetterEnvelope, error) {
	if schema := msg.Header(bus.HeaderSchema); schema != "" && schema != EnvelopeSchema {
		return nil, fmt.Errorf("%w: schema %q, want %q", bus.ErrMalformedPayload, schema, EnvelopeSchema)
	}
	var env core.DeadLetterEnvelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", bus.ErrMalformedPayload, err)
	}
	if env.ID == "" || env.OriginalTopic == "" {
		return nil, fmt.Errorf("%w: envelope missing id or topic", bus.ErrMalformedPayload)
	}
	return &env, nil
}

// ReplayMessage rebuilds the original message of an envelope with a fresh retry budget.
func ReplayMessage(env *core.DeadLetterEnvelope) *bus.Message {
	return &bus.Message{
		Topic:   env.OriginalTopic,
		Key:     env.MessageKey,
		Payload: env.OriginalEvent,
	}
}
