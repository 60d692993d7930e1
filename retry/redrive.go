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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/nuvine/bus"
	"github.com/poiesic/nuvine/storage"
)

// RedriveConfig throttles replay of archived dead letters.
type RedriveConfig struct {
	// Topic limits replay to envelopes from one original topic. Empty means all topics.
	Topic string
	// ProcessingDelay is how long an envelope must have rested since its last failure.
	ProcessingDelay time.Duration
	// BatchSize caps the envelopes replayed per pass.
	BatchSize int
	// PollInterval is the time between passes in Run.
	PollInterval time.Duration
}

// DefaultRedriveConfig returns a five minute delay, 50 envelopes per pass, polled every 30s.
func DefaultRedriveConfig() RedriveConfig {
	return RedriveConfig{
		ProcessingDelay: 5 * time.Minute,
		BatchSize:       50,
		PollInterval:    30 * time.Second,
	}
}

// Validate checks the configuration.
func (c RedriveConfig) Validate() error {
	if c.ProcessingDelay < 0 {
		return fmt.Errorf("%w: negative processing delay", ErrInvalidConfig)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("%w: batch size %d", ErrInvalidConfig, c.BatchSize)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval %v", ErrInvalidConfig, c.PollInterval)
	}
	return nil
}

// Redriver replays archived dead letters onto their original topics.
type Redriver struct {
	letters   storage.DeadLetterRepository
	publisher bus.Publisher
	config    RedriveConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewRedriver creates a Redriver.
func NewRedriver(letters storage.DeadLetterRepository, publisher bus.Publisher, cfg RedriveConfig, logger *slog.Logger) (*Redriver, error) {
	if publisher == nil {
		return nil, ErrPublisherRequired
	}
	if letters == nil {
		return nil, fmt.Errorf("%w: dead letter repository is required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redriver{
		letters:   letters,
		publisher: publisher,
		config:    cfg,
		logger:    logger.With("component", "redriver"),
		now:       time.Now,
	}, nil
}

// RedriveOnce replays up to BatchSize envelopes that failed at least
// ProcessingDelay ago, oldest first, and removes them from the archive.
// It returns the number replayed.
func (r *Redriver) RedriveOnce(ctx context.Context) (int, error) {
	envelopes, err := r.letters.ListDeadLetters(ctx, r.config.Topic, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list dead letters: %w", err)
	}

	cutoff := r.now().Add(-r.config.ProcessingDelay)
	replayed := 0
	var errs []error
	for _, env := range envelopes {
		if replayed >= r.config.BatchSize {
			break
		}
		// Listing is oldest first, so nothing after this is due either
		if env.LastFailedAt.After(cutoff) {
			break
		}
		if err := r.publisher.Publish(ctx, ReplayMessage(env)); err != nil {
			errs = append(errs, fmt.Errorf("replay %s: %w", env.ID, err))
			continue
		}
		if err := r.letters.DeleteDeadLetter(ctx, env.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			errs = append(errs, fmt.Errorf("remove %s: %w", env.ID, err))
		}
		replayed++
		r.logger.Info("replayed dead letter", "id", env.ID, "topic", env.OriginalTopic, "key", env.MessageKey, "attempts", env.AttemptCount)
	}
	return replayed, errors.Join(errs...)
}

// Run calls RedriveOnce every PollInterval until ctx is done.
func (r *Redriver) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := r.RedriveOnce(ctx); err != nil {
			r.logger.Error("redrive pass failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
