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
	"errors"
	"fmt"
	"time"
)

// Default configuration values.
const (
	DefaultWindowSize               = 10
	DefaultMinimumCalls             = 5
	DefaultFailureRateThreshold     = 50.0
	DefaultWaitDurationInOpen       = 60 * time.Second
	DefaultPermittedCallsInHalfOpen = 3
)

// Config holds circuit breaker settings shared by every breaker in a registry.
type Config struct {
	// WindowSize is the number of most recent outcomes kept in CLOSED state.
	WindowSize int `yaml:"window_size"`
	// MinimumCalls is the number of recorded outcomes required before the failure rate is evaluated.
	MinimumCalls int `yaml:"minimum_calls"`
	// FailureRateThreshold is a percentage; a failure rate above it opens the breaker.
	FailureRateThreshold float64 `yaml:"failure_rate_threshold"`
	// WaitDurationInOpen is how long the breaker rejects calls before admitting probes.
	WaitDurationInOpen time.Duration `yaml:"wait_duration_in_open"`
	// PermittedCallsInHalfOpen is the number of probe calls admitted in HALF_OPEN.
	PermittedCallsInHalfOpen int `yaml:"permitted_calls_in_half_open"`
	// IsFailure classifies an operation result. Defaults to DefaultIsFailure.
	IsFailure func(error) bool `yaml:"-"`
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		WindowSize:               DefaultWindowSize,
		MinimumCalls:             DefaultMinimumCalls,
		FailureRateThreshold:     DefaultFailureRateThreshold,
		WaitDurationInOpen:       DefaultWaitDurationInOpen,
		PermittedCallsInHalfOpen: DefaultPermittedCallsInHalfOpen,
		IsFailure:                DefaultIsFailure,
	}
}

// DefaultIsFailure counts every error except caller cancellation.
func DefaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.WindowSize <= 0 {
		return fmt.Errorf("%w: window size must be positive, got %d", ErrInvalidConfig, c.WindowSize)
	}
	if c.MinimumCalls <= 0 || c.MinimumCalls > c.WindowSize {
		return fmt.Errorf("%w: minimum calls must be in [1, %d], got %d", ErrInvalidConfig, c.WindowSize, c.MinimumCalls)
	}
	if c.FailureRateThreshold <= 0 || c.FailureRateThreshold > 100 {
		return fmt.Errorf("%w: failure rate threshold must be in (0, 100], got %v", ErrInvalidConfig, c.FailureRateThreshold)
	}
	if c.WaitDurationInOpen <= 0 {
		return fmt.Errorf("%w: wait duration must be positive, got %s", ErrInvalidConfig, c.WaitDurationInOpen)
	}
	if c.PermittedCallsInHalfOpen <= 0 {
		return fmt.Errorf("%w: permitted half-open calls must be positive, got %d", ErrInvalidConfig, c.PermittedCallsInHalfOpen)
	}
	return nil
}

func (c Config) normalize() Config {
	if c.IsFailure == nil {
		c.IsFailure = DefaultIsFailure
	}
	return c
}
