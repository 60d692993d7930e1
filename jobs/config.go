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

package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/nuvine/core"
	"github.com/poiesic/nuvine/storage"
)

// ErrRepositoryRequired indicates a nil repository was supplied.
var ErrRepositoryRequired = errors.New("job repository is required")

// Config bounds the optimistic update retries.
type Config struct {
	// MaxUpdateAttempts is how many read-modify-write rounds an update may take
	// before ErrConcurrentUpdate is returned.
	MaxUpdateAttempts int
	// UpdateBackoff is the delay after the first conflict; it doubles per round.
	UpdateBackoff time.Duration
	// MaxUpdateBackoff caps the delay between rounds.
	MaxUpdateBackoff time.Duration
}

// DefaultConfig returns 10 attempts starting at 5ms, capped at 200ms.
func DefaultConfig() Config {
	return Config{
		MaxUpdateAttempts: 10,
		UpdateBackoff:     5 * time.Millisecond,
		MaxUpdateBackoff:  200 * time.Millisecond,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxUpdateAttempts < 1 {
		return fmt.Errorf("jobs config: MaxUpdateAttempts must be positive, got %d", c.MaxUpdateAttempts)
	}
	if c.UpdateBackoff < 0 || c.MaxUpdateBackoff < 0 {
		return errors.New("jobs config: backoff cannot be negative")
	}
	return nil
}

// mapErr translates storage errors into the job domain.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%w: %w", core.ErrJobNotFound, err)
	case errors.Is(err, storage.ErrVersionConflict):
		return fmt.Errorf("%w: %w", core.ErrConcurrentUpdate, err)
	}
	return err
}
