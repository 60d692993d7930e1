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

	"github.com/poiesic/nuvine/breaker"
	"github.com/poiesic/nuvine/bus"
	"github.com/poiesic/nuvine/core"
)

var (
	// ErrInvalidMaxAttempts indicates an attempt budget below one.
	ErrInvalidMaxAttempts = errors.New("max attempts must be positive")

	// ErrInvalidConfig indicates a retry or redrive configuration is unusable.
	ErrInvalidConfig = errors.New("invalid retry configuration")

	// ErrPublisherRequired indicates a nil publisher was supplied.
	ErrPublisherRequired = errors.New("publisher is required")
)

// Error classes recorded in dead-letter envelopes.
const (
	ClassPermanent   = "permanent"
	ClassTransient   = "transient"
	ClassCircuitOpen = "circuit_open"
)

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so that it is dead-lettered without retry.
// A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err must not be retried. Explicit
// PermanentErrors, unknown or terminal jobs, overflowing batches and invalid
// or undecodable payloads are permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	switch {
	case errors.As(err, &pe):
		return true
	case errors.Is(err, core.ErrJobNotFound),
		errors.Is(err, core.ErrJobTerminal),
		errors.Is(err, core.ErrChunkOverflow),
		errors.Is(err, core.ErrInvalidEvent),
		errors.Is(err, bus.ErrMalformedPayload):
		return true
	}
	return false
}

// Classify names the error class recorded in a dead-letter envelope.
func Classify(err error) string {
	switch {
	case IsPermanent(err):
		return ClassPermanent
	case errors.Is(err, breaker.ErrOpen):
		return ClassCircuitOpen
	}
	return ClassTransient
}

// retryable reports whether err is worth another attempt in-process.
func retryable(err error) bool {
	return !IsPermanent(err) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
