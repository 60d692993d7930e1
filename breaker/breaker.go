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
	"sync"
	"time"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Breaker is a failure-rate circuit breaker over a sliding window of outcomes.
// It is safe for concurrent use.
type Breaker struct {
	key    string
	cfg    Config
	now    func() time.Time
	logger *slog.Logger

	mu    sync.Mutex
	state State
	// generation changes on every transition so late outcomes from an
	// earlier state are dropped.
	generation uint64

	// ring buffer of outcomes, true meaning failure
	window   []bool
	next     int
	recorded int
	failures int

	openedAt time.Time

	probesAdmitted int
	probesInFlight int
}

func newBreaker(key string, cfg Config, now func() time.Time, logger *slog.Logger) *Breaker {
	return &Breaker{
		key:    key,
		cfg:    cfg,
		now:    now,
		logger: logger.With("breaker", key),
		window: make([]bool, cfg.WindowSize),
	}
}

// Key returns the sanitized dependency key.
func (b *Breaker) Key() string {
	return b.key
}

// State returns the current state, moving OPEN to HALF_OPEN if the wait has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()
	return b.state
}

// Execute runs op if the breaker admits the call and records its outcome.
// A rejected call returns an *OpenError without invoking op.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	ticket, err := b.acquire()
	if err != nil {
		return err
	}
	err = op(ctx)
	b.record(ticket, b.cfg.IsFailure(err))
	return err
}

// Available reports whether a call would currently be admitted and, if not,
// how long until the breaker admits probes.
func (b *Breaker) Available() (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()
	switch b.state {
	case StateOpen:
		return false, b.retryAfterLocked()
	case StateHalfOpen:
		return b.probesAdmitted < b.cfg.PermittedCallsInHalfOpen, 0
	default:
		return true, 0
	}
}

// Status is a point-in-time view of a breaker.
type Status struct {
	Key         string
	State       State
	Calls       int
	Failures    int
	FailureRate float64
	RetryAfter  time.Duration
}

// Status returns a snapshot of the breaker.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()
	s := Status{
		Key:         b.key,
		State:       b.state,
		Calls:       b.recorded,
		Failures:    b.failures,
		FailureRate: b.failureRateLocked(),
	}
	if b.state == StateOpen {
		s.RetryAfter = b.retryAfterLocked()
	}
	return s
}

type ticket struct {
	generation uint64
	probe      bool
}

func (b *Breaker) acquire() (ticket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()

	switch b.state {
	case StateOpen:
		return ticket{}, &OpenError{Key: b.key, RetryAfter: b.retryAfterLocked()}
	case StateHalfOpen:
		if b.probesAdmitted >= b.cfg.PermittedCallsInHalfOpen {
			return ticket{}, &OpenError{Key: b.key}
		}
		b.probesAdmitted++
		b.probesInFlight++
		return ticket{generation: b.generation, probe: true}, nil
	default:
		return ticket{generation: b.generation}, nil
	}
}

func (b *Breaker) record(t ticket, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t.generation != b.generation {
		return
	}

	if t.probe {
		b.probesInFlight--
		if failed {
			b.transitionLocked(StateOpen)
			return
		}
		if b.probesInFlight == 0 {
			b.transitionLocked(StateClosed)
		}
		return
	}

	if b.window[b.next] && b.recorded == len(b.window) {
		b.failures--
	}
	b.window[b.next] = failed
	b.next = (b.next + 1) % len(b.window)
	if b.recorded < len(b.window) {
		b.recorded++
	}
	if failed {
		b.failures++
	}

	if b.recorded >= b.cfg.MinimumCalls && b.failureRateLocked() > b.cfg.FailureRateThreshold {
		b.transitionLocked(StateOpen)
	}
}

func (b *Breaker) failureRateLocked() float64 {
	if b.recorded == 0 {
		return 0
	}
	return float64(b.failures) / float64(b.recorded) * 100
}

func (b *Breaker) retryAfterLocked() time.Duration {
	remaining := b.cfg.WaitDurationInOpen - b.now().Sub(b.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (b *Breaker) refreshLocked() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.WaitDurationInOpen {
		b.transitionLocked(StateHalfOpen)
	}
}

func (b *Breaker) transitionLocked(to State) {
	from := b.state
	b.state = to
	b.generation++
	b.probesAdmitted = 0
	b.probesInFlight = 0

	switch to {
	case StateOpen:
		b.openedAt = b.now()
		b.resetWindowLocked()
	case StateClosed:
		b.resetWindowLocked()
	}

	b.logger.Info("circuit breaker state change", "from", from, "to", to)
}

func (b *Breaker) resetWindowLocked() {
	clear(b.window)
	b.next = 0
	b.recorded = 0
	b.failures = 0
}
