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
	"errors"
	"fmt"
	"time"
)

var (
	// ErrOpen is matched by every rejection from an open breaker.
	ErrOpen = errors.New("circuit breaker is open")

	// ErrInvalidConfig indicates an invalid breaker configuration.
	ErrInvalidConfig = errors.New("invalid circuit breaker configuration")
)

// OpenError reports a call rejected without invoking the operation.
// RetryAfter is the time left until the breaker admits probes again;
// it is zero when the breaker is half-open and all probes are in flight.
type OpenError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open, retry after %s", e.Key, e.RetryAfter)
}

func (e *OpenError) Unwrap() error {
	return ErrOpen
}
