package retry

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/poiesic/nuvine/breaker"
	"github.com/poiesic/nuvine/bus"
	"github.com/poiesic/nuvine/core"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "explicit permanent", err: Permanent(errors.New("bad data")), want: ClassPermanent},
		{name: "unknown job", err: fmt.Errorf("record: %w", core.ErrJobNotFound), want: ClassPermanent},
		{name: "terminal job", err: core.ErrJobTerminal, want: ClassPermanent},
		{name: "overflow", err: core.ErrChunkOverflow, want: ClassPermanent},
		{name: "malformed", err: fmt.Errorf("%w: eof", bus.ErrMalformedPayload), want: ClassPermanent},
		{name: "circuit open", err: &breaker.OpenError{Key: "m", RetryAfter: time.Second}, want: ClassCircuitOpen},
		{name: "transient", err: errors.New("timeout"), want: ClassTransient},
		{name: "concurrent update", err: core.ErrConcurrentUpdate, want: ClassTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestPermanent(t *testing.T) {
	assert.NoError(t, Permanent(nil))

	cause := errors.New("cause")
	err := Permanent(cause)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsPermanent(fmt.Errorf("wrapped: %w", err)))
	assert.Contains(t, err.Error(), "cause")
}
