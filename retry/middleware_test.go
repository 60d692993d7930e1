package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/nuvine/breaker"
	"github.com/poiesic/nuvine/bus"
	"github.com/poiesic/nuvine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*bus.Message
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, msg *bus.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg.Clone())
	return nil
}

func (p *recordingPublisher) published() []*bus.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*bus.Message(nil), p.msgs...)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestMiddleware_Success(t *testing.T) {
	pub := &recordingPublisher{}
	m, err := NewMiddleware(pub)
	require.NoError(t, err)

	h := m.Wrap("t", func(context.Context, *bus.Message) error { return nil })
	require.NoError(t, h(context.Background(), &bus.Message{Topic: "t"}))
	assert.Empty(t, pub.published())
}

func TestMiddleware_TransientRepublishesWithDelay(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	pub := &recordingPublisher{}
	m, err := NewMiddleware(pub, WithClock(fixedClock(now)))
	require.NoError(t, err)

	h := m.Wrap("t", func(context.Context, *bus.Message) error { return errors.New("provider timeout") })
	msg := &bus.Message{ID: "m1", Topic: "t", Key: "doc-1", Payload: []byte("p")}
	require.NoError(t, h(context.Background(), msg))

	out := pub.published()
	require.Len(t, out, 1)
	next := out[0]
	assert.Equal(t, "t", next.Topic)
	assert.Equal(t, "doc-1", next.Key)
	assert.Equal(t, []byte("p"), next.Payload)
	assert.Equal(t, 1, Attempt(next))
	assert.Equal(t, now.Add(DefaultDelay), next.AvailableAt)
	assert.Equal(t, now.Format(time.RFC3339Nano), next.Header(HeaderFirstFailedAt))
	assert.Equal(t, "provider timeout", next.Header(HeaderLastError))
	assert.Empty(t, msg.Header(HeaderAttempt), "original message untouched")
}

func TestMiddleware_PermanentDeadLettersImmediately(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	pub := &recordingPublisher{}
	m, err := NewMiddleware(pub, WithClock(fixedClock(now)))
	require.NoError(t, err)

	h := m.Wrap(core.TopicEmbeddingCompleted, func(context.Context, *bus.Message) error { return core.ErrJobNotFound })
	require.NoError(t, h(context.Background(), &bus.Message{Topic: core.TopicEmbeddingCompleted, Key: "doc-1", Payload: []byte("p")}))

	out := pub.published()
	require.Len(t, out, 1)
	assert.Equal(t, core.DeadLetterTopic(core.TopicEmbeddingCompleted), out[0].Topic)

	env, err := DecodeEnvelope(out[0])
	require.NoError(t, err)
	assert.Equal(t, 1, env.AttemptCount)
	assert.Equal(t, ClassPermanent, env.ErrorClass)
	assert.Equal(t, core.TopicEmbeddingCompleted, env.OriginalTopic)
	assert.Equal(t, []byte("p"), env.OriginalEvent)
	assert.Equal(t, "doc-1", env.MessageKey)
	assert.True(t, env.FirstFailedAt.Equal(now))
	assert.True(t, env.LastFailedAt.Equal(now))
}

func TestMiddleware_ExhaustedKeepsFirstFailure(t *testing.T) {
	first := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := first.Add(time.Minute)
	pub := &recordingPublisher{}
	m, err := NewMiddleware(pub, WithClock(fixedClock(now)))
	require.NoError(t, err)

	h := m.Wrap("t", func(context.Context, *bus.Message) error { return errors.New("still down") })
	msg := &bus.Message{Topic: "t", Headers: map[string]string{
		HeaderAttempt:       "2",
		HeaderFirstFailedAt: first.Format(time.RFC3339Nano),
	}}
	require.NoError(t, h(context.Background(), msg))

	out := pub.published()
	require.Len(t, out, 1)
	env, err := DecodeEnvelope(out[0])
	require.NoError(t, err)
	assert.Equal(t, 3, env.AttemptCount)
	assert.Equal(t, ClassTransient, env.ErrorClass)
	assert.True(t, env.FirstFailedAt.Equal(first))
	assert.True(t, env.LastFailedAt.Equal(now))
}

func TestMiddleware_OpenCircuitDelaysUntilRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	pub := &recordingPublisher{}
	m, err := NewMiddleware(pub, WithClock(fixedClock(now)))
	require.NoError(t, err)

	open := &breaker.OpenError{Key: "m", RetryAfter: 45 * time.Second}
	h := m.Wrap("t", func(context.Context, *bus.Message) error { return open })
	require.NoError(t, h(context.Background(), &bus.Message{ID: "m1", Topic: "t"}))

	out := pub.published()
	require.Len(t, out, 1)
	assert.Equal(t, "t", out[0].Topic)
	assert.Equal(t, now.Add(45*time.Second), out[0].AvailableAt)
}

func TestMiddleware_PublishFailureIsReturned(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("bus down")}
	m, err := NewMiddleware(pub)
	require.NoError(t, err)

	h := m.Wrap("t", func(context.Context, *bus.Message) error { return errors.New("boom") })
	assert.Error(t, h(context.Background(), &bus.Message{Topic: "t"}))
}

func TestMiddleware_BoundedRetriesProduceOneEnvelope(t *testing.T) {
	b, err := bus.NewMemoryBus(bus.WithPoolSize(2))
	require.NoError(t, err)
	defer b.Close()
	ctx := context.Background()

	m, err := NewMiddleware(b, WithConfig(Config{MaxAttempts: 3, Backoff: Fixed(time.Millisecond)}))
	require.NoError(t, err)

	var mu sync.Mutex
	calls := 0
	var envelopes []*core.DeadLetterEnvelope
	require.NoError(t, b.Subscribe("t", m.Wrap("t", func(context.Context, *bus.Message) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return errors.New("always fails")
	})))
	require.NoError(t, b.Subscribe(core.DeadLetterTopic("t"), func(_ context.Context, msg *bus.Message) error {
		env, err := DecodeEnvelope(msg)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		envelopes = append(envelopes, env)
		return nil
	}))
	require.NoError(t, b.Start(ctx))
	require.NoError(t, b.Publish(ctx, &bus.Message{Topic: "t", Key: "k", Payload: []byte("x")}))

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, b.WaitIdle(waitCtx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls)
	require.Len(t, envelopes, 1)
	assert.Equal(t, 3, envelopes[0].AttemptCount)
}

func TestConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.AttemptsFor(core.TopicEmbeddingCompleted))
	assert.Equal(t, 5, cfg.AttemptsFor(core.TopicEmbeddingRequest))

	assert.ErrorIs(t, Config{}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, Config{MaxAttempts: 1, TopicMaxAttempts: map[string]int{"t": 0}}.Validate(), ErrInvalidConfig)

	_, err := NewMiddleware(nil)
	assert.ErrorIs(t, err, ErrPublisherRequired)
}

func TestDecodeEnvelope_Malformed(t *testing.T) {
	_, err := DecodeEnvelope(&bus.Message{Payload: []byte("nope")})
	assert.ErrorIs(t, err, bus.ErrMalformedPayload)

	_, err = DecodeEnvelope(&bus.Message{Payload: []byte(`{}`)})
	assert.ErrorIs(t, err, bus.ErrMalformedPayload)
}
