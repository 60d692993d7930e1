package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *MemoryBus {
	t.Helper()
	b, err := NewMemoryBus(WithPoolSize(4), WithRedeliveryDelay(10*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func waitIdle(t *testing.T, b *MemoryBus) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.WaitIdle(ctx))
}

func TestMemoryBus_DeliversAfterStart(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	var mu sync.Mutex
	var got []string
	require.NoError(t, b.Subscribe("t", func(ctx context.Context, msg *Message) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(msg.Payload))
		return nil
	}))

	require.NoError(t, b.Publish(ctx, &Message{Topic: "t", Payload: []byte("early")}))
	assert.Equal(t, 1, b.Pending("t"), "held until start")

	require.NoError(t, b.Start(ctx))
	require.NoError(t, b.Publish(ctx, &Message{Topic: "t", Payload: []byte("late")}))
	waitIdle(t, b)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"early", "late"}, got)
}

func TestMemoryBus_BacklogForUnsubscribedTopic(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()
	require.NoError(t, b.Start(ctx))

	require.NoError(t, b.Publish(ctx, &Message{Topic: "nobody", Key: "k"}))
	require.NoError(t, b.Publish(ctx, &Message{Topic: "nobody", Key: "k"}))
	assert.Equal(t, 2, b.Pending("nobody"))

	msgs := b.Drain("nobody")
	require.Len(t, msgs, 2)
	assert.NotEmpty(t, msgs[0].ID)
	assert.False(t, msgs[0].PublishedAt.IsZero())
	assert.Equal(t, 0, b.Pending("nobody"))
}

func TestMemoryBus_SubscribeFlushesBacklog(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()
	require.NoError(t, b.Start(ctx))
	require.NoError(t, b.Publish(ctx, &Message{Topic: "t"}))

	var count atomic.Int32
	require.NoError(t, b.Subscribe("t", func(context.Context, *Message) error {
		count.Add(1)
		return nil
	}))
	waitIdle(t, b)
	assert.Equal(t, int32(1), count.Load())
}

func TestMemoryBus_DelayedDelivery(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	delivered := make(chan time.Time, 1)
	require.NoError(t, b.Subscribe("t", func(context.Context, *Message) error {
		delivered <- time.Now()
		return nil
	}))
	require.NoError(t, b.Start(ctx))

	start := time.Now()
	require.NoError(t, b.Publish(ctx, &Message{Topic: "t", AvailableAt: start.Add(50 * time.Millisecond)}))

	select {
	case at := <-delivered:
		assert.GreaterOrEqual(t, at.Sub(start), 50*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("delayed message never delivered")
	}
}

func TestMemoryBus_RedeliversOnError(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	var attempts atomic.Int32
	require.NoError(t, b.Subscribe("t", func(context.Context, *Message) error {
		if attempts.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}))
	require.NoError(t, b.Start(ctx))
	require.NoError(t, b.Publish(ctx, &Message{Topic: "t"}))

	waitIdle(t, b)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestMemoryBus_SubscribeTwice(t *testing.T) {
	b := newTestBus(t)
	noop := func(context.Context, *Message) error { return nil }
	require.NoError(t, b.Subscribe("t", noop))
	assert.ErrorIs(t, b.Subscribe("t", noop), ErrAlreadySubscribed)
}

func TestMemoryBus_Closed(t *testing.T) {
	b, err := NewMemoryBus()
	require.NoError(t, err)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Publish(context.Background(), &Message{Topic: "t"}), ErrClosed)
	assert.ErrorIs(t, b.Start(context.Background()), ErrClosed)
}

func TestMemoryBus_PublishDoesNotAliasCaller(t *testing.T) {
	b := newTestBus(t)
	msg := &Message{Topic: "t", Headers: map[string]string{"a": "1"}}
	require.NoError(t, b.Publish(context.Background(), msg))
	msg.Headers["a"] = "changed"

	queued := b.Drain("t")
	require.Len(t, queued, 1)
	assert.Equal(t, "1", queued[0].Header("a"))
}
