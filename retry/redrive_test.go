package retry

import (
	"context"
	"testing"
	"time"

	"github.com/poiesic/nuvine/core"
	"github.com/poiesic/nuvine/storage"
	badgerstore "github.com/poiesic/nuvine/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedriver_ReplaysAgedEnvelopes(t *testing.T) {
	repos, err := badgerstore.NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	envelopes := []*core.DeadLetterEnvelope{
		{ID: "old-1", OriginalTopic: "t", MessageKey: "a", OriginalEvent: []byte("1"), LastFailedAt: now.Add(-time.Hour)},
		{ID: "old-2", OriginalTopic: "t", MessageKey: "b", OriginalEvent: []byte("2"), LastFailedAt: now.Add(-30 * time.Minute)},
		{ID: "old-3", OriginalTopic: "t", MessageKey: "c", OriginalEvent: []byte("3"), LastFailedAt: now.Add(-10 * time.Minute)},
		{ID: "fresh", OriginalTopic: "t", MessageKey: "d", OriginalEvent: []byte("4"), LastFailedAt: now.Add(-time.Minute)},
	}
	for _, env := range envelopes {
		require.NoError(t, repos.DeadLetters.SaveDeadLetter(ctx, env))
	}

	pub := &recordingPublisher{}
	cfg := DefaultRedriveConfig()
	cfg.BatchSize = 2
	r, err := NewRedriver(repos.DeadLetters, pub, cfg, nil)
	require.NoError(t, err)
	r.now = fixedClock(now)

	n, err := r.RedriveOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	out := pub.published()
	require.Len(t, out, 2)
	assert.Equal(t, "t", out[0].Topic)
	assert.Equal(t, "a", out[0].Key)
	assert.Equal(t, []byte("1"), out[0].Payload)
	assert.Equal(t, 0, Attempt(out[0]), "replay starts a fresh budget")

	_, err = repos.DeadLetters.GetDeadLetter(ctx, "old-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	n, err = r.RedriveOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only old-3 is past the processing delay")

	remaining, err := repos.DeadLetters.ListDeadLetters(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "fresh", remaining[0].ID)
}

func TestRedriveConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultRedriveConfig().Validate())

	bad := DefaultRedriveConfig()
	bad.BatchSize = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = DefaultRedriveConfig()
	bad.PollInterval = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)
}
