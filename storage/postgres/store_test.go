package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/poiesic/nuvine/core"
	"github.com/poiesic/nuvine/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_RequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

// Runs against a live database when NUVINE_TEST_POSTGRES_DSN is set.
func TestStore_Integration(t *testing.T) {
	dsn := os.Getenv("NUVINE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("NUVINE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	store, err := Open(ctx, Config{DSN: dsn})
	require.NoError(t, err)
	defer store.Close()

	docID := core.NewID()
	job := &core.EmbeddingJob{ID: core.NewID(), DocumentID: docID, Status: core.JobStatusInProgress, TotalChunks: 3}

	created, err := store.CreateEmbeddingJob(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)

	_, err = store.CreateEmbeddingJob(ctx, &core.EmbeddingJob{ID: core.NewID(), DocumentID: docID, Status: core.JobStatusInProgress, TotalChunks: 1})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	updated, err := store.UpdateEmbeddingJob(ctx, job.ID, 1, func(j *core.EmbeddingJob) error {
		_, err := j.ApplyBatch(0, 3)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, core.JobStatusCompleted, updated.Status)

	_, err = store.UpdateEmbeddingJob(ctx, job.ID, 1, func(*core.EmbeddingJob) error { return nil })
	assert.ErrorIs(t, err, storage.ErrVersionConflict)

	latest, err := store.FindLatestEmbeddingJob(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, latest.ID)

	require.NoError(t, store.SaveEmbeddedChunks(ctx, job.ID,
		core.EmbeddedChunk{Chunk: core.Chunk{DocumentID: docID, Index: 1}, Embedding: []float32{1}},
		core.EmbeddedChunk{Chunk: core.Chunk{DocumentID: docID, Index: 0}, Embedding: []float32{0}},
	))
	chunks, err := store.GetEmbeddedChunks(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 0, chunks[0].Index)
	require.NoError(t, store.DeleteEmbeddedChunks(ctx, job.ID))
}
