package badger

import (
	"context"
	"testing"

	"github.com/poiesic/nuvine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embedded(index int) core.EmbeddedChunk {
	return core.EmbeddedChunk{
		Chunk:     core.Chunk{DocumentID: "doc", Index: index, Content: "chunk"},
		Embedding: []float32{float32(index), 1},
	}
}

func TestEmbeddedChunks_SaveGetDelete(t *testing.T) {
	repo := setupRepos(t).EmbeddedChunks
	ctx := context.Background()

	// Batches arrive out of order.
	require.NoError(t, repo.SaveEmbeddedChunks(ctx, "job-1", embedded(10), embedded(11)))
	require.NoError(t, repo.SaveEmbeddedChunks(ctx, "job-1", embedded(0), embedded(1), embedded(2)))
	require.NoError(t, repo.SaveEmbeddedChunks(ctx, "job-2", embedded(0)))
	// Redelivery overwrites.
	require.NoError(t, repo.SaveEmbeddedChunks(ctx, "job-1", embedded(10)))

	chunks, err := repo.GetEmbeddedChunks(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, chunks, 5)
	indexes := make([]int, len(chunks))
	for i, c := range chunks {
		indexes[i] = c.Index
	}
	assert.Equal(t, []int{0, 1, 2, 10, 11}, indexes)

	require.NoError(t, repo.DeleteEmbeddedChunks(ctx, "job-1"))
	chunks, err = repo.GetEmbeddedChunks(ctx, "job-1")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	other, err := repo.GetEmbeddedChunks(ctx, "job-2")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestEmbeddedChunks_SaveNothing(t *testing.T) {
	repo := setupRepos(t).EmbeddedChunks
	assert.NoError(t, repo.SaveEmbeddedChunks(context.Background(), "job-1"))
}
