package batch

import (
	"testing"

	"github.com/poiesic/nuvine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeChunks(n int) []core.Chunk {
	chunks := make([]core.Chunk, n)
	for i := range chunks {
		chunks[i] = core.Chunk{DocumentID: "doc", Index: i, Content: string(rune('a' + i%26)), Page: i / 4}
	}
	return chunks
}

func TestPartition(t *testing.T) {
	tests := []struct {
		name      string
		chunks    int
		size      int
		wantSizes []int
	}{
		{name: "25 chunks by 10", chunks: 25, size: 10, wantSizes: []int{10, 10, 5}},
		{name: "exact multiple", chunks: 20, size: 10, wantSizes: []int{10, 10}},
		{name: "smaller than batch", chunks: 3, size: 10, wantSizes: []int{3}},
		{name: "batch of one", chunks: 3, size: 1, wantSizes: []int{1, 1, 1}},
		{name: "empty", chunks: 0, size: 10, wantSizes: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := makeChunks(tt.chunks)
			batches, err := Partition(chunks, tt.size)
			require.NoError(t, err)

			var sizes []int
			var flattened []core.Chunk
			for i, b := range batches {
				assert.Equal(t, i, b.Index)
				sizes = append(sizes, len(b.Chunks))
				flattened = append(flattened, b.Chunks...)
			}
			assert.Equal(t, tt.wantSizes, sizes)
			if tt.chunks > 0 {
				assert.Equal(t, chunks, flattened, "concatenation must equal the input")
			}
		})
	}
}

func TestPartition_Deterministic(t *testing.T) {
	chunks := makeChunks(37)
	first, err := Partition(chunks, 8)
	require.NoError(t, err)
	second, err := Partition(chunks, 8)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	for i := range first {
		assert.Equal(t, first[i].ID("job"), second[i].ID("job"))
	}
}

func TestPartition_PreservesNonContiguousIndexes(t *testing.T) {
	chunks := []core.Chunk{{Index: 4}, {Index: 9}, {Index: 2}}
	batches, err := Partition(chunks, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, batches[0].Chunks[0].Index)
	assert.Equal(t, 9, batches[0].Chunks[1].Index)
	assert.Equal(t, 2, batches[1].Chunks[0].Index)
}

func TestPartition_BatchesDoNotAlias(t *testing.T) {
	batches, err := Partition(makeChunks(4), 2)
	require.NoError(t, err)
	grown := append(batches[0].Chunks, core.Chunk{Index: 99})
	assert.Equal(t, 2, batches[1].Chunks[0].Index, "appending to one batch must not clobber the next")
	assert.Len(t, grown, 3)
}

func TestPartition_InvalidSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		_, err := Partition(makeChunks(3), size)
		assert.ErrorIs(t, err, ErrInvalidBatchSize)
	}
}

func TestBatch_Request(t *testing.T) {
	job := &core.EmbeddingJob{ID: "job-1", DocumentID: "doc", IngestionJobID: "ing-1", ModelUsed: "m"}
	batches, err := Partition(makeChunks(5), 3)
	require.NoError(t, err)

	req := batches[1].Request(job)
	require.NoError(t, req.Validate())
	assert.Equal(t, []int{3, 4}, req.ChunkIndexes)
	assert.Equal(t, 1, req.BatchIndex)
	assert.Equal(t, core.BatchID("job-1", 1), req.BatchID)
	assert.Equal(t, "m", req.Model)
	assert.Equal(t, batches[1].Chunks, req.Chunks())
}
