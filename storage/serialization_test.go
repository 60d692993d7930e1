package storage

import (
	"testing"
	"time"

	"github.com/poiesic/nuvine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalEmbeddingJob(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)

	job := &core.EmbeddingJob{
		ID:                 "job-1",
		WorkspaceID:        "ws",
		ProjectID:          "proj",
		DocumentID:         "doc",
		IngestionJobID:     "ing",
		Status:             core.JobStatusInProgress,
		TotalChunks:        25,
		ProcessedChunks:    20,
		ModelUsed:          "text-embedding-3-small",
		CompletedBatches:   []int{0, 2},
		IndexingDispatched: true,
		CreatedAt:          now,
		UpdatedAt:          now.Add(time.Second),
		Version:            7,
	}

	decoded, err := UnmarshalEmbeddingJob(MarshalEmbeddingJob(job))
	require.NoError(t, err)
	assert.Equal(t, job, decoded)
}

func TestMarshalEmbeddingJob_ZeroTimes(t *testing.T) {
	job := &core.EmbeddingJob{ID: "j", DocumentID: "d", Status: core.JobStatusPending}

	decoded, err := UnmarshalEmbeddingJob(MarshalEmbeddingJob(job))
	require.NoError(t, err)
	assert.True(t, decoded.CreatedAt.IsZero())
	assert.Nil(t, decoded.CompletedBatches)
}

func TestMarshalUnmarshalIngestionJob(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	job := &core.IngestionJob{
		ID:          "ing-1",
		DocumentID:  "doc",
		WorkspaceID: "ws",
		ProjectID:   "proj",
		StorageKey:  "uploads/doc.pdf",
		MimeType:    "application/pdf",
		SizeBytes:   1 << 20,
		Status:      core.JobStatusInProgress,
		Stage:       core.StageIndex,
		RetryCount:  2,
		LastError:   "timeout",
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     3,
	}

	decoded, err := UnmarshalIngestionJob(MarshalIngestionJob(job))
	require.NoError(t, err)
	assert.Equal(t, job, decoded)
}

func TestMarshalUnmarshalEmbeddedChunk(t *testing.T) {
	chunk := &core.EmbeddedChunk{
		Chunk: core.Chunk{
			DocumentID:  "doc",
			Page:        4,
			StartOffset: 100,
			EndOffset:   180,
			Content:     "The quick brown fox",
			Index:       12,
		},
		Embedding: []float32{0.1, -0.2, 0.3},
	}

	decoded, err := UnmarshalEmbeddedChunk(MarshalEmbeddedChunk(chunk))
	require.NoError(t, err)
	assert.Equal(t, chunk, decoded)
}

func TestMarshalUnmarshalDeadLetter(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	env := &core.DeadLetterEnvelope{
		ID:            "env-1",
		OriginalTopic: core.TopicEmbeddingRequest,
		MessageKey:    "doc",
		OriginalEvent: []byte(`{"embeddingJobId":"x"}`),
		AttemptCount:  5,
		ErrorMessage:  "circuit open",
		ErrorClass:    "transient",
		FirstFailedAt: now.Add(-time.Minute),
		LastFailedAt:  now,
	}

	decoded, err := UnmarshalDeadLetter(MarshalDeadLetter(env))
	require.NoError(t, err)
	assert.Equal(t, env, decoded)
}

func TestUnmarshal_Invalid(t *testing.T) {
	full := MarshalEmbeddingJob(&core.EmbeddingJob{ID: "job", DocumentID: "doc", CompletedBatches: []int{1, 2, 3}})

	tests := []struct {
		name string
		data []byte
	}{
		{"empty data", []byte{}},
		{"truncated", full[:len(full)/2]},
		{"unknown format", append([]byte{0x7e}, full[1:]...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalEmbeddingJob(tt.data)
			assert.ErrorIs(t, err, ErrSerializationFailed)
		})
	}
}

func TestDecoder_RejectsOversizedLength(t *testing.T) {
	e := NewEncoder(8)
	e.Int(1 << 20)
	d := NewDecoder(e.Bytes())
	assert.Nil(t, d.Float32s())
	assert.ErrorIs(t, d.Err(), ErrTruncatedData)
}
