package jobs

import (
	"context"
	"testing"

	"github.com/poiesic/nuvine/core"
	badgerstore "github.com/poiesic/nuvine/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupIngestion(t *testing.T) *IngestionTracker {
	t.Helper()
	repos, err := badgerstore.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })

	tracker, err := NewIngestionTracker(repos.IngestionJobs)
	require.NoError(t, err)
	return tracker
}

func uploaded(id string) core.DocumentUploaded {
	return core.DocumentUploaded{
		IngestionJobID: id,
		DocumentID:     "doc-1",
		WorkspaceID:    "ws",
		ProjectID:      "proj",
		StorageKey:     "s3://bucket/doc-1.pdf",
		MimeType:       "application/pdf",
		SizeBytes:      1024,
	}
}

func TestIngestionTracker_CreateIsIdempotent(t *testing.T) {
	tracker := setupIngestion(t)
	ctx := context.Background()

	job, err := tracker.CreateIngestionJob(ctx, uploaded("ing-1"))
	require.NoError(t, err)
	assert.Equal(t, "ing-1", job.ID)
	assert.Equal(t, core.JobStatusPending, job.Status)
	assert.Equal(t, core.StageParse, job.Stage)
	assert.Equal(t, "application/pdf", job.MimeType)

	again, err := tracker.CreateIngestionJob(ctx, uploaded("ing-1"))
	require.NoError(t, err)
	assert.Equal(t, job.Version, again.Version)

	generated, err := tracker.CreateIngestionJob(ctx, uploaded(""))
	require.NoError(t, err)
	assert.NotEmpty(t, generated.ID)
	assert.NotEqual(t, "ing-1", generated.ID)
}

func TestIngestionTracker_AdvanceStage(t *testing.T) {
	tracker := setupIngestion(t)
	ctx := context.Background()
	job, err := tracker.CreateIngestionJob(ctx, uploaded("ing-1"))
	require.NoError(t, err)

	advanced, err := tracker.AdvanceStage(ctx, job.ID, core.StageEmbed)
	require.NoError(t, err)
	assert.Equal(t, core.StageEmbed, advanced.Stage)
	assert.Equal(t, core.JobStatusInProgress, advanced.Status)

	// Moving backwards is a no-op
	same, err := tracker.AdvanceStage(ctx, job.ID, core.StageChunk)
	require.NoError(t, err)
	assert.Equal(t, core.StageEmbed, same.Stage)
	assert.Equal(t, advanced.Version, same.Version)

	done, err := tracker.AdvanceStage(ctx, job.ID, core.StageDone)
	require.NoError(t, err)
	assert.Equal(t, core.JobStatusCompleted, done.Status)

	_, err = tracker.AdvanceStage(ctx, "missing", core.StageEmbed)
	assert.ErrorIs(t, err, core.ErrJobNotFound)
}

func TestIngestionTracker_Failures(t *testing.T) {
	tracker := setupIngestion(t)
	ctx := context.Background()
	job, err := tracker.CreateIngestionJob(ctx, uploaded("ing-1"))
	require.NoError(t, err)

	job, err = tracker.RecordFailure(ctx, job.ID, "timeout")
	require.NoError(t, err)
	assert.Equal(t, 1, job.RetryCount)
	assert.Equal(t, "timeout", job.LastError)

	job, err = tracker.MarkFailed(ctx, job.ID, "dead-lettered")
	require.NoError(t, err)
	assert.Equal(t, core.JobStatusFailed, job.Status)

	_, err = tracker.MarkFailed(ctx, job.ID, "again")
	assert.ErrorIs(t, err, core.ErrJobTerminal)
	_, err = tracker.RecordFailure(ctx, job.ID, "late")
	assert.ErrorIs(t, err, core.ErrJobTerminal)
}
