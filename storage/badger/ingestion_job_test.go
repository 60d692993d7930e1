package badger

import (
	"context"
	"testing"

	"github.com/poiesic/nuvine/core"
	"github.com/poiesic/nuvine/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestionJob_Lifecycle(t *testing.T) {
	repo := setupRepos(t).IngestionJobs
	ctx := context.Background()

	job := &core.IngestionJob{
		ID:         "ing-1",
		DocumentID: "doc-1",
		StorageKey: "uploads/doc-1.pdf",
		MimeType:   "application/pdf",
		Status:     core.JobStatusPending,
		Stage:      core.StageParse,
	}
	created, err := repo.CreateIngestionJob(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)

	_, err = repo.CreateIngestionJob(ctx, job)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	updated, err := repo.UpdateIngestionJob(ctx, "ing-1", 1, func(j *core.IngestionJob) error {
		_, err := j.Advance(core.StageEmbed)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, core.StageEmbed, updated.Stage)
	assert.Equal(t, core.JobStatusInProgress, updated.Status)
	assert.Equal(t, int64(2), updated.Version)

	_, err = repo.UpdateIngestionJob(ctx, "ing-1", 1, func(j *core.IngestionJob) error { return nil })
	assert.ErrorIs(t, err, storage.ErrVersionConflict)

	got, err := repo.GetIngestionJob(ctx, "ing-1")
	require.NoError(t, err)
	assert.Equal(t, updated, got)

	_, err = repo.GetIngestionJob(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
