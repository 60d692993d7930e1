package badger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/poiesic/nuvine/core"
	"github.com/poiesic/nuvine/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepos(t *testing.T) *Repositories {
	t.Helper()
	repos, err := NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })
	return repos
}

func newTestJob(id, doc string, total int) *core.EmbeddingJob {
	return &core.EmbeddingJob{
		ID:          id,
		DocumentID:  doc,
		WorkspaceID: "ws",
		ProjectID:   "proj",
		Status:      core.JobStatusInProgress,
		TotalChunks: total,
	}
}

func TestEmbeddingJob_CreateAndGet(t *testing.T) {
	repo := setupRepos(t).EmbeddingJobs
	ctx := context.Background()

	created, err := repo.CreateEmbeddingJob(ctx, newTestJob("job-1", "doc-1", 10))
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := repo.GetEmbeddingJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, created, got)

	latest, err := repo.FindLatestEmbeddingJob(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", latest.ID)
}

func TestEmbeddingJob_GetNotFound(t *testing.T) {
	repo := setupRepos(t).EmbeddingJobs
	ctx := context.Background()

	_, err := repo.GetEmbeddingJob(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = repo.FindLatestEmbeddingJob(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = repo.UpdateEmbeddingJob(ctx, "missing", 1, func(*core.EmbeddingJob) error { return nil })
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEmbeddingJob_CreateDuplicate(t *testing.T) {
	repo := setupRepos(t).EmbeddingJobs
	ctx := context.Background()

	_, err := repo.CreateEmbeddingJob(ctx, newTestJob("job-1", "doc-1", 10))
	require.NoError(t, err)

	_, err = repo.CreateEmbeddingJob(ctx, newTestJob("job-2", "doc-1", 10))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey, "active job exists for document")

	_, err = repo.CreateEmbeddingJob(ctx, newTestJob("job-1", "doc-2", 10))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey, "same job id")
}

func TestEmbeddingJob_CreateAfterTerminal(t *testing.T) {
	repo := setupRepos(t).EmbeddingJobs
	ctx := context.Background()

	_, err := repo.CreateEmbeddingJob(ctx, newTestJob("job-1", "doc-1", 10))
	require.NoError(t, err)
	_, err = repo.UpdateEmbeddingJob(ctx, "job-1", 1, func(j *core.EmbeddingJob) error {
		return j.Fail("provider down")
	})
	require.NoError(t, err)

	_, err = repo.CreateEmbeddingJob(ctx, newTestJob("job-2", "doc-1", 10))
	require.NoError(t, err)

	latest, err := repo.FindLatestEmbeddingJob(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "job-2", latest.ID)
}

func TestEmbeddingJob_UpdateVersioning(t *testing.T) {
	repo := setupRepos(t).EmbeddingJobs
	ctx := context.Background()

	_, err := repo.CreateEmbeddingJob(ctx, newTestJob("job-1", "doc-1", 10))
	require.NoError(t, err)

	updated, err := repo.UpdateEmbeddingJob(ctx, "job-1", 1, func(j *core.EmbeddingJob) error {
		_, err := j.ApplyBatch(0, 4)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, 4, updated.ProcessedChunks)

	_, err = repo.UpdateEmbeddingJob(ctx, "job-1", 1, func(j *core.EmbeddingJob) error { return nil })
	assert.ErrorIs(t, err, storage.ErrVersionConflict)

	boom := errors.New("boom")
	_, err = repo.UpdateEmbeddingJob(ctx, "job-1", 2, func(j *core.EmbeddingJob) error {
		j.ProcessedChunks = 9
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repo.GetEmbeddingJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 4, got.ProcessedChunks, "failed mutation must not persist")
	assert.Equal(t, int64(2), got.Version)
}

func TestEmbeddingJob_ConcurrentUpdatesSameVersion(t *testing.T) {
	repo := setupRepos(t).EmbeddingJobs
	ctx := context.Background()

	_, err := repo.CreateEmbeddingJob(ctx, newTestJob("job-1", "doc-1", 100))
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(batch int) {
			defer wg.Done()
			_, err := repo.UpdateEmbeddingJob(ctx, "job-1", 1, func(j *core.EmbeddingJob) error {
				_, err := j.ApplyBatch(batch, 1)
				return err
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, storage.ErrVersionConflict)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	got, err := repo.GetEmbeddingJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.ProcessedChunks)
	assert.Equal(t, int64(2), got.Version)
}

func TestEmbeddingJob_ListByStatus(t *testing.T) {
	repo := setupRepos(t).EmbeddingJobs
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := repo.CreateEmbeddingJob(ctx, newTestJob(id, "doc-"+id, 5))
		require.NoError(t, err)
	}
	_, err := repo.UpdateEmbeddingJob(ctx, "b", 1, func(j *core.EmbeddingJob) error { return j.Fail("x") })
	require.NoError(t, err)

	inProgress, err := repo.ListEmbeddingJobs(ctx, core.JobStatusInProgress)
	require.NoError(t, err)
	require.Len(t, inProgress, 2)
	assert.Equal(t, "a", inProgress[0].ID)
	assert.Equal(t, "c", inProgress[1].ID)

	failed, err := repo.ListEmbeddingJobs(ctx, core.JobStatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "b", failed[0].ID)
}
