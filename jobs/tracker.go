// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/nuvine/core"
	"github.com/poiesic/nuvine/retry"
	"github.com/poiesic/nuvine/storage"
)

// CreateEmbeddingJobParams describes a new embedding job.
type CreateEmbeddingJobParams struct {
	WorkspaceID    string
	ProjectID      string
	DocumentID     string
	IngestionJobID string
	TotalChunks    int
	Model          string
}

// Tracker manages EmbeddingJob state transitions.
type Tracker struct {
	repo   storage.EmbeddingJobRepository
	config Config
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Tracker or IngestionTracker.
type Option func(*options) error

type options struct {
	config Config
	logger *slog.Logger
	now    func() time.Time
}

// WithConfig replaces the default retry configuration.
func WithConfig(cfg Config) Option {
	return func(o *options) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		o.config = cfg
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger
		return nil
	}
}

// WithClock overrides the time source used for staleness checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) error {
		o.now = now
		return nil
	}
}

func buildOptions(opts []Option) (options, error) {
	o := options{config: DefaultConfig(), logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return o, err
		}
	}
	return o, nil
}

// NewTracker creates a Tracker over repo.
func NewTracker(repo storage.EmbeddingJobRepository, opts ...Option) (*Tracker, error) {
	if repo == nil {
		return nil, ErrRepositoryRequired
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Tracker{
		repo:   repo,
		config: o.config,
		logger: o.logger.With("component", "job-tracker"),
		now:    o.now,
	}, nil
}

// retryConflicts runs op until it stops reporting ErrConcurrentUpdate or the
// attempt budget is spent. Any other error is returned unchanged at once.
func retryConflicts(ctx context.Context, cfg Config, op func() error) error {
	err := retry.Do(ctx, func() error {
		err := op()
		if err != nil && !errors.Is(err, core.ErrConcurrentUpdate) {
			return retry.Permanent(err)
		}
		return err
	}, cfg.MaxUpdateAttempts, retry.Exponential{Base: cfg.UpdateBackoff, Max: cfg.MaxUpdateBackoff})

	var stop *retry.PermanentError
	if errors.As(err, &stop) {
		return stop.Err
	}
	return err
}

// CreateEmbeddingJob starts a job for a document. The job begins IN_PROGRESS,
// or COMPLETED when there are no chunks.
// Returns ErrDuplicateJob when the document already has an active job.
func (t *Tracker) CreateEmbeddingJob(ctx context.Context, p CreateEmbeddingJobParams) (*core.EmbeddingJob, error) {
	job := &core.EmbeddingJob{
		ID:             core.NewID(),
		WorkspaceID:    p.WorkspaceID,
		ProjectID:      p.ProjectID,
		DocumentID:     p.DocumentID,
		IngestionJobID: p.IngestionJobID,
		Status:         core.JobStatusInProgress,
		TotalChunks:    p.TotalChunks,
		ModelUsed:      p.Model,
	}
	if p.TotalChunks == 0 {
		job.Status = core.JobStatusCompleted
	}
	if err := core.ValidateEmbeddingJob(job); err != nil {
		return nil, err
	}

	created, err := t.repo.CreateEmbeddingJob(ctx, job)
	if err != nil {
		// A version conflict here means a concurrent create touched the same document
		if errors.Is(err, storage.ErrDuplicateKey) || errors.Is(err, storage.ErrVersionConflict) {
			return nil, fmt.Errorf("%w: document %s: %w", core.ErrDuplicateJob, p.DocumentID, err)
		}
		return nil, err
	}
	t.logger.Info("created embedding job", "job", created.ID, "document", created.DocumentID, "chunks", created.TotalChunks, "model", created.ModelUsed)
	return created, nil
}

// Get returns a job by ID.
func (t *Tracker) Get(ctx context.Context, jobID string) (*core.EmbeddingJob, error) {
	job, err := t.repo.GetEmbeddingJob(ctx, jobID)
	return job, mapErr(err)
}

// FindLatest returns the newest job of a document.
func (t *Tracker) FindLatest(ctx context.Context, documentID string) (*core.EmbeddingJob, error) {
	job, err := t.repo.FindLatestEmbeddingJob(ctx, documentID)
	return job, mapErr(err)
}

// RecordBatchCompletion adds a completed batch to a job.
//
// The returned claimed flag is true when this call owns the job's indexing
// dispatch: it is set by the update that moves the job to COMPLETED, or by a
// later call for a completed job whose previous claim was released. A batch
// index already recorded is a no-op.
func (t *Tracker) RecordBatchCompletion(ctx context.Context, jobID string, batchIndex, chunkCount int) (job *core.EmbeddingJob, claimed bool, err error) {
	err = retryConflicts(ctx, t.config, func() error {
		current, err := t.repo.GetEmbeddingJob(ctx, jobID)
		if err != nil {
			return mapErr(err)
		}
		if current.HasBatch(batchIndex) && current.IndexingDispatched {
			job, claimed = current, false
			return nil
		}
		if current.HasBatch(batchIndex) && current.Status != core.JobStatusCompleted {
			t.logger.Debug("ignoring duplicate batch completion", "job", jobID, "batch", batchIndex)
			job, claimed = current, false
			return nil
		}

		var claim bool
		updated, err := t.repo.UpdateEmbeddingJob(ctx, jobID, current.Version, func(j *core.EmbeddingJob) error {
			claim = false
			if _, err := j.ApplyBatch(batchIndex, chunkCount); err != nil {
				return err
			}
			if j.Status == core.JobStatusCompleted && !j.IndexingDispatched {
				j.IndexingDispatched = true
				j.LastError = ""
				claim = true
			}
			return nil
		})
		if err != nil {
			return mapErr(err)
		}
		job, claimed = updated, claim
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if claimed {
		t.logger.Info("embedding job completed", "job", jobID, "chunks", job.ProcessedChunks)
	}
	return job, claimed, nil
}

// ClaimIndexing marks a COMPLETED job's indexing as dispatched.
// It reports false when the job is not completed or already claimed.
func (t *Tracker) ClaimIndexing(ctx context.Context, jobID string) (bool, error) {
	var claimed bool
	err := retryConflicts(ctx, t.config, func() error {
		claimed = false
		current, err := t.repo.GetEmbeddingJob(ctx, jobID)
		if err != nil {
			return mapErr(err)
		}
		if current.Status != core.JobStatusCompleted || current.IndexingDispatched {
			return nil
		}
		_, err = t.repo.UpdateEmbeddingJob(ctx, jobID, current.Version, func(j *core.EmbeddingJob) error {
			j.IndexingDispatched = true
			j.LastError = ""
			return nil
		})
		if err != nil {
			return mapErr(err)
		}
		claimed = true
		return nil
	})
	return claimed, err
}

// ReleaseIndexing clears a claim whose IndexingRequest could not be published,
// so the next delivery of a completion can claim it again.
func (t *Tracker) ReleaseIndexing(ctx context.Context, jobID string) error {
	return retryConflicts(ctx, t.config, func() error {
		current, err := t.repo.GetEmbeddingJob(ctx, jobID)
		if err != nil {
			return mapErr(err)
		}
		if !current.IndexingDispatched {
			return nil
		}
		_, err = t.repo.UpdateEmbeddingJob(ctx, jobID, current.Version, func(j *core.EmbeddingJob) error {
			j.IndexingDispatched = false
			return nil
		})
		return mapErr(err)
	})
}

// MarkFailed moves a job to FAILED with cause as LastError.
// Returns ErrJobTerminal if the job already finished.
func (t *Tracker) MarkFailed(ctx context.Context, jobID, cause string) (*core.EmbeddingJob, error) {
	var result *core.EmbeddingJob
	err := retryConflicts(ctx, t.config, func() error {
		current, err := t.repo.GetEmbeddingJob(ctx, jobID)
		if err != nil {
			return mapErr(err)
		}
		result, err = t.repo.UpdateEmbeddingJob(ctx, jobID, current.Version, func(j *core.EmbeddingJob) error {
			return j.Fail(cause)
		})
		return mapErr(err)
	})
	if err != nil {
		return nil, err
	}
	t.logger.Warn("embedding job failed", "job", jobID, "document", result.DocumentID, "cause", cause)
	return result, nil
}

// RecordDispatchFailure stores cause as LastError on a COMPLETED job whose
// indexing was never dispatched. It reports false and changes nothing for any
// other job.
func (t *Tracker) RecordDispatchFailure(ctx context.Context, jobID, cause string) (bool, error) {
	var recorded bool
	err := retryConflicts(ctx, t.config, func() error {
		recorded = false
		current, err := t.repo.GetEmbeddingJob(ctx, jobID)
		if err != nil {
			return mapErr(err)
		}
		if current.Status != core.JobStatusCompleted || current.IndexingDispatched {
			return nil
		}
		_, err = t.repo.UpdateEmbeddingJob(ctx, jobID, current.Version, func(j *core.EmbeddingJob) error {
			j.LastError = cause
			return nil
		})
		if err != nil {
			return mapErr(err)
		}
		recorded = true
		return nil
	})
	if recorded {
		t.logger.Warn("embedding job completed without indexing", "job", jobID, "cause", cause)
	}
	return recorded, err
}

// ListStale returns jobs not updated within olderThan that still need work:
// IN_PROGRESS jobs, and COMPLETED jobs whose indexing was never dispatched.
// The report is read-only; nothing is reconciled.
func (t *Tracker) ListStale(ctx context.Context, olderThan time.Duration) ([]*core.EmbeddingJob, error) {
	active, err := t.repo.ListEmbeddingJobs(ctx, core.JobStatusInProgress)
	if err != nil {
		return nil, err
	}
	completed, err := t.repo.ListEmbeddingJobs(ctx, core.JobStatusCompleted)
	if err != nil {
		return nil, err
	}
	cutoff := t.now().Add(-olderThan)
	var stale []*core.EmbeddingJob
	for _, job := range active {
		if job.UpdatedAt.Before(cutoff) {
			stale = append(stale, job)
		}
	}
	for _, job := range completed {
		if !job.IndexingDispatched && job.UpdatedAt.Before(cutoff) {
			stale = append(stale, job)
		}
	}
	return stale, nil
}
