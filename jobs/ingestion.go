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

	"github.com/poiesic/nuvine/core"
	"github.com/poiesic/nuvine/storage"
)

// IngestionTracker manages IngestionJob stage progression.
type IngestionTracker struct {
	repo   storage.IngestionJobRepository
	config Config
	logger *slog.Logger
}

// NewIngestionTracker creates an IngestionTracker over repo.
func NewIngestionTracker(repo storage.IngestionJobRepository, opts ...Option) (*IngestionTracker, error) {
	if repo == nil {
		return nil, ErrRepositoryRequired
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	return &IngestionTracker{
		repo:   repo,
		config: o.config,
		logger: o.logger.With("component", "ingestion-tracker"),
	}, nil
}

// CreateIngestionJob records an uploaded document at the PARSE stage.
// When the event names an existing ingestion job, that job is returned
// unchanged, so redelivered uploads are harmless.
func (t *IngestionTracker) CreateIngestionJob(ctx context.Context, ev core.DocumentUploaded) (*core.IngestionJob, error) {
	if ev.IngestionJobID != "" {
		existing, err := t.repo.GetIngestionJob(ctx, ev.IngestionJobID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}

	job := &core.IngestionJob{
		ID:          ev.IngestionJobID,
		DocumentID:  ev.DocumentID,
		WorkspaceID: ev.WorkspaceID,
		ProjectID:   ev.ProjectID,
		StorageKey:  ev.StorageKey,
		MimeType:    ev.MimeType,
		SizeBytes:   ev.SizeBytes,
		Status:      core.JobStatusPending,
		Stage:       core.StageParse,
	}
	if job.ID == "" {
		job.ID = core.NewID()
	}
	if err := core.ValidateIngestionJob(job); err != nil {
		return nil, err
	}

	created, err := t.repo.CreateIngestionJob(ctx, job)
	if errors.Is(err, storage.ErrDuplicateKey) {
		// Lost a race with a concurrent delivery of the same upload
		existing, gerr := t.repo.GetIngestionJob(ctx, job.ID)
		return existing, mapErr(gerr)
	}
	if err != nil {
		return nil, err
	}
	t.logger.Info("created ingestion job", "job", created.ID, "document", created.DocumentID)
	return created, nil
}

// Get returns an ingestion job by ID.
func (t *IngestionTracker) Get(ctx context.Context, jobID string) (*core.IngestionJob, error) {
	job, err := t.repo.GetIngestionJob(ctx, jobID)
	return job, mapErr(err)
}

// update runs mutate under the version check, retrying conflicts.
// When skip reports true the stored job is returned untouched.
func (t *IngestionTracker) update(ctx context.Context, jobID string, skip func(*core.IngestionJob) bool, mutate storage.Mutation[core.IngestionJob]) (*core.IngestionJob, error) {
	var result *core.IngestionJob
	err := retryConflicts(ctx, t.config, func() error {
		current, err := t.repo.GetIngestionJob(ctx, jobID)
		if err != nil {
			return mapErr(err)
		}
		if skip != nil && skip(current) {
			result = current
			return nil
		}
		result, err = t.repo.UpdateIngestionJob(ctx, jobID, current.Version, mutate)
		return mapErr(err)
	})
	return result, err
}

// AdvanceStage moves a job forward to stage. Earlier or equal stages are a no-op.
func (t *IngestionTracker) AdvanceStage(ctx context.Context, jobID string, stage core.Stage) (*core.IngestionJob, error) {
	job, err := t.update(ctx, jobID,
		func(j *core.IngestionJob) bool { return stage <= j.Stage },
		func(j *core.IngestionJob) error {
			_, err := j.Advance(stage)
			return err
		})
	if err != nil {
		return nil, fmt.Errorf("advance %s to %s: %w", jobID, stage, err)
	}
	t.logger.Debug("ingestion job advanced", "job", jobID, "stage", job.Stage, "status", job.Status)
	return job, nil
}

// RecordFailure counts a failed attempt without ending the job.
func (t *IngestionTracker) RecordFailure(ctx context.Context, jobID, reason string) (*core.IngestionJob, error) {
	return t.update(ctx, jobID, nil, func(j *core.IngestionJob) error {
		return j.RecordFailure(reason)
	})
}

// MarkFailed moves a job to FAILED with reason as LastError.
// Returns ErrJobTerminal if the job already finished.
func (t *IngestionTracker) MarkFailed(ctx context.Context, jobID, reason string) (*core.IngestionJob, error) {
	job, err := t.update(ctx, jobID, nil, func(j *core.IngestionJob) error {
		return j.Fail(reason)
	})
	if err != nil {
		return nil, err
	}
	t.logger.Warn("ingestion job failed", "job", jobID, "document", job.DocumentID, "reason", reason)
	return job, nil
}
