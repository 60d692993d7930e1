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

package storage

import (
	"context"

	"github.com/poiesic/nuvine/core"
)

// Mutation changes a job snapshot in place. Returning an error aborts the update.
type Mutation[T any] func(job *T) error

// Repository provides common storage operations shared across all repositories.
// Implementations must be thread-safe and support concurrent access.
type Repository interface {
	// WithTransaction executes a function within a transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	// The context passed to fn may contain transaction state.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	// Close closes the storage backend and releases resources.
	Close() error
}

// EmbeddingJobRepository stores embedding jobs with optimistic concurrency.
type EmbeddingJobRepository interface {
	Repository

	// CreateEmbeddingJob stores a new job with Version=1 and sets CreatedAt/UpdatedAt.
	// Returns ErrDuplicateKey if a non-terminal job already exists for the same document
	// or a job with the same ID exists.
	CreateEmbeddingJob(ctx context.Context, job *core.EmbeddingJob) (*core.EmbeddingJob, error)

	// GetEmbeddingJob retrieves a job by ID.
	// Returns ErrNotFound if the job doesn't exist.
	GetEmbeddingJob(ctx context.Context, id string) (*core.EmbeddingJob, error)

	// FindLatestEmbeddingJob returns the most recently created job for a document.
	// Returns ErrNotFound if the document has no jobs.
	FindLatestEmbeddingJob(ctx context.Context, documentID string) (*core.EmbeddingJob, error)

	// UpdateEmbeddingJob applies mutate to the stored job if its Version equals
	// expectedVersion, then stores it with Version+1 and a fresh UpdatedAt.
	// Returns ErrNotFound for unknown IDs and ErrVersionConflict when the version
	// is stale or a concurrent writer committed first.
	UpdateEmbeddingJob(ctx context.Context, id string, expectedVersion int64, mutate Mutation[core.EmbeddingJob]) (*core.EmbeddingJob, error)

	// ListEmbeddingJobs returns jobs with the given status, oldest UpdatedAt first.
	ListEmbeddingJobs(ctx context.Context, status core.JobStatus) ([]*core.EmbeddingJob, error)
}

// IngestionJobRepository stores ingestion jobs with optimistic concurrency.
type IngestionJobRepository interface {
	Repository

	// CreateIngestionJob stores a new job with Version=1.
	// Returns ErrDuplicateKey if a job with the same ID exists.
	CreateIngestionJob(ctx context.Context, job *core.IngestionJob) (*core.IngestionJob, error)

	// GetIngestionJob retrieves a job by ID.
	// Returns ErrNotFound if the job doesn't exist.
	GetIngestionJob(ctx context.Context, id string) (*core.IngestionJob, error)

	// UpdateIngestionJob has the same contract as UpdateEmbeddingJob.
	UpdateIngestionJob(ctx context.Context, id string, expectedVersion int64, mutate Mutation[core.IngestionJob]) (*core.IngestionJob, error)
}

// EmbeddedChunkRepository holds per-batch embedding results until a job completes.
type EmbeddedChunkRepository interface {
	// SaveEmbeddedChunks stores chunks for a job, replacing any chunk with the same index.
	SaveEmbeddedChunks(ctx context.Context, jobID string, chunks ...core.EmbeddedChunk) error

	// GetEmbeddedChunks returns all chunks stored for a job ordered by Index.
	GetEmbeddedChunks(ctx context.Context, jobID string) ([]core.EmbeddedChunk, error)

	// DeleteEmbeddedChunks removes every chunk stored for a job.
	DeleteEmbeddedChunks(ctx context.Context, jobID string) error
}

// DeadLetterRepository archives dead-letter envelopes for inspection and replay.
type DeadLetterRepository interface {
	// SaveDeadLetter stores or replaces an envelope keyed by its ID.
	SaveDeadLetter(ctx context.Context, envelope *core.DeadLetterEnvelope) error

	// GetDeadLetter retrieves an envelope by ID.
	// Returns ErrNotFound if the envelope doesn't exist.
	GetDeadLetter(ctx context.Context, id string) (*core.DeadLetterEnvelope, error)

	// ListDeadLetters returns envelopes for a topic (all topics when empty),
	// oldest LastFailedAt first, up to limit (no limit when <= 0).
	ListDeadLetters(ctx context.Context, topic string, limit int) ([]*core.DeadLetterEnvelope, error)

	// DeleteDeadLetter removes an envelope.
	// Returns ErrNotFound if the envelope doesn't exist.
	DeleteDeadLetter(ctx context.Context, id string) error
}
