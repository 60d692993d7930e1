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

package postgres

import (
	"time"

	"github.com/poiesic/nuvine/core"
	"github.com/uptrace/bun"
)

type embeddingJobRow struct {
	bun.BaseModel `bun:"table:embedding_jobs,alias:ej"`

	ID                 string    `bun:"id,pk"`
	WorkspaceID        string    `bun:"workspace_id,notnull"`
	ProjectID          string    `bun:"project_id,notnull"`
	DocumentID         string    `bun:"document_id,notnull"`
	IngestionJobID     string    `bun:"ingestion_job_id,notnull"`
	Status             string    `bun:"status,notnull"`
	TotalChunks        int       `bun:"total_chunks,notnull"`
	ProcessedChunks    int       `bun:"processed_chunks,notnull"`
	ModelUsed          string    `bun:"model_used,notnull"`
	LastError          string    `bun:"last_error,notnull"`
	CompletedBatches   []int     `bun:"completed_batches,array"`
	IndexingDispatched bool      `bun:"indexing_dispatched,notnull"`
	CreatedAt          time.Time `bun:"created_at,notnull"`
	UpdatedAt          time.Time `bun:"updated_at,notnull"`
	Version            int64     `bun:"version,notnull"`
}

func toEmbeddingJobRow(job *core.EmbeddingJob) *embeddingJobRow {
	return &embeddingJobRow{
		ID:                 job.ID,
		WorkspaceID:        job.WorkspaceID,
		ProjectID:          job.ProjectID,
		DocumentID:         job.DocumentID,
		IngestionJobID:     job.IngestionJobID,
		Status:             job.Status.String(),
		TotalChunks:        job.TotalChunks,
		ProcessedChunks:    job.ProcessedChunks,
		ModelUsed:          job.ModelUsed,
		LastError:          job.LastError,
		CompletedBatches:   job.CompletedBatches,
		IndexingDispatched: job.IndexingDispatched,
		CreatedAt:          job.CreatedAt,
		UpdatedAt:          job.UpdatedAt,
		Version:            job.Version,
	}
}

func (r *embeddingJobRow) toCore() (*core.EmbeddingJob, error) {
	status, err := core.ParseJobStatus(r.Status)
	if err != nil {
		return nil, err
	}
	return &core.EmbeddingJob{
		ID:                 r.ID,
		WorkspaceID:        r.WorkspaceID,
		ProjectID:          r.ProjectID,
		DocumentID:         r.DocumentID,
		IngestionJobID:     r.IngestionJobID,
		Status:             status,
		TotalChunks:        r.TotalChunks,
		ProcessedChunks:    r.ProcessedChunks,
		ModelUsed:          r.ModelUsed,
		LastError:          r.LastError,
		CompletedBatches:   r.CompletedBatches,
		IndexingDispatched: r.IndexingDispatched,
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
		Version:            r.Version,
	}, nil
}

type ingestionJobRow struct {
	bun.BaseModel `bun:"table:ingestion_jobs,alias:ij"`

	ID          string    `bun:"id,pk"`
	DocumentID  string    `bun:"document_id,notnull"`
	WorkspaceID string    `bun:"workspace_id,notnull"`
	ProjectID   string    `bun:"project_id,notnull"`
	StorageKey  string    `bun:"storage_key,notnull"`
	MimeType    string    `bun:"mime_type,notnull"`
	SizeBytes   int64     `bun:"size_bytes,notnull"`
	Status      string    `bun:"status,notnull"`
	Stage       string    `bun:"stage,notnull"`
	RetryCount  int       `bun:"retry_count,notnull"`
	LastError   string    `bun:"last_error,notnull"`
	CreatedAt   time.Time `bun:"created_at,notnull"`
	UpdatedAt   time.Time `bun:"updated_at,notnull"`
	Version     int64     `bun:"version,notnull"`
}

func toIngestionJobRow(job *core.IngestionJob) *ingestionJobRow {
	return &ingestionJobRow{
		ID:          job.ID,
		DocumentID:  job.DocumentID,
		WorkspaceID: job.WorkspaceID,
		ProjectID:   job.ProjectID,
		StorageKey:  job.StorageKey,
		MimeType:    job.MimeType,
		SizeBytes:   job.SizeBytes,
		Status:      job.Status.String(),
		Stage:       job.Stage.String(),
		RetryCount:  job.RetryCount,
		LastError:   job.LastError,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
		Version:     job.Version,
	}
}

func (r *ingestionJobRow) toCore() (*core.IngestionJob, error) {
	status, err := core.ParseJobStatus(r.Status)
	if err != nil {
		return nil, err
	}
	stage, err := core.ParseStage(r.Stage)
	if err != nil {
		return nil, err
	}
	return &core.IngestionJob{
		ID:          r.ID,
		DocumentID:  r.DocumentID,
		WorkspaceID: r.WorkspaceID,
		ProjectID:   r.ProjectID,
		StorageKey:  r.StorageKey,
		MimeType:    r.MimeType,
		SizeBytes:   r.SizeBytes,
		Status:      status,
		Stage:       stage,
		RetryCount:  r.RetryCount,
		LastError:   r.LastError,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
		Version:     r.Version,
	}, nil
}

type embeddedChunkRow struct {
	bun.BaseModel `bun:"table:embedded_chunks,alias:ec"`

	JobID       string    `bun:"job_id,pk"`
	ChunkIndex  int       `bun:"chunk_index,pk"`
	DocumentID  string    `bun:"document_id,notnull"`
	Page        int       `bun:"page,notnull"`
	StartOffset int       `bun:"start_offset,notnull"`
	EndOffset   int       `bun:"end_offset,notnull"`
	Content     string    `bun:"content,notnull"`
	Embedding   []float32 `bun:"embedding,array"`
}

func toEmbeddedChunkRow(jobID string, c core.EmbeddedChunk) embeddedChunkRow {
	return embeddedChunkRow{
		JobID:       jobID,
		ChunkIndex:  c.Index,
		DocumentID:  c.DocumentID,
		Page:        c.Page,
		StartOffset: c.StartOffset,
		EndOffset:   c.EndOffset,
		Content:     c.Content,
		Embedding:   c.Embedding,
	}
}

func (r *embeddedChunkRow) toCore() core.EmbeddedChunk {
	return core.EmbeddedChunk{
		Chunk: core.Chunk{
			DocumentID:  r.DocumentID,
			Page:        r.Page,
			StartOffset: r.StartOffset,
			EndOffset:   r.EndOffset,
			Content:     r.Content,
			Index:       r.ChunkIndex,
		},
		Embedding: r.Embedding,
	}
}

type deadLetterRow struct {
	bun.BaseModel `bun:"table:dead_letters,alias:dl"`

	ID            string    `bun:"id,pk"`
	OriginalTopic string    `bun:"original_topic,notnull"`
	MessageKey    string    `bun:"message_key,notnull"`
	OriginalEvent []byte    `bun:"original_event,type:bytea"`
	AttemptCount  int       `bun:"attempt_count,notnull"`
	ErrorMessage  string    `bun:"error_message,notnull"`
	ErrorClass    string    `bun:"error_class,notnull"`
	FirstFailedAt time.Time `bun:"first_failed_at,notnull"`
	LastFailedAt  time.Time `bun:"last_failed_at,notnull"`
}

func toDeadLetterRow(env *core.DeadLetterEnvelope) *deadLetterRow {
	return &deadLetterRow{
		ID:            env.ID,
		OriginalTopic: env.OriginalTopic,
		MessageKey:    env.MessageKey,
		OriginalEvent: env.OriginalEvent,
		AttemptCount:  env.AttemptCount,
		ErrorMessage:  env.ErrorMessage,
		ErrorClass:    env.ErrorClass,
		FirstFailedAt: env.FirstFailedAt,
		LastFailedAt:  env.LastFailedAt,
	}
}

func (r *deadLetterRow) toCore() *core.DeadLetterEnvelope {
	return &core.DeadLetterEnvelope{
		ID:            r.ID,
		OriginalTopic: r.OriginalTopic,
		MessageKey:    r.MessageKey,
		OriginalEvent: r.OriginalEvent,
		AttemptCount:  r.AttemptCount,
		ErrorMessage:  r.ErrorMessage,
		ErrorClass:    r.ErrorClass,
		FirstFailedAt: r.FirstFailedAt.UTC(),
		LastFailedAt:  r.LastFailedAt.UTC(),
	}
}
