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

package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/poiesic/nuvine/bus"
	"github.com/poiesic/nuvine/core"
	"github.com/poiesic/nuvine/retry"
	"github.com/poiesic/nuvine/vectorstore"
)

// handleEmbeddingCompleted stages a batch's vectors and counts the batch into
// its job. The completion that finishes the job dispatches indexing.
func (p *Pipeline) handleEmbeddingCompleted(ctx context.Context, msg *bus.Message) error {
	ev, err := bus.Decode[core.EmbeddingCompleted](msg)
	if err != nil {
		return err
	}

	job, err := p.jobs.Get(ctx, ev.EmbeddingJobID)
	if err != nil {
		return fmt.Errorf("embedding job %s: %w", ev.EmbeddingJobID, err)
	}
	if !job.Status.Terminal() && !job.HasBatch(ev.BatchIndex) {
		if err := p.chunks.SaveEmbeddedChunks(ctx, job.ID, ev.EmbeddedChunks...); err != nil {
			return fmt.Errorf("stage batch %d of job %s: %w", ev.BatchIndex, job.ID, err)
		}
	}

	job, claimed, err := p.jobs.RecordBatchCompletion(ctx, job.ID, ev.BatchIndex, len(ev.EmbeddedChunks))
	if err != nil {
		return fmt.Errorf("record batch %d of job %s: %w", ev.BatchIndex, ev.EmbeddingJobID, err)
	}
	p.logger.Debug("batch recorded", "job", job.ID, "batch", ev.BatchIndex, "progress", job.Progress())
	if !claimed {
		return nil
	}
	return p.dispatchIndexing(ctx, job)
}

// dispatchIndexing publishes the indexing request of a job whose dispatch the
// caller has claimed. On failure the claim is released so a redelivered
// completion can try again.
func (p *Pipeline) dispatchIndexing(ctx context.Context, job *core.EmbeddingJob) error {
	chunks, err := p.chunks.GetEmbeddedChunks(ctx, job.ID)
	if err == nil && len(chunks) != job.TotalChunks {
		err = retry.Permanent(fmt.Errorf("%w: %d staged, %d expected", ErrIncompleteChunks, len(chunks), job.TotalChunks))
	}
	if err == nil {
		err = p.advance(ctx, job.IngestionJobID, core.StageIndex)
	}
	if err == nil {
		req := core.IndexingRequest{
			EmbeddingJobID: job.ID,
			IngestionJobID: job.IngestionJobID,
			DocumentID:     job.DocumentID,
			ProjectID:      job.ProjectID,
			WorkspaceID:    job.WorkspaceID,
			EmbeddedChunks: chunks,
		}
		err = bus.PublishEvent(ctx, p.bus, job.DocumentID, req)
	}
	if err != nil {
		return p.releaseIndexing(ctx, job.ID, err)
	}
	p.logger.Info("indexing requested", "job", job.ID, "document", job.DocumentID, "chunks", len(chunks))
	return nil
}

// releaseIndexing gives back a dispatch claim after cause prevented the
// dispatch, and returns cause.
func (p *Pipeline) releaseIndexing(ctx context.Context, jobID string, cause error) error {
	if err := p.jobs.ReleaseIndexing(ctx, jobID); err != nil {
		p.logger.Error("failed to release indexing claim", "job", jobID, "err", err)
		cause = errors.Join(cause, err)
	}
	return fmt.Errorf("dispatch indexing for job %s: %w", jobID, cause)
}

// handleIndexingRequest writes a document's vectors to the vector store and
// announces the document as searchable.
func (p *Pipeline) handleIndexingRequest(ctx context.Context, msg *bus.Message) error {
	req, err := bus.Decode[core.IndexingRequest](msg)
	if err != nil {
		return err
	}

	namespace := vectorstore.Namespace(req.WorkspaceID, req.ProjectID)
	// A re-ingested document replaces every vector of its previous version.
	if err := p.store.DeleteDocument(ctx, namespace, req.DocumentID); err != nil {
		return fmt.Errorf("clear document %s: %w", req.DocumentID, err)
	}
	if err := p.store.Upsert(ctx, namespace, req.EmbeddedChunks); err != nil {
		return fmt.Errorf("index document %s: %w", req.DocumentID, err)
	}
	if err := p.advance(ctx, req.IngestionJobID, core.StageDone); err != nil {
		return err
	}

	done := p.completedEvent(req.IngestionJobID, req.EmbeddingJobID, req.DocumentID, req.WorkspaceID, req.ProjectID, len(req.EmbeddedChunks))
	if err := bus.PublishEvent(ctx, p.bus, req.DocumentID, done); err != nil {
		return fmt.Errorf("announce document %s: %w", req.DocumentID, err)
	}

	if req.EmbeddingJobID != "" {
		if err := p.chunks.DeleteEmbeddedChunks(ctx, req.EmbeddingJobID); err != nil {
			p.logger.Warn("failed to clear staged chunks", "job", req.EmbeddingJobID, "err", err)
		}
	}
	p.logger.Info("document indexed", "document", req.DocumentID, "namespace", namespace, "chunks", len(req.EmbeddedChunks))
	return nil
}

func (p *Pipeline) completedEvent(ingestionJobID, embeddingJobID, documentID, workspaceID, projectID string, chunks int) core.DocumentCompleted {
	return core.DocumentCompleted{
		IngestionJobID: ingestionJobID,
		EmbeddingJobID: embeddingJobID,
		DocumentID:     documentID,
		WorkspaceID:    workspaceID,
		ProjectID:      projectID,
		ChunkCount:     chunks,
		CompletedAt:    p.now().UTC(),
	}
}

// handleDocumentCompleted runs post-completion side effects.
func (p *Pipeline) handleDocumentCompleted(ctx context.Context, msg *bus.Message) error {
	ev, err := bus.Decode[core.DocumentCompleted](msg)
	if err != nil {
		return err
	}
	p.logger.Info("document completed", "document", ev.DocumentID, "ingestionJob", ev.IngestionJobID, "chunks", ev.ChunkCount)
	if p.onComplete == nil {
		return nil
	}
	return p.onComplete(ctx, ev)
}
