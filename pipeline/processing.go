package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/poiesic/nuvine/batch"
	"github.com/poiesic/nuvine/bus"
	"github.com/poiesic/nuvine/core"
	"github.com/poiesic/nuvine/jobs"
	"github.com/poiesic/nuvine/retry"
)

// handleDocumentUploaded records an ingestion job and asks the extraction
// service to parse the document.
func (p *Pipeline) handleDocumentUploaded(ctx context.Context, msg *bus.Message) error {
	ev, err := bus.Decode[core.DocumentUploaded](msg)
	if err != nil {
		return err
	}

	job, err := p.ingestion.CreateIngestionJob(ctx, ev)
	if err != nil {
		return fmt.Errorf("create ingestion job for %s: %w", ev.DocumentID, err)
	}
	if job.Stage > core.StageParse || job.Status.Terminal() {
		p.logger.Debug("upload already handled", "ingestionJob", job.ID, "stage", job.Stage, "status", job.Status)
		return nil
	}

	req := core.ExtractRequest{
		IngestionJobID: job.ID,
		DocumentID:     job.DocumentID,
		WorkspaceID:    job.WorkspaceID,
		ProjectID:      job.ProjectID,
		StorageKey:     job.StorageKey,
		MimeType:       job.MimeType,
	}
	if err := bus.PublishEvent(ctx, p.bus, job.DocumentID, req); err != nil {
		return fmt.Errorf("request extraction of %s: %w", job.DocumentID, err)
	}
	p.logger.Info("extraction requested", "ingestionJob", job.ID, "document", job.DocumentID)
	return nil
}

// handleProcessingRequest starts an embedding job for the extracted chunks and
// dispatches one embedding request per batch.
func (p *Pipeline) handleProcessingRequest(ctx context.Context, msg *bus.Message) error {
	req, err := bus.Decode[core.ProcessingRequest](msg)
	if err != nil {
		return err
	}

	chunks := make([]core.Chunk, len(req.Chunks))
	for i, c := range req.Chunks {
		if c.DocumentID == "" {
			c.DocumentID = req.DocumentID
		}
		chunks[i] = c
	}
	batches, err := batch.Partition(chunks, p.config.BatchSize)
	if err != nil {
		return retry.Permanent(err)
	}

	job, err := p.startJob(ctx, req, len(chunks))
	if err != nil {
		return err
	}
	if err := p.advance(ctx, req.IngestionJobID, core.StageEmbed); err != nil {
		return err
	}

	if job.TotalChunks == 0 {
		return p.completeEmptyJob(ctx, job)
	}

	dispatched := 0
	for _, b := range batches {
		if job.HasBatch(b.Index) {
			continue
		}
		if err := bus.PublishEvent(ctx, p.bus, b.ID(job.ID), b.Request(job)); err != nil {
			return fmt.Errorf("dispatch batch %d of job %s: %w", b.Index, job.ID, err)
		}
		dispatched++
	}
	p.logger.Info("embedding batches dispatched", "job", job.ID, "document", job.DocumentID,
		"chunks", job.TotalChunks, "batches", len(batches), "dispatched", dispatched, "model", job.ModelUsed)
	return nil
}

// startJob creates the embedding job for a request, or returns the job an
// earlier delivery of the same request created.
func (p *Pipeline) startJob(ctx context.Context, req core.ProcessingRequest, total int) (*core.EmbeddingJob, error) {
	if req.IngestionJobID != "" {
		latest, err := p.jobs.FindLatest(ctx, req.DocumentID)
		switch {
		case err == nil && latest.IngestionJobID == req.IngestionJobID:
			if latest.Status == core.JobStatusFailed {
				return nil, fmt.Errorf("%w: embedding job %s failed: %s", core.ErrJobTerminal, latest.ID, latest.LastError)
			}
			if latest.TotalChunks != total {
				return nil, retry.Permanent(fmt.Errorf("embedding job %s expects %d chunks, request has %d", latest.ID, latest.TotalChunks, total))
			}
			p.logger.Info("resuming embedding job", "job", latest.ID, "document", latest.DocumentID, "status", latest.Status)
			return latest, nil
		case err != nil && !errors.Is(err, core.ErrJobNotFound):
			return nil, err
		}
	}

	job, err := p.jobs.CreateEmbeddingJob(ctx, jobs.CreateEmbeddingJobParams{
		WorkspaceID:    req.WorkspaceID,
		ProjectID:      req.ProjectID,
		DocumentID:     req.DocumentID,
		IngestionJobID: req.IngestionJobID,
		TotalChunks:    total,
		Model:          p.model(req.Model),
	})
	if errors.Is(err, core.ErrDuplicateJob) && req.IngestionJobID == "" {
		// Nothing ties the request to the running job, so a replay cannot help
		return nil, retry.Permanent(err)
	}
	return job, err
}

// completeEmptyJob finishes a document with no chunks: there is nothing to
// embed or index, so it is announced as completed straight away.
func (p *Pipeline) completeEmptyJob(ctx context.Context, job *core.EmbeddingJob) error {
	claimed, err := p.jobs.ClaimIndexing(ctx, job.ID)
	if err != nil || !claimed {
		return err
	}

	err = p.advance(ctx, job.IngestionJobID, core.StageDone)
	if err == nil {
		err = bus.PublishEvent(ctx, p.bus, job.DocumentID, p.completedEvent(job.IngestionJobID, job.ID, job.DocumentID, job.WorkspaceID, job.ProjectID, 0))
	}
	if err != nil {
		return p.releaseIndexing(ctx, job.ID, err)
	}
	p.logger.Info("empty document completed", "job", job.ID, "document", job.DocumentID)
	return nil
}
