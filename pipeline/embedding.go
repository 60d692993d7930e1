package pipeline

import (
	"cmp"
	"context"
	"fmt"

	"github.com/poiesic/nuvine/ai"
	"github.com/poiesic/nuvine/breaker"
	"github.com/poiesic/nuvine/bus"
	"github.com/poiesic/nuvine/core"
)

// handleEmbeddingRequest embeds one batch through the model's circuit breaker
// and reports the vectors.
func (p *Pipeline) handleEmbeddingRequest(ctx context.Context, msg *bus.Message) error {
	req, err := bus.Decode[core.EmbeddingRequest](msg)
	if err != nil {
		return err
	}

	job, err := p.jobs.Get(ctx, req.EmbeddingJobID)
	if err != nil {
		return fmt.Errorf("embedding job %s: %w", req.EmbeddingJobID, err)
	}
	if job.HasBatch(req.BatchIndex) {
		p.logger.Debug("batch already embedded", "job", job.ID, "batch", req.BatchIndex)
		return nil
	}
	if job.Status.Terminal() {
		p.logger.Warn("embedding request for finished job", "job", job.ID, "status", job.Status, "batch", req.BatchIndex)
		return fmt.Errorf("%w: job %s is %s", core.ErrJobTerminal, job.ID, job.Status)
	}

	model := p.model(cmp.Or(req.Model, job.ModelUsed))
	vectors, err := p.embed(ctx, model, req.Texts)
	if err != nil {
		return fmt.Errorf("embed batch %d of job %s: %w", req.BatchIndex, job.ID, err)
	}

	chunks := req.Chunks()
	embedded := make([]core.EmbeddedChunk, len(chunks))
	for i, c := range chunks {
		embedded[i] = core.EmbeddedChunk{Chunk: c, Embedding: vectors[i]}
	}
	done := core.EmbeddingCompleted{
		EmbeddingJobID: job.ID,
		IngestionJobID: job.IngestionJobID,
		DocumentID:     job.DocumentID,
		BatchIndex:     req.BatchIndex,
		EmbeddedChunks: embedded,
		Model:          model,
	}
	if err := bus.PublishEvent(ctx, p.bus, job.ID, done); err != nil {
		return fmt.Errorf("report batch %d of job %s: %w", req.BatchIndex, job.ID, err)
	}
	p.logger.Debug("batch embedded", "job", job.ID, "batch", req.BatchIndex, "chunks", len(embedded), "model", model)
	return nil
}

// embed calls the provider for model. An open breaker rejects the call with
// a *breaker.OpenError before the provider is reached.
func (p *Pipeline) embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	vectors, err := breaker.Do(ctx, p.breakers, model, func(ctx context.Context) ([][]float32, error) {
		embedder, err := p.provider.EmbedderFor(ctx, model)
		if err != nil {
			return nil, err
		}
		return embedder.EmbedTexts(ctx, texts)
	})
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: %d vectors for %d texts", ai.ErrEmbeddingCountMismatch, len(vectors), len(texts))
	}
	return vectors, nil
}
