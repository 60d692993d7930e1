package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/poiesic/nuvine/bus"
	"github.com/poiesic/nuvine/core"
	"github.com/poiesic/nuvine/retry"
)

// jobRefs picks the job ids out of any pipeline event payload.
type jobRefs struct {
	EmbeddingJobID string `json:"embeddingJobId"`
	IngestionJobID string `json:"ingestionJobId"`
}

// handleDeadLetter archives an envelope and fails the jobs its event belonged to.
// Dead letters from document.completed only affect side effects, so their
// jobs stay as they are and the envelope waits for the redriver.
func (p *Pipeline) handleDeadLetter(ctx context.Context, msg *bus.Message) error {
	env, err := retry.DecodeEnvelope(msg)
	if err != nil {
		p.logger.Error("discarding unreadable dead letter", "id", msg.ID, "topic", msg.Topic, "err", err)
		return nil
	}
	if err := p.letters.SaveDeadLetter(ctx, env); err != nil {
		return fmt.Errorf("archive dead letter %s: %w", env.ID, err)
	}
	p.logger.Warn("dead letter archived", "id", env.ID, "topic", env.OriginalTopic, "key", env.MessageKey,
		"attempts", env.AttemptCount, "class", env.ErrorClass, "error", env.ErrorMessage)

	if env.OriginalTopic == core.TopicDocumentCompleted {
		return nil
	}
	var refs jobRefs
	if err := json.Unmarshal(env.OriginalEvent, &refs); err != nil {
		return nil
	}
	return p.failJobs(ctx, env, refs)
}

func (p *Pipeline) failJobs(ctx context.Context, env *core.DeadLetterEnvelope, refs jobRefs) error {
	reason := fmt.Sprintf("%s dead-lettered after %d attempts: %s", env.OriginalTopic, env.AttemptCount, env.ErrorMessage)

	var errs []error
	if refs.EmbeddingJobID != "" {
		errs = append(errs, p.failEmbeddingJob(ctx, refs.EmbeddingJobID, reason))
	}
	if refs.IngestionJobID != "" {
		_, err := p.ingestion.MarkFailed(ctx, refs.IngestionJobID, reason)
		if ignorable(err) {
			err = nil
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// failEmbeddingJob fails an unfinished job and drops its staged chunks. A job
// that completed but never dispatched indexing keeps its status and staged
// chunks, and records reason so the stale report shows why it stopped.
func (p *Pipeline) failEmbeddingJob(ctx context.Context, jobID, reason string) error {
	_, err := p.jobs.MarkFailed(ctx, jobID, reason)
	if errors.Is(err, core.ErrJobTerminal) {
		recorded, rerr := p.jobs.RecordDispatchFailure(ctx, jobID, reason)
		if rerr != nil {
			return rerr
		}
		if recorded {
			return nil
		}
	}
	if ignorable(err) {
		err = nil
	}
	if err != nil {
		return err
	}
	return p.chunks.DeleteEmbeddedChunks(ctx, jobID)
}

// ignorable reports whether a failed MarkFailed leaves nothing to do.
func ignorable(err error) bool {
	return errors.Is(err, core.ErrJobNotFound) || errors.Is(err, core.ErrJobTerminal) || errors.Is(err, core.ErrInvalidTransition)
}
