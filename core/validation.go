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

package core

import "fmt"

// ValidateEmbeddingJob validates an EmbeddingJob snapshot against the job invariants.
//
// Validation rules:
//   - ID and DocumentID must not be empty
//   - 0 <= ProcessedChunks <= TotalChunks
//   - a non-failed job is COMPLETED exactly when ProcessedChunks == TotalChunks
//
// NOT validated:
//   - CompletedBatches (batch sizes are not known to the job)
func ValidateEmbeddingJob(job *EmbeddingJob) error {
	if job == nil {
		return fmt.Errorf("%w: job is nil", ErrInvalidJob)
	}
	if job.ID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidJob, ErrEmptyJobID)
	}
	if job.DocumentID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidJob, ErrEmptyDocumentID)
	}
	if job.TotalChunks < 0 || job.ProcessedChunks < 0 {
		return fmt.Errorf("%w: %w", ErrInvalidJob, ErrNegativeCount)
	}
	if job.ProcessedChunks > job.TotalChunks {
		return fmt.Errorf("%w: %w", ErrInvalidJob, ErrChunkOverflow)
	}
	if _, ok := jobStatusNames[job.Status]; !ok {
		return fmt.Errorf("%w: unknown status %d", ErrInvalidJob, job.Status)
	}
	if job.Status != JobStatusFailed {
		done := job.ProcessedChunks == job.TotalChunks
		if done != (job.Status == JobStatusCompleted) {
			return fmt.Errorf("%w: status %s with %d/%d chunks", ErrInvalidJob, job.Status, job.ProcessedChunks, job.TotalChunks)
		}
	}
	return nil
}

// ValidateIngestionJob validates an IngestionJob snapshot.
func ValidateIngestionJob(job *IngestionJob) error {
	if job == nil {
		return fmt.Errorf("%w: job is nil", ErrInvalidJob)
	}
	if job.ID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidJob, ErrEmptyJobID)
	}
	if job.DocumentID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidJob, ErrEmptyDocumentID)
	}
	if _, ok := stageNames[job.Stage]; !ok {
		return fmt.Errorf("%w: unknown stage %d", ErrInvalidJob, job.Stage)
	}
	if _, ok := jobStatusNames[job.Status]; !ok {
		return fmt.Errorf("%w: unknown status %d", ErrInvalidJob, job.Status)
	}
	if job.Stage == StageDone && job.Status != JobStatusCompleted {
		return fmt.Errorf("%w: stage DONE with status %s", ErrInvalidJob, job.Status)
	}
	return nil
}
