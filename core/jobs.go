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

import (
	"fmt"
	"slices"
)

// CanTransition reports whether the job state machine allows moving from one status to another.
//
//	PENDING -> IN_PROGRESS -> COMPLETED
//	PENDING -> FAILED, IN_PROGRESS -> FAILED
//
// COMPLETED and FAILED are terminal.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusPending:
		return to == JobStatusInProgress || to == JobStatusFailed
	case JobStatusInProgress:
		return to == JobStatusCompleted || to == JobStatusFailed
	default:
		return false
	}
}

func transition(current *JobStatus, to JobStatus) error {
	if current.Terminal() {
		return fmt.Errorf("%w: %s", ErrJobTerminal, *current)
	}
	if !CanTransition(*current, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, *current, to)
	}
	*current = to
	return nil
}

// Clone returns a deep copy of the job.
func (j *EmbeddingJob) Clone() *EmbeddingJob {
	c := *j
	c.CompletedBatches = slices.Clone(j.CompletedBatches)
	return &c
}

// HasBatch reports whether batchIndex has already been counted.
func (j *EmbeddingJob) HasBatch(batchIndex int) bool {
	_, found := slices.BinarySearch(j.CompletedBatches, batchIndex)
	return found
}

// Progress returns the completed percentage in the range [0, 100].
func (j *EmbeddingJob) Progress() float64 {
	if j.TotalChunks == 0 {
		if j.Status == JobStatusCompleted {
			return 100
		}
		return 0
	}
	return float64(j.ProcessedChunks) / float64(j.TotalChunks) * 100
}

// Transition moves the job to the given status if the state machine allows it.
func (j *EmbeddingJob) Transition(to JobStatus) error {
	return transition(&j.Status, to)
}

// ApplyBatch counts a completed batch of chunkCount chunks into the job.
//
// A batch index that was already counted leaves the job unchanged and reports
// changed=false, so redelivered completions are harmless. The job moves to
// COMPLETED when ProcessedChunks reaches TotalChunks.
func (j *EmbeddingJob) ApplyBatch(batchIndex, chunkCount int) (changed bool, err error) {
	if chunkCount < 0 || batchIndex < 0 {
		return false, fmt.Errorf("%w: %w", ErrInvalidEvent, ErrNegativeCount)
	}
	if j.HasBatch(batchIndex) {
		return false, nil
	}
	if j.Status.Terminal() {
		return false, fmt.Errorf("%w: %s", ErrJobTerminal, j.Status)
	}
	if j.ProcessedChunks+chunkCount > j.TotalChunks {
		return false, fmt.Errorf("%w: %d + %d > %d", ErrChunkOverflow, j.ProcessedChunks, chunkCount, j.TotalChunks)
	}
	if j.Status == JobStatusPending {
		if err := j.Transition(JobStatusInProgress); err != nil {
			return false, err
		}
	}

	pos, _ := slices.BinarySearch(j.CompletedBatches, batchIndex)
	j.CompletedBatches = slices.Insert(j.CompletedBatches, pos, batchIndex)
	j.ProcessedChunks += chunkCount

	if j.ProcessedChunks == j.TotalChunks {
		if err := j.Transition(JobStatusCompleted); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Fail moves the job to FAILED and records the reason.
func (j *EmbeddingJob) Fail(reason string) error {
	if err := j.Transition(JobStatusFailed); err != nil {
		return err
	}
	j.LastError = reason
	return nil
}

// Clone returns a copy of the job.
func (j *IngestionJob) Clone() *IngestionJob {
	c := *j
	return &c
}

// Advance moves the job forward to the given stage. Stages never move
// backwards; advancing to the current or an earlier stage reports changed=false.
// Reaching StageDone completes the job.
func (j *IngestionJob) Advance(to Stage) (changed bool, err error) {
	if to <= j.Stage {
		return false, nil
	}
	if j.Status.Terminal() {
		return false, fmt.Errorf("%w: %s", ErrJobTerminal, j.Status)
	}
	if j.Status == JobStatusPending {
		if err := transition(&j.Status, JobStatusInProgress); err != nil {
			return false, err
		}
	}
	j.Stage = to
	if to == StageDone {
		if err := transition(&j.Status, JobStatusCompleted); err != nil {
			return false, err
		}
	}
	return true, nil
}

// RecordFailure counts a failed attempt at the current stage.
func (j *IngestionJob) RecordFailure(reason string) error {
	if j.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrJobTerminal, j.Status)
	}
	j.RetryCount++
	j.LastError = reason
	return nil
}

// Fail moves the job to FAILED and records the reason.
func (j *IngestionJob) Fail(reason string) error {
	if err := transition(&j.Status, JobStatusFailed); err != nil {
		return err
	}
	j.LastError = reason
	return nil
}
