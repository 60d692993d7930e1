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
	"encoding/hex"
	"strconv"
	"time"

	"github.com/go-crypt/x/blake2b"
	"github.com/google/uuid"
)

// NewID returns a random identifier for jobs, messages and envelopes.
func NewID() string {
	return uuid.NewString()
}

// ContentID generates a deterministic 64-bit identifier from the given parts using
// BLAKE2b hashing, rendered as hex. Identical parts always produce identical IDs.
func ContentID(parts ...string) string {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// BatchID returns the stable identifier of one batch of an embedding job.
func BatchID(jobID string, batchIndex int) string {
	return ContentID(jobID, strconv.Itoa(batchIndex))
}

// JobStatus is the lifecycle state shared by embedding and ingestion jobs.
type JobStatus int

const (
	// JobStatusPending is a created job with no work dispatched yet.
	JobStatusPending JobStatus = iota + 1
	// JobStatusInProgress is a job with work in flight.
	JobStatusInProgress
	// JobStatusCompleted is terminal: all work accounted for.
	JobStatusCompleted
	// JobStatusFailed is terminal: the job gave up.
	JobStatusFailed
)

var jobStatusNames = map[JobStatus]string{
	JobStatusPending:    "PENDING",
	JobStatusInProgress: "IN_PROGRESS",
	JobStatusCompleted:  "COMPLETED",
	JobStatusFailed:     "FAILED",
}

func (s JobStatus) String() string {
	if name, ok := jobStatusNames[s]; ok {
		return name
	}
	return "UNKNOWN(" + strconv.Itoa(int(s)) + ")"
}

// Terminal reports whether no further transitions are allowed out of s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ParseJobStatus converts a status name back to a JobStatus.
func ParseJobStatus(name string) (JobStatus, error) {
	for status, n := range jobStatusNames {
		if n == name {
			return status, nil
		}
	}
	return 0, ErrInvalidJob
}

// Stage is the position of an ingestion job within the document pipeline.
type Stage int

const (
	StageParse Stage = iota + 1
	StageChunk
	StageEmbed
	StageIndex
	StageDone
)

var stageNames = map[Stage]string{
	StageParse: "PARSE",
	StageChunk: "CHUNK",
	StageEmbed: "EMBED",
	StageIndex: "INDEX",
	StageDone:  "DONE",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "UNKNOWN(" + strconv.Itoa(int(s)) + ")"
}

// ParseStage converts a stage name back to a Stage.
func ParseStage(name string) (Stage, error) {
	for stage, n := range stageNames {
		if n == name {
			return stage, nil
		}
	}
	return 0, ErrInvalidJob
}

// Chunk is an immutable unit of document text produced by extraction.
// Index is the chunk's position in the document's full chunk sequence.
type Chunk struct {
	DocumentID  string `json:"documentId"`
	Page        int    `json:"page"`
	StartOffset int    `json:"startOffset"`
	EndOffset   int    `json:"endOffset"`
	Content     string `json:"content"`
	Index       int    `json:"index"`
}

// EmbeddedChunk is a Chunk together with its embedding vector.
type EmbeddedChunk struct {
	Chunk
	Embedding []float32 `json:"embedding"`
}

// EmbeddingJob tracks one document's embedding run.
//
// Snapshots are values: repositories hand out copies and accept changes only
// through a version-guarded update.
type EmbeddingJob struct {
	ID              string
	WorkspaceID     string
	ProjectID       string
	DocumentID      string
	IngestionJobID  string
	Status          JobStatus
	TotalChunks     int
	ProcessedChunks int
	ModelUsed       string
	LastError       string
	// CompletedBatches holds the batch indexes already counted into ProcessedChunks.
	CompletedBatches []int
	// IndexingDispatched is set once the indexing request for a completed job has been claimed.
	IndexingDispatched bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Version            int64
}

// IngestionJob tracks a document through parse, chunk, embed and index.
type IngestionJob struct {
	ID          string
	DocumentID  string
	WorkspaceID string
	ProjectID   string
	StorageKey  string
	MimeType    string
	SizeBytes   int64
	Status      JobStatus
	Stage       Stage
	RetryCount  int
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Version     int64
}

// DeadLetterEnvelope wraps a pipeline message that exhausted its retry budget,
// or failed with an error that cannot succeed on replay.
type DeadLetterEnvelope struct {
	ID            string    `json:"id"`
	OriginalTopic string    `json:"originalTopic"`
	MessageKey    string    `json:"messageKey"`
	OriginalEvent []byte    `json:"originalEvent"`
	AttemptCount  int       `json:"attemptCount"`
	ErrorMessage  string    `json:"errorMessage"`
	ErrorClass    string    `json:"errorClass"`
	FirstFailedAt time.Time `json:"firstFailedAt"`
	LastFailedAt  time.Time `json:"lastFailedAt"`
}
