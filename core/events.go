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
	"time"
)

// Pipeline topics.
const (
	TopicDocumentUploaded   = "document.uploaded"
	TopicDocumentExtract    = "document.extract"
	TopicProcessingRequest  = "document.processing"
	TopicEmbeddingRequest   = "embedding.request"
	TopicEmbeddingCompleted = "embedding.completed"
	TopicIndexingRequest    = "indexing.request"
	TopicDocumentCompleted  = "document.completed"
	deadLetterTopicSuffix   = ".dlq"
)

// DeadLetterTopic returns the dead-letter channel for a topic.
func DeadLetterTopic(topic string) string {
	return topic + deadLetterTopicSuffix
}

// Event is a schema-tagged pipeline message payload.
type Event interface {
	// Topic is the channel the event is published to.
	Topic() string
	// Schema identifies the payload shape and version.
	Schema() string
	// Validate checks the fields a consumer depends on.
	Validate() error
}

func invalid(schema, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidEvent, schema, fmt.Sprintf(format, args...))
}

// DocumentUploaded announces a stored document awaiting extraction.
type DocumentUploaded struct {
	IngestionJobID string `json:"ingestionJobId,omitempty"`
	DocumentID     string `json:"documentId"`
	WorkspaceID    string `json:"workspaceId"`
	ProjectID      string `json:"projectId"`
	StorageKey     string `json:"storageKey"`
	MimeType       string `json:"mimeType"`
	SizeBytes      int64  `json:"sizeBytes"`
}

func (DocumentUploaded) Topic() string  { return TopicDocumentUploaded }
func (DocumentUploaded) Schema() string { return "nuvine.DocumentUploaded.v1" }

func (e DocumentUploaded) Validate() error {
	if e.DocumentID == "" {
		return invalid(e.Schema(), "%v", ErrEmptyDocumentID)
	}
	if e.StorageKey == "" {
		return invalid(e.Schema(), "storage key is empty")
	}
	return nil
}

// ExtractRequest asks the extraction service to parse and chunk a document.
type ExtractRequest struct {
	IngestionJobID string `json:"ingestionJobId"`
	DocumentID     string `json:"documentId"`
	WorkspaceID    string `json:"workspaceId"`
	ProjectID      string `json:"projectId"`
	StorageKey     string `json:"storageKey"`
	MimeType       string `json:"mimeType"`
}

func (ExtractRequest) Topic() string  { return TopicDocumentExtract }
func (ExtractRequest) Schema() string { return "nuvine.ExtractRequest.v1" }

func (e ExtractRequest) Validate() error {
	if e.IngestionJobID == "" {
		return invalid(e.Schema(), "%v", ErrEmptyJobID)
	}
	if e.DocumentID == "" {
		return invalid(e.Schema(), "%v", ErrEmptyDocumentID)
	}
	return nil
}

// ProcessingRequest carries every chunk extracted from one document.
type ProcessingRequest struct {
	IngestionJobID string  `json:"ingestionJobId"`
	DocumentID     string  `json:"documentId"`
	ProjectID      string  `json:"projectId"`
	WorkspaceID    string  `json:"workspaceId"`
	Chunks         []Chunk `json:"chunks"`
	// Model overrides the configured default embedding model when set.
	Model string `json:"model,omitempty"`
}

func (ProcessingRequest) Topic() string  { return TopicProcessingRequest }
func (ProcessingRequest) Schema() string { return "nuvine.ProcessingRequest.v1" }

func (e ProcessingRequest) Validate() error {
	if e.DocumentID == "" {
		return invalid(e.Schema(), "%v", ErrEmptyDocumentID)
	}
	seen := make(map[int]struct{}, len(e.Chunks))
	for i, c := range e.Chunks {
		if c.DocumentID != "" && c.DocumentID != e.DocumentID {
			return invalid(e.Schema(), "chunk %d belongs to document %q", i, c.DocumentID)
		}
		if c.Index < 0 {
			return invalid(e.Schema(), "chunk %d: %v", i, ErrNegativeIndex)
		}
		// Staged and indexed chunks are keyed by index
		if _, dup := seen[c.Index]; dup {
			return invalid(e.Schema(), "chunk %d: %v: %d", i, ErrDuplicateIndex, c.Index)
		}
		seen[c.Index] = struct{}{}
	}
	return nil
}

// Span locates a chunk inside its source document.
type Span struct {
	Page        int `json:"page"`
	StartOffset int `json:"startOffset"`
	EndOffset   int `json:"endOffset"`
}

// EmbeddingRequest asks a provider worker to embed one batch of chunks.
type EmbeddingRequest struct {
	EmbeddingJobID string   `json:"embeddingJobId"`
	IngestionJobID string   `json:"ingestionJobId"`
	DocumentID     string   `json:"documentId"`
	BatchID        string   `json:"batchId"`
	BatchIndex     int      `json:"batchIndex"`
	Texts          []string `json:"texts"`
	ChunkIndexes   []int    `json:"chunkIndexes"`
	Spans          []Span   `json:"spans,omitempty"`
	Model          string   `json:"model"`
}

func (EmbeddingRequest) Topic() string  { return TopicEmbeddingRequest }
func (EmbeddingRequest) Schema() string { return "nuvine.EmbeddingRequest.v1" }

func (e EmbeddingRequest) Validate() error {
	if e.EmbeddingJobID == "" {
		return invalid(e.Schema(), "%v", ErrEmptyJobID)
	}
	if len(e.Texts) != len(e.ChunkIndexes) {
		return invalid(e.Schema(), "%v", ErrChunkIndexMismatch)
	}
	if len(e.Spans) != 0 && len(e.Spans) != len(e.Texts) {
		return invalid(e.Schema(), "%d spans for %d texts", len(e.Spans), len(e.Texts))
	}
	return nil
}

// Chunks rebuilds the batch's chunks from the request fields.
func (e EmbeddingRequest) Chunks() []Chunk {
	chunks := make([]Chunk, len(e.Texts))
	for i, text := range e.Texts {
		chunks[i] = Chunk{DocumentID: e.DocumentID, Content: text, Index: e.ChunkIndexes[i]}
		if i < len(e.Spans) {
			chunks[i].Page = e.Spans[i].Page
			chunks[i].StartOffset = e.Spans[i].StartOffset
			chunks[i].EndOffset = e.Spans[i].EndOffset
		}
	}
	return chunks
}

// EmbeddingCompleted reports the vectors produced for one batch.
type EmbeddingCompleted struct {
	EmbeddingJobID string          `json:"embeddingJobId"`
	IngestionJobID string          `json:"ingestionJobId"`
	DocumentID     string          `json:"documentId"`
	BatchIndex     int             `json:"batchIndex"`
	EmbeddedChunks []EmbeddedChunk `json:"embeddedChunks"`
	Model          string          `json:"model"`
}

func (EmbeddingCompleted) Topic() string  { return TopicEmbeddingCompleted }
func (EmbeddingCompleted) Schema() string { return "nuvine.EmbeddingCompleted.v1" }

func (e EmbeddingCompleted) Validate() error {
	if e.EmbeddingJobID == "" {
		return invalid(e.Schema(), "%v", ErrEmptyJobID)
	}
	for i, c := range e.EmbeddedChunks {
		if len(c.Embedding) == 0 {
			return invalid(e.Schema(), "chunk %d has no embedding", i)
		}
	}
	return nil
}

// IndexingRequest carries a completed document's vectors to the vector store writer.
type IndexingRequest struct {
	EmbeddingJobID string          `json:"embeddingJobId"`
	IngestionJobID string          `json:"ingestionJobId"`
	DocumentID     string          `json:"documentId"`
	ProjectID      string          `json:"projectId"`
	WorkspaceID    string          `json:"workspaceId"`
	EmbeddedChunks []EmbeddedChunk `json:"embeddedChunks"`
}

func (IndexingRequest) Topic() string  { return TopicIndexingRequest }
func (IndexingRequest) Schema() string { return "nuvine.IndexingRequest.v1" }

func (e IndexingRequest) Validate() error {
	if e.DocumentID == "" {
		return invalid(e.Schema(), "%v", ErrEmptyDocumentID)
	}
	return nil
}

// DocumentCompleted announces that a document is searchable.
type DocumentCompleted struct {
	IngestionJobID string    `json:"ingestionJobId"`
	EmbeddingJobID string    `json:"embeddingJobId"`
	DocumentID     string    `json:"documentId"`
	ProjectID      string    `json:"projectId"`
	WorkspaceID    string    `json:"workspaceId"`
	ChunkCount     int       `json:"chunkCount"`
	CompletedAt    time.Time `json:"completedAt"`
}

func (DocumentCompleted) Topic() string  { return TopicDocumentCompleted }
func (DocumentCompleted) Schema() string { return "nuvine.DocumentCompleted.v1" }

func (e DocumentCompleted) Validate() error {
	if e.DocumentID == "" {
		return invalid(e.Schema(), "%v", ErrEmptyDocumentID)
	}
	return nil
}
