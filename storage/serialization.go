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
	"fmt"

	"github.com/poiesic/nuvine/core"
)

// recordFormat prefixes every stored record so the layout can evolve.
const recordFormat = 1

func checkFormat(d *Decoder) error {
	if f := d.Int(); d.Err() == nil && f != recordFormat {
		return fmt.Errorf("%w: unknown record format %d", ErrSerializationFailed, f)
	}
	return d.Err()
}

// MarshalEmbeddingJob serializes an EmbeddingJob to bytes.
func MarshalEmbeddingJob(job *core.EmbeddingJob) []byte {
	e := NewEncoder(128 + 2*len(job.CompletedBatches))
	e.Int(recordFormat)
	e.String(job.ID)
	e.String(job.WorkspaceID)
	e.String(job.ProjectID)
	e.String(job.DocumentID)
	e.String(job.IngestionJobID)
	e.Int(int(job.Status))
	e.Int(job.TotalChunks)
	e.Int(job.ProcessedChunks)
	e.String(job.ModelUsed)
	e.String(job.LastError)
	e.Ints(job.CompletedBatches)
	e.Bool(job.IndexingDispatched)
	e.Time(job.CreatedAt)
	e.Time(job.UpdatedAt)
	e.Int64(job.Version)
	return e.Bytes()
}

// UnmarshalEmbeddingJob deserializes an EmbeddingJob from bytes.
func UnmarshalEmbeddingJob(data []byte) (*core.EmbeddingJob, error) {
	d := NewDecoder(data)
	if err := checkFormat(d); err != nil {
		return nil, err
	}
	job := &core.EmbeddingJob{
		ID:                 d.String(),
		WorkspaceID:        d.String(),
		ProjectID:          d.String(),
		DocumentID:         d.String(),
		IngestionJobID:     d.String(),
		Status:             core.JobStatus(d.Int()),
		TotalChunks:        d.Int(),
		ProcessedChunks:    d.Int(),
		ModelUsed:          d.String(),
		LastError:          d.String(),
		CompletedBatches:   d.Ints(),
		IndexingDispatched: d.Bool(),
		CreatedAt:          d.Time(),
		UpdatedAt:          d.Time(),
		Version:            d.Int64(),
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return job, nil
}

// MarshalIngestionJob serializes an IngestionJob to bytes.
func MarshalIngestionJob(job *core.IngestionJob) []byte {
	e := NewEncoder(128)
	e.Int(recordFormat)
	e.String(job.ID)
	e.String(job.DocumentID)
	e.String(job.WorkspaceID)
	e.String(job.ProjectID)
	e.String(job.StorageKey)
	e.String(job.MimeType)
	e.Int64(job.SizeBytes)
	e.Int(int(job.Status))
	e.Int(int(job.Stage))
	e.Int(job.RetryCount)
	e.String(job.LastError)
	e.Time(job.CreatedAt)
	e.Time(job.UpdatedAt)
	e.Int64(job.Version)
	return e.Bytes()
}

// UnmarshalIngestionJob deserializes an IngestionJob from bytes.
func UnmarshalIngestionJob(data []byte) (*core.IngestionJob, error) {
	d := NewDecoder(data)
	if err := checkFormat(d); err != nil {
		return nil, err
	}
	job := &core.IngestionJob{
		ID:          d.String(),
		DocumentID:  d.String(),
		WorkspaceID: d.String(),
		ProjectID:   d.String(),
		StorageKey:  d.String(),
		MimeType:    d.String(),
		SizeBytes:   d.Int64(),
		Status:      core.JobStatus(d.Int()),
		Stage:       core.Stage(d.Int()),
		RetryCount:  d.Int(),
		LastError:   d.String(),
		CreatedAt:   d.Time(),
		UpdatedAt:   d.Time(),
		Version:     d.Int64(),
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return job, nil
}

// MarshalEmbeddedChunk serializes an EmbeddedChunk to bytes.
func MarshalEmbeddedChunk(chunk *core.EmbeddedChunk) []byte {
	e := NewEncoder(64 + len(chunk.Content) + 4*len(chunk.Embedding))
	e.Int(recordFormat)
	e.String(chunk.DocumentID)
	e.Int(chunk.Page)
	e.Int(chunk.StartOffset)
	e.Int(chunk.EndOffset)
	e.String(chunk.Content)
	e.Int(chunk.Index)
	e.Float32s(chunk.Embedding)
	return e.Bytes()
}

// UnmarshalEmbeddedChunk deserializes an EmbeddedChunk from bytes.
func UnmarshalEmbeddedChunk(data []byte) (*core.EmbeddedChunk, error) {
	d := NewDecoder(data)
	if err := checkFormat(d); err != nil {
		return nil, err
	}
	chunk := &core.EmbeddedChunk{
		Chunk: core.Chunk{
			DocumentID:  d.String(),
			Page:        d.Int(),
			StartOffset: d.Int(),
			EndOffset:   d.Int(),
			Content:     d.String(),
			Index:       d.Int(),
		},
		Embedding: d.Float32s(),
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return chunk, nil
}

// MarshalDeadLetter serializes a DeadLetterEnvelope to bytes.
func MarshalDeadLetter(env *core.DeadLetterEnvelope) []byte {
	e := NewEncoder(128 + len(env.OriginalEvent) + len(env.ErrorMessage))
	e.Int(recordFormat)
	e.String(env.ID)
	e.String(env.OriginalTopic)
	e.String(env.MessageKey)
	e.Blob(env.OriginalEvent)
	e.Int(env.AttemptCount)
	e.String(env.ErrorMessage)
	e.String(env.ErrorClass)
	e.Time(env.FirstFailedAt)
	e.Time(env.LastFailedAt)
	return e.Bytes()
}

// UnmarshalDeadLetter deserializes a DeadLetterEnvelope from bytes.
func UnmarshalDeadLetter(data []byte) (*core.DeadLetterEnvelope, error) {
	d := NewDecoder(data)
	if err := checkFormat(d); err != nil {
		return nil, err
	}
	env := &core.DeadLetterEnvelope{
		ID:            d.String(),
		OriginalTopic: d.String(),
		MessageKey:    d.String(),
		OriginalEvent: d.Blob(),
		AttemptCount:  d.Int(),
		ErrorMessage:  d.String(),
		ErrorClass:    d.String(),
		FirstFailedAt: d.Time(),
		LastFailedAt:  d.Time(),
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return env, nil
}
