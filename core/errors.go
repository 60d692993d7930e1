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

import "errors"

// Job lifecycle errors
var (
	// ErrDuplicateJob indicates an active embedding job already exists for the document.
	ErrDuplicateJob = errors.New("active job already exists for document")

	// ErrJobNotFound indicates the referenced job does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrConcurrentUpdate indicates the job was modified by another writer
	// and the optimistic concurrency token is stale.
	ErrConcurrentUpdate = errors.New("concurrent job update")

	// ErrJobTerminal indicates the job is COMPLETED or FAILED and accepts no further updates.
	ErrJobTerminal = errors.New("job is in a terminal state")

	// ErrChunkOverflow indicates a batch completion would push processed chunks past the total.
	ErrChunkOverflow = errors.New("processed chunks would exceed total chunks")

	// ErrInvalidTransition indicates a status change not allowed by the job state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Domain validation errors
var (
	// ErrInvalidEvent indicates a pipeline event failed validation.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrInvalidJob indicates a job snapshot failed validation.
	ErrInvalidJob = errors.New("invalid job")

	// ErrEmptyDocumentID indicates the DocumentID field is empty.
	ErrEmptyDocumentID = errors.New("document id cannot be empty")

	// ErrEmptyJobID indicates a job id field is empty.
	ErrEmptyJobID = errors.New("job id cannot be empty")

	// ErrChunkIndexMismatch indicates texts and chunk indexes differ in length.
	ErrChunkIndexMismatch = errors.New("texts and chunk indexes differ in length")

	// ErrNegativeCount indicates a negative chunk count.
	ErrNegativeCount = errors.New("chunk count cannot be negative")

	// ErrNegativeIndex indicates a chunk with a negative index.
	ErrNegativeIndex = errors.New("chunk index cannot be negative")

	// ErrDuplicateIndex indicates two chunks of one document share an index.
	ErrDuplicateIndex = errors.New("duplicate chunk index")
)
