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

// Package batch splits a document's ordered chunks into fixed-size batches.
package batch

import (
	"errors"
	"fmt"

	"github.com/poiesic/nuvine/core"
)

// ErrInvalidBatchSize indicates a batch size that is not positive.
var ErrInvalidBatchSize = errors.New("batch size must be positive")

// Batch is a contiguous run of chunks sent together as one embedding request.
type Batch struct {
	// Index is the batch's position in the partition, starting at 0.
	Index  int
	Chunks []core.Chunk
}

// Partition splits chunks into batches of size chunks each, preserving order
// and every chunk's Index. The last batch may be shorter. The result depends
// only on the input, so a retried partition yields identical batches.
// An empty input yields no batches.
func Partition(chunks []core.Chunk, size int) ([]Batch, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBatchSize, size)
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	batches := make([]Batch, 0, (len(chunks)+size-1)/size)
	for start := 0; start < len(chunks); start += size {
		end := min(start+size, len(chunks))
		batches = append(batches, Batch{
			Index:  len(batches),
			Chunks: chunks[start:end:end],
		})
	}
	return batches, nil
}

// ID returns the batch's stable identifier within a job.
func (b Batch) ID(jobID string) string {
	return core.BatchID(jobID, b.Index)
}

// Request builds the embedding request for this batch.
func (b Batch) Request(job *core.EmbeddingJob) core.EmbeddingRequest {
	req := core.EmbeddingRequest{
		EmbeddingJobID: job.ID,
		IngestionJobID: job.IngestionJobID,
		DocumentID:     job.DocumentID,
		BatchID:        b.ID(job.ID),
		BatchIndex:     b.Index,
		Texts:          make([]string, len(b.Chunks)),
		ChunkIndexes:   make([]int, len(b.Chunks)),
		Spans:          make([]core.Span, len(b.Chunks)),
		Model:          job.ModelUsed,
	}
	for i, c := range b.Chunks {
		req.Texts[i] = c.Content
		req.ChunkIndexes[i] = c.Index
		req.Spans[i] = core.Span{Page: c.Page, StartOffset: c.StartOffset, EndOffset: c.EndOffset}
	}
	return req
}
