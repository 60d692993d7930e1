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

package badger

import (
	"encoding/binary"
)

const (
	embeddingJobPrefix    = "embjob:"
	embeddingJobDocPrefix = "embjobdoc:"
	ingestionJobPrefix    = "ingjob:"
	embeddedChunkPrefix   = "embchunk:"
	deadLetterPrefix      = "dlq:"
)

// makeEmbeddingJobKey generates a key for an embedding job by ID.
func makeEmbeddingJobKey(id string) []byte {
	return []byte(embeddingJobPrefix + id)
}

// makeEmbeddingJobDocKey generates the key of the document -> latest job index.
func makeEmbeddingJobDocKey(documentID string) []byte {
	return []byte(embeddingJobDocPrefix + documentID)
}

// makeIngestionJobKey generates a key for an ingestion job by ID.
func makeIngestionJobKey(id string) []byte {
	return []byte(ingestionJobPrefix + id)
}

// makePartialEmbeddedChunkKey generates the prefix shared by all chunks of a job.
// Format: prefix:jobID:
func makePartialEmbeddedChunkKey(jobID string) []byte {
	return []byte(embeddedChunkPrefix + jobID + ":")
}

// makeEmbeddedChunkKey generates a composite key for one chunk of a job.
// Format: prefix:jobID:index
func makeEmbeddedChunkKey(jobID string, index int) []byte {
	prefix := makePartialEmbeddedChunkKey(jobID)
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	// Write in BigEndian order so lexicographic sort follows chunk order
	binary.BigEndian.PutUint64(buf[offset:], uint64(index))
	return buf
}

// makeDeadLetterKey generates a key for a dead-letter envelope by ID.
func makeDeadLetterKey(id string) []byte {
	return []byte(deadLetterPrefix + id)
}
