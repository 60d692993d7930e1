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
	"context"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/nuvine/core"
	"github.com/poiesic/nuvine/storage"
)

// EmbeddedChunkRepository implements storage.EmbeddedChunkRepository for BadgerDB.
// Chunks are keyed by job and big-endian index so a prefix scan returns them in order.
type EmbeddedChunkRepository struct {
	backend *Backend
}

var _ storage.EmbeddedChunkRepository = (*EmbeddedChunkRepository)(nil)

// NewEmbeddedChunkRepository creates a new EmbeddedChunkRepository.
func NewEmbeddedChunkRepository(backend *Backend) (*EmbeddedChunkRepository, error) {
	if backend == nil {
		return nil, ErrBackendRequired
	}
	return &EmbeddedChunkRepository{backend: backend}, nil
}

// SaveEmbeddedChunks stores chunks for a job, overwriting chunks with the same index.
func (r *EmbeddedChunkRepository) SaveEmbeddedChunks(ctx context.Context, jobID string, chunks ...core.EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.backend.WithTx(func(tx *badger.Txn) error {
		for i := range chunks {
			key := makeEmbeddedChunkKey(jobID, chunks[i].Index)
			if err := tx.Set(key, storage.MarshalEmbeddedChunk(&chunks[i])); err != nil {
				return err
			}
		}
		return commitErr(tx.Commit())
	}, true)
}

// GetEmbeddedChunks returns all chunks stored for a job ordered by Index.
func (r *EmbeddedChunkRepository) GetEmbeddedChunks(ctx context.Context, jobID string) ([]core.EmbeddedChunk, error) {
	var result []core.EmbeddedChunk
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		chunks, err := scanPrefix(tx, makePartialEmbeddedChunkKey(jobID), storage.UnmarshalEmbeddedChunk)
		if err != nil {
			return err
		}
		result = make([]core.EmbeddedChunk, len(chunks))
		for i, c := range chunks {
			result[i] = *c
		}
		return nil
	}, false)
	return result, err
}

// DeleteEmbeddedChunks removes every chunk stored for a job.
func (r *EmbeddedChunkRepository) DeleteEmbeddedChunks(ctx context.Context, jobID string) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialEmbeddedChunkKey(jobID)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		var keys [][]byte
		for iter.Rewind(); iter.Valid(); iter.Next() {
			keys = append(keys, iter.Item().KeyCopy(nil))
		}
		iter.Close()

		for _, key := range keys {
			if err := tx.Delete(key); err != nil {
				return err
			}
		}
		return commitErr(tx.Commit())
	}, true)
}
