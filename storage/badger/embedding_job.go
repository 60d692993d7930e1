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
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/nuvine/core"
	"github.com/poiesic/nuvine/storage"
)

// EmbeddingJobRepository implements storage.EmbeddingJobRepository for BadgerDB.
//
// Version checks run inside a read-write transaction; badger's conflict
// detection rejects the commit if another writer changed the job first.
type EmbeddingJobRepository struct {
	backend *Backend
}

var _ storage.EmbeddingJobRepository = (*EmbeddingJobRepository)(nil)

// NewEmbeddingJobRepository creates a new EmbeddingJobRepository.
func NewEmbeddingJobRepository(backend *Backend) (*EmbeddingJobRepository, error) {
	if backend == nil {
		return nil, ErrBackendRequired
	}
	return &EmbeddingJobRepository{backend: backend}, nil
}

// Close releases resources. EmbeddingJobRepository has no resources to release.
func (r *EmbeddingJobRepository) Close() error {
	return nil
}

// WithTransaction delegates to the backend.
func (r *EmbeddingJobRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.backend.WithTransaction(ctx, fn)
}

func readEmbeddingJob(tx *badger.Txn, id string) (*core.EmbeddingJob, error) {
	return readValue(tx, makeEmbeddingJobKey(id), storage.UnmarshalEmbeddingJob)
}

// CreateEmbeddingJob stores a new job and points the document index at it.
func (r *EmbeddingJobRepository) CreateEmbeddingJob(ctx context.Context, job *core.EmbeddingJob) (*core.EmbeddingJob, error) {
	created := job.Clone()
	now := time.Now().UTC()
	if created.CreatedAt.IsZero() {
		created.CreatedAt = now
	}
	created.UpdatedAt = now
	created.Version = 1

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		existing, err := readEmbeddingJob(tx, created.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: job %s", storage.ErrDuplicateKey, created.ID)
		}

		docKey := makeEmbeddingJobDocKey(created.DocumentID)
		item, err := tx.Get(docKey)
		switch {
		case err == nil:
			latestID, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			latest, err := readEmbeddingJob(tx, string(latestID))
			if err != nil {
				return err
			}
			if latest != nil && !latest.Status.Terminal() {
				return fmt.Errorf("%w: document %s has active job %s", storage.ErrDuplicateKey, created.DocumentID, latest.ID)
			}
		case err != badger.ErrKeyNotFound:
			return err
		}

		if err := tx.Set(makeEmbeddingJobKey(created.ID), storage.MarshalEmbeddingJob(created)); err != nil {
			return err
		}
		if err := tx.Set(docKey, []byte(created.ID)); err != nil {
			return err
		}
		return commitErr(tx.Commit())
	}, true)
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetEmbeddingJob retrieves a single job by ID.
func (r *EmbeddingJobRepository) GetEmbeddingJob(ctx context.Context, id string) (*core.EmbeddingJob, error) {
	var result *core.EmbeddingJob
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readEmbeddingJob(tx, id)
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// FindLatestEmbeddingJob follows the document index to the newest job.
func (r *EmbeddingJobRepository) FindLatestEmbeddingJob(ctx context.Context, documentID string) (*core.EmbeddingJob, error) {
	var result *core.EmbeddingJob
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeEmbeddingJobDocKey(documentID))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		result, err = readEmbeddingJob(tx, string(id))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// UpdateEmbeddingJob applies mutate under an optimistic version check.
func (r *EmbeddingJobRepository) UpdateEmbeddingJob(ctx context.Context, id string, expectedVersion int64, mutate storage.Mutation[core.EmbeddingJob]) (*core.EmbeddingJob, error) {
	var result *core.EmbeddingJob
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		current, err := readEmbeddingJob(tx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return storage.ErrNotFound
		}
		if current.Version != expectedVersion {
			return fmt.Errorf("%w: job %s at version %d, expected %d", storage.ErrVersionConflict, id, current.Version, expectedVersion)
		}

		if err := mutate(current); err != nil {
			return err
		}
		// Identity and version are owned by the repository.
		current.ID = id
		current.Version = expectedVersion + 1
		current.UpdatedAt = time.Now().UTC()

		if err := tx.Set(makeEmbeddingJobKey(id), storage.MarshalEmbeddingJob(current)); err != nil {
			return err
		}
		if err := commitErr(tx.Commit()); err != nil {
			return err
		}
		result = current
		return nil
	}, true)
	return result, err
}

// ListEmbeddingJobs scans all jobs and returns those with the given status.
func (r *EmbeddingJobRepository) ListEmbeddingJobs(ctx context.Context, status core.JobStatus) ([]*core.EmbeddingJob, error) {
	var result []*core.EmbeddingJob
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		jobs, err := scanPrefix(tx, []byte(embeddingJobPrefix), storage.UnmarshalEmbeddingJob)
		if err != nil {
			return err
		}
		for _, job := range jobs {
			if job.Status == status {
				result = append(result, job)
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(result, func(a, b *core.EmbeddingJob) int {
		return cmp.Or(a.UpdatedAt.Compare(b.UpdatedAt), cmp.Compare(a.ID, b.ID))
	})
	return result, nil
}
