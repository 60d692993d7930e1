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
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/nuvine/core"
	"github.com/poiesic/nuvine/storage"
)

// IngestionJobRepository implements storage.IngestionJobRepository for BadgerDB.
type IngestionJobRepository struct {
	backend *Backend
}

var _ storage.IngestionJobRepository = (*IngestionJobRepository)(nil)

// NewIngestionJobRepository creates a new IngestionJobRepository.
func NewIngestionJobRepository(backend *Backend) (*IngestionJobRepository, error) {
	if backend == nil {
		return nil, ErrBackendRequired
	}
	return &IngestionJobRepository{backend: backend}, nil
}

// Close releases resources. IngestionJobRepository has no resources to release.
func (r *IngestionJobRepository) Close() error {
	return nil
}

// WithTransaction delegates to the backend.
func (r *IngestionJobRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.backend.WithTransaction(ctx, fn)
}

func readIngestionJob(tx *badger.Txn, id string) (*core.IngestionJob, error) {
	return readValue(tx, makeIngestionJobKey(id), storage.UnmarshalIngestionJob)
}

// CreateIngestionJob stores a new ingestion job.
func (r *IngestionJobRepository) CreateIngestionJob(ctx context.Context, job *core.IngestionJob) (*core.IngestionJob, error) {
	created := job.Clone()
	now := time.Now().UTC()
	if created.CreatedAt.IsZero() {
		created.CreatedAt = now
	}
	created.UpdatedAt = now
	created.Version = 1

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		existing, err := readIngestionJob(tx, created.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: ingestion job %s", storage.ErrDuplicateKey, created.ID)
		}
		if err := tx.Set(makeIngestionJobKey(created.ID), storage.MarshalIngestionJob(created)); err != nil {
			return err
		}
		return commitErr(tx.Commit())
	}, true)
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetIngestionJob retrieves a single job by ID.
func (r *IngestionJobRepository) GetIngestionJob(ctx context.Context, id string) (*core.IngestionJob, error) {
	var result *core.IngestionJob
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readIngestionJob(tx, id)
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

// UpdateIngestionJob applies mutate under an optimistic version check.
func (r *IngestionJobRepository) UpdateIngestionJob(ctx context.Context, id string, expectedVersion int64, mutate storage.Mutation[core.IngestionJob]) (*core.IngestionJob, error) {
	var result *core.IngestionJob
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		current, err := readIngestionJob(tx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return storage.ErrNotFound
		}
		if current.Version != expectedVersion {
			return fmt.Errorf("%w: ingestion job %s at version %d, expected %d", storage.ErrVersionConflict, id, current.Version, expectedVersion)
		}
		if err := mutate(current); err != nil {
			return err
		}
		current.ID = id
		current.Version = expectedVersion + 1
		current.UpdatedAt = time.Now().UTC()

		if err := tx.Set(makeIngestionJobKey(id), storage.MarshalIngestionJob(current)); err != nil {
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
