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
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/nuvine/core"
	"github.com/poiesic/nuvine/storage"
)

// DeadLetterRepository implements storage.DeadLetterRepository for BadgerDB.
type DeadLetterRepository struct {
	backend *Backend
}

var _ storage.DeadLetterRepository = (*DeadLetterRepository)(nil)

// NewDeadLetterRepository creates a new DeadLetterRepository.
func NewDeadLetterRepository(backend *Backend) (*DeadLetterRepository, error) {
	if backend == nil {
		return nil, ErrBackendRequired
	}
	return &DeadLetterRepository{backend: backend}, nil
}

// SaveDeadLetter stores or replaces an envelope.
func (r *DeadLetterRepository) SaveDeadLetter(ctx context.Context, envelope *core.DeadLetterEnvelope) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(makeDeadLetterKey(envelope.ID), storage.MarshalDeadLetter(envelope)); err != nil {
			return err
		}
		return commitErr(tx.Commit())
	}, true)
}

// GetDeadLetter retrieves an envelope by ID.
func (r *DeadLetterRepository) GetDeadLetter(ctx context.Context, id string) (*core.DeadLetterEnvelope, error) {
	var result *core.DeadLetterEnvelope
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readValue(tx, makeDeadLetterKey(id), storage.UnmarshalDeadLetter)
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

// ListDeadLetters returns envelopes for a topic, oldest failure first.
func (r *DeadLetterRepository) ListDeadLetters(ctx context.Context, topic string, limit int) ([]*core.DeadLetterEnvelope, error) {
	var result []*core.DeadLetterEnvelope
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		envelopes, err := scanPrefix(tx, []byte(deadLetterPrefix), storage.UnmarshalDeadLetter)
		if err != nil {
			return err
		}
		for _, env := range envelopes {
			if topic == "" || env.OriginalTopic == topic {
				result = append(result, env)
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(result, func(a, b *core.DeadLetterEnvelope) int {
		return cmp.Or(a.LastFailedAt.Compare(b.LastFailedAt), cmp.Compare(a.ID, b.ID))
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// DeleteDeadLetter removes an envelope.
func (r *DeadLetterRepository) DeleteDeadLetter(ctx context.Context, id string) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeDeadLetterKey(id)
		if _, err := tx.Get(key); err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}
		if err := tx.Delete(key); err != nil {
			return err
		}
		return commitErr(tx.Commit())
	}, true)
}
