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

// Package storage provides the storage abstraction layer for nuvine.
//
// This package defines repository interfaces that decouple job persistence
// from pipeline logic, so BadgerDB (embedded) and PostgreSQL backends can be
// used interchangeably.
//
// # Optimistic Concurrency
//
// Embedding and ingestion jobs carry a Version. Every change goes through an
// update call that names the version the caller last read:
//
//	job, err := repo.UpdateEmbeddingJob(ctx, id, job.Version, func(j *core.EmbeddingJob) error {
//	    _, err := j.ApplyBatch(batchIndex, count)
//	    return err
//	})
//
// A stale version, or a concurrent writer committing first, yields
// ErrVersionConflict. Callers re-read and reapply.
//
// # Serialization
//
// Embedded backends store records with the MUS binary format using the
// Encoder and Decoder helpers. Each record starts with a format number.
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
package storage
