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

// Repositories bundles every BadgerDB repository over one shared backend.
type Repositories struct {
	Backend        *Backend
	EmbeddingJobs  *EmbeddingJobRepository
	IngestionJobs  *IngestionJobRepository
	EmbeddedChunks *EmbeddedChunkRepository
	DeadLetters    *DeadLetterRepository
}

// NewRepositories creates all repositories over an open backend.
func NewRepositories(backend *Backend) (*Repositories, error) {
	embeddingJobs, err := NewEmbeddingJobRepository(backend)
	if err != nil {
		return nil, err
	}
	ingestionJobs, err := NewIngestionJobRepository(backend)
	if err != nil {
		return nil, err
	}
	chunks, err := NewEmbeddedChunkRepository(backend)
	if err != nil {
		return nil, err
	}
	deadLetters, err := NewDeadLetterRepository(backend)
	if err != nil {
		return nil, err
	}
	return &Repositories{
		Backend:        backend,
		EmbeddingJobs:  embeddingJobs,
		IngestionJobs:  ingestionJobs,
		EmbeddedChunks: chunks,
		DeadLetters:    deadLetters,
	}, nil
}

// NewMemoryRepositories creates in-memory repositories for testing.
// Caller must Close the result when done.
func NewMemoryRepositories() (*Repositories, error) {
	backend, err := OpenBackend("", true)
	if err != nil {
		return nil, err
	}
	repos, err := NewRepositories(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return repos, nil
}

// Close closes the shared backend.
func (r *Repositories) Close() error {
	return r.Backend.Close()
}
