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

// Package vectorstore persists embedded chunks for similarity search.
//
// Store is the boundary the indexing stage writes through. ChromemStore
// implements it on chromem-go, keeping one collection per namespace
// (typically a workspace/project pair).
package vectorstore

import (
	"context"
	"errors"
	"math"

	"github.com/poiesic/nuvine/core"
)

var (
	// ErrEmptyNamespace indicates a missing namespace.
	ErrEmptyNamespace = errors.New("namespace cannot be empty")

	// ErrEmptyEmbedding indicates a chunk or query without a vector.
	ErrEmptyEmbedding = errors.New("embedding cannot be empty")
)

// Match is one similarity search hit.
type Match struct {
	ID         string
	DocumentID string
	Index      int
	Content    string
	Similarity float32
}

// Store writes and queries embedded chunks.
type Store interface {
	// Upsert stores chunks under namespace. Re-upserting a chunk of the same
	// document and index replaces it.
	Upsert(ctx context.Context, namespace string, chunks []core.EmbeddedChunk) error

	// DeleteDocument removes every chunk of a document from namespace.
	DeleteDocument(ctx context.Context, namespace, documentID string) error

	// Query returns up to n chunks most similar to vector.
	Query(ctx context.Context, namespace string, vector []float32, n int) ([]Match, error)
}

// Namespace builds the namespace for a workspace and project.
func Namespace(workspaceID, projectID string) string {
	return workspaceID + "/" + projectID
}

// NormalizeVector normalizes a vector to unit length.
// Returns a new vector. If the input is a zero vector, returns a zero vector.
func NormalizeVector(v []float32) []float32 {
	if len(v) == 0 {
		return v
	}

	var magnitude float64
	for _, val := range v {
		magnitude += float64(val) * float64(val)
	}
	magnitude = math.Sqrt(magnitude)

	result := make([]float32, len(v))
	// Can't normalize zero vector
	if magnitude == 0 {
		return result
	}
	for i, val := range v {
		result[i] = float32(float64(val) / magnitude)
	}
	return result
}
