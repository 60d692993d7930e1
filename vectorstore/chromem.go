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

package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/poiesic/nuvine/core"
)

const (
	metaDocumentID = "document_id"
	metaIndex      = "chunk_index"
	metaPage       = "page"
)

// ChromemStore implements Store on chromem-go.
type ChromemStore struct {
	db     *chromem.DB
	logger *slog.Logger

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

var _ Store = (*ChromemStore)(nil)

// NewChromemStore opens a store. An empty path keeps everything in memory;
// otherwise collections persist under path.
func NewChromemStore(path string) (*ChromemStore, error) {
	db := chromem.NewDB()
	if path != "" {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector store at %s: %w", path, err)
		}
	}
	return &ChromemStore{
		db:          db,
		logger:      slog.Default().With("component", "chromem-store"),
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// collectionName maps a namespace onto chromem's collection naming.
func collectionName(namespace string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return '_'
	}, namespace)
}

func (s *ChromemStore) collection(namespace string) (*chromem.Collection, error) {
	if namespace == "" {
		return nil, ErrEmptyNamespace
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[namespace]; ok {
		return c, nil
	}
	// Vectors always arrive precomputed, so no embedding func is needed
	c, err := s.db.GetOrCreateCollection(collectionName(namespace), map[string]string{"namespace": namespace}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	s.collections[namespace] = c
	return c, nil
}

// chunkID is stable per document and chunk index, so a replayed upsert overwrites.
func chunkID(documentID string, index int) string {
	return core.ContentID(documentID, strconv.Itoa(index))
}

// Upsert stores normalized copies of the chunks' vectors.
func (s *ChromemStore) Upsert(ctx context.Context, namespace string, chunks []core.EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	c, err := s.collection(namespace)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(chunks))
	for i, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			return fmt.Errorf("%w: chunk %d of %s", ErrEmptyEmbedding, chunk.Index, chunk.DocumentID)
		}
		docs[i] = chromem.Document{
			ID:      chunkID(chunk.DocumentID, chunk.Index),
			Content: chunk.Content,
			Metadata: map[string]string{
				metaDocumentID: chunk.DocumentID,
				metaIndex:      strconv.Itoa(chunk.Index),
				metaPage:       strconv.Itoa(chunk.Page),
			},
			Embedding: NormalizeVector(chunk.Embedding),
		}
	}

	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	s.logger.Debug("upserted chunks", "namespace", namespace, "count", len(docs))
	return nil
}

// DeleteDocument removes a document's chunks.
func (s *ChromemStore) DeleteDocument(ctx context.Context, namespace, documentID string) error {
	c, err := s.collection(namespace)
	if err != nil {
		return err
	}
	return c.Delete(ctx, map[string]string{metaDocumentID: documentID}, nil)
}

// Query runs a similarity search. n is clamped to the collection size.
func (s *ChromemStore) Query(ctx context.Context, namespace string, vector []float32, n int) ([]Match, error) {
	if len(vector) == 0 {
		return nil, ErrEmptyEmbedding
	}
	c, err := s.collection(namespace)
	if err != nil {
		return nil, err
	}
	n = min(n, c.Count())
	if n <= 0 {
		return nil, nil
	}

	results, err := c.QueryEmbedding(ctx, NormalizeVector(vector), n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	matches := make([]Match, len(results))
	for i, r := range results {
		index, _ := strconv.Atoi(r.Metadata[metaIndex])
		matches[i] = Match{
			ID:         r.ID,
			DocumentID: r.Metadata[metaDocumentID],
			Index:      index,
			Content:    r.Content,
			Similarity: r.Similarity,
		}
	}
	return matches, nil
}

// Count returns the number of chunks stored under namespace.
func (s *ChromemStore) Count(namespace string) (int, error) {
	c, err := s.collection(namespace)
	if err != nil {
		return 0, err
	}
	return c.Count(), nil
}
