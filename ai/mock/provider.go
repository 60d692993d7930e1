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

package mock

import (
	"context"
	"sync"

	"github.com/poiesic/nuvine/ai"
)

// DefaultModel is the model MockProvider reports as its default.
const DefaultModel = "mock-embedding"

// MockProvider is a test double for ai.Provider.
// It hands out one MockEmbedder per model, created on first use.
type MockProvider struct {
	mu        sync.Mutex
	embedders map[string]*MockEmbedder
	err       map[string]error
}

var _ ai.Provider = (*MockProvider)(nil)

// NewMockProvider creates a new mock provider.
// Returns the concrete type so tests can reach per-model embedders.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		embedders: make(map[string]*MockEmbedder),
		err:       make(map[string]error),
	}
}

// DefaultModel returns DefaultModel.
func (p *MockProvider) DefaultModel() string {
	return DefaultModel
}

// EmbedderFor returns the mock embedder for model.
func (p *MockProvider) EmbedderFor(_ context.Context, model string) (ai.Embedder, error) {
	if model == "" {
		model = DefaultModel
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.err[model]; err != nil {
		return nil, err
	}
	return p.embedderLocked(model), nil
}

// GetMockEmbedder returns the underlying mock embedder of a model for test
// assertions and behavior injection.
func (p *MockProvider) GetMockEmbedder(model string) *MockEmbedder {
	if model == "" {
		model = DefaultModel
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.embedderLocked(model)
}

// FailModel makes EmbedderFor return err for model. A nil err clears it.
func (p *MockProvider) FailModel(model string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.err, model)
		return
	}
	p.err[model] = err
}

func (p *MockProvider) embedderLocked(model string) *MockEmbedder {
	e, ok := p.embedders[model]
	if !ok {
		e = NewMockEmbedder()
		p.embedders[model] = e
	}
	return e
}

// Close is a no-op for mock provider.
func (p *MockProvider) Close() error {
	return nil
}
