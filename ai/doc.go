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

// Package ai provides abstractions for the embedding services used by nuvine.
//
// The package defines the Embedder interface, an EmbedderFactory that hands
// out one embedder per model, and a Provider that owns those embedders'
// lifecycle. The pipeline depends only on these interfaces.
//
// # Implementation Packages
//
//   - ai/openai: Production implementation using OpenAI-compatible APIs
//   - ai/mock: Test doubles for unit testing without external dependencies
//
// # Constructor Return Type Pattern
//
// Public constructors (openai.NewProvider) return INTERFACE types to enforce
// abstraction. Test utility constructors (mock.NewMockEmbedder) return
// CONCRETE types to enable test assertions and behavior injection.
//
//	provider, err := openai.NewProvider(ai.DefaultConfig())  // returns ai.Provider
//	mockEmbed := mock.NewMockEmbedder()                       // returns *mock.MockEmbedder
//
// # Usage Example
//
//	provider, err := openai.NewProvider(ai.NewConfig(ai.WithRateLimit(5, 2)))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	embedder, err := provider.EmbedderFor(ctx, "text-embedding-3-small")
//	vectors, err := embedder.EmbedTexts(ctx, []string{"Hello", "world"})
package ai
