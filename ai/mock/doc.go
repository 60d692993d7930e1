// Package mock provides test double implementations of AI service interfaces.
//
// This package contains mock implementations of ai.Embedder and ai.Provider
// for use in unit tests. The mocks allow tests to run without external AI
// service dependencies and enable controlled, deterministic behavior.
//
// # Usage in Tests
//
//	// Basic usage with default behavior
//	provider := mock.NewMockProvider()
//	embedder, _ := provider.EmbedderFor(ctx, "m")
//	vectors, err := embedder.EmbedTexts(ctx, []string{"test"})
//
//	// Custom behavior injection
//	provider.GetMockEmbedder("m").
//	    WithEmbedTextsFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
//	        return nil, errors.New("provider down")
//	    })
//
//	// Check call counts
//	count := provider.GetMockEmbedder("m").CallCount()
//
// # Available Mocks
//
//   - MockEmbedder: Returns deterministic unit vectors based on text hash
//   - MockProvider: Hands out one MockEmbedder per model
package mock
