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

package openai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/nuvine/ai"
	"github.com/poiesic/nuvine/cache"
	"golang.org/x/time/rate"
)

const maxCachedClients = 64

// Provider implements ai.Provider using OpenAI-compatible services.
// Clients are built per model on first use and cached for Config.ClientTTL.
// All models share one request throttle.
type Provider struct {
	config  *ai.Config
	tokens  ai.TokenSource
	limiter *rate.Limiter
	clients *cache.Cache[*Embedder]
	logger  *slog.Logger
}

var _ ai.Provider = (*Provider)(nil)

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithTokenSource overrides the token source derived from the config.
func WithTokenSource(tokens ai.TokenSource) ProviderOption {
	return func(p *Provider) {
		p.tokens = tokens
	}
}

// NewProvider creates a new AI provider with OpenAI-compatible services.
// The config is validated and normalized before use.
//
// Returns ai.Provider interface (not *Provider) to enforce abstraction
// and prevent coupling to OpenAI-specific implementation details.
func NewProvider(config *ai.Config, opts ...ProviderOption) (ai.Provider, error) {
	return newProvider(config, opts...)
}

func newProvider(config *ai.Config, opts ...ProviderOption) (*Provider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	clients, err := cache.New[*Embedder](cache.Config{MaxEntries: maxCachedClients, TTL: config.ClientTTL})
	if err != nil {
		return nil, err
	}

	p := &Provider{
		config:  config,
		tokens:  config.TokenSource(),
		clients: clients,
		logger:  slog.Default().With("component", "openai-provider"),
	}
	if config.RequestsPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// DefaultModel returns the configured embedding model.
func (p *Provider) DefaultModel() string {
	return p.config.EmbeddingModel
}

// EmbedderFor returns the cached client for model, building it on a miss.
func (p *Provider) EmbedderFor(ctx context.Context, model string) (ai.Embedder, error) {
	if model == "" {
		model = p.config.EmbeddingModel
	}
	return p.clients.GetOrLoad(ctx, model, p.load)
}

func (p *Provider) load(ctx context.Context, model string) (*Embedder, error) {
	token, err := p.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("load token for %s: %w", model, err)
	}
	p.logger.Debug("creating embedding client", "model", model)
	return newEmbedder(p.config, model, token, p.limiter)
}

// Close releases the cached clients.
func (p *Provider) Close() error {
	p.logger.Debug("closing OpenAI provider")
	p.clients.Close()
	return nil
}
