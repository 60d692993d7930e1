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

package pipeline

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/nuvine/ai"
	"github.com/poiesic/nuvine/breaker"
	"github.com/poiesic/nuvine/bus"
	"github.com/poiesic/nuvine/core"
	"github.com/poiesic/nuvine/jobs"
	"github.com/poiesic/nuvine/retry"
	"github.com/poiesic/nuvine/storage"
	"github.com/poiesic/nuvine/vectorstore"
)

// Components are the collaborators a Pipeline drives.
// Retry and Breakers are optional and default to fresh instances.
type Components struct {
	Bus         bus.Bus
	Jobs        *jobs.Tracker
	Ingestion   *jobs.IngestionTracker
	Chunks      storage.EmbeddedChunkRepository
	DeadLetters storage.DeadLetterRepository
	Provider    ai.Provider
	VectorStore vectorstore.Store
	Retry       *retry.Middleware
	Breakers    *breaker.Registry
}

func (c Components) validate() error {
	switch {
	case c.Bus == nil:
		return ErrBusRequired
	case c.Jobs == nil:
		return ErrTrackerRequired
	case c.Ingestion == nil:
		return ErrIngestionTrackerRequired
	case c.Chunks == nil:
		return ErrChunkRepositoryRequired
	case c.DeadLetters == nil:
		return ErrDeadLetterRepositoryRequired
	case c.Provider == nil:
		return ErrProviderRequired
	case c.VectorStore == nil:
		return ErrVectorStoreRequired
	}
	return nil
}

// CompletionHook runs for every DocumentCompleted event. A returned error
// sends the event through the retry path.
type CompletionHook func(ctx context.Context, ev core.DocumentCompleted) error

// Pipeline routes pipeline events between stages.
type Pipeline struct {
	bus       bus.Bus
	jobs      *jobs.Tracker
	ingestion *jobs.IngestionTracker
	chunks    storage.EmbeddedChunkRepository
	letters   storage.DeadLetterRepository
	provider  ai.Provider
	store     vectorstore.Store
	retry     *retry.Middleware
	breakers  *breaker.Registry

	config     Config
	onComplete CompletionHook
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(p *Pipeline) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		p.config = cfg
		return nil
	}
}

// WithCompletionHook sets the function run for each completed document.
func WithCompletionHook(hook CompletionHook) Option {
	return func(p *Pipeline) error {
		p.onComplete = hook
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) error {
		p.now = now
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// New creates a pipeline over c. Call Register to subscribe its stages.
func New(c Components, opts ...Option) (*Pipeline, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		bus:       c.Bus,
		jobs:      c.Jobs,
		ingestion: c.Ingestion,
		chunks:    c.Chunks,
		letters:   c.DeadLetters,
		provider:  c.Provider,
		store:     c.VectorStore,
		retry:     c.Retry,
		breakers:  c.Breakers,
		config:    DefaultConfig(),
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	p.logger = p.logger.With("component", "pipeline")

	var err error
	if p.retry == nil {
		if p.retry, err = retry.NewMiddleware(p.bus, retry.WithLogger(p.logger)); err != nil {
			return nil, err
		}
	}
	if p.breakers == nil {
		if p.breakers, err = breaker.NewRegistry(breaker.WithLogger(p.logger)); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// route binds a topic to the stage handler consuming it.
type route struct {
	worker  Worker
	topic   string
	handler bus.Handler
	retried bool
}

func (p *Pipeline) routes() []route {
	routes := []route{
		{WorkerUpload, core.TopicDocumentUploaded, p.handleDocumentUploaded, true},
		{WorkerProcessing, core.TopicProcessingRequest, p.handleProcessingRequest, true},
		{WorkerEmbedding, core.TopicEmbeddingRequest, p.handleEmbeddingRequest, true},
		{WorkerAggregation, core.TopicEmbeddingCompleted, p.handleEmbeddingCompleted, true},
		{WorkerIndexing, core.TopicIndexingRequest, p.handleIndexingRequest, true},
		{WorkerCompletion, core.TopicDocumentCompleted, p.handleDocumentCompleted, true},
	}
	for _, topic := range DeadLetterSources {
		routes = append(routes, route{WorkerDeadLetter, core.DeadLetterTopic(topic), p.handleDeadLetter, false})
	}
	return routes
}

// DeadLetterSources are the topics whose dead letters the pipeline archives.
var DeadLetterSources = []string{
	core.TopicDocumentUploaded,
	core.TopicProcessingRequest,
	core.TopicEmbeddingRequest,
	core.TopicEmbeddingCompleted,
	core.TopicIndexingRequest,
	core.TopicDocumentCompleted,
}

// Register subscribes the configured workers' handlers to the bus.
func (p *Pipeline) Register() error {
	var topics []string
	for _, r := range p.routes() {
		if !p.config.Runs(r.worker) {
			continue
		}
		h := r.handler
		if r.retried {
			h = p.retry.Wrap(r.topic, h)
		}
		if err := p.bus.Subscribe(r.topic, h); err != nil {
			return fmt.Errorf("subscribe %s: %w", r.topic, err)
		}
		topics = append(topics, r.topic)
	}
	p.logger.Info("pipeline registered", "topics", topics)
	return nil
}

// Breakers returns the circuit breaker registry guarding provider calls.
func (p *Pipeline) Breakers() *breaker.Registry {
	return p.breakers
}

// model picks the embedding model for a request.
func (p *Pipeline) model(requested string) string {
	return cmp.Or(requested, p.config.DefaultModel, p.provider.DefaultModel())
}

// advance moves an ingestion job forward. Requests without an ingestion job,
// or whose job is gone or finished, are not tracked.
func (p *Pipeline) advance(ctx context.Context, ingestionJobID string, stage core.Stage) error {
	if ingestionJobID == "" {
		return nil
	}
	_, err := p.ingestion.AdvanceStage(ctx, ingestionJobID, stage)
	switch {
	case errors.Is(err, core.ErrJobNotFound):
		p.logger.Debug("untracked ingestion job", "ingestionJob", ingestionJobID, "stage", stage)
		return nil
	case errors.Is(err, core.ErrJobTerminal):
		p.logger.Warn("ingestion job already finished", "ingestionJob", ingestionJobID, "stage", stage)
		return nil
	}
	return err
}
