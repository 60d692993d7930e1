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

// Package nuvine assembles the embedding pipeline into a runnable service.
package nuvine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/poiesic/nuvine/ai"
	"github.com/poiesic/nuvine/ai/openai"
	"github.com/poiesic/nuvine/breaker"
	"github.com/poiesic/nuvine/bus"
	"github.com/poiesic/nuvine/bus/badgerbus"
	"github.com/poiesic/nuvine/config"
	"github.com/poiesic/nuvine/core"
	"github.com/poiesic/nuvine/jobs"
	"github.com/poiesic/nuvine/pipeline"
	"github.com/poiesic/nuvine/retry"
	"github.com/poiesic/nuvine/storage"
	badgerstore "github.com/poiesic/nuvine/storage/badger"
	"github.com/poiesic/nuvine/storage/postgres"
	"github.com/poiesic/nuvine/vectorstore"
)

// repositories are the job stores of one storage driver.
type repositories struct {
	embeddingJobs storage.EmbeddingJobRepository
	ingestionJobs storage.IngestionJobRepository
	chunks        storage.EmbeddedChunkRepository
	deadLetters   storage.DeadLetterRepository
}

// Service owns every pipeline component for one process.
type Service struct {
	config    *config.Config
	repos     repositories
	backend   *badgerstore.Backend
	bus       bus.Bus
	provider  ai.Provider
	store     *vectorstore.ChromemStore
	jobs      *jobs.Tracker
	ingestion *jobs.IngestionTracker
	breakers  *breaker.Registry
	pipeline  *pipeline.Pipeline
	redriver  *retry.Redriver
	logger    *slog.Logger

	// closers release storage in reverse order of opening.
	closers []io.Closer

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Service.
type Option func(*options)

type options struct {
	provider ai.Provider
	hook     pipeline.CompletionHook
	logger   *slog.Logger
}

// WithProvider replaces the OpenAI-compatible provider built from the configuration.
func WithProvider(provider ai.Provider) Option {
	return func(o *options) {
		o.provider = provider
	}
}

// WithCompletionHook sets the function run for each completed document.
func WithCompletionHook(hook pipeline.CompletionHook) Option {
	return func(o *options) {
		o.hook = hook
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New opens storage, the bus and the provider described by cfg and
// registers the configured pipeline workers. Call Start to begin consuming.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *Service, err error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	s := &Service{config: cfg, logger: o.logger.With("component", "service")}
	defer func() {
		if err != nil {
			if s.bus != nil {
				s.bus.Close()
			}
			s.closeStorage()
		}
	}()

	if err := s.openStorage(ctx); err != nil {
		return nil, err
	}
	if err := s.openBus(); err != nil {
		return nil, err
	}

	s.provider = o.provider
	if s.provider == nil {
		if s.provider, err = openai.NewProvider(cfg.AIConfig()); err != nil {
			return nil, err
		}
	}
	s.closers = append(s.closers, s.provider)

	if s.store, err = vectorstore.NewChromemStore(cfg.VectorStore.Path); err != nil {
		return nil, err
	}

	jobOpts := []jobs.Option{jobs.WithConfig(cfg.JobsConfig()), jobs.WithLogger(o.logger)}
	if s.jobs, err = jobs.NewTracker(s.repos.embeddingJobs, jobOpts...); err != nil {
		return nil, err
	}
	if s.ingestion, err = jobs.NewIngestionTracker(s.repos.ingestionJobs, jobOpts...); err != nil {
		return nil, err
	}
	if s.breakers, err = breaker.NewRegistry(breaker.WithConfig(cfg.Breaker), breaker.WithLogger(o.logger)); err != nil {
		return nil, err
	}

	retryCfg, err := cfg.RetryConfig()
	if err != nil {
		return nil, err
	}
	middleware, err := retry.NewMiddleware(s.bus, retry.WithConfig(retryCfg), retry.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	if s.redriver, err = retry.NewRedriver(s.repos.deadLetters, s.bus, cfg.RedriveConfig(), o.logger); err != nil {
		return nil, err
	}

	s.pipeline, err = pipeline.New(pipeline.Components{
		Bus:         s.bus,
		Jobs:        s.jobs,
		Ingestion:   s.ingestion,
		Chunks:      s.repos.chunks,
		DeadLetters: s.repos.deadLetters,
		Provider:    s.provider,
		VectorStore: s.store,
		Retry:       middleware,
		Breakers:    s.breakers,
	}, pipeline.WithConfig(cfg.Pipeline), pipeline.WithCompletionHook(o.hook), pipeline.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	if err := s.pipeline.Register(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) openStorage(ctx context.Context) error {
	switch s.config.Storage.Driver {
	case config.DriverPostgres:
		store, err := postgres.Open(ctx, s.config.Storage.Postgres)
		if err != nil {
			return fmt.Errorf("open postgres storage: %w", err)
		}
		s.closers = append(s.closers, store)
		s.repos = repositories{store, store, store, store}
	default:
		backend, err := badgerstore.OpenBackend(s.config.Storage.Path, s.config.Storage.Path == "")
		if err != nil {
			return fmt.Errorf("open badger storage: %w", err)
		}
		s.closers = append(s.closers, backend)
		s.backend = backend
		repos, err := badgerstore.NewRepositories(backend)
		if err != nil {
			return err
		}
		s.repos = repositories{repos.EmbeddingJobs, repos.IngestionJobs, repos.EmbeddedChunks, repos.DeadLetters}
	}
	return nil
}

func (s *Service) openBus() error {
	cfg := s.config.Bus
	if cfg.Driver == config.DriverMemory {
		b, err := bus.NewMemoryBus(
			bus.WithPoolSize(cfg.PoolSize),
			bus.WithRedeliveryDelay(cfg.RedeliveryDelay),
			bus.WithLogger(s.logger),
		)
		if err != nil {
			return err
		}
		s.bus = b
		return nil
	}

	backend := s.backend
	if cfg.Path != "" {
		b, err := badgerstore.OpenBackend(cfg.Path, false)
		if err != nil {
			return fmt.Errorf("open bus storage: %w", err)
		}
		s.closers = append(s.closers, b)
		backend = b
	}
	b, err := badgerbus.New(backend,
		badgerbus.WithPartitions(cfg.Partitions),
		badgerbus.WithPollInterval(cfg.PollInterval),
		badgerbus.WithRedeliveryDelay(cfg.RedeliveryDelay),
		badgerbus.WithLogger(s.logger),
	)
	if err != nil {
		return err
	}
	s.bus = b
	return nil
}

// Start begins message delivery and, when enabled, the dead-letter redriver.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	if err := s.bus.Start(ctx); err != nil {
		cancel()
		return err
	}
	if s.config.Redrive.Enabled {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.redriver.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("redriver stopped", "err", err)
			}
		}()
	}
	s.cancel = cancel
	s.started = true
	s.logger.Info("service started", "bus", s.config.Bus.Driver, "storage", s.config.Storage.Driver)
	return nil
}

// Upload announces a stored document. It returns the ingestion job id, which
// is generated when the event carries none.
func (s *Service) Upload(ctx context.Context, ev core.DocumentUploaded) (string, error) {
	if ev.IngestionJobID == "" {
		ev.IngestionJobID = core.NewID()
	}
	if err := ev.Validate(); err != nil {
		return "", err
	}
	if err := bus.PublishEvent(ctx, s.bus, ev.DocumentID, ev); err != nil {
		return "", err
	}
	return ev.IngestionJobID, nil
}

// Submit publishes extracted chunks for embedding.
func (s *Service) Submit(ctx context.Context, req core.ProcessingRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return bus.PublishEvent(ctx, s.bus, req.DocumentID, req)
}

// EmbeddingJob returns an embedding job by id.
func (s *Service) EmbeddingJob(ctx context.Context, id string) (*core.EmbeddingJob, error) {
	return s.jobs.Get(ctx, id)
}

// LatestEmbeddingJob returns the newest embedding job of a document.
func (s *Service) LatestEmbeddingJob(ctx context.Context, documentID string) (*core.EmbeddingJob, error) {
	return s.jobs.FindLatest(ctx, documentID)
}

// IngestionJob returns an ingestion job by id.
func (s *Service) IngestionJob(ctx context.Context, id string) (*core.IngestionJob, error) {
	return s.ingestion.Get(ctx, id)
}

// StaleJobs lists unfinished embedding jobs, and completed ones whose indexing
// was never dispatched, that have not changed for olderThan, or for the
// configured threshold when olderThan is zero.
func (s *Service) StaleJobs(ctx context.Context, olderThan time.Duration) ([]*core.EmbeddingJob, error) {
	if olderThan <= 0 {
		olderThan = s.config.Jobs.StaleAfter
	}
	return s.jobs.ListStale(ctx, olderThan)
}

// DeadLetters lists archived envelopes of a topic, or of every topic when empty.
func (s *Service) DeadLetters(ctx context.Context, topic string, limit int) ([]*core.DeadLetterEnvelope, error) {
	return s.repos.deadLetters.ListDeadLetters(ctx, topic, limit)
}

// Redrive runs one redrive pass and returns the number of replayed envelopes.
func (s *Service) Redrive(ctx context.Context) (int, error) {
	return s.redriver.RedriveOnce(ctx)
}

// Breakers reports the state of every provider circuit breaker.
func (s *Service) Breakers() []breaker.Status {
	return s.breakers.Snapshot()
}

// ModelAvailable reports whether calls to model are admitted, and otherwise
// how long until they may be.
func (s *Service) ModelAvailable(model string) (bool, time.Duration) {
	return s.breakers.Available(model)
}

// Search returns the n chunks of a project most similar to text.
func (s *Service) Search(ctx context.Context, workspaceID, projectID, text string, n int) ([]vectorstore.Match, error) {
	model := cmp.Or(s.config.Pipeline.DefaultModel, s.provider.DefaultModel())
	vector, err := breaker.Do(ctx, s.breakers, model, func(ctx context.Context) ([]float32, error) {
		embedder, err := s.provider.EmbedderFor(ctx, model)
		if err != nil {
			return nil, err
		}
		return embedder.EmbedText(ctx, text)
	})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.store.Query(ctx, vectorstore.Namespace(workspaceID, projectID), vector, n)
}

// Close stops delivery and releases every component.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.started = false
	s.mu.Unlock()
	s.wg.Wait()

	var errs []error
	if err := s.bus.Close(); err != nil {
		s.logger.Error("error closing bus", "err", err)
		errs = append(errs, err)
	}
	if err := s.closeStorage(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Service) closeStorage() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.logger.Error("error closing component", "err", err)
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
