package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/nuvine/core"
	"github.com/poiesic/nuvine/pipeline"
	"github.com/poiesic/nuvine/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DriverBadger, cfg.Storage.Driver)
	assert.Equal(t, DriverBadger, cfg.Bus.Driver)
	assert.Equal(t, pipeline.DefaultBatchSize, cfg.Pipeline.BatchSize)
	assert.Equal(t, core.TopicDocumentCompleted, cfg.Redrive.Topic)
	assert.Equal(t, 5*time.Minute, cfg.Redrive.ProcessingDelay)

	rc, err := cfg.RetryConfig()
	require.NoError(t, err)
	assert.Equal(t, 3, rc.AttemptsFor(core.TopicProcessingRequest))
	assert.Equal(t, 5, rc.AttemptsFor(core.TopicEmbeddingRequest))
	assert.Equal(t, retry.DefaultDelay, rc.Backoff.Delay(1))
}

func TestParse_OverridesDefaults(t *testing.T) {
	data := []byte(`
storage:
  driver: postgres
  postgres:
    dsn: postgres://nuvine@localhost:5432/nuvine?sslmode=disable
bus:
  driver: memory
ai:
  embedding_host: http://embeddings.internal:8080
  embedding_model: text-embedding-3-small
  api_key_env: OPENAI_API_KEY
  requests_per_second: 5
  burst: 2
breaker:
  wait_duration_in_open: 30s
retry:
  backoff: exponential
  delay: 500ms
  max_delay: 10s
  topic_max_attempts:
    indexing.request: 7
redrive:
  processing_delay: 1m
jobs:
  stale_after: 15m
pipeline:
  batch_size: 32
  workers: [embedding, aggregation]
vector_store:
  path: /var/lib/nuvine/vectors
`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgres://nuvine@localhost:5432/nuvine?sslmode=disable", cfg.Storage.Postgres.DSN)
	assert.Equal(t, DriverMemory, cfg.Bus.Driver)
	assert.Equal(t, 30*time.Second, cfg.Breaker.WaitDurationInOpen)
	assert.Equal(t, 10, cfg.Breaker.WindowSize, "unset fields keep their defaults")
	assert.NotNil(t, cfg.Breaker.IsFailure)
	assert.Equal(t, time.Minute, cfg.Redrive.ProcessingDelay)
	assert.Equal(t, 50, cfg.Redrive.BatchSize)
	assert.Equal(t, 15*time.Minute, cfg.Jobs.StaleAfter)
	assert.Equal(t, 32, cfg.Pipeline.BatchSize)
	assert.Equal(t, []pipeline.Worker{pipeline.WorkerEmbedding, pipeline.WorkerAggregation}, cfg.Pipeline.Workers)
	assert.Equal(t, "/var/lib/nuvine/vectors", cfg.VectorStore.Path)

	aiCfg := cfg.AIConfig()
	require.NoError(t, aiCfg.Validate())
	assert.Equal(t, "http://embeddings.internal:8080/v1", aiCfg.EmbeddingHost)
	assert.Equal(t, "text-embedding-3-small", aiCfg.EmbeddingModel)
	assert.Equal(t, 5.0, aiCfg.RequestsPerSecond)
	assert.Equal(t, 2, aiCfg.Burst)

	rc, err := cfg.RetryConfig()
	require.NoError(t, err)
	assert.Equal(t, 7, rc.AttemptsFor(core.TopicIndexingRequest))
	assert.Equal(t, 5, rc.AttemptsFor(core.TopicEmbeddingRequest))
	assert.Equal(t, retry.Exponential{Base: 500 * time.Millisecond, Max: 10 * time.Second}, rc.Backoff)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"malformed yaml", "storage: [\n"},
		{"unknown storage driver", "storage:\n  driver: mysql\n"},
		{"postgres without dsn", "storage:\n  driver: postgres\n"},
		{"badger bus without a badger database", "storage:\n  driver: postgres\n  postgres:\n    dsn: postgres://localhost/nuvine\n"},
		{"unknown bus driver", "bus:\n  driver: kafka\n"},
		{"no partitions", "bus:\n  partitions: 0\n"},
		{"unknown backoff", "retry:\n  backoff: jittered\n"},
		{"zero attempts", "retry:\n  max_attempts: 0\n"},
		{"bad duration", "retry:\n  delay: soon\n"},
		{"zero redrive batch", "redrive:\n  batch_size: 0\n"},
		{"unknown worker", "pipeline:\n  workers: [scraper]\n"},
		{"zero batch size", "pipeline:\n  batch_size: 0\n"},
		{"missing model", "ai:\n  embedding_model: \"\"\n"},
		{"bad breaker", "breaker:\n  window_size: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nuvine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  batch_size: 16\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Pipeline.BatchSize)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
