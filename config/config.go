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

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/poiesic/nuvine/ai"
	"github.com/poiesic/nuvine/breaker"
	"github.com/poiesic/nuvine/core"
	"github.com/poiesic/nuvine/jobs"
	"github.com/poiesic/nuvine/pipeline"
	"github.com/poiesic/nuvine/retry"
	"github.com/poiesic/nuvine/storage/postgres"
	"gopkg.in/yaml.v3"
)

// Storage and bus drivers.
const (
	DriverBadger   = "badger"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Backoff policies.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// ErrInvalidConfig indicates a configuration that cannot be used.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete service configuration.
type Config struct {
	Storage     StorageConfig     `yaml:"storage"`
	Bus         BusConfig         `yaml:"bus"`
	AI          AIConfig          `yaml:"ai"`
	Breaker     breaker.Config    `yaml:"breaker"`
	Retry       RetryConfig       `yaml:"retry"`
	Redrive     RedriveConfig     `yaml:"redrive"`
	Jobs        JobsConfig        `yaml:"jobs"`
	Pipeline    pipeline.Config   `yaml:"pipeline"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
}

// StorageConfig selects the job repositories.
type StorageConfig struct {
	// Driver is "badger" or "postgres".
	Driver string `yaml:"driver"`
	// Path is the badger data directory. Empty keeps data in memory.
	Path     string          `yaml:"path"`
	Postgres postgres.Config `yaml:"postgres"`
}

// BusConfig selects the message bus.
type BusConfig struct {
	// Driver is "badger" for the durable bus or "memory".
	// The badger bus shares the storage badger database, or opens its own at Path.
	Driver          string        `yaml:"driver"`
	Path            string        `yaml:"path"`
	Partitions      int           `yaml:"partitions"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	PoolSize        int           `yaml:"pool_size"`
	RedeliveryDelay time.Duration `yaml:"redelivery_delay"`
}

// AIConfig mirrors ai.Config.
type AIConfig struct {
	EmbeddingHost     string        `yaml:"embedding_host"`
	EmbeddingModel    string        `yaml:"embedding_model"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	ClientTTL         time.Duration `yaml:"client_ttl"`
}

// RetryConfig describes the redelivery policy of every stage.
type RetryConfig struct {
	MaxAttempts      int            `yaml:"max_attempts"`
	TopicMaxAttempts map[string]int `yaml:"topic_max_attempts"`
	// Backoff is "fixed" or "exponential".
	Backoff  string        `yaml:"backoff"`
	Delay    time.Duration `yaml:"delay"`
	MaxDelay time.Duration `yaml:"max_delay"`
}

// RedriveConfig mirrors retry.RedriveConfig.
type RedriveConfig struct {
	Topic           string        `yaml:"topic"`
	ProcessingDelay time.Duration `yaml:"processing_delay"`
	BatchSize       int           `yaml:"batch_size"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	// Enabled runs the redriver alongside the pipeline.
	Enabled bool `yaml:"enabled"`
}

// JobsConfig mirrors jobs.Config and adds the stale job threshold.
type JobsConfig struct {
	MaxUpdateAttempts int           `yaml:"max_update_attempts"`
	UpdateBackoff     time.Duration `yaml:"update_backoff"`
	MaxUpdateBackoff  time.Duration `yaml:"max_update_backoff"`
	// StaleAfter is how long an IN_PROGRESS job may go without an update
	// before it is reported as stale.
	StaleAfter time.Duration `yaml:"stale_after"`
}

// VectorStoreConfig locates the chromem database.
type VectorStoreConfig struct {
	// Path is the persistence directory. Empty keeps vectors in memory.
	Path string `yaml:"path"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	aiCfg := ai.DefaultConfig()
	retryCfg := retry.DefaultConfig()
	redriveCfg := retry.DefaultRedriveConfig()
	jobsCfg := jobs.DefaultConfig()
	return &Config{
		Storage: StorageConfig{Driver: DriverBadger},
		Bus: BusConfig{
			Driver:          DriverBadger,
			Partitions:      4,
			PollInterval:    250 * time.Millisecond,
			PoolSize:        4,
			RedeliveryDelay: time.Second,
		},
		AI: AIConfig{
			EmbeddingHost:     aiCfg.EmbeddingHost,
			EmbeddingModel:    aiCfg.EmbeddingModel,
			APIKeyEnv:         aiCfg.APIKeyEnv,
			RequestsPerSecond: aiCfg.RequestsPerSecond,
			Burst:             aiCfg.Burst,
			ClientTTL:         aiCfg.ClientTTL,
		},
		Breaker: breaker.DefaultConfig(),
		Retry: RetryConfig{
			MaxAttempts:      retryCfg.MaxAttempts,
			TopicMaxAttempts: retryCfg.TopicMaxAttempts,
			Backoff:          BackoffFixed,
			Delay:            retry.DefaultDelay,
			MaxDelay:         time.Minute,
		},
		Redrive: RedriveConfig{
			Topic:           core.TopicDocumentCompleted,
			ProcessingDelay: redriveCfg.ProcessingDelay,
			BatchSize:       redriveCfg.BatchSize,
			PollInterval:    redriveCfg.PollInterval,
			Enabled:         true,
		},
		Jobs: JobsConfig{
			MaxUpdateAttempts: jobsCfg.MaxUpdateAttempts,
			UpdateBackoff:     jobsCfg.UpdateBackoff,
			MaxUpdateBackoff:  jobsCfg.MaxUpdateBackoff,
			StaleAfter:        time.Hour,
		},
		Pipeline: pipeline.DefaultConfig(),
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverBadger:
	case DriverPostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("%w: postgres storage needs a dsn", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage driver %q", ErrInvalidConfig, c.Storage.Driver)
	}

	switch c.Bus.Driver {
	case DriverMemory:
	case DriverBadger:
		if c.Bus.Partitions < 1 {
			return fmt.Errorf("%w: bus partitions %d", ErrInvalidConfig, c.Bus.Partitions)
		}
		if c.Storage.Driver != DriverBadger && c.Bus.Path == "" {
			return fmt.Errorf("%w: badger bus needs a path when storage is %s", ErrInvalidConfig, c.Storage.Driver)
		}
	default:
		return fmt.Errorf("%w: unknown bus driver %q", ErrInvalidConfig, c.Bus.Driver)
	}
	if c.Jobs.StaleAfter < 0 {
		return fmt.Errorf("%w: negative stale threshold", ErrInvalidConfig)
	}

	if err := c.AIConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.Breaker.Validate(); err != nil {
		return err
	}
	if _, err := c.RetryConfig(); err != nil {
		return err
	}
	if err := c.RedriveConfig().Validate(); err != nil {
		return err
	}
	if err := c.JobsConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return c.Pipeline.Validate()
}

// AIConfig returns the provider configuration.
func (c *Config) AIConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.AI.EmbeddingHost),
		ai.WithEmbeddingModel(c.AI.EmbeddingModel),
		ai.WithAPIKeyEnv(c.AI.APIKeyEnv),
		ai.WithRateLimit(c.AI.RequestsPerSecond, c.AI.Burst),
		ai.WithClientTTL(c.AI.ClientTTL),
	)
}

// RetryConfig returns the retry middleware configuration.
func (c *Config) RetryConfig() (retry.Config, error) {
	cfg := retry.Config{
		MaxAttempts:      c.Retry.MaxAttempts,
		TopicMaxAttempts: c.Retry.TopicMaxAttempts,
	}
	switch c.Retry.Backoff {
	case BackoffFixed, "":
		cfg.Backoff = retry.Fixed(c.Retry.Delay)
	case BackoffExponential:
		cfg.Backoff = retry.Exponential{Base: c.Retry.Delay, Max: c.Retry.MaxDelay}
	default:
		return retry.Config{}, fmt.Errorf("%w: unknown backoff %q", ErrInvalidConfig, c.Retry.Backoff)
	}
	if c.Retry.Delay < 0 {
		return retry.Config{}, fmt.Errorf("%w: negative retry delay", ErrInvalidConfig)
	}
	return cfg, cfg.Validate()
}

// RedriveConfig returns the dead-letter redrive configuration.
func (c *Config) RedriveConfig() retry.RedriveConfig {
	return retry.RedriveConfig{
		Topic:           c.Redrive.Topic,
		ProcessingDelay: c.Redrive.ProcessingDelay,
		BatchSize:       c.Redrive.BatchSize,
		PollInterval:    c.Redrive.PollInterval,
	}
}

// JobsConfig returns the job tracker configuration.
func (c *Config) JobsConfig() jobs.Config {
	return jobs.Config{
		MaxUpdateAttempts: c.Jobs.MaxUpdateAttempts,
		UpdateBackoff:     c.Jobs.UpdateBackoff,
		MaxUpdateBackoff:  c.Jobs.MaxUpdateBackoff,
	}
}
