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
	"fmt"
	"slices"
)

// DefaultBatchSize is the number of chunks sent in one embedding request.
const DefaultBatchSize = 10

// Worker names a group of stage handlers that can run in its own process.
type Worker string

const (
	WorkerUpload      Worker = "upload"
	WorkerProcessing  Worker = "processing"
	WorkerEmbedding   Worker = "embedding"
	WorkerAggregation Worker = "aggregation"
	WorkerIndexing    Worker = "indexing"
	WorkerCompletion  Worker = "completion"
	WorkerDeadLetter  Worker = "deadletter"
)

// AllWorkers lists every worker in pipeline order.
var AllWorkers = []Worker{
	WorkerUpload,
	WorkerProcessing,
	WorkerEmbedding,
	WorkerAggregation,
	WorkerIndexing,
	WorkerCompletion,
	WorkerDeadLetter,
}

// Config holds pipeline settings.
type Config struct {
	// BatchSize is the number of chunks per embedding request.
	BatchSize int `yaml:"batch_size"`
	// DefaultModel overrides the provider's default embedding model.
	DefaultModel string `yaml:"default_model"`
	// Workers selects the stages this process subscribes. Empty means all.
	Workers []Worker `yaml:"workers"`
}

// DefaultConfig returns a configuration running every worker.
func DefaultConfig() Config {
	return Config{BatchSize: DefaultBatchSize}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("%w: batch size %d", ErrInvalidConfig, c.BatchSize)
	}
	for _, w := range c.Workers {
		if !slices.Contains(AllWorkers, w) {
			return fmt.Errorf("%w: unknown worker %q", ErrInvalidConfig, w)
		}
	}
	return nil
}

// Runs reports whether worker w is enabled.
func (c Config) Runs(w Worker) bool {
	return len(c.Workers) == 0 || slices.Contains(c.Workers, w)
}
