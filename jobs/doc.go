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

// Package jobs tracks the lifecycle of ingestion and embedding jobs.
//
// Tracker owns EmbeddingJob state: creation, additive batch aggregation and
// failure. Every update is a read-modify-write under the repository's
// optimistic version check, retried a bounded number of times on conflict,
// so completions arriving concurrently or out of order are counted exactly
// once each.
//
// IngestionTracker owns the per-document IngestionJob and its monotonic
// stage progression.
package jobs
