// Package pipeline wires the embedding pipeline stages onto a message bus.
//
// Each stage is a bus handler that consumes one event type and publishes the
// next:
//
//	document.uploaded   -> ingestion job, extract request
//	document.processing -> embedding job, one embedding request per batch
//	embedding.request   -> provider call through the circuit breaker
//	embedding.completed -> batch aggregation, indexing request on completion
//	indexing.request    -> vector store upsert, document completed
//	document.completed  -> completion hook
//
// Every stage except the dead-letter observers is wrapped by retry.Middleware.
// All progress lives in the job repositories, so any process running the
// same stages can pick up where another left off.
package pipeline
