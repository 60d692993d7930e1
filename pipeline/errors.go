package pipeline

import "errors"

var (
	// ErrBusRequired is returned when a message bus is not provided.
	ErrBusRequired = errors.New("message bus required")

	// ErrTrackerRequired is returned when an embedding job tracker is not provided.
	ErrTrackerRequired = errors.New("embedding job tracker required")

	// ErrIngestionTrackerRequired is returned when an ingestion job tracker is not provided.
	ErrIngestionTrackerRequired = errors.New("ingestion job tracker required")

	// ErrChunkRepositoryRequired is returned when an embedded chunk repository is not provided.
	ErrChunkRepositoryRequired = errors.New("embedded chunk repository required")

	// ErrDeadLetterRepositoryRequired is returned when a dead-letter repository is not provided.
	ErrDeadLetterRepositoryRequired = errors.New("dead-letter repository required")

	// ErrProviderRequired is returned when an embedding provider is not provided.
	ErrProviderRequired = errors.New("embedding provider required")

	// ErrVectorStoreRequired is returned when a vector store is not provided.
	ErrVectorStoreRequired = errors.New("vector store required")

	// ErrInvalidConfig indicates an unusable pipeline configuration.
	ErrInvalidConfig = errors.New("invalid pipeline configuration")

	// ErrIncompleteChunks indicates a completed job whose staged chunks do not
	// add up to its total.
	ErrIncompleteChunks = errors.New("staged chunks do not match job total")
)
