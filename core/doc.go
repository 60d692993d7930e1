// Package core defines the domain model of the nuvine embedding pipeline:
// chunks, embedding and ingestion jobs with their state machine, dead-letter
// envelopes and the events exchanged between pipeline stages.
package core
