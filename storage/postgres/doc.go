// Package postgres implements the nuvine repositories on PostgreSQL using bun.
//
// Embedding and ingestion jobs are updated with a version-guarded UPDATE, and a
// partial unique index enforces a single active embedding job per document.
package postgres
