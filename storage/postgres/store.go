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

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/nuvine/core"
	"github.com/poiesic/nuvine/retry"
	"github.com/poiesic/nuvine/storage"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

const (
	connectAttempts = 5
	connectDelay    = 500 * time.Millisecond
)

// Config holds PostgreSQL connection settings.
type Config struct {
	DSN string `yaml:"dsn"`
	// Debug logs every query through bundebug.
	Debug bool `yaml:"debug"`
}

// Store implements the job, chunk and dead-letter repositories on PostgreSQL.
//
// Job updates are compare-and-swap: the UPDATE is guarded by the expected
// version and zero affected rows means another writer won.
type Store struct {
	db *bun.DB
}

var (
	_ storage.EmbeddingJobRepository  = (*Store)(nil)
	_ storage.IngestionJobRepository  = (*Store)(nil)
	_ storage.EmbeddedChunkRepository = (*Store)(nil)
	_ storage.DeadLetterRepository    = (*Store)(nil)
)

// Open connects to PostgreSQL and creates the schema if needed.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: postgres dsn is empty", storage.ErrInvalidQuery)
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
	db := bun.NewDB(sqldb, pgdialect.New())
	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	// The database may still be starting when the workers come up.
	if err := retry.RetryWithBackoff(ctx, func() error { return db.PingContext(ctx) }, connectAttempts, connectDelay); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}

	store := NewStore(db)
	if err := store.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewStore wraps an existing bun database.
func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

// InitSchema creates tables and indexes if they do not exist.
func (s *Store) InitSchema(ctx context.Context) error {
	models := []any{
		(*embeddingJobRow)(nil),
		(*ingestionJobRow)(nil),
		(*embeddedChunkRow)(nil),
		(*deadLetterRow)(nil),
	}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}

	// At most one active job per document.
	_, err := s.db.NewCreateIndex().
		Model((*embeddingJobRow)(nil)).
		Index("embedding_jobs_active_document_idx").
		Unique().
		IfNotExists().
		Column("document_id").
		Where("status IN ('PENDING', 'IN_PROGRESS')").
		Exec(ctx)
	if err != nil {
		return err
	}
	_, err = s.db.NewCreateIndex().
		Model((*embeddingJobRow)(nil)).
		Index("embedding_jobs_document_created_idx").
		IfNotExists().
		Column("document_id", "created_at").
		Exec(ctx)
	return err
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTransaction runs fn inside a database transaction.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx)
	})
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == uniqueViolation
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

// CreateEmbeddingJob inserts a new job; the partial unique index rejects a
// second active job for the same document.
func (s *Store) CreateEmbeddingJob(ctx context.Context, job *core.EmbeddingJob) (*core.EmbeddingJob, error) {
	created := job.Clone()
	now := time.Now().UTC()
	if created.CreatedAt.IsZero() {
		created.CreatedAt = now
	}
	created.UpdatedAt = now
	created.Version = 1

	if _, err := s.db.NewInsert().Model(toEmbeddingJobRow(created)).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %w", storage.ErrDuplicateKey, err)
		}
		return nil, err
	}
	return created, nil
}

// GetEmbeddingJob retrieves a job by ID.
func (s *Store) GetEmbeddingJob(ctx context.Context, id string) (*core.EmbeddingJob, error) {
	row := new(embeddingJobRow)
	if err := s.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, notFound(err)
	}
	return row.toCore()
}

// FindLatestEmbeddingJob returns the newest job for a document.
func (s *Store) FindLatestEmbeddingJob(ctx context.Context, documentID string) (*core.EmbeddingJob, error) {
	row := new(embeddingJobRow)
	err := s.db.NewSelect().
		Model(row).
		Where("document_id = ?", documentID).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return row.toCore()
}

// UpdateEmbeddingJob applies mutate and writes it back only if the stored
// version still equals expectedVersion.
func (s *Store) UpdateEmbeddingJob(ctx context.Context, id string, expectedVersion int64, mutate storage.Mutation[core.EmbeddingJob]) (*core.EmbeddingJob, error) {
	current, err := s.GetEmbeddingJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, fmt.Errorf("%w: job %s at version %d, expected %d", storage.ErrVersionConflict, id, current.Version, expectedVersion)
	}
	if err := mutate(current); err != nil {
		return nil, err
	}
	current.ID = id
	current.Version = expectedVersion + 1
	current.UpdatedAt = time.Now().UTC()

	res, err := s.db.NewUpdate().
		Model(toEmbeddingJobRow(current)).
		WherePK().
		Where("version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %w", storage.ErrDuplicateKey, err)
		}
		return nil, err
	}
	if err := checkAffected(res, id, expectedVersion); err != nil {
		return nil, err
	}
	return current, nil
}

func checkAffected(res sql.Result, id string, expectedVersion int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s changed after version %d was read", storage.ErrVersionConflict, id, expectedVersion)
	}
	return nil
}

// ListEmbeddingJobs returns jobs with the given status, oldest update first.
func (s *Store) ListEmbeddingJobs(ctx context.Context, status core.JobStatus) ([]*core.EmbeddingJob, error) {
	var rows []embeddingJobRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("status = ?", status.String()).
		Order("updated_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	jobs := make([]*core.EmbeddingJob, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toCore()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// CreateIngestionJob inserts a new ingestion job.
func (s *Store) CreateIngestionJob(ctx context.Context, job *core.IngestionJob) (*core.IngestionJob, error) {
	created := job.Clone()
	now := time.Now().UTC()
	if created.CreatedAt.IsZero() {
		created.CreatedAt = now
	}
	created.UpdatedAt = now
	created.Version = 1

	if _, err := s.db.NewInsert().Model(toIngestionJobRow(created)).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %w", storage.ErrDuplicateKey, err)
		}
		return nil, err
	}
	return created, nil
}

// GetIngestionJob retrieves an ingestion job by ID.
func (s *Store) GetIngestionJob(ctx context.Context, id string) (*core.IngestionJob, error) {
	row := new(ingestionJobRow)
	if err := s.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, notFound(err)
	}
	return row.toCore()
}

// UpdateIngestionJob has the same compare-and-swap contract as UpdateEmbeddingJob.
func (s *Store) UpdateIngestionJob(ctx context.Context, id string, expectedVersion int64, mutate storage.Mutation[core.IngestionJob]) (*core.IngestionJob, error) {
	current, err := s.GetIngestionJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, fmt.Errorf("%w: ingestion job %s at version %d, expected %d", storage.ErrVersionConflict, id, current.Version, expectedVersion)
	}
	if err := mutate(current); err != nil {
		return nil, err
	}
	current.ID = id
	current.Version = expectedVersion + 1
	current.UpdatedAt = time.Now().UTC()

	res, err := s.db.NewUpdate().
		Model(toIngestionJobRow(current)).
		WherePK().
		Where("version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	if err := checkAffected(res, id, expectedVersion); err != nil {
		return nil, err
	}
	return current, nil
}

// SaveEmbeddedChunks upserts chunks keyed by job and chunk index.
func (s *Store) SaveEmbeddedChunks(ctx context.Context, jobID string, chunks ...core.EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	rows := make([]embeddedChunkRow, len(chunks))
	for i, c := range chunks {
		rows[i] = toEmbeddedChunkRow(jobID, c)
	}
	_, err := s.db.NewInsert().
		Model(&rows).
		On("CONFLICT (job_id, chunk_index) DO UPDATE").
		Set("document_id = EXCLUDED.document_id").
		Set("page = EXCLUDED.page").
		Set("start_offset = EXCLUDED.start_offset").
		Set("end_offset = EXCLUDED.end_offset").
		Set("content = EXCLUDED.content").
		Set("embedding = EXCLUDED.embedding").
		Exec(ctx)
	return err
}

// GetEmbeddedChunks returns a job's chunks ordered by index.
func (s *Store) GetEmbeddedChunks(ctx context.Context, jobID string) ([]core.EmbeddedChunk, error) {
	var rows []embeddedChunkRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("job_id = ?", jobID).
		Order("chunk_index ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	chunks := make([]core.EmbeddedChunk, len(rows))
	for i := range rows {
		chunks[i] = rows[i].toCore()
	}
	return chunks, nil
}

// DeleteEmbeddedChunks removes all chunks of a job.
func (s *Store) DeleteEmbeddedChunks(ctx context.Context, jobID string) error {
	_, err := s.db.NewDelete().Model((*embeddedChunkRow)(nil)).Where("job_id = ?", jobID).Exec(ctx)
	return err
}

// SaveDeadLetter upserts an envelope by ID.
func (s *Store) SaveDeadLetter(ctx context.Context, envelope *core.DeadLetterEnvelope) error {
	_, err := s.db.NewInsert().
		Model(toDeadLetterRow(envelope)).
		On("CONFLICT (id) DO UPDATE").
		Set("attempt_count = EXCLUDED.attempt_count").
		Set("error_message = EXCLUDED.error_message").
		Set("error_class = EXCLUDED.error_class").
		Set("last_failed_at = EXCLUDED.last_failed_at").
		Exec(ctx)
	return err
}

// GetDeadLetter retrieves an envelope by ID.
func (s *Store) GetDeadLetter(ctx context.Context, id string) (*core.DeadLetterEnvelope, error) {
	row := new(deadLetterRow)
	if err := s.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, notFound(err)
	}
	return row.toCore(), nil
}

// ListDeadLetters returns envelopes, oldest failure first.
func (s *Store) ListDeadLetters(ctx context.Context, topic string, limit int) ([]*core.DeadLetterEnvelope, error) {
	var rows []deadLetterRow
	q := s.db.NewSelect().Model(&rows).Order("last_failed_at ASC", "id ASC")
	if topic != "" {
		q = q.Where("original_topic = ?", topic)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	envelopes := make([]*core.DeadLetterEnvelope, len(rows))
	for i := range rows {
		envelopes[i] = rows[i].toCore()
	}
	return envelopes, nil
}

// DeleteDeadLetter removes an envelope.
func (s *Store) DeleteDeadLetter(ctx context.Context, id string) error {
	res, err := s.db.NewDelete().Model((*deadLetterRow)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
