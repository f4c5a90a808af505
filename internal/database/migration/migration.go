package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrDimensionMismatch means the existing embedding column was created for a
// different vector size than the configured embedder produces.
var ErrDimensionMismatch = errors.New("embedding column dimension mismatch")

const embeddingTypeQuery = `SELECT format_type(atttypid, atttypmod) FROM pg_attribute
WHERE attrelid = 'public.documents'::regclass AND attname = 'embedding' AND NOT attisdropped`

// Step is one named, idempotent DDL statement.
type Step struct {
	Name string
	SQL  string
}

// Steps returns the schema for a documents table whose embedding column holds
// vectors of exactly dims elements.
func Steps(dims int) []Step {
	return []Step{
		{
			Name: "create_extension_uuid_ossp",
			SQL:  `CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
		},
		{
			Name: "create_extension_vector",
			SQL:  `CREATE EXTENSION IF NOT EXISTS vector;`,
		},
		{
			Name: "create_table_documents",
			SQL: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS documents (
  id           UUID        PRIMARY KEY DEFAULT uuid_generate_v4(),
  title        TEXT        NOT NULL CHECK (title <> ''),
  file_path    TEXT        NOT NULL UNIQUE,
  content_type TEXT        NOT NULL,
  file_size    BIGINT      NOT NULL CHECK (file_size >= 0),
  embedding    vector(%d),
  user_id      TEXT        NOT NULL,
  created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);`, dims),
		},
		{
			Name: "create_index_documents_user_created_at",
			SQL:  `CREATE INDEX IF NOT EXISTS idx_documents_user_created_at ON documents (user_id, created_at DESC);`,
		},
		{
			Name: "create_index_documents_title",
			SQL:  `CREATE INDEX IF NOT EXISTS idx_documents_title ON documents (title);`,
		},
		{
			Name: "create_index_documents_embedding",
			SQL:  `CREATE INDEX IF NOT EXISTS idx_documents_embedding ON documents USING hnsw (embedding vector_cosine_ops);`,
		},
	}
}

// EnsureMigrated checks if the 'documents' table exists and runs migrations if it doesn't.
func EnsureMigrated(ctx context.Context, db *sql.DB, log *zap.Logger, dims int, dbHost string) error {
	start := time.Now()
	log = log.With(zap.String("component", "database"), zap.String("db_host", dbHost))

	log.Info("db_migration_check", zap.String("status", "starting"))

	var exists bool
	query := "SELECT to_regclass('public.documents') IS NOT NULL"
	if err := db.QueryRowContext(ctx, query).Scan(&exists); err != nil {
		log.Error("db_migration_failed",
			zap.String("status", "error"),
			zap.Error(err),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		return fmt.Errorf("failed to check sentinel table: %w", err)
	}

	if exists {
		if err := checkEmbeddingColumn(ctx, db, dims); err != nil {
			log.Error("db_migration_failed",
				zap.String("status", "error"),
				zap.Error(err),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
			return err
		}
		log.Info("db_migration_skip",
			zap.String("status", "success"),
			zap.String("reason", "schema already exists"),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		return nil
	}

	log.Info("db_migration_start", zap.String("status", "in_progress"))

	for _, step := range Steps(dims) {
		stepStart := time.Now()
		if _, err := db.ExecContext(ctx, step.SQL); err != nil {
			log.Error("db_migration_failed",
				zap.String("status", "error"),
				zap.String("migration_step", step.Name),
				zap.Error(err),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.Int64("step_duration_ms", time.Since(stepStart).Milliseconds()),
			)
			return fmt.Errorf("migration step %s failed: %w", step.Name, err)
		}

		log.Info("db_migration_step",
			zap.String("status", "success"),
			zap.String("migration_step", step.Name),
			zap.Int64("step_duration_ms", time.Since(stepStart).Milliseconds()),
		)
	}

	log.Info("db_migration_success",
		zap.String("status", "success"),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return nil
}

func checkEmbeddingColumn(ctx context.Context, db *sql.DB, dims int) error {
	var got string
	if err := db.QueryRowContext(ctx, embeddingTypeQuery).Scan(&got); err != nil {
		return fmt.Errorf("failed to inspect embedding column: %w", err)
	}
	if want := fmt.Sprintf("vector(%d)", dims); got != want {
		return fmt.Errorf("%w: table has %s, configured %s", ErrDimensionMismatch, got, want)
	}
	return nil
}
