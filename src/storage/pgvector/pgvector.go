// Package pgvector stores embedding records in PostgreSQL with the pgvector
// extension.
package pgvector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"docrag/src/core/index"
	"docrag/src/core/rag"
	"docrag/src/log"
)

// pgvector cannot build ivfflat or hnsw indexes above this many dimensions.
const maxIndexedDimension = 2000

// Store is an index.Index over one table.
type Store struct {
	pool      *pgxpool.Pool
	table     string
	dimension int
}

var _ index.Index = (*Store)(nil)

// New connects to url and uses table for records.
func New(ctx context.Context, url, table string, dimension int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("invalid pgvector url: %w", err)
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to pgvector: %w", err)
	}
	return &Store{pool: p, table: strings.ToLower(table), dimension: dimension}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Dimension() int {
	return s.dimension
}

func (s *Store) ident() string {
	return pgx.Identifier{s.table}.Sanitize()
}

// EnsureCollection creates the extension and table, then checks the
// embedding column's declared dimension.
func (s *Store) EnsureCollection(ctx context.Context) error {
	var typmod int
	err := s.pool.QueryRow(ctx,
		`SELECT atttypmod FROM pg_attribute WHERE attrelid = to_regclass($1) AND attname = 'embedding'`,
		s.table).Scan(&typmod)
	switch {
	case err == nil:
		if typmod != s.dimension {
			return rag.NewError(rag.ErrIndex, false, rag.ErrDimensionMismatch,
				"table %s has dimension %d, configured %d", s.table, typmod, s.dimension)
		}
		return nil
	case !errors.Is(err, pgx.ErrNoRows):
		return wrap(err, "failed to describe table %s", s.table)
	}

	log.Info("Creating pgvector table", "table", s.table, "dimension", s.dimension)
	q := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS %[1]s (
  id          TEXT PRIMARY KEY,
  source_id   TEXT NOT NULL,
  chunk_index INT NOT NULL,
  text        TEXT NOT NULL,
  source_type TEXT NOT NULL DEFAULT '',
  page        INT NOT NULL DEFAULT 0,
  embedding   vector(%[2]d) NOT NULL,
  created_at  TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE INDEX IF NOT EXISTS %[3]s ON %[1]s (source_id);
`, s.ident(), s.dimension, pgx.Identifier{s.table + "_source_idx"}.Sanitize())

	if s.dimension <= maxIndexedDimension {
		q += fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops);\n",
			pgx.Identifier{s.table + "_embedding_idx"}.Sanitize(), s.ident())
	}

	if _, err := s.pool.Exec(ctx, q); err != nil {
		return wrap(err, "failed to create table %s", s.table)
	}
	return nil
}

// Upsert writes all records in one transaction.
func (s *Store) Upsert(ctx context.Context, records []rag.EmbeddingRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if err := index.CheckDimensions(records, s.dimension); err != nil {
		return 0, err
	}

	q := fmt.Sprintf(`
		INSERT INTO %s (id, source_id, chunk_index, text, source_type, page, embedding)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET
			source_id   = EXCLUDED.source_id,
			chunk_index = EXCLUDED.chunk_index,
			text        = EXCLUDED.text,
			source_type = EXCLUDED.source_type,
			page        = EXCLUDED.page,
			embedding   = EXCLUDED.embedding`, s.ident())

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(q, r.ID, r.Payload.SourceID, r.Payload.ChunkIndex, r.Payload.Text,
			string(r.Payload.SourceType), r.Payload.Page, pgvector.NewVector(r.Vector))
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return 0, wrap(err, "failed to upsert %d records", len(records))
	}
	return len(records), nil
}

func (s *Store) Search(ctx context.Context, vector []float32, topK int, scoreThreshold float64) ([]rag.ScoredRecord, error) {
	if err := index.CheckQuery(vector, topK, s.dimension); err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`
		SELECT id, source_id, chunk_index, text, source_type, page, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE $2::float8 <= -1 OR 1 - (embedding <=> $1) >= $2
		ORDER BY embedding <=> $1
		LIMIT $3`, s.ident())

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vector), scoreThreshold, topK)
	if err != nil {
		return nil, wrap(err, "failed to search %s", s.table)
	}
	defer rows.Close()

	var hits []rag.ScoredRecord
	for rows.Next() {
		var (
			r          rag.ScoredRecord
			sourceType string
		)
		p := &r.Record.Payload
		if err := rows.Scan(&r.Record.ID, &p.SourceID, &p.ChunkIndex, &p.Text, &sourceType, &p.Page, &r.Score); err != nil {
			return nil, wrap(err, "failed to read search result")
		}
		p.SourceType = rag.FileType(sourceType)
		hits = append(hits, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(err, "failed to read search results")
	}
	return hits, nil
}

func (s *Store) DeleteSource(ctx context.Context, sourceID string) (int, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE source_id = $1`, s.ident()), sourceID)
	if err != nil {
		return 0, wrap(err, "failed to delete source %s", sourceID)
	}
	return int(tag.RowsAffected()), nil
}

// wrap marks SQL errors caused by the statement itself as permanent and
// everything else, such as a lost connection, as retryable.
func wrap(err error, format string, args ...interface{}) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code[:2] {
		case "22", "23", "42":
			return rag.NewError(rag.ErrIndex, false, err, format, args...)
		}
	}
	return index.Unavailable(err, format, args...)
}
