package vector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PgStore is the production Store backed by PostgreSQL + pgvector.
// Upsert runs in a single transaction, so a document's batch is all-or-nothing.
// Safe for concurrent use.
type PgStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPgStore creates a PgStore on an existing pool.
func NewPgStore(pool *pgxpool.Pool, logger *slog.Logger) *PgStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PgStore{pool: pool, logger: logger}
}

func (s *PgStore) Upsert(ctx context.Context, knowledgeBaseID string, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin upsert transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	batch := &pgx.Batch{}
	for _, rec := range records {
		embedding := pgvector.NewVector(rec.Embedding)
		batch.Queue(
			`INSERT INTO document_chunks (id, document_id, knowledge_base_id, chunk_index, content, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (id) DO UPDATE
			 SET content = EXCLUDED.content, embedding = EXCLUDED.embedding`,
			rec.ID, rec.DocumentID, knowledgeBaseID, rec.ChunkIndex, rec.Text, embedding)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert %d chunk records: %w", len(records), err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit upsert: %w", err)
	}

	s.logger.Debug("upserted chunk records",
		"knowledge_base_id", knowledgeBaseID, "count", len(records))
	return nil
}

func (s *PgStore) Query(ctx context.Context, knowledgeBaseID string, embedding []float32, topK int) ([]Match, error) {
	query := pgvector.NewVector(embedding)

	// Cosine similarity = 1 - cosine distance (<=> operator).
	rows, err := s.pool.Query(ctx,
		`SELECT id, document_id, chunk_index, content, 1 - (embedding <=> $1) AS score
		 FROM document_chunks
		 WHERE knowledge_base_id = $2
		 ORDER BY embedding <=> $1 ASC, chunk_index ASC
		 LIMIT $3`,
		query, knowledgeBaseID, topK)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		m := Match{Record: Record{KnowledgeBaseID: knowledgeBaseID}}
		if err := rows.Scan(&m.ID, &m.DocumentID, &m.ChunkIndex, &m.Text, &m.Score); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (s *PgStore) DeleteByDocument(ctx context.Context, documentID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM document_chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete chunk records for document %q: %w", documentID, err)
	}
	s.logger.Debug("deleted chunk records",
		"document_id", documentID, "count", tag.RowsAffected())
	return nil
}

func (s *PgStore) CountByDocument(ctx context.Context, documentID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM document_chunks WHERE document_id = $1`, documentID).
		Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunk records for document %q: %w", documentID, err)
	}
	return count, nil
}
