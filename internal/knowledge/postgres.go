package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the production DocumentStore backed by PostgreSQL.
// Status transition guards are compare-and-set UPDATEs, so they hold across
// processes. Safe for concurrent use.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore creates a PostgresStore. The pool lifecycle is owned by
// the caller.
func NewPostgresStore(pool *pgxpool.Pool, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{pool: pool, logger: logger}
}

func (s *PostgresStore) CreateKnowledgeBase(ctx context.Context, kb KnowledgeBase) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO knowledge_bases (id, tenant_id, name, created_at) VALUES ($1, $2, $3, $4)`,
		kb.ID, kb.TenantID, kb.Name, kb.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create knowledge base %q: %w", kb.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetKnowledgeBase(ctx context.Context, id string) (KnowledgeBase, error) {
	var kb KnowledgeBase
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, name, created_at FROM knowledge_bases WHERE id = $1`, id).
		Scan(&kb.ID, &kb.TenantID, &kb.Name, &kb.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return KnowledgeBase{}, fmt.Errorf("knowledge base %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return KnowledgeBase{}, fmt.Errorf("failed to get knowledge base %q: %w", id, err)
	}
	return kb, nil
}

func (s *PostgresStore) DeleteKnowledgeBase(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM knowledge_bases WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete knowledge base %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("knowledge base %q: %w", id, ErrNotFound)
	}
	// Member documents are removed by the ON DELETE CASCADE constraint;
	// vector cleanup is the orchestrator's job.
	return nil
}

func (s *PostgresStore) ListKnowledgeBases(ctx context.Context) ([]KnowledgeBase, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, created_at FROM knowledge_bases ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge bases: %w", err)
	}
	defer rows.Close()

	var kbs []KnowledgeBase
	for rows.Next() {
		var kb KnowledgeBase
		if err := rows.Scan(&kb.ID, &kb.TenantID, &kb.Name, &kb.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge base: %w", err)
		}
		kbs = append(kbs, kb)
	}
	return kbs, rows.Err()
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc Document) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, knowledge_base_id, source_url, format, status, created_at, status_changed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		doc.ID, doc.KnowledgeBaseID, doc.SourceURL, string(doc.Format), string(doc.Status), doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create document %q: %w", doc.ID, err)
	}
	return nil
}

const documentColumns = `id, knowledge_base_id, source_url, format, status,
	extracted_content, error_detail, chunk_count, created_at, status_changed_at`

func scanDocument(row pgx.Row) (Document, error) {
	var doc Document
	var format, status string
	err := row.Scan(&doc.ID, &doc.KnowledgeBaseID, &doc.SourceURL, &format, &status,
		&doc.ExtractedContent, &doc.ErrorDetail, &doc.ChunkCount, &doc.CreatedAt, &doc.StatusChangedAt)
	if err != nil {
		return Document{}, err
	}
	doc.Format = Format(format)
	doc.Status = Status(status)
	return doc, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (Document, error) {
	doc, err := scanDocument(s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("failed to get document %q: %w", id, err)
	}
	return doc, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, knowledgeBaseID string) ([]Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE knowledge_base_id = $1 ORDER BY created_at`,
		knowledgeBaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	return nil
}

// transition performs a guarded status update. The WHERE clause on the
// current status is the compare-and-set that serializes concurrent runs.
func (s *PostgresStore) transition(ctx context.Context, id, set string, args []any, from ...Status) error {
	states := make([]string, len(from))
	for i, st := range from {
		states[i] = string(st)
	}

	query := `UPDATE documents SET ` + set + `, status_changed_at = now() WHERE id = $1 AND status = ANY($2)`
	tag, err := s.pool.Exec(ctx, query, append([]any{id, states}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update document %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing document from a lost claim race.
		if _, getErr := s.GetDocument(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("document %q: %w", id, ErrInvalidTransition)
	}
	return nil
}

func (s *PostgresStore) ClaimForExtraction(ctx context.Context, id string) error {
	return s.transition(ctx, id, `status = 'extracting'`, nil, StatusPending)
}

func (s *PostgresStore) MarkEmbedding(ctx context.Context, id string, extractedContent string) error {
	return s.transition(ctx, id,
		`status = 'embedding', extracted_content = $3, error_detail = NULL`,
		[]any{extractedContent}, StatusExtracting)
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, id string, chunkCount int) error {
	return s.transition(ctx, id,
		`status = 'processed', chunk_count = $3, error_detail = NULL`,
		[]any{chunkCount}, StatusEmbedding)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id string, cause string) error {
	err := s.transition(ctx, id,
		`status = 'failed', error_detail = $3`,
		[]any{cause}, StatusExtracting, StatusEmbedding)
	if err == nil {
		s.logger.Debug("document marked failed", "document_id", id, "cause", cause)
	}
	return err
}

func (s *PostgresStore) ResetForReprocess(ctx context.Context, id string) error {
	return s.transition(ctx, id,
		`status = 'pending', error_detail = NULL, chunk_count = 0`,
		nil, StatusProcessed, StatusFailed)
}

func (s *PostgresStore) DocumentStatuses(ctx context.Context, ids []string) (map[string]Status, error) {
	if len(ids) == 0 {
		return map[string]Status{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, status FROM documents WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query document statuses: %w", err)
	}
	defer rows.Close()

	statuses := make(map[string]Status, len(ids))
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("failed to scan document status: %w", err)
		}
		statuses[id] = Status(status)
	}
	return statuses, rows.Err()
}
