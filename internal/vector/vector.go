// Package vector defines the similarity-search capability the pipeline
// writes to and queries, with a pgvector-backed production store and an
// in-memory store for tests.
package vector

import (
	"context"
	"fmt"
)

// Dimension is the embedding width of the index. Embed calls must request
// this dimensionality; the pgvector column is declared VECTOR(768) in
// internal/database/migrations and rejects vectors of any other width.
const Dimension int32 = 768

// Record is one embedded chunk as stored in the index. ID is deterministic
// (see RecordID) so re-ingesting unchanged content overwrites instead of
// duplicating.
type Record struct {
	ID              string
	DocumentID      string
	KnowledgeBaseID string
	ChunkIndex      int
	Text            string
	Embedding       []float32
}

// Match is a query result: a stored record with its similarity score.
type Match struct {
	Record
	Score float32
}

// RecordID builds the deterministic identifier for a document chunk.
// The scheme is fixed: doc-{documentID}-chunk-{chunkIndex}.
func RecordID(documentID string, chunkIndex int) string {
	return fmt.Sprintf("doc-%s-chunk-%d", documentID, chunkIndex)
}

// Store is the similarity-search capability. Implementations must treat
// Upsert as overwrite-by-ID and scope Query to one knowledge base.
type Store interface {
	// Upsert writes all records in one batch. Callers rely on the batch
	// either fully applying or being cleaned up via DeleteByDocument.
	Upsert(ctx context.Context, knowledgeBaseID string, records []Record) error

	// Query returns up to topK nearest matches within the knowledge base,
	// ordered by descending score with ties broken by ascending chunk index.
	Query(ctx context.Context, knowledgeBaseID string, embedding []float32, topK int) ([]Match, error)

	// DeleteByDocument removes every record belonging to the document.
	DeleteByDocument(ctx context.Context, documentID string) error

	// CountByDocument reports how many records the document currently has.
	CountByDocument(ctx context.Context, documentID string) (int, error)
}
