// Package retrieve answers similarity queries against a knowledge base's
// vector records, returning only passages whose source documents are fully
// processed.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"google.golang.org/genai"

	"github.com/echobase-ai/echobase/internal/knowledge"
	"github.com/echobase-ai/echobase/internal/vector"
)

// Input validation errors.
var (
	ErrInvalidLimit         = errors.New("limit must be positive")
	ErrMissingKnowledgeBase = errors.New("knowledge base id is required")
	ErrEmptyQuery           = errors.New("query text is empty")
)

// Passage is one retrieved chunk with its similarity score and provenance.
type Passage struct {
	Text       string
	Score      float64
	DocumentID string
	ChunkIndex int
}

// Service embeds queries with the same embedder used at ingestion time and
// searches the vector store scoped to one knowledge base.
type Service struct {
	embedder   ai.Embedder
	vectors    vector.Store
	docs       knowledge.DocumentStore
	scoreFloor float64
	logger     *slog.Logger
}

// New creates a retrieval Service. scoreFloor below or at zero disables the
// similarity cutoff.
func New(embedder ai.Embedder, vectors vector.Store, docs knowledge.DocumentStore, scoreFloor float64, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		embedder:   embedder,
		vectors:    vectors,
		docs:       docs,
		scoreFloor: scoreFloor,
		logger:     logger,
	}
}

// Retrieve returns up to limit passages from the knowledge base, most similar
// first. Records belonging to documents that are not processed (mid-reprocess
// or failed) are filtered out, so callers only ever see content the pipeline
// has fully committed.
func (s *Service) Retrieve(ctx context.Context, query, knowledgeBaseID string, limit int) ([]Passage, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	if knowledgeBaseID == "" {
		return nil, ErrMissingKnowledgeBase
	}
	if query == "" {
		return nil, ErrEmptyQuery
	}

	embedding, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	// Over-fetch so filtering out non-processed documents still leaves
	// enough matches to fill the limit.
	matches, err := s.vectors.Query(ctx, knowledgeBaseID, embedding, limit*2)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	visible, err := s.processedDocuments(ctx, matches)
	if err != nil {
		return nil, err
	}

	passages := make([]Passage, 0, limit)
	for _, m := range matches {
		if !visible[m.DocumentID] {
			continue
		}
		if s.scoreFloor > 0 && float64(m.Score) < s.scoreFloor {
			// Matches arrive ordered by score, nothing below passes.
			break
		}
		passages = append(passages, Passage{
			Text:       m.Text,
			Score:      float64(m.Score),
			DocumentID: m.DocumentID,
			ChunkIndex: m.ChunkIndex,
		})
		if len(passages) == limit {
			break
		}
	}

	s.logger.Debug("retrieval completed",
		"knowledge_base_id", knowledgeBaseID, "matches", len(matches), "returned", len(passages))
	return passages, nil
}

// processedDocuments resolves the status of every distinct document among the
// matches and reports which ones are processed.
func (s *Service) processedDocuments(ctx context.Context, matches []vector.Match) (map[string]bool, error) {
	ids := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		if _, ok := seen[m.DocumentID]; ok {
			continue
		}
		seen[m.DocumentID] = struct{}{}
		ids = append(ids, m.DocumentID)
	}

	statuses, err := s.docs.DocumentStatuses(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve document statuses: %w", err)
	}

	visible := make(map[string]bool, len(statuses))
	for id, status := range statuses {
		visible[id] = status == knowledge.StatusProcessed
	}
	return visible, nil
}

// embedQuery embeds the query at the index's dimensionality so the vector
// comparison is like-for-like with what ingestion stored.
func (s *Service) embedQuery(ctx context.Context, query string) ([]float32, error) {
	dim := vector.Dimension
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   []*ai.Document{ai.DocumentFromText(query, nil)},
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, errors.New("embedder returned no embeddings")
	}
	return resp.Embeddings[0].Embedding, nil
}
