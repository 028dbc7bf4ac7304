// Package tools exposes the knowledge-base pipeline to models as genkit
// tools, so an agent can search and ask questions against ingested content.
package tools

import (
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/echobase-ai/echobase/internal/answer"
	"github.com/echobase-ai/echobase/internal/retrieve"
)

// MaxTopK caps how many passages a single tool call may request.
const MaxTopK = 20

const defaultTopK = 5

// SearchInput is the input schema for the query_knowledge_base tool.
type SearchInput struct {
	KnowledgeBaseID string `json:"knowledgeBaseId" jsonschema_description:"ID of the knowledge base to search."`
	Query           string `json:"query" jsonschema_description:"Natural-language search query. Phrased as a question or topic, not keywords."`
	TopK            int    `json:"topK,omitempty" jsonschema_description:"Maximum number of passages to return. Defaults to 5, capped at 20."`
}

// SearchResult is one passage returned by the search tool.
type SearchResult struct {
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	DocumentID string  `json:"documentId"`
	ChunkIndex int     `json:"chunkIndex"`
}

// AskInput is the input schema for the ask_knowledge_base tool.
type AskInput struct {
	KnowledgeBaseID string `json:"knowledgeBaseId" jsonschema_description:"ID of the knowledge base to answer from."`
	Question        string `json:"question" jsonschema_description:"The question to answer using the knowledge base content."`
	ContextLimit    int    `json:"contextLimit,omitempty" jsonschema_description:"Maximum number of passages used to ground the answer. Defaults to the service setting, capped at 20."`
}

// AskResult is a generated answer with its source documents.
type AskResult struct {
	Answer            string   `json:"answer"`
	SourceDocumentIDs []string `json:"sourceDocumentIds,omitempty"`
}

// Register defines the knowledge-base tools on the genkit instance.
func Register(g *genkit.Genkit, retriever *retrieve.Service, answerer *answer.Service, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	genkit.DefineTool(
		g, "query_knowledge_base",
		"Search a knowledge base for passages relevant to a query. "+
			"Returns the most similar passages with their similarity scores and source documents. "+
			"Use when you need raw source material rather than a synthesized answer.",
		func(ctx *ai.ToolContext, input SearchInput) ([]SearchResult, error) {
			topK := clampTopK(input.TopK)
			passages, err := retriever.Retrieve(ctx.Context, input.Query, input.KnowledgeBaseID, topK)
			if err != nil {
				logger.Warn("knowledge base search failed",
					"knowledge_base_id", input.KnowledgeBaseID, "error", err)
				return nil, fmt.Errorf("search failed: %w", err)
			}

			results := make([]SearchResult, len(passages))
			for i, p := range passages {
				results[i] = SearchResult{
					Text:       p.Text,
					Score:      p.Score,
					DocumentID: p.DocumentID,
					ChunkIndex: p.ChunkIndex,
				}
			}
			return results, nil
		},
	)

	genkit.DefineTool(
		g, "ask_knowledge_base",
		"Ask a question against a knowledge base and get a grounded answer. "+
			"The answer is generated only from ingested content and cites the documents it drew from. "+
			"Use when the user wants an answer, not a list of passages.",
		func(ctx *ai.ToolContext, input AskInput) (AskResult, error) {
			limit := input.ContextLimit
			if limit > MaxTopK {
				limit = MaxTopK
			}
			ans, err := answerer.Generate(ctx.Context, input.Question, input.KnowledgeBaseID, limit)
			if err != nil {
				logger.Warn("knowledge base answer failed",
					"knowledge_base_id", input.KnowledgeBaseID, "error", err)
				return AskResult{}, fmt.Errorf("answer failed: %w", err)
			}
			return AskResult{
				Answer:            ans.Text,
				SourceDocumentIDs: ans.SourceDocumentIDs,
			}, nil
		},
	)
}

func clampTopK(topK int) int {
	if topK <= 0 {
		return defaultTopK
	}
	if topK > MaxTopK {
		return MaxTopK
	}
	return topK
}
