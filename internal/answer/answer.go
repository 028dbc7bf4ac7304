// Package answer composes retrieved passages into a prompt and generates a
// grounded response, tracking which documents the answer drew from.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/echobase-ai/echobase/internal/retrieve"
)

// noContextMarker replaces the context block when retrieval finds nothing,
// so the model can decline instead of fabricating.
const noContextMarker = "[no context found]"

// DefaultContextLimit caps how many passages feed one generation when the
// caller does not specify a limit.
const DefaultContextLimit = 5

// GenerationError wraps a model failure during answer generation.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("answer generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Generator produces a completion for a fully assembled prompt.
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// GenkitGenerator calls a named model through a genkit instance.
type GenkitGenerator struct {
	g         *genkit.Genkit
	modelName string
}

// NewGenkitGenerator creates a GenkitGenerator for the given model name,
// e.g. "googleai/gemini-2.5-flash".
func NewGenkitGenerator(g *genkit.Genkit, modelName string) *GenkitGenerator {
	return &GenkitGenerator{g: g, modelName: modelName}
}

func (gg *GenkitGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := genkit.Generate(ctx, gg.g,
		ai.WithModelName(gg.modelName),
		ai.WithPrompt(prompt),
	)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// Answer is a generated response with the documents it was grounded on,
// ordered by retrieval rank.
type Answer struct {
	Text              string
	SourceDocumentIDs []string
}

// Retriever is the slice of the retrieval service the answerer needs.
type Retriever interface {
	Retrieve(ctx context.Context, query, knowledgeBaseID string, limit int) ([]retrieve.Passage, error)
}

// Service answers questions against a knowledge base using
// retrieval-augmented generation.
type Service struct {
	retriever    Retriever
	generator    Generator
	contextLimit int
	logger       *slog.Logger
}

// New creates an answer Service. contextLimit at or below zero uses
// DefaultContextLimit.
func New(retriever Retriever, generator Generator, contextLimit int, logger *slog.Logger) *Service {
	if contextLimit <= 0 {
		contextLimit = DefaultContextLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		retriever:    retriever,
		generator:    generator,
		contextLimit: contextLimit,
		logger:       logger,
	}
}

// Generate retrieves the most relevant passages and asks the model to answer
// using only that context. contextLimit caps how many passages ground the
// answer; at or below zero it falls back to the configured default. Empty
// retrieval is not an error: the prompt is still issued with an explicit
// no-context marker so the model can decline, and SourceDocumentIDs comes
// back empty.
func (s *Service) Generate(ctx context.Context, query, knowledgeBaseID string, contextLimit int) (Answer, error) {
	if contextLimit <= 0 {
		contextLimit = s.contextLimit
	}
	passages, err := s.retriever.Retrieve(ctx, query, knowledgeBaseID, contextLimit)
	if err != nil {
		return Answer{}, fmt.Errorf("retrieval failed: %w", err)
	}
	if len(passages) == 0 {
		s.logger.Debug("no context retrieved", "knowledge_base_id", knowledgeBaseID)
	}

	text, err := s.generator.Complete(ctx, buildPrompt(query, passages))
	if err != nil {
		return Answer{}, &GenerationError{Err: err}
	}

	return Answer{
		Text:              text,
		SourceDocumentIDs: sourceDocuments(passages),
	}, nil
}

// buildPrompt assembles the grounding prompt: passage texts in ranked order
// separated by blank lines, then the question and the instruction to stay
// within the context.
func buildPrompt(query string, passages []retrieve.Passage) string {
	contextBlock := noContextMarker
	if len(passages) > 0 {
		texts := make([]string, len(passages))
		for i, p := range passages {
			texts[i] = p.Text
		}
		contextBlock = strings.Join(texts, "\n\n")
	}

	var b strings.Builder
	b.WriteString("Answer the question using only the context below. ")
	b.WriteString("If the context does not contain the answer, say that you cannot answer instead of guessing.\n\n")
	b.WriteString("Context:\n")
	b.WriteString(contextBlock)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(query)
	return b.String()
}

// sourceDocuments dedupes document IDs preserving retrieval rank order.
func sourceDocuments(passages []retrieve.Passage) []string {
	if len(passages) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(passages))
	ids := make([]string, 0, len(passages))
	for _, p := range passages {
		if _, ok := seen[p.DocumentID]; ok {
			continue
		}
		seen[p.DocumentID] = struct{}{}
		ids = append(ids, p.DocumentID)
	}
	return ids
}
