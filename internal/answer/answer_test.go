package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/echobase-ai/echobase/internal/log"
	"github.com/echobase-ai/echobase/internal/retrieve"
)

type stubRetriever struct {
	passages []retrieve.Passage
	err      error

	gotQuery string
	gotKB    string
	gotLimit int
}

func (r *stubRetriever) Retrieve(_ context.Context, query, kbID string, limit int) ([]retrieve.Passage, error) {
	r.gotQuery, r.gotKB, r.gotLimit = query, kbID, limit
	return r.passages, r.err
}

type stubGenerator struct {
	response  string
	err       error
	gotPrompt string
	calls     int
}

func (g *stubGenerator) Complete(_ context.Context, prompt string) (string, error) {
	g.calls++
	g.gotPrompt = prompt
	if g.err != nil {
		return "", g.err
	}
	return g.response, nil
}

func TestGenerateGroundedAnswer(t *testing.T) {
	retriever := &stubRetriever{passages: []retrieve.Passage{
		{Text: "The capital of France is Paris.", Score: 0.9, DocumentID: "d1", ChunkIndex: 2},
		{Text: "Paris hosts the Louvre.", Score: 0.8, DocumentID: "d2", ChunkIndex: 0},
		{Text: "France borders Spain.", Score: 0.7, DocumentID: "d1", ChunkIndex: 5},
	}}
	generator := &stubGenerator{response: "Paris."}
	svc := New(retriever, generator, 3, log.NewNop())

	ans, err := svc.Generate(context.Background(), "What is the capital of France?", "kb1", 0)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if ans.Text != "Paris." {
		t.Errorf("answer = %q", ans.Text)
	}

	// Sources dedupe by document, preserving retrieval rank.
	want := []string{"d1", "d2"}
	if len(ans.SourceDocumentIDs) != len(want) {
		t.Fatalf("sources = %v, want %v", ans.SourceDocumentIDs, want)
	}
	for i := range want {
		if ans.SourceDocumentIDs[i] != want[i] {
			t.Errorf("source[%d] = %q, want %q", i, ans.SourceDocumentIDs[i], want[i])
		}
	}

	if retriever.gotKB != "kb1" || retriever.gotLimit != 3 {
		t.Errorf("retriever called with kb=%q limit=%d", retriever.gotKB, retriever.gotLimit)
	}
}

func TestGeneratePromptContainsContextAndQuestion(t *testing.T) {
	retriever := &stubRetriever{passages: []retrieve.Passage{
		{Text: "alpha passage", DocumentID: "d1"},
		{Text: "beta passage", DocumentID: "d2"},
	}}
	generator := &stubGenerator{response: "ok"}
	svc := New(retriever, generator, 0, log.NewNop())

	if _, err := svc.Generate(context.Background(), "the question", "kb1", 0); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// Passages appear in ranked order separated by a blank line.
	if !strings.Contains(generator.gotPrompt, "alpha passage\n\nbeta passage") {
		t.Errorf("prompt missing blank-line-joined passages:\n%s", generator.gotPrompt)
	}
	if !strings.Contains(generator.gotPrompt, "Question: the question") {
		t.Errorf("prompt missing question:\n%s", generator.gotPrompt)
	}
}

func TestGenerateEmptyRetrievalStillPrompts(t *testing.T) {
	retriever := &stubRetriever{}
	generator := &stubGenerator{response: "I cannot answer that from this knowledge base."}
	svc := New(retriever, generator, 5, log.NewNop())

	ans, err := svc.Generate(context.Background(), "anything", "kb1", 0)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if generator.calls != 1 {
		t.Fatalf("generator called %d times, want 1", generator.calls)
	}
	if !strings.Contains(generator.gotPrompt, noContextMarker) {
		t.Errorf("prompt missing %q:\n%s", noContextMarker, generator.gotPrompt)
	}
	if ans.Text != generator.response {
		t.Errorf("answer = %q, want model response", ans.Text)
	}
	if len(ans.SourceDocumentIDs) != 0 {
		t.Errorf("sources = %v, want none", ans.SourceDocumentIDs)
	}
}

func TestGenerateRetrievalError(t *testing.T) {
	retriever := &stubRetriever{err: errors.New("vector store down")}
	svc := New(retriever, &stubGenerator{}, 5, log.NewNop())

	if _, err := svc.Generate(context.Background(), "q", "kb1", 0); err == nil {
		t.Fatal("expected retrieval error to propagate")
	}
}

func TestGenerateModelError(t *testing.T) {
	retriever := &stubRetriever{passages: []retrieve.Passage{{Text: "ctx", DocumentID: "d1"}}}
	generator := &stubGenerator{err: errors.New("model overloaded")}
	svc := New(retriever, generator, 5, log.NewNop())

	_, err := svc.Generate(context.Background(), "q", "kb1", 0)
	var gerr *GenerationError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
}

func TestGenerateDefaultContextLimit(t *testing.T) {
	retriever := &stubRetriever{passages: []retrieve.Passage{{Text: "x", DocumentID: "d1"}}}
	svc := New(retriever, &stubGenerator{response: "ok"}, 0, log.NewNop())

	if _, err := svc.Generate(context.Background(), "q", "kb1", 0); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if retriever.gotLimit != DefaultContextLimit {
		t.Errorf("limit = %d, want %d", retriever.gotLimit, DefaultContextLimit)
	}
}

func TestGeneratePerCallContextLimit(t *testing.T) {
	retriever := &stubRetriever{passages: []retrieve.Passage{{Text: "x", DocumentID: "d1"}}}
	svc := New(retriever, &stubGenerator{response: "ok"}, 4, log.NewNop())

	if _, err := svc.Generate(context.Background(), "q", "kb1", 2); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if retriever.gotLimit != 2 {
		t.Errorf("limit = %d, want per-call 2", retriever.gotLimit)
	}

	// Zero falls back to the configured value.
	if _, err := svc.Generate(context.Background(), "q", "kb1", 0); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if retriever.gotLimit != 4 {
		t.Errorf("limit = %d, want configured 4", retriever.gotLimit)
	}
}
