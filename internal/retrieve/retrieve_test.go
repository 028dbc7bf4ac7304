package retrieve

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"google.golang.org/genai"

	"github.com/echobase-ai/echobase/internal/knowledge"
	"github.com/echobase-ai/echobase/internal/log"
	"github.com/echobase-ai/echobase/internal/vector"
)

// queryEmbedder returns a fixed vector for every query.
type queryEmbedder struct {
	embedding  []float32
	err        error
	gotOptions any
}

func (e *queryEmbedder) Name() string          { return "query-embedder" }
func (e *queryEmbedder) Register(api.Registry) {}

func (e *queryEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	e.gotOptions = req.Options
	if e.err != nil {
		return nil, e.err
	}
	return &ai.EmbedResponse{
		Embeddings: []*ai.Embedding{{Embedding: e.embedding}},
	}, nil
}

type harness struct {
	docs     *knowledge.MemoryStore
	vectors  *vector.MemoryStore
	embedder *queryEmbedder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		docs:     knowledge.NewMemoryStore(),
		vectors:  vector.NewMemoryStore(),
		embedder: &queryEmbedder{embedding: []float32{1, 0, 0}},
	}
}

func (h *harness) service(scoreFloor float64) *Service {
	return New(h.embedder, h.vectors, h.docs, scoreFloor, log.NewNop())
}

// seedDocument creates a document in the given status with one record per
// embedding.
func (h *harness) seedDocument(t *testing.T, docID, kbID string, status knowledge.Status, embeddings ...[]float32) {
	t.Helper()
	ctx := context.Background()
	err := h.docs.CreateDocument(ctx, knowledge.Document{
		ID:              docID,
		KnowledgeBaseID: kbID,
		Format:          knowledge.FormatText,
		Status:          knowledge.StatusPending,
		CreatedAt:       time.Now(),
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	h.forceStatus(t, docID, status)

	records := make([]vector.Record, len(embeddings))
	for i, emb := range embeddings {
		records[i] = vector.Record{
			ID:              vector.RecordID(docID, i),
			DocumentID:      docID,
			KnowledgeBaseID: kbID,
			ChunkIndex:      i,
			Text:            docID + " chunk " + string(rune('0'+i)),
			Embedding:       emb,
		}
	}
	if err := h.vectors.Upsert(ctx, kbID, records); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}

// forceStatus walks the document through legal transitions to the target.
func (h *harness) forceStatus(t *testing.T, docID string, target knowledge.Status) {
	t.Helper()
	ctx := context.Background()
	switch target {
	case knowledge.StatusPending:
	case knowledge.StatusProcessed:
		mustNil(t, h.docs.ClaimForExtraction(ctx, docID))
		mustNil(t, h.docs.MarkEmbedding(ctx, docID, "content"))
		mustNil(t, h.docs.MarkProcessed(ctx, docID, 1))
	case knowledge.StatusEmbedding:
		mustNil(t, h.docs.ClaimForExtraction(ctx, docID))
		mustNil(t, h.docs.MarkEmbedding(ctx, docID, "content"))
	case knowledge.StatusFailed:
		mustNil(t, h.docs.ClaimForExtraction(ctx, docID))
		mustNil(t, h.docs.MarkFailed(ctx, docID, "boom"))
	default:
		t.Fatalf("unsupported target status %s", target)
	}
}

func mustNil(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
}

func TestRetrieveOrdersByScore(t *testing.T) {
	h := newHarness(t)
	// Query vector is (1,0,0); the first embedding is closest.
	h.seedDocument(t, "d1", "kb1", knowledge.StatusProcessed,
		[]float32{1, 0, 0},
		[]float32{0.5, 0.5, 0},
		[]float32{0, 1, 0},
	)

	passages, err := h.service(0).Retrieve(context.Background(), "query", "kb1", 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(passages) != 3 {
		t.Fatalf("got %d passages, want 3", len(passages))
	}
	for i := 1; i < len(passages); i++ {
		if passages[i].Score > passages[i-1].Score {
			t.Errorf("passages out of order: score[%d]=%f > score[%d]=%f",
				i, passages[i].Score, i-1, passages[i-1].Score)
		}
	}
	if passages[0].ChunkIndex != 0 || passages[0].DocumentID != "d1" {
		t.Errorf("best passage = %s/%d, want d1/0", passages[0].DocumentID, passages[0].ChunkIndex)
	}
}

func TestRetrieveScopesToKnowledgeBase(t *testing.T) {
	h := newHarness(t)
	h.seedDocument(t, "d1", "kb1", knowledge.StatusProcessed, []float32{1, 0, 0})
	h.seedDocument(t, "d2", "kb2", knowledge.StatusProcessed, []float32{1, 0, 0})

	passages, err := h.service(0).Retrieve(context.Background(), "query", "kb1", 10)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(passages) != 1 || passages[0].DocumentID != "d1" {
		t.Errorf("got %+v, want only d1", passages)
	}
}

func TestRetrieveFiltersNonProcessedDocuments(t *testing.T) {
	h := newHarness(t)
	h.seedDocument(t, "d1", "kb1", knowledge.StatusProcessed, []float32{0.9, 0.1, 0})
	h.seedDocument(t, "d2", "kb1", knowledge.StatusEmbedding, []float32{1, 0, 0})
	h.seedDocument(t, "d3", "kb1", knowledge.StatusFailed, []float32{1, 0, 0})

	passages, err := h.service(0).Retrieve(context.Background(), "query", "kb1", 10)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(passages) != 1 {
		t.Fatalf("got %d passages, want 1: %+v", len(passages), passages)
	}
	if passages[0].DocumentID != "d1" {
		t.Errorf("passage from %s, want d1", passages[0].DocumentID)
	}
}

func TestRetrieveRespectsLimit(t *testing.T) {
	h := newHarness(t)
	h.seedDocument(t, "d1", "kb1", knowledge.StatusProcessed,
		[]float32{1, 0, 0}, []float32{0.9, 0.1, 0}, []float32{0.8, 0.2, 0}, []float32{0.7, 0.3, 0})

	passages, err := h.service(0).Retrieve(context.Background(), "query", "kb1", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(passages) != 2 {
		t.Errorf("got %d passages, want 2", len(passages))
	}
}

func TestRetrieveScoreFloor(t *testing.T) {
	h := newHarness(t)
	h.seedDocument(t, "d1", "kb1", knowledge.StatusProcessed,
		[]float32{1, 0, 0}, // score 1.0
		[]float32{0, 1, 0}, // score 0.0
	)

	passages, err := h.service(0.5).Retrieve(context.Background(), "query", "kb1", 10)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(passages) != 1 {
		t.Fatalf("got %d passages, want 1 above the floor", len(passages))
	}
	if passages[0].Score < 0.5 {
		t.Errorf("score %f below floor", passages[0].Score)
	}
}

func TestRetrieveEmptyKnowledgeBase(t *testing.T) {
	h := newHarness(t)
	passages, err := h.service(0).Retrieve(context.Background(), "query", "kb1", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(passages) != 0 {
		t.Errorf("got %d passages from empty knowledge base", len(passages))
	}
}

func TestRetrieveInputValidation(t *testing.T) {
	h := newHarness(t)
	svc := h.service(0)
	ctx := context.Background()

	if _, err := svc.Retrieve(ctx, "q", "kb1", 0); !errors.Is(err, ErrInvalidLimit) {
		t.Errorf("zero limit: %v, want ErrInvalidLimit", err)
	}
	if _, err := svc.Retrieve(ctx, "q", "kb1", -3); !errors.Is(err, ErrInvalidLimit) {
		t.Errorf("negative limit: %v, want ErrInvalidLimit", err)
	}
	if _, err := svc.Retrieve(ctx, "q", "", 5); !errors.Is(err, ErrMissingKnowledgeBase) {
		t.Errorf("missing kb: %v, want ErrMissingKnowledgeBase", err)
	}
	if _, err := svc.Retrieve(ctx, "", "kb1", 5); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("empty query: %v, want ErrEmptyQuery", err)
	}
}

func TestRetrieveRequestsIndexDimensionality(t *testing.T) {
	h := newHarness(t)

	if _, err := h.service(0).Retrieve(context.Background(), "q", "kb1", 5); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	opts, ok := h.embedder.gotOptions.(*genai.EmbedContentConfig)
	if !ok || opts.OutputDimensionality == nil {
		t.Fatalf("embed options = %#v, want EmbedContentConfig with OutputDimensionality", h.embedder.gotOptions)
	}
	if *opts.OutputDimensionality != vector.Dimension {
		t.Errorf("dimensionality = %d, want %d", *opts.OutputDimensionality, vector.Dimension)
	}
}

// wordEmbedder hashes words into a fixed-width bag-of-words vector, so texts
// sharing words with the query score higher than unrelated texts.
type wordEmbedder struct{}

func (wordEmbedder) Name() string          { return "word-embedder" }
func (wordEmbedder) Register(api.Registry) {}

func (wordEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	resp := &ai.EmbedResponse{}
	for _, doc := range req.Input {
		var text string
		if len(doc.Content) > 0 {
			text = doc.Content[0].Text
		}
		resp.Embeddings = append(resp.Embeddings, &ai.Embedding{Embedding: bagOfWords(text)})
	}
	return resp, nil
}

func bagOfWords(text string) []float32 {
	v := make([]float32, 512)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(strings.Trim(w, ".,?!")))
		v[h.Sum32()%512]++
	}
	return v
}

func TestRetrieveVerbatimPhraseRanksFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	chunksByDoc := map[string][]string{
		"d1": {
			"Our refund policy allows returns within 30 days of purchase.",
			"Contact support to begin a return shipment.",
		},
		"d2": {
			"Shipping is free for orders over fifty dollars.",
			"Orders ship within two business days.",
		},
	}
	for docID, texts := range chunksByDoc {
		h.seedDocument(t, docID, "kb1", knowledge.StatusProcessed)
		records := make([]vector.Record, len(texts))
		for i, text := range texts {
			records[i] = vector.Record{
				ID:              vector.RecordID(docID, i),
				DocumentID:      docID,
				KnowledgeBaseID: "kb1",
				ChunkIndex:      i,
				Text:            text,
				Embedding:       bagOfWords(text),
			}
		}
		if err := h.vectors.Upsert(ctx, "kb1", records); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	svc := New(wordEmbedder{}, h.vectors, h.docs, 0, log.NewNop())
	passages, err := svc.Retrieve(ctx, "What is the refund policy?", "kb1", 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(passages) == 0 {
		t.Fatal("expected passages")
	}
	if !strings.Contains(passages[0].Text, "refund policy") {
		t.Errorf("top passage = %q, want the chunk containing the query phrase", passages[0].Text)
	}
	if passages[0].DocumentID != "d1" || passages[0].ChunkIndex != 0 {
		t.Errorf("top passage from %s/%d, want d1/0", passages[0].DocumentID, passages[0].ChunkIndex)
	}
}

func TestRetrieveEmbedderError(t *testing.T) {
	h := newHarness(t)
	h.embedder.err = errors.New("quota exhausted")

	if _, err := h.service(0).Retrieve(context.Background(), "q", "kb1", 5); err == nil {
		t.Fatal("expected embedder error to propagate")
	}
}
