package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/echobase-ai/echobase/internal/answer"
	"github.com/echobase-ai/echobase/internal/knowledge"
	"github.com/echobase-ai/echobase/internal/log"
	"github.com/echobase-ai/echobase/internal/retrieve"
	"github.com/echobase-ai/echobase/internal/vector"
)

// stubIngestor records enqueued document IDs.
type stubIngestor struct {
	enqueued []string
	err      error
}

func (s *stubIngestor) Enqueue(documentID string) error {
	if s.err != nil {
		return s.err
	}
	s.enqueued = append(s.enqueued, documentID)
	return nil
}

// stubPipeline deletes straight through the stores.
type stubPipeline struct {
	docs    knowledge.DocumentStore
	vectors vector.Store
}

func (p *stubPipeline) DeleteDocument(ctx context.Context, documentID string) error {
	if err := p.vectors.DeleteByDocument(ctx, documentID); err != nil {
		return err
	}
	return p.docs.DeleteDocument(ctx, documentID)
}

func (p *stubPipeline) DeleteKnowledgeBase(ctx context.Context, knowledgeBaseID string) error {
	return p.docs.DeleteKnowledgeBase(ctx, knowledgeBaseID)
}

type stubRetriever struct {
	passages []retrieve.Passage
	err      error
	gotLimit int
}

func (s *stubRetriever) Retrieve(_ context.Context, query, kbID string, limit int) ([]retrieve.Passage, error) {
	s.gotLimit = limit
	if kbID == "" {
		return nil, retrieve.ErrMissingKnowledgeBase
	}
	if query == "" {
		return nil, retrieve.ErrEmptyQuery
	}
	return s.passages, s.err
}

type stubAnswerer struct {
	answer   answer.Answer
	err      error
	gotLimit int
}

func (s *stubAnswerer) Generate(_ context.Context, query, kbID string, contextLimit int) (answer.Answer, error) {
	s.gotLimit = contextLimit
	if kbID == "" {
		return answer.Answer{}, retrieve.ErrMissingKnowledgeBase
	}
	if query == "" {
		return answer.Answer{}, retrieve.ErrEmptyQuery
	}
	return s.answer, s.err
}

type testServer struct {
	docs      *knowledge.MemoryStore
	vectors   *vector.MemoryStore
	ingestor  *stubIngestor
	retriever *stubRetriever
	answerer  *stubAnswerer
	handler   http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		docs:      knowledge.NewMemoryStore(),
		vectors:   vector.NewMemoryStore(),
		ingestor:  &stubIngestor{},
		retriever: &stubRetriever{},
		answerer:  &stubAnswerer{},
	}

	srv, err := NewServer(ServerConfig{
		Logger:      log.NewNop(),
		Docs:        ts.docs,
		Vectors:     ts.vectors,
		Ingestor:    ts.ingestor,
		Pipeline:    &stubPipeline{docs: ts.docs, vectors: ts.vectors},
		Retriever:   ts.retriever,
		Answerer:    ts.answerer,
		RateBurst:   1000,
		DefaultTopK: 5,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts.handler = srv.Handler()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) createKB(t *testing.T, name string) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/v1/knowledge-bases", map[string]string{"name": name})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create knowledge base: status %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.ID
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("/health status = %d", rec.Code)
	}
	rec = ts.do(t, http.MethodGet, "/ready", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("/ready status = %d", rec.Code)
	}
}

func TestCreateKnowledgeBase(t *testing.T) {
	ts := newTestServer(t)

	id := ts.createKB(t, "product docs")
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("id %q is not a UUID", id)
	}

	rec := ts.do(t, http.MethodGet, "/api/v1/knowledge-bases/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
}

func TestCreateKnowledgeBaseValidation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/knowledge-bases", map[string]string{"name": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank name status = %d, want 400", rec.Code)
	}
}

func TestGetKnowledgeBaseNotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/knowledge-bases/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCreateDocumentQueuesIngestion(t *testing.T) {
	ts := newTestServer(t)
	kbID := ts.createKB(t, "docs")

	rec := ts.do(t, http.MethodPost, "/api/v1/documents", map[string]string{
		"knowledgeBaseId": kbID,
		"sourceUrl":       "https://files.example.com/report.pdf",
		"format":          "pdf",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Format string `json:"format"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "pending" {
		t.Errorf("status = %q, want pending", resp.Status)
	}
	if resp.Format != "pdf" {
		t.Errorf("format = %q, want pdf", resp.Format)
	}
	if len(ts.ingestor.enqueued) != 1 || ts.ingestor.enqueued[0] != resp.ID {
		t.Errorf("enqueued = %v, want [%s]", ts.ingestor.enqueued, resp.ID)
	}
}

func TestCreateDocumentValidation(t *testing.T) {
	ts := newTestServer(t)
	kbID := ts.createKB(t, "docs")

	tests := []struct {
		name string
		body map[string]string
		want int
	}{
		{"missing kb", map[string]string{"sourceUrl": "https://x.test/a"}, http.StatusBadRequest},
		{"bad url", map[string]string{"knowledgeBaseId": kbID, "sourceUrl": "not a url"}, http.StatusBadRequest},
		{"ftp url", map[string]string{"knowledgeBaseId": kbID, "sourceUrl": "ftp://x.test/a"}, http.StatusBadRequest},
		{"unknown kb", map[string]string{"knowledgeBaseId": "nope", "sourceUrl": "https://x.test/a"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/v1/documents", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestGetDocumentIncludesVectorCount(t *testing.T) {
	ts := newTestServer(t)
	kbID := ts.createKB(t, "docs")

	docID := uuid.New().String()
	mustCreateDocument(t, ts.docs, docID, kbID)
	seedVectors(t, ts.vectors, docID, kbID, 3)

	rec := ts.do(t, http.MethodGet, "/api/v1/documents/"+docID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		VectorCount int `json:"vectorCount"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.VectorCount != 3 {
		t.Errorf("vectorCount = %d, want 3", resp.VectorCount)
	}
}

func TestReprocessDocument(t *testing.T) {
	ts := newTestServer(t)
	kbID := ts.createKB(t, "docs")

	docID := uuid.New().String()
	mustCreateDocument(t, ts.docs, docID, kbID)
	ctx := context.Background()
	if err := ts.docs.ClaimForExtraction(ctx, docID); err != nil {
		t.Fatal(err)
	}
	if err := ts.docs.MarkEmbedding(ctx, docID, "content"); err != nil {
		t.Fatal(err)
	}
	if err := ts.docs.MarkProcessed(ctx, docID, 2); err != nil {
		t.Fatal(err)
	}

	rec := ts.do(t, http.MethodPost, "/api/v1/documents/"+docID+"/reprocess", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(ts.ingestor.enqueued) != 1 {
		t.Errorf("enqueued = %v, want one entry", ts.ingestor.enqueued)
	}

	doc, err := ts.docs.GetDocument(ctx, docID)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Status != knowledge.StatusPending {
		t.Errorf("status = %s, want pending", doc.Status)
	}
}

func TestReprocessPendingDocumentConflicts(t *testing.T) {
	ts := newTestServer(t)
	kbID := ts.createKB(t, "docs")

	docID := uuid.New().String()
	mustCreateDocument(t, ts.docs, docID, kbID)

	rec := ts.do(t, http.MethodPost, "/api/v1/documents/"+docID+"/reprocess", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestDeleteDocumentRemovesVectors(t *testing.T) {
	ts := newTestServer(t)
	kbID := ts.createKB(t, "docs")

	docID := uuid.New().String()
	mustCreateDocument(t, ts.docs, docID, kbID)
	seedVectors(t, ts.vectors, docID, kbID, 2)

	rec := ts.do(t, http.MethodDelete, "/api/v1/documents/"+docID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := ts.vectors.IDs(); len(got) != 0 {
		t.Errorf("vector records remain after delete: %v", got)
	}
}

func TestQueryReturnsPassages(t *testing.T) {
	ts := newTestServer(t)
	ts.retriever.passages = []retrieve.Passage{
		{Text: "first", Score: 0.9, DocumentID: "d1", ChunkIndex: 0},
		{Text: "second", Score: 0.8, DocumentID: "d2", ChunkIndex: 1},
	}

	rec := ts.do(t, http.MethodPost, "/api/v1/query", map[string]any{
		"knowledgeBaseId": "kb1",
		"query":           "anything",
		"topK":            2,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Passages []passageResponse `json:"passages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Passages) != 2 || resp.Passages[0].Text != "first" {
		t.Errorf("passages = %+v", resp.Passages)
	}
}

func TestQueryClampsTopK(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/query", map[string]any{
		"knowledgeBaseId": "kb1",
		"query":           "q",
		"topK":            10000,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ts.retriever.gotLimit != maxTopK {
		t.Errorf("limit = %d, want %d", ts.retriever.gotLimit, maxTopK)
	}
}

func TestQueryValidationErrors(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/query", map[string]any{"query": "q"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing kb status = %d, want 400", rec.Code)
	}
}

func TestAnswerEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.answerer.answer = answer.Answer{
		Text:              "Paris.",
		SourceDocumentIDs: []string{"d1", "d2"},
	}

	rec := ts.do(t, http.MethodPost, "/api/v1/answer", map[string]string{
		"knowledgeBaseId": "kb1",
		"question":        "capital of France?",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Answer            string   `json:"answer"`
		SourceDocumentIDs []string `json:"sourceDocumentIds"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Answer != "Paris." || len(resp.SourceDocumentIDs) != 2 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestAnswerContextLimit(t *testing.T) {
	ts := newTestServer(t)
	ts.answerer.answer = answer.Answer{Text: "ok"}

	rec := ts.do(t, http.MethodPost, "/api/v1/answer", map[string]any{
		"knowledgeBaseId": "kb1",
		"question":        "q",
		"contextLimit":    3,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ts.answerer.gotLimit != 3 {
		t.Errorf("context limit = %d, want 3", ts.answerer.gotLimit)
	}

	// Absent limit passes zero through; the answer service applies its default.
	rec = ts.do(t, http.MethodPost, "/api/v1/answer", map[string]string{
		"knowledgeBaseId": "kb1",
		"question":        "q",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ts.answerer.gotLimit != 0 {
		t.Errorf("context limit = %d, want 0", ts.answerer.gotLimit)
	}
}

func TestAnswerGenerationFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.answerer.err = errors.New("model down")

	rec := ts.do(t, http.MethodPost, "/api/v1/answer", map[string]string{
		"knowledgeBaseId": "kb1",
		"question":        "q",
	})
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	handler := requestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// No incoming ID: a valid UUID is generated.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	got := rec.Header().Get("X-Request-ID")
	if _, err := uuid.Parse(got); err != nil {
		t.Errorf("X-Request-ID = %q, not a valid UUID", got)
	}

	// A valid incoming ID is echoed back.
	want := uuid.New().String()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", want)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != want {
		t.Errorf("X-Request-ID = %q, want %q", got, want)
	}

	// An invalid incoming ID is replaced.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "<script>")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got == "<script>" {
		t.Error("invalid X-Request-ID should not be reused")
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := recoveryMiddleware(log.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	rl := newRateLimiter(1.0, 2)

	if !rl.allow("10.0.0.1") || !rl.allow("10.0.0.1") {
		t.Fatal("burst requests should be allowed")
	}
	if rl.allow("10.0.0.1") {
		t.Error("third immediate request should be limited")
	}
	if !rl.allow("10.0.0.2") {
		t.Error("separate IP should have its own bucket")
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:4321"
	req.Header.Set("X-Real-IP", "203.0.113.9")

	if got := clientIP(req, false); got != "192.0.2.1" {
		t.Errorf("untrusted proxy: ip = %q, want 192.0.2.1", got)
	}
	if got := clientIP(req, true); got != "203.0.113.9" {
		t.Errorf("trusted proxy: ip = %q, want 203.0.113.9", got)
	}

	req.Header.Set("X-Real-IP", "not-an-ip")
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	if got := clientIP(req, true); got != "198.51.100.7" {
		t.Errorf("forwarded-for fallback: ip = %q, want 198.51.100.7", got)
	}
}

func mustCreateDocument(t *testing.T, docs knowledge.DocumentStore, docID, kbID string) {
	t.Helper()
	now := time.Now().UTC()
	err := docs.CreateDocument(context.Background(), knowledge.Document{
		ID:              docID,
		KnowledgeBaseID: kbID,
		SourceURL:       "https://files.example.com/doc",
		Format:          knowledge.FormatText,
		Status:          knowledge.StatusPending,
		CreatedAt:       now,
		StatusChangedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
}

func seedVectors(t *testing.T, store vector.Store, docID, kbID string, n int) {
	t.Helper()
	records := make([]vector.Record, n)
	for i := range n {
		records[i] = vector.Record{
			ID:              vector.RecordID(docID, i),
			DocumentID:      docID,
			KnowledgeBaseID: kbID,
			ChunkIndex:      i,
			Text:            fmt.Sprintf("chunk %d", i),
			Embedding:       []float32{1, 0, 0},
		}
	}
	if err := store.Upsert(context.Background(), kbID, records); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}
