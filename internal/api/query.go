package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/echobase-ai/echobase/internal/retrieve"
)

// maxTopK caps how many passages a single query may request.
const maxTopK = 50

// queryHandler serves similarity search and grounded answers.
type queryHandler struct {
	retriever Retriever
	answerer  Answerer
	topK      int
	logger    *slog.Logger
}

type passageResponse struct {
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	DocumentID string  `json:"documentId"`
	ChunkIndex int     `json:"chunkIndex"`
}

func (h *queryHandler) query(w http.ResponseWriter, r *http.Request) {
	var req struct {
		KnowledgeBaseID string `json:"knowledgeBaseId"`
		Query           string `json:"query"`
		TopK            int    `json:"topK"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "request body must be valid JSON", h.logger)
		return
	}

	topK := req.TopK
	if topK <= 0 {
		topK = h.topK
	}
	if topK <= 0 {
		topK = 5
	}
	if topK > maxTopK {
		topK = maxTopK
	}

	passages, err := h.retriever.Retrieve(r.Context(), req.Query, req.KnowledgeBaseID, topK)
	if err != nil {
		if isRetrievalInputError(err) {
			WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
			return
		}
		WriteError(w, http.StatusInternalServerError, "query_failed", "similarity search failed", h.logger)
		return
	}

	resp := make([]passageResponse, len(passages))
	for i, p := range passages {
		resp[i] = passageResponse{
			Text:       p.Text,
			Score:      p.Score,
			DocumentID: p.DocumentID,
			ChunkIndex: p.ChunkIndex,
		}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"passages": resp})
}

func (h *queryHandler) answer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		KnowledgeBaseID string `json:"knowledgeBaseId"`
		Question        string `json:"question"`
		ContextLimit    int    `json:"contextLimit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "request body must be valid JSON", h.logger)
		return
	}

	// Zero or absent means the configured default; the service resolves it.
	limit := req.ContextLimit
	if limit > maxTopK {
		limit = maxTopK
	}

	ans, err := h.answerer.Generate(r.Context(), req.Question, req.KnowledgeBaseID, limit)
	if err != nil {
		if isRetrievalInputError(err) {
			WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
			return
		}
		WriteError(w, http.StatusInternalServerError, "answer_failed", "answer generation failed", h.logger)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"answer":            ans.Text,
		"sourceDocumentIds": ans.SourceDocumentIDs,
	})
}

func isRetrievalInputError(err error) bool {
	return errors.Is(err, retrieve.ErrInvalidLimit) ||
		errors.Is(err, retrieve.ErrMissingKnowledgeBase) ||
		errors.Is(err, retrieve.ErrEmptyQuery)
}
