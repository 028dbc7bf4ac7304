package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/echobase-ai/echobase/internal/ingest"
	"github.com/echobase-ai/echobase/internal/knowledge"
	"github.com/echobase-ai/echobase/internal/vector"
)

// documentHandler serves document registration, status, and lifecycle.
type documentHandler struct {
	docs     knowledge.DocumentStore
	vectors  vector.Store
	ingestor Ingestor
	pipeline Pipeline
	logger   *slog.Logger
}

type documentResponse struct {
	ID              string    `json:"id"`
	KnowledgeBaseID string    `json:"knowledgeBaseId"`
	SourceURL       string    `json:"sourceUrl"`
	Format          string    `json:"format"`
	Status          string    `json:"status"`
	ChunkCount      int       `json:"chunkCount"`
	ErrorDetail     string    `json:"errorDetail,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	StatusChangedAt time.Time `json:"statusChangedAt"`
}

func toDocumentResponse(doc knowledge.Document) documentResponse {
	resp := documentResponse{
		ID:              doc.ID,
		KnowledgeBaseID: doc.KnowledgeBaseID,
		SourceURL:       doc.SourceURL,
		Format:          string(doc.Format),
		Status:          string(doc.Status),
		ChunkCount:      doc.ChunkCount,
		CreatedAt:       doc.CreatedAt,
		StatusChangedAt: doc.StatusChangedAt,
	}
	if doc.ErrorDetail != nil {
		resp.ErrorDetail = *doc.ErrorDetail
	}
	return resp
}

func (h *documentHandler) create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		KnowledgeBaseID string `json:"knowledgeBaseId"`
		SourceURL       string `json:"sourceUrl"`
		Format          string `json:"format"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "request body must be valid JSON", h.logger)
		return
	}
	if req.KnowledgeBaseID == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "knowledgeBaseId is required", h.logger)
		return
	}
	if !validSourceURL(req.SourceURL) {
		WriteError(w, http.StatusBadRequest, "invalid_request", "sourceUrl must be a valid http(s) URL", h.logger)
		return
	}

	if _, err := h.docs.GetKnowledgeBase(r.Context(), req.KnowledgeBaseID); err != nil {
		if errors.Is(err, knowledge.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "knowledge base not found", h.logger)
			return
		}
		WriteError(w, http.StatusInternalServerError, "create_failed", "failed to load knowledge base", h.logger)
		return
	}

	now := time.Now().UTC()
	doc := knowledge.Document{
		ID:              uuid.New().String(),
		KnowledgeBaseID: req.KnowledgeBaseID,
		SourceURL:       req.SourceURL,
		Format:          knowledge.ParseFormat(strings.ToLower(req.Format)),
		Status:          knowledge.StatusPending,
		CreatedAt:       now,
		StatusChangedAt: now,
	}
	if err := h.docs.CreateDocument(r.Context(), doc); err != nil {
		WriteError(w, http.StatusInternalServerError, "create_failed", "failed to register document", h.logger)
		return
	}

	if err := h.ingestor.Enqueue(doc.ID); err != nil {
		if errors.Is(err, ingest.ErrQueueFull) {
			// The document remains pending; the client can retry reprocessing.
			h.logger.Warn("ingestion queue full", "document_id", doc.ID)
			WriteError(w, http.StatusServiceUnavailable, "queue_full", "ingestion queue is full, retry later", h.logger)
			return
		}
		WriteError(w, http.StatusInternalServerError, "enqueue_failed", "failed to queue document", h.logger)
		return
	}

	h.logger.Info("document registered",
		"document_id", doc.ID, "knowledge_base_id", doc.KnowledgeBaseID, "format", doc.Format)
	WriteJSON(w, http.StatusAccepted, toDocumentResponse(doc))
}

func (h *documentHandler) get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, knowledge.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "document not found", h.logger)
			return
		}
		WriteError(w, http.StatusInternalServerError, "get_failed", "failed to load document", h.logger)
		return
	}

	resp := struct {
		documentResponse
		VectorCount int `json:"vectorCount"`
	}{documentResponse: toDocumentResponse(doc)}

	if count, err := h.vectors.CountByDocument(r.Context(), doc.ID); err == nil {
		resp.VectorCount = count
	} else {
		h.logger.Warn("failed to count vector records", "document_id", doc.ID, "error", err)
	}

	WriteJSON(w, http.StatusOK, resp)
}

func (h *documentHandler) list(w http.ResponseWriter, r *http.Request) {
	kbID := r.PathValue("id")
	if _, err := h.docs.GetKnowledgeBase(r.Context(), kbID); err != nil {
		if errors.Is(err, knowledge.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "knowledge base not found", h.logger)
			return
		}
		WriteError(w, http.StatusInternalServerError, "list_failed", "failed to load knowledge base", h.logger)
		return
	}

	documents, err := h.docs.ListDocuments(r.Context(), kbID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "list_failed", "failed to list documents", h.logger)
		return
	}

	resp := make([]documentResponse, len(documents))
	for i, doc := range documents {
		resp[i] = toDocumentResponse(doc)
	}
	WriteJSON(w, http.StatusOK, map[string]any{"documents": resp})
}

// reprocess resets a processed or failed document to pending and queues it
// again. Deterministic record IDs make the rerun overwrite the previous
// vector records.
func (h *documentHandler) reprocess(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.docs.ResetForReprocess(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, knowledge.ErrNotFound):
			WriteError(w, http.StatusNotFound, "not_found", "document not found", h.logger)
		case errors.Is(err, knowledge.ErrInvalidTransition):
			WriteError(w, http.StatusConflict, "invalid_state", "document is not in a reprocessable state", h.logger)
		default:
			WriteError(w, http.StatusInternalServerError, "reprocess_failed", "failed to reset document", h.logger)
		}
		return
	}

	if err := h.ingestor.Enqueue(id); err != nil {
		WriteError(w, http.StatusServiceUnavailable, "queue_full", "ingestion queue is full, retry later", h.logger)
		return
	}

	h.logger.Info("document queued for reprocessing", "document_id", id)
	doc, err := h.docs.GetDocument(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "reprocess_failed", "failed to load document", h.logger)
		return
	}
	WriteJSON(w, http.StatusAccepted, toDocumentResponse(doc))
}

func (h *documentHandler) delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.pipeline.DeleteDocument(r.Context(), id); err != nil {
		if errors.Is(err, knowledge.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "document not found", h.logger)
			return
		}
		WriteError(w, http.StatusInternalServerError, "delete_failed", "failed to delete document", h.logger)
		return
	}

	h.logger.Info("document deleted", "document_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func validSourceURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
