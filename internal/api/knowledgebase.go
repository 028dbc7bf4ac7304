package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/echobase-ai/echobase/internal/knowledge"
)

// knowledgeBaseHandler serves knowledge base CRUD.
type knowledgeBaseHandler struct {
	docs     knowledge.DocumentStore
	pipeline Pipeline
	logger   *slog.Logger
}

type knowledgeBaseResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

func toKnowledgeBaseResponse(kb knowledge.KnowledgeBase) knowledgeBaseResponse {
	return knowledgeBaseResponse{ID: kb.ID, Name: kb.Name, CreatedAt: kb.CreatedAt}
}

func (h *knowledgeBaseHandler) create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "request body must be valid JSON", h.logger)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "name is required", h.logger)
		return
	}

	kb := knowledge.KnowledgeBase{
		ID:        uuid.New().String(),
		Name:      req.Name,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.docs.CreateKnowledgeBase(r.Context(), kb); err != nil {
		WriteError(w, http.StatusInternalServerError, "create_failed", "failed to create knowledge base", h.logger)
		return
	}

	h.logger.Info("knowledge base created", "knowledge_base_id", kb.ID, "name", kb.Name)
	WriteJSON(w, http.StatusCreated, toKnowledgeBaseResponse(kb))
}

func (h *knowledgeBaseHandler) list(w http.ResponseWriter, r *http.Request) {
	kbs, err := h.docs.ListKnowledgeBases(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "list_failed", "failed to list knowledge bases", h.logger)
		return
	}

	resp := make([]knowledgeBaseResponse, len(kbs))
	for i, kb := range kbs {
		resp[i] = toKnowledgeBaseResponse(kb)
	}
	WriteJSON(w, http.StatusOK, map[string]any{"knowledgeBases": resp})
}

func (h *knowledgeBaseHandler) get(w http.ResponseWriter, r *http.Request) {
	kb, err := h.docs.GetKnowledgeBase(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, knowledge.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "knowledge base not found", h.logger)
			return
		}
		WriteError(w, http.StatusInternalServerError, "get_failed", "failed to load knowledge base", h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, toKnowledgeBaseResponse(kb))
}

func (h *knowledgeBaseHandler) delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.pipeline.DeleteKnowledgeBase(r.Context(), id); err != nil {
		if errors.Is(err, knowledge.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "knowledge base not found", h.logger)
			return
		}
		WriteError(w, http.StatusInternalServerError, "delete_failed", "failed to delete knowledge base", h.logger)
		return
	}

	h.logger.Info("knowledge base deleted", "knowledge_base_id", id)
	w.WriteHeader(http.StatusNoContent)
}
