package knowledge

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory DocumentStore with the same transition guard
// semantics as PostgresStore. Used in tests and for single-process setups
// without a database.
type MemoryStore struct {
	mu   sync.Mutex
	kbs  map[string]KnowledgeBase
	docs map[string]Document
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		kbs:  make(map[string]KnowledgeBase),
		docs: make(map[string]Document),
	}
}

func (s *MemoryStore) CreateKnowledgeBase(_ context.Context, kb KnowledgeBase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.kbs[kb.ID]; ok {
		return fmt.Errorf("knowledge base %q already exists", kb.ID)
	}
	s.kbs[kb.ID] = kb
	return nil
}

func (s *MemoryStore) GetKnowledgeBase(_ context.Context, id string) (KnowledgeBase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kb, ok := s.kbs[id]
	if !ok {
		return KnowledgeBase{}, fmt.Errorf("knowledge base %q: %w", id, ErrNotFound)
	}
	return kb, nil
}

func (s *MemoryStore) DeleteKnowledgeBase(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.kbs[id]; !ok {
		return fmt.Errorf("knowledge base %q: %w", id, ErrNotFound)
	}
	delete(s.kbs, id)
	for docID, doc := range s.docs {
		if doc.KnowledgeBaseID == id {
			delete(s.docs, docID)
		}
	}
	return nil
}

func (s *MemoryStore) ListKnowledgeBases(_ context.Context) ([]KnowledgeBase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kbs := make([]KnowledgeBase, 0, len(s.kbs))
	for _, kb := range s.kbs {
		kbs = append(kbs, kb)
	}
	sort.Slice(kbs, func(i, j int) bool { return kbs[i].CreatedAt.Before(kbs[j].CreatedAt) })
	return kbs, nil
}

func (s *MemoryStore) CreateDocument(_ context.Context, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[doc.ID]; ok {
		return fmt.Errorf("document %q already exists", doc.ID)
	}
	if doc.Status == "" {
		doc.Status = StatusPending
	}
	doc.StatusChangedAt = doc.CreatedAt
	s.docs[doc.ID] = doc
	return nil
}

func (s *MemoryStore) GetDocument(_ context.Context, id string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return Document{}, fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	return doc, nil
}

func (s *MemoryStore) ListDocuments(_ context.Context, knowledgeBaseID string) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var docs []Document
	for _, doc := range s.docs {
		if doc.KnowledgeBaseID == knowledgeBaseID {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].CreatedAt.Before(docs[j].CreatedAt) })
	return docs, nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	delete(s.docs, id)
	return nil
}

// transition applies mutate under the same guard as the SQL compare-and-set.
func (s *MemoryStore) transition(id string, next Status, mutate func(*Document), from ...Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("document %q: %w", id, ErrNotFound)
	}

	allowed := false
	for _, st := range from {
		if doc.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("document %q (%s → %s): %w", id, doc.Status, next, ErrInvalidTransition)
	}

	doc.Status = next
	doc.StatusChangedAt = time.Now()
	if mutate != nil {
		mutate(&doc)
	}
	s.docs[id] = doc
	return nil
}

func (s *MemoryStore) ClaimForExtraction(_ context.Context, id string) error {
	return s.transition(id, StatusExtracting, nil, StatusPending)
}

func (s *MemoryStore) MarkEmbedding(_ context.Context, id string, extractedContent string) error {
	return s.transition(id, StatusEmbedding, func(d *Document) {
		d.ExtractedContent = &extractedContent
		d.ErrorDetail = nil
	}, StatusExtracting)
}

func (s *MemoryStore) MarkProcessed(_ context.Context, id string, chunkCount int) error {
	return s.transition(id, StatusProcessed, func(d *Document) {
		d.ChunkCount = chunkCount
		d.ErrorDetail = nil
	}, StatusEmbedding)
}

func (s *MemoryStore) MarkFailed(_ context.Context, id string, cause string) error {
	return s.transition(id, StatusFailed, func(d *Document) {
		d.ErrorDetail = &cause
	}, StatusExtracting, StatusEmbedding)
}

func (s *MemoryStore) ResetForReprocess(_ context.Context, id string) error {
	return s.transition(id, StatusPending, func(d *Document) {
		d.ErrorDetail = nil
		d.ChunkCount = 0
	}, StatusProcessed, StatusFailed)
}

func (s *MemoryStore) DocumentStatuses(_ context.Context, ids []string) (map[string]Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	statuses := make(map[string]Status, len(ids))
	for _, id := range ids {
		if doc, ok := s.docs[id]; ok {
			statuses[id] = doc.Status
		}
	}
	return statuses, nil
}
