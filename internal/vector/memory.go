package vector

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store using exact cosine similarity. It mirrors
// PgStore's ordering contract and is used in tests and database-free setups.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record // by record ID

	// FailUpsert, when set, makes the next Upsert return the error. Test hook
	// for exercising the orchestrator's cleanup path.
	FailUpsert error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Upsert(_ context.Context, knowledgeBaseID string, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailUpsert != nil {
		err := s.FailUpsert
		s.FailUpsert = nil
		return err
	}

	for _, rec := range records {
		rec.KnowledgeBaseID = knowledgeBaseID
		s.records[rec.ID] = rec
	}
	return nil
}

func (s *MemoryStore) Query(_ context.Context, knowledgeBaseID string, embedding []float32, topK int) ([]Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []Match
	for _, rec := range s.records {
		if rec.KnowledgeBaseID != knowledgeBaseID {
			continue
		}
		matches = append(matches, Match{Record: rec, Score: cosine(embedding, rec.Embedding)})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ChunkIndex < matches[j].ChunkIndex
	})

	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *MemoryStore) DeleteByDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.records {
		if rec.DocumentID == documentID {
			delete(s.records, id)
		}
	}
	return nil
}

func (s *MemoryStore) CountByDocument(_ context.Context, documentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, rec := range s.records {
		if rec.DocumentID == documentID {
			count++
		}
	}
	return count, nil
}

// IDs returns all stored record IDs. Test helper.
func (s *MemoryStore) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
