package memstore

import (
	"context"
	"fmt"
	"sync"

	"ragchat/internal/adapter/similarity"
	"ragchat/internal/domain"
	"ragchat/internal/port"
)

var (
	_ port.VectorStore         = (*MemoryStore)(nil)
	_ port.ScoredSearcher      = (*MemoryStore)(nil)
	_ port.BatchScoredSearcher = (*MemoryStore)(nil)
	_ port.Pruner              = (*MemoryStore)(nil)
)

// MemoryStore is an in-process vector store with brute-force cosine search.
// It supports every optional capability.
type MemoryStore struct {
	mu      sync.RWMutex
	vectors map[string]entry
}

type entry struct {
	vector   []float32
	text     string
	metadata map[string]any
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		vectors: make(map[string]entry),
	}
}

func (s *MemoryStore) Upsert(_ context.Context, items []port.VectorItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range items {
		if item.ID == "" {
			return fmt.Errorf("memstore: item without id")
		}
		s.vectors[item.ID] = entry{
			vector:   item.Vector,
			text:     item.Text,
			metadata: domain.CloneMetadata(item.Metadata),
		}
	}
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, query []float32, k int) ([]port.VectorRecord, error) {
	scored, err := s.SearchWithScore(ctx, query, k)
	if err != nil {
		return nil, err
	}
	out := make([]port.VectorRecord, len(scored))
	for i, r := range scored {
		out[i] = r.VectorRecord
	}
	return out, nil
}

func (s *MemoryStore) SearchWithScore(_ context.Context, query []float32, k int) ([]port.ScoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.search(query, k), nil
}

func (s *MemoryStore) SearchWithScores(_ context.Context, queries [][]float32, k int) ([][]port.ScoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([][]port.ScoredRecord, len(queries))
	for i, q := range queries {
		out[i] = s.search(q, k)
	}
	return out, nil
}

func (s *MemoryStore) search(query []float32, k int) []port.ScoredRecord {
	if k <= 0 || len(s.vectors) == 0 {
		return nil
	}

	records := make([]port.ScoredRecord, 0, len(s.vectors))
	for id, e := range s.vectors {
		records = append(records, port.ScoredRecord{
			VectorRecord: port.VectorRecord{
				ID:       id,
				Text:     e.text,
				Metadata: domain.CloneMetadata(e.metadata),
			},
			Score: similarity.FromCosineSimilarity(similarity.Cosine(query, e.vector)),
		})
	}
	return similarity.TopK(records, k)
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors), nil
}

func (s *MemoryStore) DeleteExcept(_ context.Context, keep []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keepSet := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		keepSet[id] = struct{}{}
	}

	deleted := 0
	for id := range s.vectors {
		if _, ok := keepSet[id]; !ok {
			delete(s.vectors, id)
			deleted++
		}
	}
	return deleted, nil
}

// IDs returns the stored ids in no particular order.
func (s *MemoryStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.vectors))
	for id := range s.vectors {
		ids = append(ids, id)
	}
	return ids
}

func (s *MemoryStore) Close() error {
	return nil
}
