package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.etcd.io/bbolt"

	"ragchat/internal/adapter/similarity"
	"ragchat/internal/domain"
	"ragchat/internal/port"
)

var (
	_ port.VectorStore    = (*BoltVectorStore)(nil)
	_ port.ScoredSearcher = (*BoltVectorStore)(nil)
	_ port.Pruner         = (*BoltVectorStore)(nil)
)

// BoltVectorStore implements VectorStore using BoltDB for persistence.
// Uses brute-force cosine search over an in-memory copy of the collection.
// It has no batch search.
type BoltVectorStore struct {
	db         *bbolt.DB
	ownsDB     bool
	collection []byte

	mu      sync.RWMutex
	schema  SchemaInfo
	vectors map[string]vectorEntry
}

// BoltOptions selects the collection and the embedder it must match.
type BoltOptions struct {
	Collection string
	Model      string
	Dimension  int
}

type vectorEntry struct {
	vector   []float32
	text     string
	metadata map[string]any
}

type storedVector struct {
	Vector   []float32      `json:"v"`
	Text     string         `json:"t"`
	Metadata map[string]any `json:"m,omitempty"`
}

// OpenBoltVectorStore opens the file at path and the collection inside it.
// Close releases the file.
func OpenBoltVectorStore(path string, opts BoltOptions) (*BoltVectorStore, error) {
	db, err := OpenBolt(path)
	if err != nil {
		return nil, err
	}

	s, err := NewBoltVectorStore(db, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// NewBoltVectorStore creates a vector store on an open database.
func NewBoltVectorStore(db *bbolt.DB, opts BoltOptions) (*BoltVectorStore, error) {
	if opts.Collection == "" {
		return nil, fmt.Errorf("bolt store: collection name is empty")
	}

	s := &BoltVectorStore{
		db:         db,
		collection: []byte(opts.Collection),
		vectors:    make(map[string]vectorEntry),
	}

	err := db.Update(func(tx *bbolt.Tx) error {
		coll, err := collectionBucket(tx, s.collection)
		if err != nil {
			return err
		}
		stored, err := readSchema(coll)
		if err != nil {
			return err
		}
		info, err := reconcileSchema(stored, opts.Model, opts.Dimension)
		if err != nil {
			return fmt.Errorf("collection %s: %w", opts.Collection, err)
		}
		s.schema = info
		return writeSchema(coll, info)
	})
	if err != nil {
		return nil, err
	}

	if err := s.loadVectors(); err != nil {
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}

	return s, nil
}

// loadVectors loads all vectors of the collection into memory.
func (s *BoltVectorStore) loadVectors() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		coll, err := collectionBucket(tx, s.collection)
		if err != nil {
			return err
		}

		return coll.Bucket(bucketVectors).ForEach(func(k, v []byte) error {
			var stored storedVector
			if err := json.Unmarshal(v, &stored); err != nil {
				return nil // Skip corrupted entries
			}
			s.vectors[string(k)] = vectorEntry{
				vector:   stored.Vector,
				text:     stored.Text,
				metadata: stored.Metadata,
			}
			return nil
		})
	})
}

// Schema returns the collection's schema info.
func (s *BoltVectorStore) Schema() SchemaInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schema
}

// Upsert adds or replaces vectors. The first vector fixes the collection's
// dimension when the embedder did not declare one.
func (s *BoltVectorStore) Upsert(_ context.Context, items []port.VectorItem) error {
	if len(items) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The cache and schema change only once the transaction has committed.
	dimension := s.schema.Dimension
	if dimension == 0 {
		dimension = len(items[0].Vector)
	}
	staged := make(map[string]vectorEntry, len(items))

	err := s.db.Update(func(tx *bbolt.Tx) error {
		coll, err := collectionBucket(tx, s.collection)
		if err != nil {
			return err
		}
		b := coll.Bucket(bucketVectors)

		if dimension != s.schema.Dimension {
			info := s.schema
			info.Dimension = dimension
			if err := writeSchema(coll, info); err != nil {
				return err
			}
		}

		for _, item := range items {
			if len(item.Vector) != dimension {
				return fmt.Errorf("vector dimension mismatch: expected %d, got %d", dimension, len(item.Vector))
			}

			data, err := json.Marshal(storedVector{
				Vector:   item.Vector,
				Text:     item.Text,
				Metadata: item.Metadata,
			})
			if err != nil {
				return err
			}

			if err := b.Put([]byte(item.ID), data); err != nil {
				return err
			}

			staged[item.ID] = vectorEntry{
				vector:   item.Vector,
				text:     item.Text,
				metadata: domain.CloneMetadata(item.Metadata),
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.schema.Dimension = dimension
	for id, e := range staged {
		s.vectors[id] = e
	}
	return nil
}

// Search finds the k nearest vectors to the query.
func (s *BoltVectorStore) Search(ctx context.Context, query []float32, k int) ([]port.VectorRecord, error) {
	scored, err := s.SearchWithScore(ctx, query, k)
	if err != nil {
		return nil, err
	}

	results := make([]port.VectorRecord, len(scored))
	for i, r := range scored {
		results[i] = r.VectorRecord
	}
	return results, nil
}

// SearchWithScore finds the k nearest vectors to the query using cosine
// similarity mapped to [0, 1].
func (s *BoltVectorStore) SearchWithScore(_ context.Context, query []float32, k int) ([]port.ScoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.vectors) == 0 || k <= 0 {
		return nil, nil
	}

	if len(query) != s.schema.Dimension {
		return nil, fmt.Errorf("query dimension mismatch: expected %d, got %d", s.schema.Dimension, len(query))
	}

	scores := make([]port.ScoredRecord, 0, len(s.vectors))
	for id, e := range s.vectors {
		scores = append(scores, port.ScoredRecord{
			VectorRecord: port.VectorRecord{
				ID:       id,
				Text:     e.text,
				Metadata: domain.CloneMetadata(e.metadata),
			},
			Score: similarity.FromCosineSimilarity(similarity.Cosine(query, e.vector)),
		})
	}

	return similarity.TopK(scores, k), nil
}

// DeleteExcept removes every vector whose ID is not in keep.
func (s *BoltVectorStore) DeleteExcept(_ context.Context, keep []string) (int, error) {
	keepSet := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		keepSet[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []string
	for id := range s.vectors {
		if _, ok := keepSet[id]; !ok {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		coll, err := collectionBucket(tx, s.collection)
		if err != nil {
			return err
		}
		b := coll.Bucket(bucketVectors)
		for _, id := range stale {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, id := range stale {
		delete(s.vectors, id)
	}
	return len(stale), nil
}

// Count returns the number of vectors in the collection.
func (s *BoltVectorStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors), nil
}

func (s *BoltVectorStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
