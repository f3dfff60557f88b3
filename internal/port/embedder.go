package port

import "context"

// Embedder generates vector embeddings for text.
type Embedder interface {
	// EmbedDocuments embeds a batch of texts, one vector per input, in order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding vector dimension, or 0 when the
	// model is not known in advance.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}

// VectorStore stores and searches embedding vectors.
type VectorStore interface {
	// Upsert adds or replaces items by ID.
	Upsert(ctx context.Context, items []VectorItem) error

	// Search returns up to k records nearest to the query, most relevant
	// first, without scores.
	Search(ctx context.Context, query []float32, k int) ([]VectorRecord, error)

	// Count returns the number of vectors in the collection.
	Count(ctx context.Context) (int, error)

	Close() error
}

// ScoredSearcher is implemented by stores that can report a similarity
// score for each hit. It may return an error wrapping domain.ErrUnsupported
// when the backend version lacks the scoring operator.
type ScoredSearcher interface {
	SearchWithScore(ctx context.Context, query []float32, k int) ([]ScoredRecord, error)
}

// BatchScoredSearcher is implemented by stores that accept several query
// vectors in one call. Results are parallel to queries.
type BatchScoredSearcher interface {
	SearchWithScores(ctx context.Context, queries [][]float32, k int) ([][]ScoredRecord, error)
}

// Pruner deletes every record of the collection whose ID is not in keep.
type Pruner interface {
	DeleteExcept(ctx context.Context, keep []string) (int, error)
}

// VectorItem represents a vector to be stored.
type VectorItem struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata map[string]any
}

// VectorRecord is a stored item as returned by a search.
type VectorRecord struct {
	ID       string
	Text     string
	Metadata map[string]any
}

// ScoredRecord is a search hit with a normalized score: higher is more
// relevant and the value is never negative.
type ScoredRecord struct {
	VectorRecord
	Score float64
}
