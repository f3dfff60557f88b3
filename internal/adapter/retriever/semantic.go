package retriever

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"ragchat/internal/domain"
	"ragchat/internal/logger"
	"ragchat/internal/port"
)

var _ port.Retriever = (*SemanticRetriever)(nil)

// SemanticRetriever embeds the query and asks the vector store for the
// nearest chunks. It uses the richest search the store offers: batch scored,
// then single scored, then plain search without scores.
type SemanticRetriever struct {
	vectorStore port.VectorStore
	embedder    port.Embedder
	log         *zap.Logger
}

func NewSemanticRetriever(
	vectorStore port.VectorStore,
	embedder port.Embedder,
	log *zap.Logger,
) *SemanticRetriever {
	return &SemanticRetriever{
		vectorStore: vectorStore,
		embedder:    embedder,
		log:         logger.OrNop(log),
	}
}

// SearchWithScores returns at most k chunks. Scored results come first,
// most relevant first. Chunks carry a nil score only when the store could
// not rank them.
func (r *SemanticRetriever) SearchWithScores(ctx context.Context, query string, k int) ([]domain.ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	if r.vectorStore == nil || r.embedder == nil {
		return nil, fmt.Errorf("semantic search not available: store or embedder not configured")
	}

	vec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	if bs, ok := r.vectorStore.(port.BatchScoredSearcher); ok {
		results, err := bs.SearchWithScores(ctx, [][]float32{vec}, k)
		switch {
		case err == nil:
			if len(results) == 0 {
				return nil, nil
			}
			return scoredChunks(results[0], k), nil
		case errors.Is(err, domain.ErrUnsupported):
			r.log.Debug("batch scored search unavailable, trying single query", zap.Error(err))
		default:
			return nil, fmt.Errorf("vector search failed: %w", err)
		}
	}

	if ss, ok := r.vectorStore.(port.ScoredSearcher); ok {
		results, err := ss.SearchWithScore(ctx, vec, k)
		switch {
		case err == nil:
			return scoredChunks(results, k), nil
		case errors.Is(err, domain.ErrUnsupported):
			r.log.Debug("scored search unavailable, falling back to unscored search", zap.Error(err))
		default:
			return nil, fmt.Errorf("vector search failed: %w", err)
		}
	}

	records, err := r.vectorStore.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	chunks := make([]domain.ScoredChunk, 0, min(len(records), k))
	for _, rec := range records {
		if len(chunks) == k {
			break
		}
		chunks = append(chunks, domain.ScoredChunk{Chunk: toChunk(rec)})
	}
	return chunks, nil
}

// scoredChunks converts store hits, dropping NaN scores and clamping
// negative ones to zero, then sorts and truncates to k.
func scoredChunks(records []port.ScoredRecord, k int) []domain.ScoredChunk {
	chunks := make([]domain.ScoredChunk, 0, len(records))
	for _, rec := range records {
		sc := domain.ScoredChunk{Chunk: toChunk(rec.VectorRecord)}
		if !math.IsNaN(rec.Score) {
			score := math.Max(rec.Score, 0)
			sc.Score = &score
		}
		chunks = append(chunks, sc)
	}

	sort.SliceStable(chunks, func(i, j int) bool {
		a, b := chunks[i].Score, chunks[j].Score
		if a == nil || b == nil {
			return a != nil && b == nil
		}
		return *a > *b
	})

	if len(chunks) > k {
		chunks = chunks[:k]
	}
	return chunks
}

func toChunk(rec port.VectorRecord) domain.Chunk {
	return domain.Chunk{
		ID:       rec.ID,
		Text:     rec.Text,
		Metadata: rec.Metadata,
	}
}
