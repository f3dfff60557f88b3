package port

import (
	"context"

	"ragchat/internal/domain"
)

// Retriever defines the interface for searching ingested content.
type Retriever interface {
	// SearchWithScores returns at most k chunks, most relevant first.
	SearchWithScores(ctx context.Context, query string, k int) ([]domain.ScoredChunk, error)
}
