package port

import "ragchat/internal/domain"

type Chunker interface {
	Split(docs []domain.Document) []domain.Chunk
}
