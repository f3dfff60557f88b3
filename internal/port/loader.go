package port

import "ragchat/internal/domain"

// DocumentLoader reads a source file into one Document per page.
type DocumentLoader interface {
	Load(path string) ([]domain.Document, error)
}
