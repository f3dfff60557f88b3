package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"ragchat/internal/domain"
	"ragchat/internal/logger"
	"ragchat/internal/port"
)

var _ port.DocumentLoader = (*Loader)(nil)

// Loader reads PDFs page by page and any other file as a single text page.
type Loader struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Loader {
	return &Loader{log: logger.OrNop(log)}
}

func (l *Loader) Load(path string) ([]domain.Document, error) {
	if err := CheckSource(path); err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return l.loadPDF(path)
	default:
		return loadText(path)
	}
}

// CheckSource reports a *domain.SourceNotFoundError when path does not
// exist, and an error when it is a directory.
func CheckSource(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &domain.SourceNotFoundError{Path: path}
		}
		return fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("source is a directory: %s", path)
	}
	return nil
}

func loadText(path string) ([]domain.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	return []domain.Document{{
		Content:  string(data),
		Metadata: map[string]any{"source": path},
	}}, nil
}
