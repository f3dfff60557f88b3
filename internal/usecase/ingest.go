package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ragchat/internal/domain"
	"ragchat/internal/logger"
	"ragchat/internal/port"
)

// DefaultBatchSize is the number of chunks embedded and stored per round trip.
const DefaultBatchSize = 100

// IngestUseCase loads a document, chunks it and stores the embedded chunks.
type IngestUseCase struct {
	loader    port.DocumentLoader
	chunker   port.Chunker
	embedder  port.Embedder
	store     port.VectorStore
	batchSize int
	log       *zap.Logger
}

// NewIngestUseCase creates a new ingest use case.
func NewIngestUseCase(
	loader port.DocumentLoader,
	chunker port.Chunker,
	embedder port.Embedder,
	store port.VectorStore,
	batchSize int,
	log *zap.Logger,
) *IngestUseCase {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &IngestUseCase{
		loader:    loader,
		chunker:   chunker,
		embedder:  embedder,
		store:     store,
		batchSize: batchSize,
		log:       logger.OrNop(log),
	}
}

// IngestOptions controls a single ingestion run.
type IngestOptions struct {
	// Prune deletes stored records whose ID was not produced by this run.
	Prune bool

	// Progress is called after each stored batch.
	Progress func(done, total int)
}

// IngestResult contains the results of an ingestion run.
type IngestResult struct {
	Source   string
	Pages    int
	Chunks   int
	Embedded int
	Pruned   int
	NoOp     bool
	Duration time.Duration
}

// ChunkID returns the identifier of the i-th chunk of a run.
func ChunkID(i int) string {
	return fmt.Sprintf("doc-%d", i)
}

// Ingest loads source and upserts its chunks under the IDs doc-0..doc-N-1.
// Re-running on the same document replaces the same records. A document
// without extractable text is a no-op, not an error.
func (u *IngestUseCase) Ingest(ctx context.Context, source string, opts IngestOptions) (*IngestResult, error) {
	start := time.Now()

	docs, err := u.loader.Load(source)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", source, err)
	}

	result := &IngestResult{Source: source, Pages: len(docs)}

	chunks := u.chunker.Split(docs)
	if len(chunks) == 0 {
		u.log.Warn("no chunks produced", zap.String("source", source), zap.Int("pages", len(docs)))
		result.NoOp = true
		result.Duration = time.Since(start)
		return result, nil
	}
	result.Chunks = len(chunks)

	ids := make([]string, len(chunks))
	for i := range chunks {
		ids[i] = ChunkID(i)
		chunks[i].ID = ids[i]
		chunks[i].Metadata = domain.FilterMetadata(chunks[i].Metadata)
	}

	u.log.Info("ingesting",
		zap.String("source", source),
		zap.Int("pages", len(docs)),
		zap.Int("chunks", len(chunks)),
		zap.String("model", u.embedder.ModelName()))

	for i := 0; i < len(chunks); i += u.batchSize {
		end := min(i+u.batchSize, len(chunks))
		if err := u.storeBatch(ctx, chunks[i:end]); err != nil {
			return nil, err
		}

		result.Embedded = end
		if opts.Progress != nil {
			opts.Progress(end, len(chunks))
		}
	}

	if opts.Prune {
		pruner, ok := u.store.(port.Pruner)
		if !ok {
			return nil, fmt.Errorf("prune: %w", domain.ErrUnsupported)
		}
		n, err := pruner.DeleteExcept(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to prune stale records: %w", err)
		}
		result.Pruned = n
		u.log.Info("pruned stale records", zap.Int("deleted", n))
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (u *IngestUseCase) storeBatch(ctx context.Context, batch []domain.Chunk) error {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	vectors, err := u.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed %s..%s: %w", batch[0].ID, batch[len(batch)-1].ID, err)
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(batch))
	}

	items := make([]port.VectorItem, len(batch))
	for i, c := range batch {
		items[i] = port.VectorItem{
			ID:       c.ID,
			Vector:   vectors[i],
			Text:     c.Text,
			Metadata: c.Metadata,
		}
	}

	if err := u.store.Upsert(ctx, items); err != nil {
		return fmt.Errorf("failed to store %s..%s: %w", batch[0].ID, batch[len(batch)-1].ID, err)
	}

	u.log.Debug("stored batch", zap.String("first", batch[0].ID), zap.Int("size", len(batch)))
	return nil
}
