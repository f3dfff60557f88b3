package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"ragchat/config"
	"ragchat/internal/adapter/embedding"
	"ragchat/internal/adapter/llm"
	"ragchat/internal/adapter/store"
	"ragchat/internal/port"
)

// pipeline holds the provider and store clients a command needs. Close
// releases all of them.
type pipeline struct {
	embedder port.Embedder
	store    port.VectorStore
	llm      port.LLM
}

// openPipeline builds the embedder and vector store for cfg, and the
// language model when withLLM is set.
func openPipeline(ctx context.Context, cfg *config.Config, dir string, withLLM bool, log *zap.Logger) (*pipeline, error) {
	p := &pipeline{}

	emb, err := newEmbedder(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p.embedder = emb

	vs, err := newVectorStore(ctx, cfg, dir, emb, log)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.store = vs

	if withLLM {
		model, err := newLLM(ctx, cfg)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.llm = model
	}

	log.Debug("pipeline ready",
		zap.String("provider", cfg.Provider),
		zap.String("backend", cfg.Store.Backend),
		zap.String("collection", cfg.CollectionName()),
		zap.String("embedding_model", p.embedder.ModelName()))
	return p, nil
}

func newEmbedder(ctx context.Context, cfg *config.Config) (port.Embedder, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		e, err := embedding.NewOpenAIEmbedder(cfg.OpenAI.APIKey, cfg.OpenAI.EmbeddingModel, cfg.OpenAI.BaseURL)
		if err != nil {
			return nil, err
		}
		return e, nil
	case config.ProviderGemini:
		e, err := embedding.NewGeminiEmbedder(ctx, cfg.Gemini.APIKey, cfg.Gemini.EmbeddingModel)
		if err != nil {
			return nil, err
		}
		return e, nil
	case config.ProviderHash:
		return embedding.NewHashEmbedder(0), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

func newLLM(ctx context.Context, cfg *config.Config) (port.LLM, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		m, err := llm.NewOpenAIChat(cfg.OpenAI.APIKey, cfg.OpenAI.ChatModel, cfg.OpenAI.BaseURL)
		if err != nil {
			return nil, err
		}
		return m, nil
	case config.ProviderGemini:
		m, err := llm.NewGeminiChat(ctx, cfg.Gemini.APIKey, cfg.Gemini.ChatModel)
		if err != nil {
			return nil, err
		}
		return m, nil
	case config.ProviderHash:
		return nil, fmt.Errorf("provider %s has no language model; use ingest or search", cfg.Provider)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

func newVectorStore(ctx context.Context, cfg *config.Config, dir string, emb port.Embedder, log *zap.Logger) (port.VectorStore, error) {
	switch cfg.Store.Backend {
	case config.BackendPGVector:
		s, err := store.OpenPGVectorStore(ctx, cfg.Store.PGVectorURL, store.PGVectorOptions{
			Collection:      cfg.CollectionName(),
			CreateExtension: cfg.Store.CreateExtension,
		}, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendBolt:
		s, err := store.OpenBoltVectorStore(cfg.BoltDBPath(dir), store.BoltOptions{
			Collection: cfg.CollectionName(),
			Model:      emb.ModelName(),
			Dimension:  emb.Dimension(),
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendMilvus:
		s, err := store.OpenMilvusStore(ctx, store.MilvusOptions{
			Address:    cfg.Store.MilvusAddress,
			Username:   cfg.Store.MilvusUsername,
			Password:   cfg.Store.MilvusPassword,
			Collection: cfg.CollectionName(),
			Metric:     cfg.Store.MilvusMetric,
		}, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported vector store: %s", cfg.Store.Backend)
	}
}

func (p *pipeline) Close() error {
	var errs []error
	if c, ok := p.llm.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if c, ok := p.embedder.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if p.store != nil {
		errs = append(errs, p.store.Close())
	}
	return errors.Join(errs...)
}
