package retriever

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"ragchat/internal/adapter/embedding"
	"ragchat/internal/adapter/memstore"
	"ragchat/internal/domain"
	"ragchat/internal/port"
)

// plainStore only supports unscored search.
type plainStore struct {
	records []port.VectorRecord
	err     error
	calls   int
}

func (s *plainStore) Upsert(context.Context, []port.VectorItem) error { return nil }
func (s *plainStore) Count(context.Context) (int, error)             { return len(s.records), nil }
func (s *plainStore) Close() error                                   { return nil }

func (s *plainStore) Search(_ context.Context, _ []float32, k int) ([]port.VectorRecord, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if k < len(s.records) {
		return s.records[:k], nil
	}
	return s.records, nil
}

// scoredStore adds single scored search. It returns every record regardless
// of k so truncation is left to the retriever.
type scoredStore struct {
	plainStore
	scored    []port.ScoredRecord
	scoredErr error
}

func (s *scoredStore) SearchWithScore(context.Context, []float32, int) ([]port.ScoredRecord, error) {
	if s.scoredErr != nil {
		return nil, s.scoredErr
	}
	return s.scored, nil
}

// batchStore adds batch scored search on top of scoredStore.
type batchStore struct {
	scoredStore
	batchErr   error
	batchCalls int
}

func (s *batchStore) SearchWithScores(_ context.Context, queries [][]float32, _ int) ([][]port.ScoredRecord, error) {
	s.batchCalls++
	if s.batchErr != nil {
		return nil, s.batchErr
	}
	out := make([][]port.ScoredRecord, len(queries))
	for i := range queries {
		out[i] = s.scored
	}
	return out, nil
}

type failingEmbedder struct{ embedding.HashEmbedder }

func (failingEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, errors.New("quota exceeded")
}

func rec(id string) port.VectorRecord {
	return port.VectorRecord{ID: id, Text: "text of " + id}
}

func scored(id string, s float64) port.ScoredRecord {
	return port.ScoredRecord{VectorRecord: rec(id), Score: s}
}

func unsupported(what string) error {
	return fmt.Errorf("%s: %w", what, domain.ErrUnsupported)
}

func TestSemanticRetriever_BatchStrategy(t *testing.T) {
	store := &batchStore{scoredStore: scoredStore{scored: []port.ScoredRecord{
		scored("doc-1", 0.4), scored("doc-2", 0.9), scored("doc-3", 0.7),
	}}}
	r := NewSemanticRetriever(store, embedding.NewHashEmbedder(8), nil)

	got, err := r.SearchWithScores(context.Background(), "q", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "doc-2", got[0].Chunk.ID)
	assert.Equal(t, "doc-3", got[1].Chunk.ID)
	assert.Equal(t, 0.9, *got[0].Score)
	assert.Equal(t, 1, store.batchCalls)
	assert.Zero(t, store.calls)
}

func TestSemanticRetriever_FallsBackOnUnsupported(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	store := &batchStore{
		batchErr: unsupported("batch"),
		scoredStore: scoredStore{
			scored: []port.ScoredRecord{scored("doc-0", 0.8)},
		},
	}
	r := NewSemanticRetriever(store, embedding.NewHashEmbedder(8), zap.New(core))

	got, err := r.SearchWithScores(context.Background(), "q", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].HasScore())
	assert.Equal(t, 1, logs.FilterMessageSnippet("batch scored search unavailable").Len())
}

func TestSemanticRetriever_UnscoredWhenDegraded(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	store := &batchStore{
		batchErr: unsupported("batch"),
		scoredStore: scoredStore{
			scoredErr: unsupported("cosine operator"),
			plainStore: plainStore{records: []port.VectorRecord{
				rec("doc-4"), rec("doc-0"), rec("doc-2"),
			}},
		},
	}
	r := NewSemanticRetriever(store, embedding.NewHashEmbedder(8), zap.New(core))

	got, err := r.SearchWithScores(context.Background(), "q", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "doc-4", got[0].Chunk.ID, "backend order is kept")
	for _, c := range got {
		assert.False(t, c.HasScore())
		assert.NotEmpty(t, c.Chunk.Text)
	}
	assert.Equal(t, 2, logs.FilterLevelExact(zapcore.DebugLevel).Len())
}

func TestSemanticRetriever_PlainStore(t *testing.T) {
	store := &plainStore{records: []port.VectorRecord{rec("doc-0"), rec("doc-1")}}
	r := NewSemanticRetriever(store, embedding.NewHashEmbedder(8), nil)

	got, err := r.SearchWithScores(context.Background(), "q", 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Nil(t, got[0].Score)
}

func TestSemanticRetriever_OtherErrorsPropagate(t *testing.T) {
	boom := errors.New("connection refused")

	batch := &batchStore{batchErr: boom}
	_, err := NewSemanticRetriever(batch, embedding.NewHashEmbedder(8), nil).SearchWithScores(context.Background(), "q", 3)
	require.ErrorIs(t, err, boom)
	assert.Zero(t, batch.calls, "no fallback on a real failure")

	single := &scoredStore{scoredErr: boom}
	_, err = NewSemanticRetriever(single, embedding.NewHashEmbedder(8), nil).SearchWithScores(context.Background(), "q", 3)
	require.ErrorIs(t, err, boom)

	plain := &plainStore{err: boom}
	_, err = NewSemanticRetriever(plain, embedding.NewHashEmbedder(8), nil).SearchWithScores(context.Background(), "q", 3)
	require.ErrorIs(t, err, boom)

	_, err = NewSemanticRetriever(&plainStore{}, &failingEmbedder{}, nil).SearchWithScores(context.Background(), "q", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestSemanticRetriever_SanitizesScores(t *testing.T) {
	store := &scoredStore{scored: []port.ScoredRecord{
		scored("doc-nan", math.NaN()),
		scored("doc-neg", -0.3),
		scored("doc-top", 0.6),
	}}
	r := NewSemanticRetriever(store, embedding.NewHashEmbedder(8), nil)

	got, err := r.SearchWithScores(context.Background(), "q", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "doc-top", got[0].Chunk.ID)
	assert.Equal(t, "doc-neg", got[1].Chunk.ID)
	assert.Equal(t, 0.0, *got[1].Score)
	assert.Equal(t, "doc-nan", got[2].Chunk.ID)
	assert.Nil(t, got[2].Score)
}

func TestSemanticRetriever_NonPositiveK(t *testing.T) {
	store := &plainStore{records: []port.VectorRecord{rec("doc-0")}}
	r := NewSemanticRetriever(store, &failingEmbedder{}, nil)

	for _, k := range []int{0, -1} {
		got, err := r.SearchWithScores(context.Background(), "q", k)
		require.NoError(t, err)
		assert.Empty(t, got)
	}
	assert.Zero(t, store.calls)
}

func TestSemanticRetriever_MemoryStore(t *testing.T) {
	ctx := context.Background()
	emb := embedding.NewHashEmbedder(64)
	store := memstore.NewMemoryStore()

	texts := []string{"garantia de doze meses", "bateria de litio", "cor azul"}
	vecs, err := emb.EmbedDocuments(ctx, texts)
	require.NoError(t, err)
	for i, text := range texts {
		require.NoError(t, store.Upsert(ctx, []port.VectorItem{{ID: fmt.Sprintf("doc-%d", i), Vector: vecs[i], Text: text}}))
	}

	r := NewSemanticRetriever(store, emb, nil)

	got, err := r.SearchWithScores(ctx, "garantia meses", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "doc-0", got[0].Chunk.ID)
	assert.GreaterOrEqual(t, *got[0].Score, *got[1].Score)

	empty, err := NewSemanticRetriever(memstore.NewMemoryStore(), emb, nil).SearchWithScores(ctx, "x", 4)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
