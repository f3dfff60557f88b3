package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ragchat/internal/domain"
	"ragchat/internal/port"
)

const testCollectionID = "6f1c2b3a-4d5e-4f60-8a7b-9c0d1e2f3a4b"

func newMockPG(t *testing.T, createExtension bool) (*PGVectorStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	if createExtension {
		mock.ExpectExec(regexp.QuoteMeta("CREATE EXTENSION IF NOT EXISTS vector")).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS langchain_pg_collection")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS langchain_pg_embedding")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO langchain_pg_collection")).
		WithArgs(sqlmock.AnyArg(), "manual", "{}").
		WillReturnRows(sqlmock.NewRows([]string{"uuid"}).AddRow(testCollectionID))

	s, err := NewPGVectorStore(context.Background(), db, PGVectorOptions{
		Collection:      "manual",
		CreateExtension: createExtension,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, testCollectionID, s.collectionID.String())
	return s, mock
}

func TestNormalizeDSN(t *testing.T) {
	tests := map[string]string{
		"postgresql+psycopg://u:p@localhost:5432/rag": "postgresql://u:p@localhost:5432/rag",
		"postgres+asyncpg://localhost/rag":            "postgres://localhost/rag",
		"postgres://localhost/rag?sslmode=disable":    "postgres://localhost/rag?sslmode=disable",
		"host=localhost dbname=rag":                   "host=localhost dbname=rag",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeDSN(in), in)
	}
}

func TestPGVectorStore_Init(t *testing.T) {
	_, mock := newMockPG(t, true)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGVectorStore_InitError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS langchain_pg_collection").
		WillReturnError(errors.New("permission denied"))

	_, err = NewPGVectorStore(context.Background(), db, PGVectorOptions{Collection: "manual"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestPGVectorStore_Upsert(t *testing.T) {
	s, mock := newMockPG(t, false)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO langchain_pg_embedding")).
		WithArgs("doc-0", testCollectionID, "[1,0.5]", "first chunk", `{"page":0}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (id) DO UPDATE")).
		WithArgs("doc-1", testCollectionID, "[0,1]", "second chunk", `{}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.Upsert(context.Background(), []port.VectorItem{
		{ID: "doc-0", Vector: []float32{1, 0.5}, Text: "first chunk", Metadata: map[string]any{"page": 0}},
		{ID: "doc-1", Vector: []float32{0, 1}, Text: "second chunk"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGVectorStore_UpsertRollsBack(t *testing.T) {
	s, mock := newMockPG(t, false)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO langchain_pg_embedding").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.Upsert(context.Background(), []port.VectorItem{{ID: "doc-0", Vector: []float32{1}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "doc-0")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGVectorStore_SearchWithScore(t *testing.T) {
	s, mock := newMockPG(t, false)

	mock.ExpectQuery(regexp.QuoteMeta("embedding <=> $2 AS distance")).
		WithArgs(testCollectionID, "[1,0]", 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "document", "cmetadata", "distance"}).
			AddRow("doc-3", "garantia de doze meses", []byte(`{"page":2,"source":"document.pdf"}`), 0.2).
			AddRow("doc-1", "bateria", nil, 1.0))

	got, err := s.SearchWithScore(context.Background(), []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "doc-3", got[0].ID)
	assert.InDelta(t, 0.9, got[0].Score, 1e-9)
	assert.Equal(t, "document.pdf", got[0].Metadata["source"])
	assert.Equal(t, float64(2), got[0].Metadata["page"])
	assert.InDelta(t, 0.5, got[1].Score, 1e-9)
	assert.Nil(t, got[1].Metadata)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGVectorStore_SearchWithScoreUnsupported(t *testing.T) {
	s, mock := newMockPG(t, false)

	mock.ExpectQuery(regexp.QuoteMeta("<=>")).
		WillReturnError(&pq.Error{Code: "42883", Message: "operator does not exist: vector <=> vector"})

	_, err := s.SearchWithScore(context.Background(), []float32{1, 0}, 4)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnsupported))
}

func TestPGVectorStore_SearchWithScoreOtherError(t *testing.T) {
	s, mock := newMockPG(t, false)

	mock.ExpectQuery(regexp.QuoteMeta("<=>")).
		WillReturnError(&pq.Error{Code: "42P01", Message: "relation does not exist"})

	_, err := s.SearchWithScore(context.Background(), []float32{1, 0}, 4)
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrUnsupported))
}

func TestPGVectorStore_SearchWithScores(t *testing.T) {
	s, mock := newMockPG(t, false)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("<=>")).
		WithArgs(testCollectionID, "[1,0]", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "document", "cmetadata", "distance"}).
			AddRow("doc-0", "a", []byte(`{}`), 0.0))
	mock.ExpectQuery(regexp.QuoteMeta("<=>")).
		WithArgs(testCollectionID, "[0,1]", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "document", "cmetadata", "distance"}).
			AddRow("doc-1", "b", []byte(`{}`), 0.4))
	mock.ExpectCommit()

	got, err := s.SearchWithScores(context.Background(), [][]float32{{1, 0}, {0, 1}}, 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "doc-0", got[0][0].ID)
	assert.InDelta(t, 1.0, got[0][0].Score, 1e-9)
	assert.Equal(t, "doc-1", got[1][0].ID)
	assert.InDelta(t, 0.8, got[1][0].Score, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGVectorStore_Search(t *testing.T) {
	s, mock := newMockPG(t, false)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY embedding <-> $2")).
		WithArgs(testCollectionID, "[1,0]", 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "document", "cmetadata"}).
			AddRow("doc-2", "c", []byte(`{"page":1}`)))

	got, err := s.Search(context.Background(), []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "doc-2", got[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())

	none, err := s.Search(context.Background(), []float32{1, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPGVectorStore_CountAndPrune(t *testing.T) {
	s, mock := newMockPG(t, false)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM langchain_pg_embedding")).
		WithArgs(testCollectionID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectExec(regexp.QuoteMeta("NOT (id = ANY($2))")).
		WithArgs(testCollectionID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	deleted, err := s.DeleteExcept(context.Background(), []string{"doc-0", "doc-1"})
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
