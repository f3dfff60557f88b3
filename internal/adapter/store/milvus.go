package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"ragchat/internal/adapter/similarity"
	"ragchat/internal/logger"
	"ragchat/internal/port"
)

var (
	_ port.VectorStore         = (*MilvusStore)(nil)
	_ port.ScoredSearcher      = (*MilvusStore)(nil)
	_ port.BatchScoredSearcher = (*MilvusStore)(nil)
	_ port.Pruner              = (*MilvusStore)(nil)
)

const (
	milvusFieldID       = "id"
	milvusFieldText     = "text"
	milvusFieldMetadata = "metadata"
	milvusFieldVector   = "embedding"

	milvusShards        = 1
	milvusMaxIDLength   = 64
	milvusMaxTextLength = 65535
	milvusHNSWM         = 8
	milvusHNSWEf        = 64
)

// milvusAPI is the subset of client.Client the store uses.
type milvusAPI interface {
	HasCollection(ctx context.Context, collName string) (bool, error)
	CreateCollection(ctx context.Context, schema *entity.Schema, shardsNum int32, opts ...client.CreateCollectionOption) error
	CreateIndex(ctx context.Context, collName string, fieldName string, idx entity.Index, async bool, opts ...client.IndexOption) error
	LoadCollection(ctx context.Context, collName string, async bool, opts ...client.LoadCollectionOption) error
	Upsert(ctx context.Context, collName string, partitionName string, columns ...entity.Column) (entity.Column, error)
	Flush(ctx context.Context, collName string, async bool, opts ...client.FlushOption) error
	Delete(ctx context.Context, collName string, partitionName string, expr string) error
	Query(ctx context.Context, collectionName string, partitionNames []string, expr string, outputFields []string, opts ...client.SearchQueryOptionFunc) (client.ResultSet, error)
	Search(ctx context.Context, collName string, partitions []string, expr string, outputFields []string, vectors []entity.Vector, vectorField string, metricType entity.MetricType, topK int, sp entity.SearchParam, opts ...client.SearchQueryOptionFunc) ([]client.SearchResult, error)
	Close() error
}

// MilvusStore keeps one Milvus collection with a VarChar primary key, the
// chunk text, JSON metadata and an HNSW-indexed float vector. The collection
// is created on the first upsert, once the vector dimension is known.
type MilvusStore struct {
	api        milvusAPI
	collection string
	metric     entity.MetricType
	log        *zap.Logger

	mu    sync.Mutex
	ready bool
}

// MilvusOptions configures the connection and collection.
type MilvusOptions struct {
	Address    string
	Username   string
	Password   string
	Collection string
	Metric     string // COSINE, IP or L2
}

// OpenMilvusStore connects to the Milvus server at opts.Address.
func OpenMilvusStore(ctx context.Context, opts MilvusOptions, log *zap.Logger) (*MilvusStore, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address:  opts.Address,
		Username: opts.Username,
		Password: opts.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("milvus: connect %s: %w", opts.Address, err)
	}

	s, err := newMilvusStore(ctx, c, opts, log)
	if err != nil {
		c.Close()
		return nil, err
	}
	return s, nil
}

func newMilvusStore(ctx context.Context, api milvusAPI, opts MilvusOptions, log *zap.Logger) (*MilvusStore, error) {
	if opts.Collection == "" {
		return nil, fmt.Errorf("milvus: collection name is empty")
	}
	metric, err := parseMetric(opts.Metric)
	if err != nil {
		return nil, err
	}

	s := &MilvusStore{
		api:        api,
		collection: opts.Collection,
		metric:     metric,
		log:        logger.OrNop(log),
	}

	exists, err := api.HasCollection(ctx, s.collection)
	if err != nil {
		return nil, fmt.Errorf("milvus: has collection: %w", err)
	}
	if exists {
		if err := api.LoadCollection(ctx, s.collection, false); err != nil {
			return nil, fmt.Errorf("milvus: load collection: %w", err)
		}
		s.ready = true
	}
	return s, nil
}

func parseMetric(name string) (entity.MetricType, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "COSINE":
		return entity.COSINE, nil
	case "IP":
		return entity.IP, nil
	case "L2":
		return entity.L2, nil
	default:
		return "", fmt.Errorf("milvus: unsupported metric %q", name)
	}
}

func (s *MilvusStore) ensureCollection(ctx context.Context, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	schema := entity.NewSchema().
		WithName(s.collection).
		WithDescription("ragchat document chunks").
		WithField(entity.NewField().WithName(milvusFieldID).WithDataType(entity.FieldTypeVarChar).
			WithIsPrimaryKey(true).WithMaxLength(milvusMaxIDLength)).
		WithField(entity.NewField().WithName(milvusFieldText).WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(milvusMaxTextLength)).
		WithField(entity.NewField().WithName(milvusFieldMetadata).WithDataType(entity.FieldTypeJSON)).
		WithField(entity.NewField().WithName(milvusFieldVector).WithDataType(entity.FieldTypeFloatVector).
			WithDim(int64(dim)))

	if err := s.api.CreateCollection(ctx, schema, milvusShards); err != nil {
		return fmt.Errorf("milvus: create collection: %w", err)
	}

	idx, err := entity.NewIndexHNSW(s.metric, milvusHNSWM, milvusHNSWEf)
	if err != nil {
		return fmt.Errorf("milvus: index: %w", err)
	}
	if err := s.api.CreateIndex(ctx, s.collection, milvusFieldVector, idx, false); err != nil {
		return fmt.Errorf("milvus: create index: %w", err)
	}
	if err := s.api.LoadCollection(ctx, s.collection, false); err != nil {
		return fmt.Errorf("milvus: load collection: %w", err)
	}

	s.log.Info("created milvus collection",
		zap.String("collection", s.collection),
		zap.Int("dimension", dim),
		zap.String("metric", string(s.metric)))
	s.ready = true
	return nil
}

func (s *MilvusStore) isReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *MilvusStore) Upsert(ctx context.Context, items []port.VectorItem) error {
	if len(items) == 0 {
		return nil
	}
	dim := len(items[0].Vector)
	if err := s.ensureCollection(ctx, dim); err != nil {
		return err
	}

	ids := make([]string, len(items))
	texts := make([]string, len(items))
	metas := make([][]byte, len(items))
	vectors := make([][]float32, len(items))
	for i, item := range items {
		if len(item.Vector) != dim {
			return fmt.Errorf("milvus: vector dimension mismatch: expected %d, got %d", dim, len(item.Vector))
		}
		md, err := json.Marshal(metadataOrEmpty(item.Metadata))
		if err != nil {
			return fmt.Errorf("milvus: encode metadata of %s: %w", item.ID, err)
		}
		ids[i], texts[i], metas[i], vectors[i] = item.ID, item.Text, md, item.Vector
	}

	_, err := s.api.Upsert(ctx, s.collection, "",
		entity.NewColumnVarChar(milvusFieldID, ids),
		entity.NewColumnVarChar(milvusFieldText, texts),
		entity.NewColumnJSONBytes(milvusFieldMetadata, metas),
		entity.NewColumnFloatVector(milvusFieldVector, dim, vectors),
	)
	if err != nil {
		return fmt.Errorf("milvus: upsert: %w", err)
	}
	if err := s.api.Flush(ctx, s.collection, false); err != nil {
		return fmt.Errorf("milvus: flush: %w", err)
	}
	return nil
}

func (s *MilvusStore) Search(ctx context.Context, query []float32, k int) ([]port.VectorRecord, error) {
	scored, err := s.SearchWithScore(ctx, query, k)
	if err != nil {
		return nil, err
	}
	out := make([]port.VectorRecord, len(scored))
	for i, r := range scored {
		out[i] = r.VectorRecord
	}
	return out, nil
}

func (s *MilvusStore) SearchWithScore(ctx context.Context, query []float32, k int) ([]port.ScoredRecord, error) {
	res, err := s.SearchWithScores(ctx, [][]float32{query}, k)
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

// SearchWithScores sends all queries in one search request.
func (s *MilvusStore) SearchWithScores(ctx context.Context, queries [][]float32, k int) ([][]port.ScoredRecord, error) {
	out := make([][]port.ScoredRecord, len(queries))
	if k <= 0 || len(queries) == 0 || !s.isReady() {
		return out, nil
	}

	vectors := make([]entity.Vector, len(queries))
	for i, q := range queries {
		vectors[i] = entity.FloatVector(q)
	}

	sp, err := entity.NewIndexHNSWSearchParam(max(milvusHNSWEf, k))
	if err != nil {
		return nil, fmt.Errorf("milvus: search param: %w", err)
	}

	results, err := s.api.Search(ctx, s.collection, nil, "",
		[]string{milvusFieldText, milvusFieldMetadata},
		vectors, milvusFieldVector, s.metric, k, sp)
	if err != nil {
		return nil, fmt.Errorf("milvus: search: %w", err)
	}
	if len(results) != len(queries) {
		return nil, fmt.Errorf("milvus: got %d result sets for %d queries", len(results), len(queries))
	}

	for i, r := range results {
		if out[i], err = s.decodeResult(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *MilvusStore) decodeResult(r client.SearchResult) ([]port.ScoredRecord, error) {
	if r.Err != nil {
		return nil, fmt.Errorf("milvus: search: %w", r.Err)
	}

	ids, ok := r.IDs.(*entity.ColumnVarChar)
	if !ok && r.ResultCount > 0 {
		return nil, fmt.Errorf("milvus: unexpected id column %T", r.IDs)
	}
	texts, _ := r.Fields.GetColumn(milvusFieldText).(*entity.ColumnVarChar)
	metas, _ := r.Fields.GetColumn(milvusFieldMetadata).(*entity.ColumnJSONBytes)

	out := make([]port.ScoredRecord, 0, r.ResultCount)
	for i := 0; i < r.ResultCount; i++ {
		id, err := ids.ValueByIdx(i)
		if err != nil {
			return nil, fmt.Errorf("milvus: read id: %w", err)
		}
		rec := port.ScoredRecord{
			VectorRecord: port.VectorRecord{ID: id},
			Score:        s.normalize(float64(r.Scores[i])),
		}
		if texts != nil {
			if rec.Text, err = texts.ValueByIdx(i); err != nil {
				return nil, fmt.Errorf("milvus: read text: %w", err)
			}
		}
		if metas != nil {
			raw, err := metas.ValueByIdx(i)
			if err != nil {
				return nil, fmt.Errorf("milvus: read metadata: %w", err)
			}
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &rec.Metadata); err != nil {
					return nil, fmt.Errorf("milvus: decode metadata: %w", err)
				}
			}
		}
		out = append(out, rec)
	}

	similarity.SortScored(out)
	return out, nil
}

// normalize maps the raw Milvus score for the collection's metric. L2
// reports a distance, so it is inverted.
func (s *MilvusStore) normalize(raw float64) float64 {
	switch s.metric {
	case entity.L2:
		return similarity.FromL2Distance(raw)
	case entity.IP:
		return similarity.FromInnerProduct(raw)
	default:
		return similarity.FromCosineSimilarity(raw)
	}
}

func (s *MilvusStore) Count(ctx context.Context) (int, error) {
	if !s.isReady() {
		return 0, nil
	}

	rs, err := s.api.Query(ctx, s.collection, nil, "", []string{"count(*)"})
	if err != nil {
		return 0, fmt.Errorf("milvus: count: %w", err)
	}
	col, ok := rs.GetColumn("count(*)").(*entity.ColumnInt64)
	if !ok || col.Len() == 0 {
		return 0, fmt.Errorf("milvus: count: missing count(*) column")
	}
	n, err := col.ValueByIdx(0)
	if err != nil {
		return 0, fmt.Errorf("milvus: count: %w", err)
	}
	return int(n), nil
}

// DeleteExcept queries the ids outside keep and deletes them by primary key.
func (s *MilvusStore) DeleteExcept(ctx context.Context, keep []string) (int, error) {
	if !s.isReady() {
		return 0, nil
	}

	expr := milvusFieldID + ` != ""`
	if len(keep) > 0 {
		expr = milvusFieldID + " not in " + stringList(keep)
	}
	rs, err := s.api.Query(ctx, s.collection, nil, expr, []string{milvusFieldID})
	if err != nil {
		return 0, fmt.Errorf("milvus: query stale ids: %w", err)
	}

	col, ok := rs.GetColumn(milvusFieldID).(*entity.ColumnVarChar)
	if !ok || col.Len() == 0 {
		return 0, nil
	}
	stale := col.Data()

	if err := s.api.Delete(ctx, s.collection, "", milvusFieldID+" in "+stringList(stale)); err != nil {
		return 0, fmt.Errorf("milvus: delete: %w", err)
	}
	if err := s.api.Flush(ctx, s.collection, false); err != nil {
		return 0, fmt.Errorf("milvus: flush: %w", err)
	}
	return len(stale), nil
}

func (s *MilvusStore) Close() error {
	return s.api.Close()
}

// stringList renders ids as a Milvus boolean expression list.
func stringList(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = strconv.Quote(id)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}
