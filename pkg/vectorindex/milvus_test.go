package vectorindex

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifelog-ai/recall/pkg/retry"
)

// mockMilvus implements the narrow API interface without a running Milvus.
type mockMilvus struct {
	hasCollection   bool
	createdSchema   *entity.Schema
	indexedField    string
	loaded          bool
	upsertedColumns []entity.Column
	upsertErr       error

	searchFunc      func(expr string, topK int) ([]client.SearchResult, error)
	searchCallCount int
	lastExpr        string
}

func (m *mockMilvus) HasCollection(ctx context.Context, coll string) (bool, error) {
	return m.hasCollection, nil
}

func (m *mockMilvus) CreateCollection(ctx context.Context, schema *entity.Schema, shardNum int32, opts ...client.CreateCollectionOption) error {
	m.createdSchema = schema
	return nil
}

func (m *mockMilvus) CreateIndex(ctx context.Context, coll, field string, idx entity.Index, async bool, opts ...client.IndexOption) error {
	m.indexedField = field
	return nil
}

func (m *mockMilvus) LoadCollection(ctx context.Context, coll string, async bool, opts ...client.LoadCollectionOption) error {
	m.loaded = true
	return nil
}

func (m *mockMilvus) Upsert(ctx context.Context, coll, partition string, columns ...entity.Column) (entity.Column, error) {
	if m.upsertErr != nil {
		return nil, m.upsertErr
	}
	m.upsertedColumns = columns
	return nil, nil
}

func (m *mockMilvus) Search(ctx context.Context, coll string, parts []string, expr string, out []string, vectors []entity.Vector, vField string, mType entity.MetricType, topK int, sp entity.SearchParam, opts ...client.SearchQueryOptionFunc) ([]client.SearchResult, error) {
	m.searchCallCount++
	m.lastExpr = expr
	if m.searchFunc != nil {
		return m.searchFunc(expr, topK)
	}
	return []client.SearchResult{{ResultCount: 0}}, nil
}

func (m *mockMilvus) Close() error { return nil }

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, RetryIf: retry.IsTransient}
}

func newTestMilvus(t *testing.T, mock *mockMilvus) *Milvus {
	t.Helper()
	idx, err := NewMilvus(MilvusOptions{
		Client:     mock,
		Collection: "observations",
		Dimension:  3,
		Policy:     testPolicy(),
	})
	require.NoError(t, err)
	return idx
}

func TestNewMilvus_ValidatesOptions(t *testing.T) {
	_, err := NewMilvus(MilvusOptions{Collection: "c", Dimension: 3})
	assert.Error(t, err, "missing client")

	_, err = NewMilvus(MilvusOptions{Client: &mockMilvus{}, Dimension: 3})
	assert.Error(t, err, "missing collection")

	_, err = NewMilvus(MilvusOptions{Client: &mockMilvus{}, Collection: "c"})
	assert.Error(t, err, "missing dimension")
}

func TestEnsureCollection_CreatesWhenMissing(t *testing.T) {
	mock := &mockMilvus{hasCollection: false}
	idx := newTestMilvus(t, mock)

	require.NoError(t, idx.EnsureCollection(context.Background()))
	require.NotNil(t, mock.createdSchema)
	assert.Equal(t, "observations", mock.createdSchema.CollectionName)
	assert.Equal(t, fieldEmbedding, mock.indexedField)
	assert.True(t, mock.loaded)
}

func TestEnsureCollection_SkipsCreateWhenPresent(t *testing.T) {
	mock := &mockMilvus{hasCollection: true}
	idx := newTestMilvus(t, mock)

	require.NoError(t, idx.EnsureCollection(context.Background()))
	assert.Nil(t, mock.createdSchema)
	assert.True(t, mock.loaded)
}

func TestMilvusUpsert_RejectsWrongDimension(t *testing.T) {
	idx := newTestMilvus(t, &mockMilvus{})
	err := idx.Upsert(context.Background(), "obs_1", []float32{1, 2}, nil)
	assert.ErrorIs(t, err, ErrWrite)
}

func TestMilvusUpsert_WritesAllColumns(t *testing.T) {
	mock := &mockMilvus{}
	idx := newTestMilvus(t, mock)

	err := idx.Upsert(context.Background(), "obs_1", []float32{1, 2, 3}, map[string]string{
		"date":       "01/06/2024",
		"time_range": "15:30:00-15:45:00",
		"content":    "had lunch at the harbor",
		"location":   "harbor district",
	})
	require.NoError(t, err)
	require.Len(t, mock.upsertedColumns, 6)

	names := make([]string, 0, len(mock.upsertedColumns))
	for _, col := range mock.upsertedColumns {
		names = append(names, col.Name())
	}
	assert.ElementsMatch(t, []string{fieldID, fieldDate, fieldTimeRange, fieldContent, fieldMetadata, fieldEmbedding}, names)
}

func TestMilvusUpsert_WrapsProviderFailure(t *testing.T) {
	mock := &mockMilvus{upsertErr: errors.New("schema mismatch")}
	idx := newTestMilvus(t, mock)

	err := idx.Upsert(context.Background(), "obs_1", []float32{1, 2, 3}, nil)
	assert.ErrorIs(t, err, ErrWrite)
}

func TestMilvusQuery_BuildsDeterministicFilterExpr(t *testing.T) {
	mock := &mockMilvus{}
	idx := newTestMilvus(t, mock)

	_, err := idx.Query(context.Background(), []float32{1, 2, 3}, map[string]string{
		"time_range": "15:30:00-15:45:00",
		"date":       "01/06/2024",
	}, 1)
	require.NoError(t, err)
	assert.Equal(t, `date == "01/06/2024" && time_range == "15:30:00-15:45:00"`, mock.lastExpr)
}

func TestMilvusQuery_RejectsUnknownFilterField(t *testing.T) {
	idx := newTestMilvus(t, &mockMilvus{})
	_, err := idx.Query(context.Background(), []float32{1, 2, 3}, map[string]string{"importance": "high"}, 1)
	assert.ErrorIs(t, err, ErrQuery)
}

func TestMilvusQuery_ExtractsMatches(t *testing.T) {
	mock := &mockMilvus{
		searchFunc: func(expr string, topK int) ([]client.SearchResult, error) {
			return []client.SearchResult{{
				ResultCount: 1,
				Scores:      []float32{0.81},
				Fields: []entity.Column{
					entity.NewColumnVarChar(fieldID, []string{"obs_7"}),
					entity.NewColumnVarChar(fieldDate, []string{"01/06/2024"}),
					entity.NewColumnVarChar(fieldTimeRange, []string{"15:30:00-15:45:00"}),
					entity.NewColumnVarChar(fieldContent, []string{"reading by the window"}),
					entity.NewColumnVarChar(fieldMetadata, []string{`{"time":"15:32:00","location":"home office"}`}),
				},
			}}, nil
		},
	}
	idx := newTestMilvus(t, mock)

	matches, err := idx.Query(context.Background(), []float32{1, 2, 3}, nil, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)

	m := matches[0]
	assert.Equal(t, "obs_7", m.ID)
	assert.Equal(t, float32(0.81), m.Score)
	assert.Equal(t, "01/06/2024", m.Metadata["date"])
	assert.Equal(t, "15:30:00-15:45:00", m.Metadata["time_range"])
	assert.Equal(t, "reading by the window", m.Metadata["content"])
	assert.Equal(t, "15:32:00", m.Metadata["time"])
	assert.Equal(t, "home office", m.Metadata["location"])
}

func TestMilvusQuery_EmptyResultIsNotError(t *testing.T) {
	idx := newTestMilvus(t, &mockMilvus{})
	matches, err := idx.Query(context.Background(), []float32{1, 2, 3}, nil, 1)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMilvusQuery_RetriesTransientErrors(t *testing.T) {
	mock := &mockMilvus{
		searchFunc: func(expr string, topK int) ([]client.SearchResult, error) {
			return nil, errors.New("connection timeout")
		},
	}
	idx := newTestMilvus(t, mock)

	_, err := idx.Query(context.Background(), []float32{1, 2, 3}, nil, 1)
	assert.ErrorIs(t, err, ErrQuery)
	assert.Equal(t, 3, mock.searchCallCount)
}

func TestMilvusQuery_DoesNotRetryNonTransient(t *testing.T) {
	mock := &mockMilvus{
		searchFunc: func(expr string, topK int) ([]client.SearchResult, error) {
			return nil, errors.New("invalid expression")
		},
	}
	idx := newTestMilvus(t, mock)

	_, err := idx.Query(context.Background(), []float32{1, 2, 3}, nil, 1)
	assert.ErrorIs(t, err, ErrQuery)
	assert.Equal(t, 1, mock.searchCallCount)
}
