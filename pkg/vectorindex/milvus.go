package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/lifelog-ai/recall/pkg/observability/logging"
	"github.com/lifelog-ai/recall/pkg/retry"
)

// Collection schema field names. date and time_range are dedicated columns
// because they are the only fields the engine filters on; everything else
// rides along in the metadata JSON column.
const (
	fieldID        = "id"
	fieldDate      = "date"
	fieldTimeRange = "time_range"
	fieldContent   = "content"
	fieldMetadata  = "metadata"
	fieldEmbedding = "embedding"
)

// filterableFields are the metadata keys that compile to column predicates.
var filterableFields = map[string]bool{
	fieldDate:      true,
	fieldTimeRange: true,
	fieldContent:   true,
}

// API is the slice of the Milvus client the index needs. The concrete
// client.Client satisfies it; tests inject a small double instead of
// stubbing the full SDK surface.
type API interface {
	HasCollection(ctx context.Context, collName string) (bool, error)
	CreateCollection(ctx context.Context, schema *entity.Schema, shardNum int32, opts ...client.CreateCollectionOption) error
	CreateIndex(ctx context.Context, collName string, fieldName string, idx entity.Index, async bool, opts ...client.IndexOption) error
	LoadCollection(ctx context.Context, collName string, async bool, opts ...client.LoadCollectionOption) error
	Upsert(ctx context.Context, collName string, partitionName string, columns ...entity.Column) (entity.Column, error)
	Search(ctx context.Context, collName string, partitions []string, expr string, outputFields []string, vectors []entity.Vector, vectorField string, metricType entity.MetricType, topK int, sp entity.SearchParam, opts ...client.SearchQueryOptionFunc) ([]client.SearchResult, error)
	Close() error
}

// Dial connects to a Milvus instance and returns the narrow API handle.
func Dial(ctx context.Context, address string) (API, error) {
	c, err := client.NewClient(ctx, client.Config{Address: address})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus at %s: %w", address, err)
	}
	return c, nil
}

// MilvusOptions configures a Milvus-backed index.
type MilvusOptions struct {
	Client     API
	Collection string
	Dimension  int
	Policy     retry.Policy
}

// Milvus implements Index against a Milvus collection using cosine
// similarity over an HNSW index.
type Milvus struct {
	client     API
	collection string
	dimension  int
	policy     retry.Policy
}

// NewMilvus validates options and builds the index client. It does not
// touch the network; call EnsureCollection before first use.
func NewMilvus(opts MilvusOptions) (*Milvus, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("milvus client is required")
	}
	if opts.Collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive")
	}
	policy := opts.Policy
	if policy.MaxAttempts == 0 {
		policy = retry.Default()
	}
	policy.RetryIf = retry.IsTransient

	return &Milvus{
		client:     opts.Client,
		collection: opts.Collection,
		dimension:  opts.Dimension,
		policy:     policy,
	}, nil
}

// EnsureCollection creates the collection and its vector index when they
// do not exist yet, then loads the collection for search.
func (m *Milvus) EnsureCollection(ctx context.Context) error {
	exists, err := m.client.HasCollection(ctx, m.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if !exists {
		schema := entity.NewSchema().WithName(m.collection).
			WithField(entity.NewField().WithName(fieldID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64).WithIsPrimaryKey(true)).
			WithField(entity.NewField().WithName(fieldDate).WithDataType(entity.FieldTypeVarChar).WithMaxLength(16)).
			WithField(entity.NewField().WithName(fieldTimeRange).WithDataType(entity.FieldTypeVarChar).WithMaxLength(32)).
			WithField(entity.NewField().WithName(fieldContent).WithDataType(entity.FieldTypeVarChar).WithMaxLength(4096)).
			WithField(entity.NewField().WithName(fieldMetadata).WithDataType(entity.FieldTypeVarChar).WithMaxLength(8192)).
			WithField(entity.NewField().WithName(fieldEmbedding).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(m.dimension)))

		if err := m.client.CreateCollection(ctx, schema, 1); err != nil {
			return fmt.Errorf("failed to create collection %q: %w", m.collection, err)
		}

		idx, err := entity.NewIndexHNSW(entity.COSINE, 8, 64)
		if err != nil {
			return fmt.Errorf("failed to build index definition: %w", err)
		}
		if err := m.client.CreateIndex(ctx, m.collection, fieldEmbedding, idx, false); err != nil {
			return fmt.Errorf("failed to create vector index: %w", err)
		}
		logging.Infof("vectorindex: created collection %q (dim=%d)", m.collection, m.dimension)
	}

	if err := m.client.LoadCollection(ctx, m.collection, false); err != nil {
		return fmt.Errorf("failed to load collection %q: %w", m.collection, err)
	}
	return nil
}

// Upsert writes one entry. Re-upserting an id replaces the stored entry,
// so replaying ingestion for a record is safe.
func (m *Milvus) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error {
	if len(vector) != m.dimension {
		return fmt.Errorf("%w: vector dimension %d does not match collection dimension %d",
			ErrWrite, len(vector), m.dimension)
	}

	extra, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("%w: failed to encode metadata: %v", ErrWrite, err)
	}

	columns := []entity.Column{
		entity.NewColumnVarChar(fieldID, []string{id}),
		entity.NewColumnVarChar(fieldDate, []string{metadata[fieldDate]}),
		entity.NewColumnVarChar(fieldTimeRange, []string{metadata[fieldTimeRange]}),
		entity.NewColumnVarChar(fieldContent, []string{metadata[fieldContent]}),
		entity.NewColumnVarChar(fieldMetadata, []string{string(extra)}),
		entity.NewColumnFloatVector(fieldEmbedding, m.dimension, [][]float32{vector}),
	}

	err = m.policy.Do(ctx, "milvus upsert", func(ctx context.Context) error {
		_, err := m.client.Upsert(ctx, m.collection, "", columns...)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}

// Query runs a filtered ANN search and returns up to topK matches.
func (m *Milvus) Query(ctx context.Context, vector []float32, filter map[string]string, topK int) ([]Match, error) {
	expr, err := buildFilterExpr(filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}

	sp, err := entity.NewIndexHNSWSearchParam(64)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create search parameters: %v", ErrQuery, err)
	}

	var searchResult []client.SearchResult
	err = m.policy.Do(ctx, "milvus search", func(ctx context.Context) error {
		var retryErr error
		searchResult, retryErr = m.client.Search(
			ctx,
			m.collection,
			[]string{},
			expr,
			[]string{fieldID, fieldDate, fieldTimeRange, fieldContent, fieldMetadata},
			[]entity.Vector{entity.FloatVector(vector)},
			fieldEmbedding,
			entity.COSINE,
			topK,
			sp,
		)
		return retryErr
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}

	if len(searchResult) == 0 || searchResult[0].ResultCount == 0 {
		return []Match{}, nil
	}

	return extractMatches(searchResult[0], topK), nil
}

// buildFilterExpr compiles a metadata filter into a Milvus boolean
// expression of exact-match terms joined by AND. Keys are sorted so the
// expression is deterministic.
func buildFilterExpr(filter map[string]string) (string, error) {
	if len(filter) == 0 {
		return "", nil
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		if !filterableFields[k] {
			return "", fmt.Errorf("field %q is not filterable", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	terms := make([]string, 0, len(keys))
	for _, k := range keys {
		v := strings.ReplaceAll(filter[k], `"`, `\"`)
		terms = append(terms, fmt.Sprintf("%s == \"%s\"", k, v))
	}
	return strings.Join(terms, " && "), nil
}

func extractMatches(res client.SearchResult, topK int) []Match {
	columns := make(map[string]*entity.ColumnVarChar, len(res.Fields))
	for _, field := range res.Fields {
		if col, ok := field.(*entity.ColumnVarChar); ok {
			columns[field.Name()] = col
		}
	}

	varcharAt := func(name string, i int) string {
		col, ok := columns[name]
		if !ok || col.Len() <= i {
			return ""
		}
		val, err := col.ValueByIdx(i)
		if err != nil {
			return ""
		}
		return val
	}

	matches := make([]Match, 0, res.ResultCount)
	for i := 0; i < len(res.Scores) && len(matches) < topK; i++ {
		match := Match{
			Score:    res.Scores[i],
			Metadata: make(map[string]string),
		}
		match.ID = varcharAt(fieldID, i)
		if match.ID == "" {
			continue
		}

		// Inflate the metadata JSON first, then let the dedicated
		// columns win on conflict; they are authoritative.
		if raw := varcharAt(fieldMetadata, i); raw != "" {
			var extra map[string]string
			if err := json.Unmarshal([]byte(raw), &extra); err != nil {
				logging.Debugf("vectorindex: malformed metadata for %s: %v", match.ID, err)
			} else {
				for k, v := range extra {
					match.Metadata[k] = v
				}
			}
		}
		for _, name := range []string{fieldDate, fieldTimeRange, fieldContent} {
			if v := varcharAt(name, i); v != "" {
				match.Metadata[name] = v
			}
		}

		matches = append(matches, match)
	}
	return matches
}

// Close closes the underlying client connection.
func (m *Milvus) Close() error {
	return m.client.Close()
}
