// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package internal

import (
	"context"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"

	"github.com/universalmind303/lancedb/internal/arrowutil"
	"github.com/universalmind303/lancedb/pkg/contracts"
)

// QueryKind selects how a QueryRequest is served.
type QueryKind int

const (
	QueryKindScan QueryKind = iota
	QueryKindVector
	QueryKindFullText
)

func (k QueryKind) String() string {
	switch k {
	case QueryKindVector:
		return "vector"
	case QueryKindFullText:
		return "fts"
	default:
		return "scan"
	}
}

// QueryRequest is the inert description accumulated by the builders.
type QueryRequest struct {
	Kind      QueryKind
	Columns   []string
	Filter    string
	Limit     int
	Offset    int
	WithRowID bool

	// Vector is set for vector queries. Text is set instead when the vector
	// still has to be computed by the table's embedding function.
	Vector       []float32
	Text         string
	VectorColumn string
	DistanceType *contracts.DistanceType
	Nprobes      int
	RefineFactor int
	Postfilter   bool
	BypassIndex  bool

	FullText   string
	TextColumn string
}

// QueryExecutor runs a QueryRequest. Tables of every backend implement it.
type QueryExecutor interface {
	ExecuteQuery(ctx context.Context, req QueryRequest) ([]arrow.Record, error)
}

// QueryBuilder builds plain scans. Every method returns a new builder.
type QueryBuilder struct {
	exec QueryExecutor
	req  QueryRequest
}

var _ contracts.IQueryBuilder = QueryBuilder{}
var _ contracts.IVectorQueryBuilder = VectorQueryBuilder{}
var _ contracts.IFullTextQueryBuilder = FullTextQueryBuilder{}

// NewQueryBuilder starts a scan against exec.
func NewQueryBuilder(exec QueryExecutor) QueryBuilder {
	return QueryBuilder{exec: exec, req: QueryRequest{Kind: QueryKindScan}}
}

// Select restricts the returned columns.
func (q QueryBuilder) Select(columns ...string) contracts.IQueryBuilder {
	q.req.Columns = append([]string(nil), columns...)
	return q
}

// Filter sets the SQL predicate rows must satisfy.
func (q QueryBuilder) Filter(condition string) contracts.IQueryBuilder {
	q.req.Filter = condition
	return q
}

// Limit sets the maximum number of results to return
func (q QueryBuilder) Limit(limit int) contracts.IQueryBuilder {
	q.req.Limit = limit
	return q
}

func (q QueryBuilder) Offset(offset int) contracts.IQueryBuilder {
	q.req.Offset = offset
	return q
}

// WithRowID adds the _rowid column to the results.
func (q QueryBuilder) WithRowID() contracts.IQueryBuilder {
	q.req.WithRowID = true
	return q
}

// ApplyOptions applies query options to the builder
func (q QueryBuilder) ApplyOptions(options *contracts.QueryOptions) contracts.IQueryBuilder {
	if options != nil && options.MaxResults > 0 {
		q.req.Limit = options.MaxResults
	}
	return q
}

// Request returns the accumulated description.
func (q QueryBuilder) Request() QueryRequest { return q.req }

func (q QueryBuilder) Execute(ctx context.Context) ([]arrow.Record, error) {
	return q.exec.ExecuteQuery(ctx, q.req)
}

// ExecuteAsync executes the query asynchronously
func (q QueryBuilder) ExecuteAsync(ctx context.Context) (<-chan []arrow.Record, <-chan error) {
	return executeAsync(ctx, q.exec, q.req)
}

// Iterate returns the results as a record reader.
func (q QueryBuilder) Iterate(ctx context.Context) (array.RecordReader, error) {
	return iterate(ctx, q.exec, q.req)
}

// ToRows collects the results as one map per row.
func (q QueryBuilder) ToRows(ctx context.Context) ([]map[string]interface{}, error) {
	return toRows(ctx, q.exec, q.req)
}

// VectorQueryBuilder builds vector similarity searches.
type VectorQueryBuilder struct {
	exec QueryExecutor
	req  QueryRequest
}

// NewVectorQueryBuilder starts a search for the rows nearest to vector.
func NewVectorQueryBuilder(exec QueryExecutor, vector []float32) VectorQueryBuilder {
	return VectorQueryBuilder{exec: exec, req: QueryRequest{
		Kind:   QueryKindVector,
		Vector: append([]float32(nil), vector...),
	}}
}

// NewTextVectorQueryBuilder starts a search whose vector is computed from
// text by the table's embedding function at execution time.
func NewTextVectorQueryBuilder(exec QueryExecutor, text string) VectorQueryBuilder {
	return VectorQueryBuilder{exec: exec, req: QueryRequest{Kind: QueryKindVector, Text: text}}
}

func (vq VectorQueryBuilder) Select(columns ...string) contracts.IVectorQueryBuilder {
	vq.req.Columns = append([]string(nil), columns...)
	return vq
}

// Filter adds a filter condition to the vector query
func (vq VectorQueryBuilder) Filter(condition string) contracts.IVectorQueryBuilder {
	vq.req.Filter = condition
	return vq
}

// Limit sets the number of nearest neighbours returned. Defaults to 10.
func (vq VectorQueryBuilder) Limit(limit int) contracts.IVectorQueryBuilder {
	vq.req.Limit = limit
	return vq
}

func (vq VectorQueryBuilder) Offset(offset int) contracts.IVectorQueryBuilder {
	vq.req.Offset = offset
	return vq
}

func (vq VectorQueryBuilder) WithRowID() contracts.IVectorQueryBuilder {
	vq.req.WithRowID = true
	return vq
}

// Column names the vector column to search. It may be omitted when the
// table has exactly one.
func (vq VectorQueryBuilder) Column(name string) contracts.IVectorQueryBuilder {
	vq.req.VectorColumn = name
	return vq
}

// DistanceType sets the distance metric for vector search
func (vq VectorQueryBuilder) DistanceType(distance contracts.DistanceType) contracts.IVectorQueryBuilder {
	vq.req.DistanceType = &distance
	return vq
}

// Nprobes sets how many IVF partitions are searched.
func (vq VectorQueryBuilder) Nprobes(n int) contracts.IVectorQueryBuilder {
	vq.req.Nprobes = n
	return vq
}

func (vq VectorQueryBuilder) RefineFactor(factor int) contracts.IVectorQueryBuilder {
	vq.req.RefineFactor = factor
	return vq
}

// Postfilter applies the filter after the nearest neighbours are chosen,
// which may return fewer rows than the limit.
func (vq VectorQueryBuilder) Postfilter() contracts.IVectorQueryBuilder {
	vq.req.Postfilter = true
	return vq
}

// BypassVectorIndex forces an exact flat search.
func (vq VectorQueryBuilder) BypassVectorIndex() contracts.IVectorQueryBuilder {
	vq.req.BypassIndex = true
	return vq
}

// ApplyOptions applies query options to the vector query builder
func (vq VectorQueryBuilder) ApplyOptions(options *contracts.QueryOptions) contracts.IVectorQueryBuilder {
	if options == nil {
		return vq
	}
	if options.MaxResults > 0 {
		vq.req.Limit = options.MaxResults
	}
	if options.BypassVectorIndex || options.UseFullPrecision {
		vq.req.BypassIndex = true
	}
	return vq
}

func (vq VectorQueryBuilder) Request() QueryRequest { return vq.req }

func (vq VectorQueryBuilder) Execute(ctx context.Context) ([]arrow.Record, error) {
	return vq.exec.ExecuteQuery(ctx, vq.req)
}

// ExecuteAsync executes the vector query asynchronously
func (vq VectorQueryBuilder) ExecuteAsync(ctx context.Context) (<-chan []arrow.Record, <-chan error) {
	return executeAsync(ctx, vq.exec, vq.req)
}

func (vq VectorQueryBuilder) Iterate(ctx context.Context) (array.RecordReader, error) {
	return iterate(ctx, vq.exec, vq.req)
}

func (vq VectorQueryBuilder) ToRows(ctx context.Context) ([]map[string]interface{}, error) {
	return toRows(ctx, vq.exec, vq.req)
}

// FullTextQueryBuilder builds full-text searches over an FTS-indexed column.
type FullTextQueryBuilder struct {
	exec QueryExecutor
	req  QueryRequest
}

func NewFullTextQueryBuilder(exec QueryExecutor, text string) FullTextQueryBuilder {
	return FullTextQueryBuilder{exec: exec, req: QueryRequest{Kind: QueryKindFullText, FullText: text}}
}

func (fq FullTextQueryBuilder) Select(columns ...string) contracts.IFullTextQueryBuilder {
	fq.req.Columns = append([]string(nil), columns...)
	return fq
}

func (fq FullTextQueryBuilder) Filter(condition string) contracts.IFullTextQueryBuilder {
	fq.req.Filter = condition
	return fq
}

func (fq FullTextQueryBuilder) Limit(limit int) contracts.IFullTextQueryBuilder {
	fq.req.Limit = limit
	return fq
}

func (fq FullTextQueryBuilder) WithRowID() contracts.IFullTextQueryBuilder {
	fq.req.WithRowID = true
	return fq
}

func (fq FullTextQueryBuilder) Column(name string) contracts.IFullTextQueryBuilder {
	fq.req.TextColumn = name
	return fq
}

func (fq FullTextQueryBuilder) Request() QueryRequest { return fq.req }

func (fq FullTextQueryBuilder) Execute(ctx context.Context) ([]arrow.Record, error) {
	return fq.exec.ExecuteQuery(ctx, fq.req)
}

func (fq FullTextQueryBuilder) Iterate(ctx context.Context) (array.RecordReader, error) {
	return iterate(ctx, fq.exec, fq.req)
}

func (fq FullTextQueryBuilder) ToRows(ctx context.Context) ([]map[string]interface{}, error) {
	return toRows(ctx, fq.exec, fq.req)
}

func executeAsync(ctx context.Context, exec QueryExecutor, req QueryRequest) (<-chan []arrow.Record, <-chan error) {
	resultChan := make(chan []arrow.Record, 1)
	errorChan := make(chan error, 1)

	go func() {
		defer close(resultChan)
		defer close(errorChan)

		results, err := exec.ExecuteQuery(ctx, req)
		if err != nil {
			errorChan <- err
			return
		}
		resultChan <- results
	}()

	return resultChan, errorChan
}

func iterate(ctx context.Context, exec QueryExecutor, req QueryRequest) (array.RecordReader, error) {
	recs, err := exec.ExecuteQuery(ctx, req)
	if err != nil {
		return nil, err
	}
	defer ReleaseRecords(recs)
	schema := arrow.NewSchema(nil, nil)
	if len(recs) > 0 {
		schema = recs[0].Schema()
	}
	return array.NewRecordReader(schema, recs)
}

func toRows(ctx context.Context, exec QueryExecutor, req QueryRequest) ([]map[string]interface{}, error) {
	recs, err := exec.ExecuteQuery(ctx, req)
	if err != nil {
		return nil, err
	}
	defer ReleaseRecords(recs)
	return RecordsToRows(recs)
}

// RecordsToRows converts records into one map per row keyed by column name.
func RecordsToRows(recs []arrow.Record) ([]map[string]interface{}, error) {
	rows := make([]map[string]interface{}, 0)
	for _, rec := range recs {
		part, err := arrowutil.RecordToRows(rec)
		if err != nil {
			return nil, err
		}
		rows = append(rows, part...)
	}
	return rows, nil
}

// ReleaseRecords releases every record in recs.
func ReleaseRecords(recs []arrow.Record) {
	for _, r := range recs {
		r.Release()
	}
}

// SelectRows serves the QueryConfig-based convenience methods of ITable on
// top of the table's query builders.
func SelectRows(ctx context.Context, t contracts.ITable, config contracts.QueryConfig) ([]map[string]interface{}, error) {
	limit, offset := 0, 0
	if config.Limit != nil {
		limit = *config.Limit
	}
	if config.Offset != nil {
		offset = *config.Offset
	}

	switch {
	case config.VectorSearch != nil:
		vs := config.VectorSearch
		q := t.Search(vs.Vector).Column(vs.Column)
		// The tighter of K and Limit wins.
		k := vs.K
		if limit > 0 && (k <= 0 || limit < k) {
			k = limit
		}
		if k > 0 {
			q = q.Limit(k)
		}
		if offset > 0 {
			q = q.Offset(offset)
		}
		if config.Where != "" {
			q = q.Filter(config.Where)
		}
		if len(config.Columns) > 0 {
			q = q.Select(config.Columns...)
		}
		return q.ToRows(ctx)
	case config.FTSSearch != nil:
		q := t.FullTextQuery(config.FTSSearch.Query).Column(config.FTSSearch.Column)
		if limit > 0 {
			q = q.Limit(limit)
		}
		if config.Where != "" {
			q = q.Filter(config.Where)
		}
		if len(config.Columns) > 0 {
			q = q.Select(config.Columns...)
		}
		return q.ToRows(ctx)
	default:
		q := t.Query().Limit(limit).Offset(offset)
		if config.Where != "" {
			q = q.Filter(config.Where)
		}
		if len(config.Columns) > 0 {
			q = q.Select(config.Columns...)
		}
		return q.ToRows(ctx)
	}
}
