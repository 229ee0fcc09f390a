// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/apache/arrow/go/v17/arrow"

	"github.com/universalmind303/lancedb/internal/codec"
	"github.com/universalmind303/lancedb/internal/logging"
	"github.com/universalmind303/lancedb/pkg/contracts"
	"github.com/universalmind303/lancedb/pkg/internal"
)

const defaultQueryLimit = 10

// Table is a handle to a table served over HTTP. It holds no snapshot:
// every read observes the server's latest version.
type Table struct {
	name string
	conn *Connection
	log  *logging.Logger

	mu     sync.RWMutex
	closed bool
}

var _ contracts.ITable = (*Table)(nil)
var _ internal.QueryExecutor = (*Table)(nil)
var _ internal.MergeExecutor = (*Table)(nil)

func newTable(c *Connection, name string) *Table {
	return &Table{name: name, conn: c, log: c.log.WithTable(name)}
}

func (t *Table) Name() string { return t.name }

func (t *Table) IsOpen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return !t.closed && !t.conn.IsClosed()
}

func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *Table) usable(op string) error {
	if !t.IsOpen() {
		return contracts.NewTableError(op, t.name, contracts.ErrUseAfterClose)
	}
	return nil
}

func (t *Table) unsupported(op string) error {
	if err := t.usable(op); err != nil {
		return err
	}
	return contracts.NewTableError(op, t.name, fmt.Errorf("%s: %w", op, contracts.ErrUnsupported))
}

func (t *Table) post(ctx context.Context, op, path string, in, out interface{}) error {
	if err := t.usable(op); err != nil {
		return err
	}
	if err := t.conn.client.doJSON(ctx, path, in, out); err != nil {
		return contracts.NewTableError(op, t.name, err)
	}
	return nil
}

func (t *Table) describe(ctx context.Context, op string) (*describeResponse, error) {
	var resp describeResponse
	if err := t.post(ctx, op, tablePath(t.name, "describe"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *Table) Schema(ctx context.Context) (*arrow.Schema, error) {
	info, err := t.describe(ctx, "schema")
	if err != nil {
		return nil, err
	}
	schema, err := codec.DecodeSchema(info.Schema)
	if err != nil {
		return nil, contracts.NewTableError("schema", t.name, err)
	}
	return schema, nil
}

func (t *Table) Version(ctx context.Context) (int, error) {
	info, err := t.describe(ctx, "version")
	if err != nil {
		return 0, err
	}
	return info.Version, nil
}

func (t *Table) Stats(ctx context.Context) (*contracts.TableStats, error) {
	info, err := t.describe(ctx, "stats")
	if err != nil {
		return nil, err
	}
	return &contracts.TableStats{
		NumRows:        info.Stats.NumRows,
		NumDeletedRows: info.Stats.NumDeletedRows,
		NumFragments:   info.Stats.NumFragments,
		TotalBytes:     info.Stats.TotalBytes,
	}, nil
}

func (t *Table) Add(ctx context.Context, record arrow.Record, options *contracts.AddDataOptions) error {
	var r []arrow.Record
	if record != nil {
		r = append(r, record)
	}
	return t.AddRecords(ctx, r, options)
}

// AddRecords sends the records as one insert. Embedding columns are
// computed locally from the schema the server reports.
func (t *Table) AddRecords(ctx context.Context, records []arrow.Record, options *contracts.AddDataOptions) error {
	mode := contracts.WriteModeAppend
	if options != nil {
		mode = options.Mode
	}
	if len(records) == 0 {
		return contracts.NewTableError("add", t.name, fmt.Errorf("no records to add: %w", contracts.ErrValidation))
	}
	filled, err := t.withEmbeddings(ctx, "add", records)
	if err != nil {
		return err
	}
	defer internal.ReleaseRecords(filled)
	return t.sendArrow(ctx, "add", "insert", url.Values{"mode": {mode.String()}}, filled)
}

func (t *Table) withEmbeddings(ctx context.Context, op string, records []arrow.Record) ([]arrow.Record, error) {
	if t.conn.registry == nil {
		return internal.WithEmbeddings(ctx, nil, arrow.NewSchema(nil, nil), records)
	}
	schema, err := t.Schema(ctx)
	if err != nil {
		return nil, err
	}
	filled, err := internal.WithEmbeddings(ctx, t.conn.registry, schema, records)
	if err != nil {
		return nil, contracts.NewTableError(op, t.name, err)
	}
	return filled, nil
}

func (t *Table) sendArrow(ctx context.Context, op, endpoint string, query url.Values, records []arrow.Record) error {
	if err := t.usable(op); err != nil {
		return err
	}
	body, err := codec.EncodeStream(records[0].Schema(), records)
	if err != nil {
		return contracts.NewTableError(op, t.name, err)
	}
	if _, err := t.conn.client.do(ctx, http.MethodPost, tablePath(t.name, endpoint), query, contentTypeArrow, body); err != nil {
		t.log.LogMutation(ctx, op, 0, err)
		return contracts.NewTableError(op, t.name, err)
	}
	t.log.LogMutation(ctx, op, 0, nil)
	return nil
}

func (t *Table) Query() contracts.IQueryBuilder {
	return internal.NewQueryBuilder(t)
}

func (t *Table) Search(vector []float32) contracts.IVectorQueryBuilder {
	return internal.NewVectorQueryBuilder(t, vector)
}

func (t *Table) SearchText(text string) contracts.IVectorQueryBuilder {
	return internal.NewTextVectorQueryBuilder(t, text)
}

func (t *Table) FullTextQuery(text string) contracts.IFullTextQueryBuilder {
	return internal.NewFullTextQueryBuilder(t, text)
}

// ExecuteQuery serves vector and full-text queries. The server has no
// plain scan endpoint.
func (t *Table) ExecuteQuery(ctx context.Context, req internal.QueryRequest) ([]arrow.Record, error) {
	start := time.Now()
	if req.Kind == internal.QueryKindScan {
		return nil, t.unsupported("query")
	}
	if err := t.usable("query"); err != nil {
		return nil, err
	}

	body := queryRequest{
		Vector:       req.Vector,
		VectorColumn: req.VectorColumn,
		K:            req.Limit,
		Offset:       req.Offset,
		Filter:       req.Filter,
		Columns:      req.Columns,
		Prefilter:    !req.Postfilter,
		Nprobes:      req.Nprobes,
		RefineFactor: req.RefineFactor,
		BypassIndex:  req.BypassIndex,
		WithRowID:    req.WithRowID,
	}
	if req.DistanceType != nil {
		body.DistanceType = req.DistanceType.String()
	}
	switch req.Kind {
	case internal.QueryKindVector:
		if req.Vector == nil {
			schema, err := t.Schema(ctx)
			if err != nil {
				return nil, err
			}
			vec, column, err := internal.EmbedText(ctx, t.conn.registry, schema, req.VectorColumn, req.Text)
			if err != nil {
				return nil, contracts.NewTableError("query", t.name, err)
			}
			body.Vector, body.VectorColumn = vec, column
		}
	case internal.QueryKindFullText:
		if req.FullText == "" {
			return nil, contracts.NewTableError("query", t.name,
				fmt.Errorf("full-text query must not be empty: %w", contracts.ErrValidation))
		}
		body.FullTextQuery = &fullTextQuery{Query: req.FullText}
		if req.TextColumn != "" {
			body.FullTextQuery.Columns = []string{req.TextColumn}
		}
	}

	if body.K <= 0 {
		body.K = defaultQueryLimit
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, contracts.NewTableError("query", t.name, err)
	}
	data, err := t.conn.client.do(ctx, http.MethodPost, tablePath(t.name, "query"), nil, contentTypeJSON, payload)
	if err != nil {
		t.log.LogQuery(ctx, req.Kind.String(), 0, time.Since(start), err)
		return nil, contracts.NewTableError("query", t.name, err)
	}
	_, recs, err := codec.DecodeStream(data)
	if err != nil {
		t.log.LogQuery(ctx, req.Kind.String(), 0, time.Since(start), err)
		return nil, contracts.NewTableError("query", t.name, err)
	}
	var rows int
	for _, r := range recs {
		rows += int(r.NumRows())
	}
	t.log.LogQuery(ctx, req.Kind.String(), rows, time.Since(start), nil)
	return recs, nil
}

func (t *Table) Count(ctx context.Context) (int64, error) {
	return t.CountRows(ctx, "")
}

func (t *Table) CountRows(ctx context.Context, filter string) (int64, error) {
	var n int64
	if err := t.post(ctx, "count_rows", tablePath(t.name, "count_rows"), predicateRequest{Predicate: filter}, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func (t *Table) ListVersions(ctx context.Context) ([]contracts.VersionInfo, error) {
	var resp listVersionsResponse
	if err := t.post(ctx, "list_versions", tablePath(t.name, "version", "list"), nil, &resp); err != nil {
		return nil, err
	}
	out := make([]contracts.VersionInfo, len(resp.Versions))
	for i, v := range resp.Versions {
		out[i] = contracts.VersionInfo{Version: v.Version, Timestamp: v.Timestamp, Operation: v.Operation, Metadata: v.Metadata}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (t *Table) Checkout(_ context.Context, _ int) error { return t.unsupported("checkout") }

func (t *Table) CheckoutLatest(_ context.Context) error { return t.unsupported("checkout_latest") }

func (t *Table) Restore(_ context.Context) error { return t.unsupported("restore") }

// Update sends each value as an SQL expression; literals are rendered
// client side.
func (t *Table) Update(ctx context.Context, filter string, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return contracts.NewTableError("update", t.name, fmt.Errorf("update requires at least one column: %w", contracts.ErrValidation))
	}
	req := updateRequest{Predicate: filter}
	cols := make([]string, 0, len(updates))
	for col := range updates {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for _, col := range cols {
		lit, err := sqlLiteral(updates[col])
		if err != nil {
			return contracts.NewTableError("update", t.name, fmt.Errorf("column %q: %w", col, err))
		}
		req.Updates = append(req.Updates, [2]string{col, lit})
	}
	return t.mutation(ctx, "update", tablePath(t.name, "update"), req)
}

func (t *Table) Delete(ctx context.Context, filter string) error {
	if strings.TrimSpace(filter) == "" {
		return contracts.NewTableError("delete", t.name, fmt.Errorf("delete requires a predicate: %w", contracts.ErrValidation))
	}
	return t.mutation(ctx, "delete", tablePath(t.name, "delete"), predicateRequest{Predicate: filter})
}

func (t *Table) mutation(ctx context.Context, op, path string, in interface{}) error {
	err := t.post(ctx, op, path, in, nil)
	t.log.LogMutation(ctx, op, 0, err)
	return err
}

func (t *Table) CreateIndex(ctx context.Context, columns []string, indexType contracts.IndexType) error {
	return t.CreateIndexWithName(ctx, columns, indexType, "")
}

func (t *Table) CreateIndexWithName(ctx context.Context, columns []string, indexType contracts.IndexType, name string) error {
	if len(columns) != 1 {
		return contracts.NewTableError("create_index", t.name,
			fmt.Errorf("indices cover exactly one column, got %d: %w", len(columns), contracts.ErrValidation))
	}
	opts := &contracts.IndexOptions{IndexType: indexType}
	if name != "" {
		opts.Name = &name
	}
	return t.CreateIndexWithOptions(ctx, columns[0], opts)
}

func (t *Table) CreateIndexWithOptions(ctx context.Context, column string, options *contracts.IndexOptions) error {
	req := createIndexRequest{Column: column, IndexType: contracts.IndexTypeAuto.String(), Replace: true}
	if options != nil {
		req.IndexType = options.IndexType.String()
		if options.Name != nil {
			req.Name = *options.Name
		}
		if options.Replace != nil {
			req.Replace = *options.Replace
		}
		if options.DistanceType != nil {
			req.DistanceType = options.DistanceType.String()
		}
		if options.NumPartitions != nil {
			req.NumPartitions = *options.NumPartitions
		}
	}
	return t.mutation(ctx, "create_index", tablePath(t.name, "create_index"), req)
}

func (t *Table) ListIndices(ctx context.Context) ([]contracts.IndexConfig, error) {
	var resp listIndicesResponse
	if err := t.post(ctx, "list_indices", tablePath(t.name, "index", "list"), nil, &resp); err != nil {
		return nil, err
	}
	out := make([]contracts.IndexConfig, len(resp.Indexes))
	for i, ix := range resp.Indexes {
		out[i] = contracts.IndexConfig{Name: ix.Name, Columns: ix.Columns, IndexType: ix.IndexType, DistanceType: ix.DistanceType}
	}
	return out, nil
}

func (t *Table) GetAllIndexes(ctx context.Context) ([]contracts.IndexInfo, error) {
	configs, err := t.ListIndices(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]contracts.IndexInfo, len(configs))
	for i, c := range configs {
		out[i] = contracts.IndexInfo{Name: c.Name, Columns: c.Columns, IndexType: c.IndexType}
	}
	return out, nil
}

func (t *Table) IndexStats(ctx context.Context, name string) (*contracts.IndexStats, error) {
	var stats contracts.IndexStats
	if err := t.post(ctx, "index_stats", tablePath(t.name, "index", url.PathEscape(name), "stats"), nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (t *Table) DropIndex(ctx context.Context, name string) error {
	return t.mutation(ctx, "drop_index", tablePath(t.name, "index", url.PathEscape(name), "drop"), nil)
}

func (t *Table) AddColumns(_ context.Context, _ []contracts.ColumnTransform) error {
	return t.unsupported("add_columns")
}

func (t *Table) AlterColumns(_ context.Context, _ []contracts.ColumnAlteration) error {
	return t.unsupported("alter_columns")
}

func (t *Table) DropColumns(_ context.Context, _ []string) error {
	return t.unsupported("drop_columns")
}

func (t *Table) Optimize(_ context.Context, _ *contracts.OptimizeOptions) (*contracts.OptimizeStats, error) {
	return nil, t.unsupported("optimize")
}

func (t *Table) MergeInsert(on ...string) contracts.IMergeInsertBuilder {
	return internal.NewMergeInsertBuilder(t, on)
}

// ExecuteMerge sends the merge clauses as query parameters and the source
// rows as the body.
func (t *Table) ExecuteMerge(ctx context.Context, req internal.MergeRequest, records []arrow.Record) error {
	if len(records) == 0 {
		return contracts.NewTableError("merge_insert", t.name, fmt.Errorf("no source records: %w", contracts.ErrValidation))
	}
	q := url.Values{"on": req.On}
	if req.UpdateMatched {
		q.Set("when_matched_update_all", "true")
		if req.MatchedCondition != "" {
			q.Set("when_matched_update_all_filt", req.MatchedCondition)
		}
	}
	if req.InsertNotMatched {
		q.Set("when_not_matched_insert_all", "true")
	}
	if req.DeleteNotMatchedBySource {
		q.Set("when_not_matched_by_source_delete", "true")
		if req.NotMatchedBySourceCondition != "" {
			q.Set("when_not_matched_by_source_delete_filt", req.NotMatchedBySourceCondition)
		}
	}
	filled, err := t.withEmbeddings(ctx, "merge_insert", records)
	if err != nil {
		return err
	}
	defer internal.ReleaseRecords(filled)
	return t.sendArrow(ctx, "merge_insert", "merge_insert", q, filled)
}

func (t *Table) Select(ctx context.Context, config contracts.QueryConfig) ([]map[string]interface{}, error) {
	return internal.SelectRows(ctx, t, config)
}

func (t *Table) SelectWithColumns(ctx context.Context, columns []string) ([]map[string]interface{}, error) {
	return t.Select(ctx, contracts.QueryConfig{Columns: columns})
}

func (t *Table) SelectWithFilter(ctx context.Context, filter string) ([]map[string]interface{}, error) {
	return t.Select(ctx, contracts.QueryConfig{Where: filter})
}

func (t *Table) VectorSearch(ctx context.Context, column string, vector []float32, k int) ([]map[string]interface{}, error) {
	return t.Select(ctx, contracts.QueryConfig{
		VectorSearch: &contracts.VectorSearch{Column: column, Vector: vector, K: k},
	})
}

func (t *Table) VectorSearchWithFilter(ctx context.Context, column string, vector []float32, k int, filter string) ([]map[string]interface{}, error) {
	return t.Select(ctx, contracts.QueryConfig{
		VectorSearch: &contracts.VectorSearch{Column: column, Vector: vector, K: k},
		Where:        filter,
	})
}

func (t *Table) FullTextSearch(ctx context.Context, column string, query string) ([]map[string]interface{}, error) {
	return t.Select(ctx, contracts.QueryConfig{
		FTSSearch: &contracts.FTSSearch{Column: column, Query: query},
	})
}

func (t *Table) FullTextSearchWithFilter(ctx context.Context, column string, query string, filter string) ([]map[string]interface{}, error) {
	return t.Select(ctx, contracts.QueryConfig{
		FTSSearch: &contracts.FTSSearch{Column: column, Query: query},
		Where:     filter,
	})
}

func (t *Table) SelectWithLimit(ctx context.Context, limit int, offset int) ([]map[string]interface{}, error) {
	return t.Select(ctx, contracts.QueryConfig{Limit: &limit, Offset: &offset})
}
