// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package internal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apache/arrow/go/v17/arrow"

	"github.com/universalmind303/lancedb/internal/dataset"
	"github.com/universalmind303/lancedb/internal/expr"
	"github.com/universalmind303/lancedb/internal/index"
	"github.com/universalmind303/lancedb/internal/logging"
	"github.com/universalmind303/lancedb/pkg/contracts"
)

// tableState is the mode of a table handle.
type tableState int

const (
	// stateStandard tracks the latest version and accepts mutations.
	stateStandard tableState = iota
	// stateCheckedOut is pinned to one version; only reads and Restore work.
	stateCheckedOut
	stateClosed
)

func (s tableState) String() string {
	switch s {
	case stateCheckedOut:
		return "checked_out"
	case stateClosed:
		return "closed"
	default:
		return "standard"
	}
}

// Table represents a table in the LanceDB database. A handle reads one
// pinned snapshot at a time; mutations made through it are applied in call
// order and move the handle to the version they publish.
type Table struct {
	name string
	conn *Connection
	ds   *dataset.Dataset
	log  *logging.Logger

	mu        sync.Mutex
	state     tableState
	snap      *dataset.Snapshot
	unpin     func()
	refreshed time.Time
}

// Compile-time check to ensure Table implements ITable interface
var _ contracts.ITable = (*Table)(nil)
var _ QueryExecutor = (*Table)(nil)
var _ MergeExecutor = (*Table)(nil)

func newTable(ctx context.Context, c *Connection, name string, ds *dataset.Dataset) (*Table, error) {
	snap, unpin, err := ds.LatestPinned(ctx)
	if err != nil {
		return nil, contracts.NewTableError("open_table", name, err)
	}
	t := &Table{name: name, conn: c, ds: ds, log: c.log.WithTable(name)}
	t.setSnapshot(snap, unpin)
	return t, nil
}

// setSnapshot moves the handle to s, which unpin releases. Callers hold t.mu.
func (t *Table) setSnapshot(s *dataset.Snapshot, unpin func()) {
	if t.unpin != nil {
		t.unpin()
	}
	t.snap = s
	t.unpin = unpin
	t.refreshed = time.Now()
}

// adopt pins a version the handle just published. If cleanup pruned it
// after a newer commit, the handle moves to the latest version instead.
// Callers hold t.mu.
func (t *Table) adopt(ctx context.Context, s *dataset.Snapshot) (*dataset.Snapshot, error) {
	unpin, err := t.ds.Pin(s.Version())
	if err != nil {
		if s, unpin, err = t.ds.LatestPinned(ctx); err != nil {
			return nil, err
		}
	}
	t.setSnapshot(s, unpin)
	return s, nil
}

// usable fails once the table or its connection is closed. Callers hold t.mu.
func (t *Table) usable(op string) error {
	if t.state == stateClosed || t.conn.IsClosed() {
		return contracts.NewTableError(op, t.name, contracts.ErrUseAfterClose)
	}
	return nil
}

// view returns the snapshot reads should use, refreshing it first when the
// connection asks for read consistency.
func (t *Table) view(ctx context.Context, op string) (*dataset.Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refresh(ctx, op)
}

func (t *Table) refresh(ctx context.Context, op string) (*dataset.Snapshot, error) {
	if err := t.usable(op); err != nil {
		return nil, err
	}
	interval := t.conn.consistency
	if t.state == stateStandard && interval != nil && time.Since(t.refreshed) >= *interval {
		latest, unpin, err := t.ds.LatestPinned(ctx)
		if err != nil {
			return nil, contracts.NewTableError(op, t.name, err)
		}
		if latest.Version() != t.snap.Version() {
			t.setSnapshot(latest, unpin)
		} else {
			unpin()
			t.refreshed = time.Now()
		}
	}
	return t.snap, nil
}

// pinnedView is view for reads that outlive the handle lock. The returned
// func releases the read's own pin.
func (t *Table) pinnedView(ctx context.Context, op string) (*dataset.Snapshot, func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap, err := t.refresh(ctx, op)
	if err != nil {
		return nil, nil, err
	}
	// The handle's own pin keeps snap's version alive, so this cannot fail.
	release, err := t.ds.Pin(snap.Version())
	if err != nil {
		return nil, nil, contracts.NewTableError(op, t.name, err)
	}
	return snap, release, nil
}

// mutate runs fn from the standard state and moves the handle to the
// version it publishes.
func (t *Table) mutate(ctx context.Context, op string, fn func(ctx context.Context, current *dataset.Snapshot) (*dataset.Snapshot, error)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.usable(op); err != nil {
		return err
	}
	if t.state == stateCheckedOut {
		err := fmt.Errorf("table is checked out at version %d; call CheckoutLatest or Restore first: %w",
			t.snap.Version(), contracts.ErrInvalidState)
		t.log.LogMutation(ctx, op, t.snap.Version(), err)
		return contracts.NewTableError(op, t.name, err)
	}
	snap, err := fn(ctx, t.snap)
	if err == nil {
		snap, err = t.adopt(ctx, snap)
	}
	if err != nil {
		t.log.LogMutation(ctx, op, t.snap.Version(), err)
		return contracts.NewTableError(op, t.name, err)
	}
	t.log.LogMutation(ctx, op, snap.Version(), nil)
	return nil
}

// Name returns the name of the Table
func (t *Table) Name() string {
	return t.name
}

// IsOpen returns true if the Table is still open
func (t *Table) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state != stateClosed && !t.conn.IsClosed()
}

// Close releases the handle's version pin. Calling it again is a no-op.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == stateClosed {
		return nil
	}
	if t.unpin != nil {
		t.unpin()
		t.unpin = nil
	}
	t.state = stateClosed
	t.log.Debug("table closed")
	return nil
}

// Schema returns the schema of the version the handle reads.
func (t *Table) Schema(ctx context.Context) (*arrow.Schema, error) {
	snap, err := t.view(ctx, "schema")
	if err != nil {
		return nil, err
	}
	return snap.Schema(), nil
}

// Add inserts a single record into the Table
func (t *Table) Add(ctx context.Context, record arrow.Record, options *contracts.AddDataOptions) error {
	var r []arrow.Record
	if record != nil {
		r = append(r, record)
	}
	return t.AddRecords(ctx, r, options)
}

// AddRecords writes records as one new version, appending by default.
// Embedding columns missing from the records are computed first.
func (t *Table) AddRecords(ctx context.Context, records []arrow.Record, options *contracts.AddDataOptions) error {
	mode := contracts.WriteModeAppend
	if options != nil {
		mode = options.Mode
	}
	return t.mutate(ctx, "add", func(ctx context.Context, current *dataset.Snapshot) (*dataset.Snapshot, error) {
		filled, err := t.withEmbeddings(ctx, current, records)
		if err != nil {
			return nil, err
		}
		defer ReleaseRecords(filled)
		return t.ds.Append(ctx, filled, mode == contracts.WriteModeOverwrite)
	})
}

func (t *Table) withEmbeddings(ctx context.Context, current *dataset.Snapshot, records []arrow.Record) ([]arrow.Record, error) {
	return WithEmbeddings(ctx, t.conn.registry, current.Schema(), records)
}

// Query starts a plain scan.
func (t *Table) Query() contracts.IQueryBuilder {
	return NewQueryBuilder(t)
}

// Search starts a vector similarity query.
func (t *Table) Search(vector []float32) contracts.IVectorQueryBuilder {
	return NewVectorQueryBuilder(t, vector)
}

// SearchText starts a vector query whose target is text embedded by the
// table's embedding function when the query runs.
func (t *Table) SearchText(text string) contracts.IVectorQueryBuilder {
	return NewTextVectorQueryBuilder(t, text)
}

// FullTextQuery starts a full-text query.
func (t *Table) FullTextQuery(text string) contracts.IFullTextQueryBuilder {
	return NewFullTextQueryBuilder(t, text)
}

// ExecuteQuery runs req against the version the handle reads.
func (t *Table) ExecuteQuery(ctx context.Context, req QueryRequest) ([]arrow.Record, error) {
	start := time.Now()
	snap, release, err := t.pinnedView(ctx, "query")
	if err != nil {
		return nil, err
	}
	defer release()
	q, err := t.datasetQuery(ctx, snap, req)
	if err != nil {
		t.log.LogQuery(ctx, req.Kind.String(), 0, time.Since(start), err)
		return nil, contracts.NewTableError("query", t.name, err)
	}
	rec, err := snap.Execute(ctx, q)
	if err != nil {
		t.log.LogQuery(ctx, req.Kind.String(), 0, time.Since(start), err)
		return nil, contracts.NewTableError("query", t.name, err)
	}
	t.log.LogQuery(ctx, req.Kind.String(), int(rec.NumRows()), time.Since(start), nil)
	return []arrow.Record{rec}, nil
}

func (t *Table) datasetQuery(ctx context.Context, snap *dataset.Snapshot, req QueryRequest) (dataset.Query, error) {
	q := dataset.Query{
		Columns:      req.Columns,
		Filter:       req.Filter,
		Limit:        req.Limit,
		Offset:       req.Offset,
		WithRowID:    req.WithRowID,
		VectorColumn: req.VectorColumn,
		Nprobes:      req.Nprobes,
		RefineFactor: req.RefineFactor,
		Postfilter:   req.Postfilter,
		BypassIndex:  req.BypassIndex,
		TextColumn:   req.TextColumn,
	}
	if req.DistanceType != nil {
		m := metricOf(*req.DistanceType)
		q.Metric = &m
	}
	switch req.Kind {
	case QueryKindVector:
		if req.Vector != nil {
			q.Vector = req.Vector
			break
		}
		defs, err := DecodeEmbeddings(snap.Schema())
		if err != nil {
			return q, err
		}
		if len(defs) > 1 && req.VectorColumn == "" {
			t.log.WarnContext(ctx, "several embedding functions defined; using the first",
				"function", defs[0].Function, "column", defs[0].DestColumn)
		}
		def, err := chooseEmbedding(defs, req.VectorColumn)
		if err != nil {
			return q, err
		}
		vec, err := embedQuery(ctx, t.conn.registry, def, req.Text)
		if err != nil {
			return q, err
		}
		q.Vector = vec
		q.VectorColumn = def.DestColumn
	case QueryKindFullText:
		if req.FullText == "" {
			return q, fmt.Errorf("full-text query must not be empty: %w", contracts.ErrValidation)
		}
		q.FullText = req.FullText
	}
	return q, nil
}

func metricOf(d contracts.DistanceType) index.Metric {
	switch d {
	case contracts.DistanceTypeCosine:
		return index.MetricCosine
	case contracts.DistanceTypeDot:
		return index.MetricDot
	case contracts.DistanceTypeHamming:
		return index.MetricHamming
	default:
		return index.MetricL2
	}
}

// Count returns the number of rows in the Table
func (t *Table) Count(ctx context.Context) (int64, error) {
	return t.CountRows(ctx, "")
}

// CountRows returns the number of rows matching filter.
func (t *Table) CountRows(ctx context.Context, filter string) (int64, error) {
	snap, release, err := t.pinnedView(ctx, "count_rows")
	if err != nil {
		return 0, err
	}
	defer release()
	n, err := snap.CountRows(ctx, filter)
	if err != nil {
		return 0, contracts.NewTableError("count_rows", t.name, err)
	}
	return n, nil
}

// Version returns the version the handle reads.
func (t *Table) Version(ctx context.Context) (int, error) {
	snap, err := t.view(ctx, "version")
	if err != nil {
		return 0, err
	}
	return snap.Version(), nil
}

// ListVersions returns every version still stored, oldest first.
func (t *Table) ListVersions(ctx context.Context) ([]contracts.VersionInfo, error) {
	if _, err := t.view(ctx, "list_versions"); err != nil {
		return nil, err
	}
	vs, err := t.ds.Versions(ctx)
	if err != nil {
		return nil, contracts.NewTableError("list_versions", t.name, err)
	}
	out := make([]contracts.VersionInfo, len(vs))
	for i, v := range vs {
		out[i] = contracts.VersionInfo{Version: v.Version, Timestamp: v.Timestamp, Operation: v.Operation, Metadata: v.Metadata}
	}
	return out, nil
}

// Checkout pins the handle to version.
func (t *Table) Checkout(ctx context.Context, version int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.usable("checkout"); err != nil {
		return err
	}
	snap, unpin, err := t.ds.SnapshotPinned(ctx, version)
	if err != nil {
		return contracts.NewTableError("checkout", t.name, err)
	}
	t.setSnapshot(snap, unpin)
	t.state = stateCheckedOut
	t.log.DebugContext(ctx, "checked out", "version", version)
	return nil
}

// CheckoutLatest returns the handle to tracking the latest version.
func (t *Table) CheckoutLatest(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.usable("checkout_latest"); err != nil {
		return err
	}
	snap, unpin, err := t.ds.LatestPinned(ctx)
	if err != nil {
		return contracts.NewTableError("checkout_latest", t.name, err)
	}
	t.setSnapshot(snap, unpin)
	t.state = stateStandard
	return nil
}

// Restore publishes the checked out version's content as the new latest
// version and returns the handle to the standard state.
func (t *Table) Restore(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.usable("restore"); err != nil {
		return err
	}
	if t.state != stateCheckedOut {
		err := fmt.Errorf("restore requires a checked out version: %w", contracts.ErrInvalidState)
		t.log.LogMutation(ctx, "restore", t.snap.Version(), err)
		return contracts.NewTableError("restore", t.name, err)
	}
	snap, err := t.ds.Restore(ctx, t.snap.Version())
	if err == nil {
		snap, err = t.adopt(ctx, snap)
	}
	if err != nil {
		t.log.LogMutation(ctx, "restore", t.snap.Version(), err)
		return contracts.NewTableError("restore", t.name, err)
	}
	t.state = stateStandard
	t.log.LogMutation(ctx, "restore", snap.Version(), nil)
	return nil
}

// Update rewrites the columns in updates for every row matching filter.
// Values of type contracts.Expr are SQL expressions over the existing row;
// anything else is a literal.
func (t *Table) Update(ctx context.Context, filter string, updates map[string]interface{}) error {
	assignments := make(map[string]expr.Expression, len(updates))
	for col, v := range updates {
		e, err := assignment(v)
		if err != nil {
			return contracts.NewTableError("update", t.name, fmt.Errorf("column %q: %w", col, err))
		}
		assignments[col] = e
	}
	return t.mutate(ctx, "update", func(ctx context.Context, _ *dataset.Snapshot) (*dataset.Snapshot, error) {
		return t.ds.Update(ctx, filter, assignments)
	})
}

func assignment(v interface{}) (expr.Expression, error) {
	switch x := v.(type) {
	case contracts.Expr:
		e, err := expr.Parse(string(x))
		if err != nil {
			return nil, fmt.Errorf("invalid expression %q: %v: %w", string(x), err, contracts.ErrValidation)
		}
		return e, nil
	case nil, bool, string, int64, float64, []float32, []float64, []interface{}:
		return &expr.Literal{Value: x}, nil
	case int:
		return &expr.Literal{Value: int64(x)}, nil
	case int8:
		return &expr.Literal{Value: int64(x)}, nil
	case int16:
		return &expr.Literal{Value: int64(x)}, nil
	case int32:
		return &expr.Literal{Value: int64(x)}, nil
	case uint8:
		return &expr.Literal{Value: int64(x)}, nil
	case uint16:
		return &expr.Literal{Value: int64(x)}, nil
	case uint32:
		return &expr.Literal{Value: int64(x)}, nil
	case float32:
		return &expr.Literal{Value: float64(x)}, nil
	case time.Time:
		return &expr.Literal{Value: x}, nil
	}
	return nil, fmt.Errorf("unsupported update value of type %T: %w", v, contracts.ErrValidation)
}

// Delete removes records from the Table that match the filter. A filter
// matching nothing still commits a version.
func (t *Table) Delete(ctx context.Context, filter string) error {
	if filter == "" {
		return contracts.NewTableError("delete", t.name, fmt.Errorf("delete requires a predicate: %w", contracts.ErrValidation))
	}
	return t.mutate(ctx, "delete", func(ctx context.Context, _ *dataset.Snapshot) (*dataset.Snapshot, error) {
		return t.ds.Delete(ctx, filter)
	})
}

// CreateIndex creates an index on a single column
func (t *Table) CreateIndex(ctx context.Context, columns []string, indexType contracts.IndexType) error {
	return t.CreateIndexWithName(ctx, columns, indexType, "")
}

// CreateIndexWithName creates an index with a custom name
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

// CreateIndexWithOptions builds an index on column. An existing index on
// the same column is replaced unless Replace is false.
func (t *Table) CreateIndexWithOptions(ctx context.Context, column string, options *contracts.IndexOptions) error {
	spec := dataset.IndexSpec{Column: column, Replace: true}
	if options != nil {
		spec.Type = options.IndexType
		if options.Name != nil {
			spec.Name = *options.Name
		}
		if options.Replace != nil {
			spec.Replace = *options.Replace
		}
		if options.DistanceType != nil {
			m := metricOf(*options.DistanceType)
			spec.Metric = &m
		}
		if options.NumPartitions != nil {
			spec.NumPartitions = *options.NumPartitions
		}
		if options.MaxIterations != nil {
			spec.MaxIterations = *options.MaxIterations
		}
		if options.SampleRate != nil {
			spec.SampleRate = *options.SampleRate
		}
	}
	return t.mutate(ctx, "create_index", func(ctx context.Context, _ *dataset.Snapshot) (*dataset.Snapshot, error) {
		return t.ds.CreateIndex(ctx, spec)
	})
}

// GetAllIndexes returns the indices of the version the handle reads.
func (t *Table) GetAllIndexes(ctx context.Context) ([]contracts.IndexInfo, error) {
	snap, err := t.view(ctx, "get_all_indexes")
	if err != nil {
		return nil, err
	}
	out := make([]contracts.IndexInfo, 0, len(snap.Indices()))
	for _, ix := range snap.Indices() {
		out = append(out, contracts.IndexInfo{
			Name:      ix.Name,
			Columns:   append([]string(nil), ix.Columns...),
			IndexType: ix.IndexType,
		})
	}
	return out, nil
}

// ListIndices returns index configurations in creation order.
func (t *Table) ListIndices(ctx context.Context) ([]contracts.IndexConfig, error) {
	snap, err := t.view(ctx, "list_indices")
	if err != nil {
		return nil, err
	}
	out := make([]contracts.IndexConfig, 0, len(snap.Indices()))
	for _, ix := range snap.Indices() {
		out = append(out, contracts.IndexConfig{
			Name:         ix.Name,
			Columns:      append([]string(nil), ix.Columns...),
			IndexType:    ix.IndexType,
			DistanceType: ix.Metric,
		})
	}
	return out, nil
}

func (t *Table) IndexStats(ctx context.Context, name string) (*contracts.IndexStats, error) {
	snap, err := t.view(ctx, "index_stats")
	if err != nil {
		return nil, err
	}
	stats, err := snap.IndexStats(name)
	if err != nil {
		return nil, contracts.NewTableError("index_stats", t.name, err)
	}
	return stats, nil
}

func (t *Table) DropIndex(ctx context.Context, name string) error {
	return t.mutate(ctx, "drop_index", func(ctx context.Context, _ *dataset.Snapshot) (*dataset.Snapshot, error) {
		return t.ds.DropIndex(ctx, name)
	})
}

// AddColumns adds columns computed from SQL expressions.
func (t *Table) AddColumns(ctx context.Context, transforms []contracts.ColumnTransform) error {
	return t.mutate(ctx, "add_columns", func(ctx context.Context, _ *dataset.Snapshot) (*dataset.Snapshot, error) {
		return t.ds.AddColumns(ctx, transforms)
	})
}

func (t *Table) AlterColumns(ctx context.Context, alterations []contracts.ColumnAlteration) error {
	return t.mutate(ctx, "alter_columns", func(ctx context.Context, _ *dataset.Snapshot) (*dataset.Snapshot, error) {
		return t.ds.AlterColumns(ctx, alterations)
	})
}

func (t *Table) DropColumns(ctx context.Context, columns []string) error {
	return t.mutate(ctx, "drop_columns", func(ctx context.Context, _ *dataset.Snapshot) (*dataset.Snapshot, error) {
		return t.ds.DropColumns(ctx, columns)
	})
}

// MergeInsert starts an upsert keyed on the given columns.
func (t *Table) MergeInsert(on ...string) contracts.IMergeInsertBuilder {
	return NewMergeInsertBuilder(t, on)
}

// ExecuteMerge applies req in a single new version.
func (t *Table) ExecuteMerge(ctx context.Context, req MergeRequest, records []arrow.Record) error {
	spec := dataset.MergeSpec{
		On:                          req.On,
		UpdateMatched:               req.UpdateMatched,
		MatchedCondition:            req.MatchedCondition,
		InsertNotMatched:            req.InsertNotMatched,
		DeleteNotMatchedBySource:    req.DeleteNotMatchedBySource,
		NotMatchedBySourceCondition: req.NotMatchedBySourceCondition,
	}
	return t.mutate(ctx, "merge_insert", func(ctx context.Context, current *dataset.Snapshot) (*dataset.Snapshot, error) {
		filled, err := t.withEmbeddings(ctx, current, records)
		if err != nil {
			return nil, err
		}
		defer ReleaseRecords(filled)
		snap, stats, err := t.ds.MergeInsert(ctx, spec, filled)
		if err != nil {
			return nil, err
		}
		t.log.DebugContext(ctx, "merge insert", "inserted", stats.Inserted, "updated", stats.Updated, "deleted", stats.Deleted)
		return snap, nil
	})
}

// Optimize compacts fragments, brings indices up to date and then prunes
// versions older than CleanupOlderThan. The version the handle reads is
// never pruned.
func (t *Table) Optimize(ctx context.Context, options *contracts.OptimizeOptions) (*contracts.OptimizeStats, error) {
	var copts dataset.CompactOptions
	olderThan := dataset.DefaultCleanupAge
	if options != nil {
		if options.TargetRowsPerFragment != nil {
			copts.TargetRows = *options.TargetRowsPerFragment
		}
		if options.MaterializeDeletionsThreshold != nil {
			th := *options.MaterializeDeletionsThreshold
			if th < 0 || th > 1 {
				return nil, contracts.NewTableError("optimize", t.name,
					fmt.Errorf("deletion threshold %v is outside [0, 1]: %w", th, contracts.ErrValidation))
			}
			copts.MaterializeDeletionsThreshold = th
		}
		if options.CleanupOlderThan != nil {
			olderThan = *options.CleanupOlderThan
			if olderThan < 0 {
				return nil, contracts.NewTableError("optimize", t.name,
					fmt.Errorf("cleanup age must not be negative: %w", contracts.ErrValidation))
			}
		}
	}

	stats := &contracts.OptimizeStats{}
	err := t.mutate(ctx, "optimize", func(ctx context.Context, _ *dataset.Snapshot) (*dataset.Snapshot, error) {
		_, cs, err := t.ds.Compact(ctx, copts)
		if err != nil {
			return nil, fmt.Errorf("compaction: %w", err)
		}
		stats.FragmentsRemoved = cs.FragmentsRemoved
		stats.FragmentsAdded = cs.FragmentsAdded
		stats.FilesRemoved = cs.FilesRemoved
		stats.FilesAdded = cs.FilesAdded

		snap, n, err := t.ds.OptimizeIndices(ctx)
		if err != nil {
			return nil, fmt.Errorf("index refresh: %w", err)
		}
		stats.IndicesUpdated = n
		return snap, nil
	})
	if err != nil {
		t.log.LogOptimize(ctx, 0, 0, 0, 0, err)
		return nil, err
	}

	// The handle now pins the latest version, so cleanup cannot prune it.
	cleaned, err := t.ds.Cleanup(ctx, olderThan)
	if err != nil {
		err = contracts.NewTableError("optimize", t.name, fmt.Errorf("cleanup: %w", err))
		t.log.LogOptimize(ctx, 0, 0, 0, 0, err)
		return nil, err
	}
	stats.VersionsPruned = cleaned.VersionsPruned
	stats.FilesRemoved += cleaned.FilesRemoved
	stats.BytesRemoved = cleaned.BytesRemoved
	t.log.LogOptimize(ctx, stats.VersionsPruned, stats.FragmentsRemoved, stats.FragmentsAdded, stats.BytesRemoved, nil)
	return stats, nil
}

// Stats describes the physical layout of the version the handle reads.
func (t *Table) Stats(ctx context.Context) (*contracts.TableStats, error) {
	snap, err := t.view(ctx, "stats")
	if err != nil {
		return nil, err
	}
	return snap.Stats(t.ds.MaxRowsPerFragment()), nil
}

// Select executes a select query with various predicates (vector search, filters, etc.)
func (t *Table) Select(ctx context.Context, config contracts.QueryConfig) ([]map[string]interface{}, error) {
	return SelectRows(ctx, t, config)
}

// SelectWithColumns is a convenience method for selecting specific columns
func (t *Table) SelectWithColumns(ctx context.Context, columns []string) ([]map[string]interface{}, error) {
	return t.Select(ctx, contracts.QueryConfig{
		Columns: columns,
	})
}

// SelectWithFilter is a convenience method for selecting with a WHERE filter
func (t *Table) SelectWithFilter(ctx context.Context, filter string) ([]map[string]interface{}, error) {
	return t.Select(ctx, contracts.QueryConfig{
		Where: filter,
	})
}

// VectorSearch is a convenience method for vector similarity search
func (t *Table) VectorSearch(ctx context.Context, column string, vector []float32, k int) ([]map[string]interface{}, error) {
	return t.Select(ctx, contracts.QueryConfig{
		VectorSearch: &contracts.VectorSearch{
			Column: column,
			Vector: vector,
			K:      k,
		},
	})
}

// VectorSearchWithFilter combines vector search with additional filtering
func (t *Table) VectorSearchWithFilter(ctx context.Context, column string, vector []float32, k int, filter string) ([]map[string]interface{}, error) {
	return t.Select(ctx, contracts.QueryConfig{
		VectorSearch: &contracts.VectorSearch{
			Column: column,
			Vector: vector,
			K:      k,
		},
		Where: filter,
	})
}

// FullTextSearch is a convenience method for full-text search
func (t *Table) FullTextSearch(ctx context.Context, column string, query string) ([]map[string]interface{}, error) {
	return t.Select(ctx, contracts.QueryConfig{
		FTSSearch: &contracts.FTSSearch{
			Column: column,
			Query:  query,
		},
	})
}

// FullTextSearchWithFilter combines full-text search with additional filtering
func (t *Table) FullTextSearchWithFilter(ctx context.Context, column string, query string, filter string) ([]map[string]interface{}, error) {
	return t.Select(ctx, contracts.QueryConfig{
		FTSSearch: &contracts.FTSSearch{
			Column: column,
			Query:  query,
		},
		Where: filter,
	})
}

// SelectWithLimit is a convenience method for selecting with limit and offset
func (t *Table) SelectWithLimit(ctx context.Context, limit int, offset int) ([]map[string]interface{}, error) {
	return t.Select(ctx, contracts.QueryConfig{
		Limit:  &limit,
		Offset: &offset,
	})
}
