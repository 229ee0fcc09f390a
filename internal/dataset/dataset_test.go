// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package dataset

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/universalmind303/lancedb/internal/expr"
	"github.com/universalmind303/lancedb/internal/logging"
	"github.com/universalmind303/lancedb/internal/objectstore"
	"github.com/universalmind303/lancedb/pkg/contracts"
)

func testSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "vec", Type: arrow.FixedSizeListOf(2, arrow.PrimitiveTypes.Float32)},
	}, nil)
}

// makeRecord builds rows whose vector is (id, 0).
func makeRecord(t *testing.T, ids []int64, names []string) arrow.Record {
	t.Helper()
	b := array.NewRecordBuilder(memory.DefaultAllocator, testSchema())
	defer b.Release()
	b.Field(0).(*array.Int64Builder).AppendValues(ids, nil)
	b.Field(1).(*array.StringBuilder).AppendValues(names, nil)
	fb := b.Field(2).(*array.FixedSizeListBuilder)
	vb := fb.ValueBuilder().(*array.Float32Builder)
	for _, id := range ids {
		fb.Append(true)
		vb.AppendValues([]float32{float32(id), 0}, nil)
	}
	return b.NewRecord()
}

func rows(from, to int64) ([]int64, []string) {
	var ids []int64
	var names []string
	for i := from; i < to; i++ {
		ids = append(ids, i)
		names = append(names, fmt.Sprintf("name-%d", i))
	}
	return ids, names
}

func newTestDataset(t *testing.T, n int64, opts Options) *Dataset {
	t.Helper()
	opts.Logger = logging.NoopLogger()
	ids, names := rows(0, n)
	rec := makeRecord(t, ids, names)
	defer rec.Release()
	d, err := Create(context.Background(), objectstore.NewMemoryStore(), "items", testSchema(), []arrow.Record{rec}, opts)
	require.NoError(t, err)
	return d
}

func appendRows(t *testing.T, d *Dataset, from, to int64) *Snapshot {
	t.Helper()
	ids, names := rows(from, to)
	rec := makeRecord(t, ids, names)
	defer rec.Release()
	snap, err := d.Append(context.Background(), []arrow.Record{rec}, false)
	require.NoError(t, err)
	return snap
}

func latest(t *testing.T, d *Dataset) *Snapshot {
	t.Helper()
	s, err := d.Latest(context.Background())
	require.NoError(t, err)
	return s
}

func execute(t *testing.T, s *Snapshot, q Query) arrow.Record {
	t.Helper()
	rec, err := s.Execute(context.Background(), q)
	require.NoError(t, err)
	t.Cleanup(rec.Release)
	return rec
}

func int64Column(t *testing.T, rec arrow.Record, name string) []int64 {
	t.Helper()
	idx := rec.Schema().FieldIndices(name)
	require.NotEmpty(t, idx, "column %s", name)
	col := rec.Column(idx[0]).(*array.Int64)
	return append([]int64(nil), col.Int64Values()...)
}

func stringColumn(t *testing.T, rec arrow.Record, name string) []string {
	t.Helper()
	idx := rec.Schema().FieldIndices(name)
	require.NotEmpty(t, idx, "column %s", name)
	col := rec.Column(idx[0]).(*array.String)
	out := make([]string, col.Len())
	for i := range out {
		out[i] = col.Value(i)
	}
	return out
}

func countRows(t *testing.T, d *Dataset, filter string) int64 {
	t.Helper()
	n, err := latest(t, d).CountRows(context.Background(), filter)
	require.NoError(t, err)
	return n
}

func TestCreateAndOpen(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemoryStore()
	ids, names := rows(0, 3)
	rec := makeRecord(t, ids, names)
	defer rec.Release()

	d, err := Create(ctx, store, "items", testSchema(), []arrow.Record{rec}, Options{})
	require.NoError(t, err)
	snap := latest(t, d)
	assert.Equal(t, 1, snap.Version())
	assert.Equal(t, "Create", snap.m.Operation)
	assert.True(t, snap.Schema().Equal(testSchema()))

	_, err = Create(ctx, store, "items", testSchema(), nil, Options{})
	assert.ErrorIs(t, err, contracts.ErrAlreadyExists)

	_, err = Open(ctx, store, "missing", Options{})
	assert.ErrorIs(t, err, contracts.ErrNotFound)

	reopened, err := Open(ctx, store, "items", Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), countRows(t, reopened, ""))

	require.NoError(t, Drop(ctx, store, "items"))
	exists, err := Exists(ctx, store, "items")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAppendSplitsFragments(t *testing.T) {
	d := newTestDataset(t, 10, Options{MaxRowsPerFragment: 4})
	snap := latest(t, d)
	require.Len(t, snap.Fragments(), 3)
	assert.Equal(t, int64(4), snap.Fragments()[0].PhysicalRows)
	assert.Equal(t, int64(2), snap.Fragments()[2].PhysicalRows)

	snap = appendRows(t, d, 10, 12)
	assert.Equal(t, 2, snap.Version())
	assert.Equal(t, int64(12), countRows(t, d, ""))

	rec := execute(t, snap, Query{})
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, int64Column(t, rec, "id"))
}

func TestOverwriteDropsRowsAndIndices(t *testing.T) {
	ctx := context.Background()
	d := newTestDataset(t, 5, Options{})
	_, err := d.CreateIndex(ctx, IndexSpec{Column: "id", Type: contracts.IndexTypeBTree, Replace: true})
	require.NoError(t, err)

	rec := makeRecord(t, []int64{42}, []string{"only"})
	defer rec.Release()
	snap, err := d.Append(ctx, []arrow.Record{rec}, true)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Version())
	assert.Empty(t, snap.Indices())
	assert.Equal(t, int64(1), countRows(t, d, ""))
}

func TestAppendRejectsIncompatibleData(t *testing.T) {
	d := newTestDataset(t, 1, Options{})
	schema := arrow.NewSchema([]arrow.Field{{Name: "name", Type: arrow.BinaryTypes.String}}, nil)
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	b.Field(0).(*array.StringBuilder).Append("no id")
	rec := b.NewRecord()
	defer rec.Release()

	_, err := d.Append(context.Background(), []arrow.Record{rec}, false)
	assert.ErrorIs(t, err, contracts.ErrValidation)
	assert.Equal(t, 1, latest(t, d).Version())
}

func TestDeleteAndUpdate(t *testing.T) {
	ctx := context.Background()
	d := newTestDataset(t, 6, Options{MaxRowsPerFragment: 3})

	snap, err := d.Delete(ctx, "id >= 4")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Version())
	assert.Equal(t, int64(4), countRows(t, d, ""))

	snap, err = d.Delete(ctx, "id = 100")
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Version())

	_, err = d.Delete(ctx, "")
	assert.ErrorIs(t, err, contracts.ErrValidation)
	_, err = d.Delete(ctx, "missing = 1")
	assert.ErrorIs(t, err, contracts.ErrValidation)

	upper, err := expr.Parse("upper(name)")
	require.NoError(t, err)
	_, err = d.Update(ctx, "id < 2", map[string]expr.Expression{"name": upper})
	require.NoError(t, err)

	rec := execute(t, latest(t, d), Query{Filter: "id < 2"})
	assert.ElementsMatch(t, []string{"NAME-0", "NAME-1"}, stringColumn(t, rec, "name"))
	assert.Equal(t, int64(4), countRows(t, d, ""))

	_, err = d.Update(ctx, "", map[string]expr.Expression{"nope": upper})
	assert.ErrorIs(t, err, contracts.ErrNotFound)
}

func TestDeletingWholeFragmentRemovesIt(t *testing.T) {
	d := newTestDataset(t, 6, Options{MaxRowsPerFragment: 3})
	snap, err := d.Delete(context.Background(), "id < 3")
	require.NoError(t, err)
	require.Len(t, snap.Fragments(), 1)
	assert.Nil(t, snap.Fragments()[0].Deletion)
}

func TestScanProjectionPagingAndRowID(t *testing.T) {
	d := newTestDataset(t, 10, Options{MaxRowsPerFragment: 4})
	snap := latest(t, d)

	rec := execute(t, snap, Query{Columns: []string{"name", "id"}, Filter: "id > 2", Limit: 3, Offset: 1, WithRowID: true})
	require.Equal(t, 3, int(rec.NumCols()))
	assert.Equal(t, "name", rec.Schema().Field(0).Name)
	assert.Equal(t, RowIDColumn, rec.Schema().Field(2).Name)
	assert.Equal(t, []int64{4, 5, 6}, int64Column(t, rec, "id"))

	rowIDs := rec.Column(2).(*array.Uint64)
	// id 4 is the first row of the second fragment.
	assert.Equal(t, uint64(1)<<32, rowIDs.Value(0))

	_, err := snap.Execute(context.Background(), Query{Columns: []string{"missing"}})
	assert.ErrorIs(t, err, contracts.ErrValidation)

	empty := execute(t, snap, Query{Filter: "id > 100"})
	assert.Equal(t, int64(0), empty.NumRows())
	assert.Equal(t, 3, int(empty.NumCols()))
}

func TestSnapshotsAreIsolated(t *testing.T) {
	ctx := context.Background()
	d := newTestDataset(t, 3, Options{})
	v1 := latest(t, d)
	appendRows(t, d, 3, 5)

	n, err := v1.CountRows(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	old, err := d.Snapshot(ctx, 1)
	require.NoError(t, err)
	rec := execute(t, old, Query{})
	assert.Equal(t, []int64{0, 1, 2}, int64Column(t, rec, "id"))

	_, err = d.Snapshot(ctx, 9)
	assert.ErrorIs(t, err, contracts.ErrNotFound)

	versions, err := d.Versions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "Append", versions[1].Operation)
}

func TestRestorePublishesOldContent(t *testing.T) {
	ctx := context.Background()
	d := newTestDataset(t, 3, Options{})
	appendRows(t, d, 3, 5)
	snap, err := d.Restore(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Version())
	assert.Equal(t, int64(3), countRows(t, d, ""))

	appendRows(t, d, 10, 11)
	rec := execute(t, latest(t, d), Query{})
	assert.Equal(t, []int64{0, 1, 2, 10}, int64Column(t, rec, "id"))
}

func TestVectorSearch(t *testing.T) {
	ctx := context.Background()
	d := newTestDataset(t, 10, Options{MaxRowsPerFragment: 4})
	query := Query{Vector: []float32{3.2, 0}, Limit: 3}

	flat := execute(t, latest(t, d), query)
	assert.Equal(t, []int64{3, 4, 2}, int64Column(t, flat, "id"))
	dist := flat.Column(flat.Schema().FieldIndices(DistanceColumn)[0]).(*array.Float32)
	assert.InDelta(t, 0.04, dist.Value(0), 1e-4)
	assert.LessOrEqual(t, dist.Value(0), dist.Value(1))

	_, err := d.CreateIndex(ctx, IndexSpec{Column: "vec", Type: contracts.IndexTypeIvfPq, Replace: true})
	require.NoError(t, err)
	indexed := execute(t, latest(t, d), query)
	assert.Equal(t, []int64{3, 4, 2}, int64Column(t, indexed, "id"))

	// Rows added after the index are found by the flat fallback.
	appendRows(t, d, 100, 102)
	rec := execute(t, latest(t, d), Query{Vector: []float32{100.4, 0}, Limit: 2})
	assert.Equal(t, []int64{100, 101}, int64Column(t, rec, "id"))

	filtered := execute(t, latest(t, d), Query{Vector: []float32{3.2, 0}, Limit: 3, Filter: "id != 3"})
	assert.Equal(t, []int64{4, 2, 5}, int64Column(t, filtered, "id"))

	post := execute(t, latest(t, d), Query{Vector: []float32{3.2, 0}, Limit: 3, Filter: "id != 3", Postfilter: true})
	assert.Equal(t, []int64{4, 2}, int64Column(t, post, "id"))

	paged := execute(t, latest(t, d), Query{Vector: []float32{3.2, 0}, Limit: 2, Offset: 1})
	assert.Equal(t, []int64{4, 2}, int64Column(t, paged, "id"))

	defaults := execute(t, latest(t, d), Query{Vector: []float32{0, 0}})
	assert.Equal(t, int64(DefaultSearchLimit), defaults.NumRows())

	_, err = latest(t, d).Execute(ctx, Query{Vector: []float32{1, 2, 3}})
	assert.ErrorIs(t, err, contracts.ErrValidation)
}

func TestVectorSearchSkipsDeletedRows(t *testing.T) {
	ctx := context.Background()
	d := newTestDataset(t, 10, Options{})
	_, err := d.CreateIndex(ctx, IndexSpec{Column: "vec", Type: contracts.IndexTypeIvfFlat, Replace: true})
	require.NoError(t, err)
	_, err = d.Delete(ctx, "id = 3")
	require.NoError(t, err)

	rec := execute(t, latest(t, d), Query{Vector: []float32{3, 0}, Limit: 1})
	assert.Equal(t, []int64{2}, int64Column(t, rec, "id"))
}

func TestScalarIndexPushdown(t *testing.T) {
	ctx := context.Background()
	d := newTestDataset(t, 10, Options{MaxRowsPerFragment: 4})
	_, err := d.CreateIndex(ctx, IndexSpec{Column: "id", Type: contracts.IndexTypeBTree, Replace: true})
	require.NoError(t, err)
	_, err = d.CreateIndex(ctx, IndexSpec{Column: "name", Type: contracts.IndexTypeBitmap, Replace: true})
	require.NoError(t, err)

	assert.Equal(t, int64(3), countRows(t, d, "id >= 7"))
	assert.Equal(t, int64(1), countRows(t, d, "name = 'name-2' AND id < 5"))

	_, err = d.Delete(ctx, "id = 8")
	require.NoError(t, err)
	appendRows(t, d, 20, 22)
	assert.Equal(t, int64(4), countRows(t, d, "id >= 7"))

	rec := execute(t, latest(t, d), Query{Filter: "id >= 7 OR name = 'name-1'"})
	assert.Equal(t, []int64{1, 7, 9, 20, 21}, int64Column(t, rec, "id"))
}

func TestFullTextSearch(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemoryStore()
	rec := makeRecord(t, []int64{0, 1, 2}, []string{"the quick fox", "lazy dog", "quick brown dog"})
	defer rec.Release()
	d, err := Create(ctx, store, "docs", testSchema(), []arrow.Record{rec}, Options{Logger: logging.NoopLogger()})
	require.NoError(t, err)

	check := func() {
		out := execute(t, latest(t, d), Query{FullText: "quick", TextColumn: "name"})
		assert.ElementsMatch(t, []int64{0, 2}, int64Column(t, out, "id"))
		scores := out.Column(out.Schema().FieldIndices(ScoreColumn)[0]).(*array.Float32)
		assert.GreaterOrEqual(t, scores.Value(0), scores.Value(1))
	}
	check()

	_, err = d.CreateIndex(ctx, IndexSpec{Column: "name", Type: contracts.IndexTypeFts, Replace: true})
	require.NoError(t, err)
	check()

	filtered := execute(t, latest(t, d), Query{FullText: "dog", Filter: "id > 1"})
	assert.Equal(t, []int64{2}, int64Column(t, filtered, "id"))
}

func TestCreateIndexReplaceSemantics(t *testing.T) {
	ctx := context.Background()
	d := newTestDataset(t, 4, Options{})
	snap, err := d.CreateIndex(ctx, IndexSpec{Column: "id", Type: contracts.IndexTypeBTree, Replace: true})
	require.NoError(t, err)
	require.Len(t, snap.Indices(), 1)
	assert.Equal(t, "id_idx", snap.Indices()[0].Name)

	_, err = d.CreateIndex(ctx, IndexSpec{Column: "id", Type: contracts.IndexTypeBitmap})
	assert.ErrorIs(t, err, contracts.ErrAlreadyExists)

	snap, err = d.CreateIndex(ctx, IndexSpec{Column: "id", Type: contracts.IndexTypeBitmap, Name: "ids", Replace: true})
	require.NoError(t, err)
	require.Len(t, snap.Indices(), 1)
	assert.Equal(t, "BITMAP", snap.Indices()[0].IndexType)

	_, err = d.CreateIndex(ctx, IndexSpec{Column: "nope", Replace: true})
	assert.ErrorIs(t, err, contracts.ErrNotFound)

	stats, err := latest(t, d).IndexStats("ids")
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.NumIndexedRows)

	_, err = d.DropIndex(ctx, "ids")
	require.NoError(t, err)
	_, err = d.DropIndex(ctx, "ids")
	assert.ErrorIs(t, err, contracts.ErrNotFound)
}

func TestMergeInsert(t *testing.T) {
	ctx := context.Background()
	d := newTestDataset(t, 3, Options{})
	src := makeRecord(t, []int64{2, 3}, []string{"two", "three"})
	defer src.Release()

	snap, stats, err := d.MergeInsert(ctx, MergeSpec{On: []string{"id"}, UpdateMatched: true, InsertNotMatched: true}, []arrow.Record{src})
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Version())
	assert.Equal(t, &MergeStats{Inserted: 1, Updated: 1}, stats)

	rec := execute(t, latest(t, d), Query{Filter: "id >= 2"})
	assert.ElementsMatch(t, []string{"two", "three"}, stringColumn(t, rec, "name"))
	assert.Equal(t, int64(4), countRows(t, d, ""))

	// Conditional update only touches target rows matching the condition.
	src2 := makeRecord(t, []int64{0, 1}, []string{"zero", "one"})
	defer src2.Release()
	_, stats, err = d.MergeInsert(ctx, MergeSpec{On: []string{"id"}, UpdateMatched: true, MatchedCondition: "target.id = 1 AND source.name = 'one'"}, []arrow.Record{src2})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Updated)
	assert.Equal(t, int64(1), countRows(t, d, "name = 'one'"))
	assert.Equal(t, int64(1), countRows(t, d, "name = 'name-0'"))

	src3 := makeRecord(t, []int64{3}, []string{"kept"})
	defer src3.Release()
	_, stats, err = d.MergeInsert(ctx, MergeSpec{On: []string{"id"}, DeleteNotMatchedBySource: true}, []arrow.Record{src3})
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Deleted)
	assert.Equal(t, int64(1), countRows(t, d, ""))
}

func TestMergeInsertValidation(t *testing.T) {
	ctx := context.Background()
	d := newTestDataset(t, 2, Options{})
	dup := makeRecord(t, []int64{1, 1}, []string{"a", "b"})
	defer dup.Release()

	_, _, err := d.MergeInsert(ctx, MergeSpec{On: []string{"id"}, InsertNotMatched: true}, []arrow.Record{dup})
	assert.ErrorIs(t, err, contracts.ErrValidation)
	_, _, err = d.MergeInsert(ctx, MergeSpec{On: []string{"id"}}, []arrow.Record{dup})
	assert.ErrorIs(t, err, contracts.ErrValidation)
	_, _, err = d.MergeInsert(ctx, MergeSpec{On: []string{"nope"}, InsertNotMatched: true}, []arrow.Record{dup})
	assert.ErrorIs(t, err, contracts.ErrNotFound)
	assert.Equal(t, 1, latest(t, d).Version())
}

func TestSchemaEvolution(t *testing.T) {
	ctx := context.Background()
	d := newTestDataset(t, 3, Options{})

	_, err := d.AddColumns(ctx, []contracts.ColumnTransform{{Name: "double", Expression: "id * 2"}})
	require.NoError(t, err)
	rec := execute(t, latest(t, d), Query{Columns: []string{"double"}})
	assert.Equal(t, []int64{0, 2, 4}, int64Column(t, rec, "double"))

	_, err = d.AddColumns(ctx, []contracts.ColumnTransform{{Name: "double", Expression: "id"}})
	assert.ErrorIs(t, err, contracts.ErrAlreadyExists)

	renamed := "twice"
	_, err = d.AlterColumns(ctx, []contracts.ColumnAlteration{{Path: "double", Rename: &renamed}})
	require.NoError(t, err)
	assert.True(t, hasColumn(latest(t, d).Schema())("twice"))

	_, err = d.DropColumns(ctx, []string{"twice"})
	require.NoError(t, err)
	assert.False(t, hasColumn(latest(t, d).Schema())("twice"))
	_, err = d.DropColumns(ctx, []string{"twice"})
	assert.ErrorIs(t, err, contracts.ErrNotFound)

	// New rows written after the drop still line up with old ones.
	appendRows(t, d, 3, 4)
	assert.Equal(t, int64(4), countRows(t, d, ""))
}

func TestCompactMergesSmallFragments(t *testing.T) {
	ctx := context.Background()
	d := newTestDataset(t, 2, Options{})
	appendRows(t, d, 2, 4)
	appendRows(t, d, 4, 6)
	_, err := d.Delete(ctx, "id = 1")
	require.NoError(t, err)
	before := latest(t, d)
	require.Len(t, before.Fragments(), 3)

	snap, stats, err := d.Compact(ctx, CompactOptions{})
	require.NoError(t, err)
	assert.Equal(t, before.Version()+1, snap.Version())
	assert.Equal(t, 3, stats.FragmentsRemoved)
	assert.Equal(t, 1, stats.FragmentsAdded)
	require.Len(t, snap.Fragments(), 1)
	assert.Nil(t, snap.Fragments()[0].Deletion)

	rec := execute(t, snap, Query{})
	assert.Equal(t, []int64{0, 2, 3, 4, 5}, int64Column(t, rec, "id"))

	again, stats, err := d.Compact(ctx, CompactOptions{})
	require.NoError(t, err)
	assert.Equal(t, snap.Version(), again.Version())
	assert.Zero(t, stats.FragmentsAdded)
}

func TestOptimizeIndicesCoversNewRows(t *testing.T) {
	ctx := context.Background()
	d := newTestDataset(t, 4, Options{})
	_, err := d.CreateIndex(ctx, IndexSpec{Column: "vec", Replace: true})
	require.NoError(t, err)
	appendRows(t, d, 4, 6)

	stats, err := latest(t, d).IndexStats("vec_idx")
	require.NoError(t, err)
	assert.Equal(t, "IVF_PQ", stats.IndexType)
	assert.Equal(t, int64(2), stats.NumUnindexedRows)

	snap, updated, err := d.OptimizeIndices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)
	stats, err = snap.IndexStats("vec_idx")
	require.NoError(t, err)
	assert.Equal(t, int64(6), stats.NumIndexedRows)
	assert.Zero(t, stats.NumUnindexedRows)

	again, updated, err := d.OptimizeIndices(ctx)
	require.NoError(t, err)
	assert.Zero(t, updated)
	assert.Equal(t, snap.Version(), again.Version())

	rec := execute(t, again, Query{Vector: []float32{5, 0}, Limit: 1})
	assert.Equal(t, []int64{5}, int64Column(t, rec, "id"))
}

func TestCleanupKeepsHeadAndPinnedVersions(t *testing.T) {
	ctx := context.Background()
	d := newTestDataset(t, 2, Options{})
	appendRows(t, d, 2, 3)
	appendRows(t, d, 3, 4)
	_, err := d.Delete(ctx, "id = 0")
	require.NoError(t, err)

	release, err := d.Pin(2)
	require.NoError(t, err)
	stats, err := d.Cleanup(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.VersionsPruned)

	versions, err := d.Versions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Version)
	assert.Equal(t, 4, versions[1].Version)

	_, err = d.Snapshot(ctx, 1)
	assert.ErrorIs(t, err, contracts.ErrNotFound)
	old, err := d.Snapshot(ctx, 2)
	require.NoError(t, err)
	n, err := old.CountRows(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, int64(3), countRows(t, d, ""))

	release()
	stats, err = d.Cleanup(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.VersionsPruned)
	assert.Equal(t, int64(3), countRows(t, d, ""))

	stats, err = d.Cleanup(ctx, DefaultCleanupAge)
	require.NoError(t, err)
	assert.Zero(t, stats.VersionsPruned)
}

func TestPinFailsAfterCleanupClaimsVersion(t *testing.T) {
	ctx := context.Background()
	d := newTestDataset(t, 2, Options{})
	appendRows(t, d, 2, 3)

	// A reader loaded version 1 but has not pinned it yet.
	stale, err := d.Snapshot(ctx, 1)
	require.NoError(t, err)
	stats, err := d.Cleanup(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.VersionsPruned)

	_, err = d.Pin(stale.Version())
	assert.ErrorIs(t, err, contracts.ErrNotFound)
	_, _, err = d.SnapshotPinned(ctx, 1)
	assert.ErrorIs(t, err, contracts.ErrNotFound)

	snap, release, err := d.LatestPinned(ctx)
	require.NoError(t, err)
	defer release()
	assert.Equal(t, 2, snap.Version())

	// The pinned head survives cleanup after it stops being the head.
	appendRows(t, d, 3, 4)
	_, err = d.Cleanup(ctx, 0)
	require.NoError(t, err)
	n, err := snap.CountRows(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestLatestPinnedWhileCleaningUp(t *testing.T) {
	ctx := context.Background()
	d := newTestDataset(t, 1, Options{})

	const cycles = 50
	recs := make([]arrow.Record, cycles)
	for i := range recs {
		ids, names := rows(int64(10+i), int64(11+i))
		recs[i] = makeRecord(t, ids, names)
		defer recs[i].Release()
	}

	stop := make(chan struct{})
	var readErrs atomic.Int64
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap, release, err := d.LatestPinned(ctx)
				if err != nil {
					readErrs.Add(1)
					continue
				}
				if _, err := snap.CountRows(ctx, ""); err != nil {
					readErrs.Add(1)
				}
				release()
			}
		}()
	}

	for _, rec := range recs {
		_, err := d.Append(ctx, []arrow.Record{rec}, false)
		require.NoError(t, err)
		_, err = d.Cleanup(ctx, 0)
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()

	assert.Zero(t, readErrs.Load())
	assert.Equal(t, int64(cycles+1), countRows(t, d, ""))
}

func TestCleanupRemovesOrphanFiles(t *testing.T) {
	ctx := context.Background()
	store, err := objectstore.NewLocalStore(t.TempDir(), objectstore.Options{})
	require.NoError(t, err)
	ids, names := rows(0, 3)
	rec := makeRecord(t, ids, names)
	defer rec.Release()
	d, err := Create(ctx, store, "items", testSchema(), []arrow.Record{rec}, Options{Logger: logging.NoopLogger()})
	require.NoError(t, err)

	orphans := []string{"items/data/abandoned.arrow", "items/_deletions/0-9.bin", "items/_indices/abandoned/index.bin"}
	for _, key := range orphans {
		require.NoError(t, store.Put(ctx, key, []byte("partial")))
	}

	// Fresh orphans may belong to a commit in flight elsewhere.
	stats, err := d.Cleanup(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, stats.FilesRemoved)

	stats, err = d.Cleanup(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, len(orphans), stats.FilesRemoved)
	for _, key := range orphans {
		ok, err := store.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok, key)
	}
	assert.Equal(t, int64(3), countRows(t, d, ""))
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	d := newTestDataset(t, 6, Options{MaxRowsPerFragment: 3})
	_, err := d.Delete(ctx, "id = 0")
	require.NoError(t, err)

	stats := latest(t, d).Stats(3)
	assert.Equal(t, int64(5), stats.NumRows)
	assert.Equal(t, int64(1), stats.NumDeletedRows)
	assert.Equal(t, 2, stats.NumFragments)
	assert.Equal(t, 1, stats.NumSmallFragments)
	assert.Equal(t, 2, stats.NumDataFiles)
	assert.Positive(t, stats.TotalBytes)
}

func TestConcurrentCommitsAreSerialized(t *testing.T) {
	d := newTestDataset(t, 1, Options{})
	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		i := int64(i)
		go func() {
			ids, names := rows(100+i, 101+i)
			rec := makeRecord(t, ids, names)
			defer rec.Release()
			_, err := d.Append(context.Background(), []arrow.Record{rec}, false)
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-done)
	}
	assert.Equal(t, 9, latest(t, d).Version())
	assert.Equal(t, int64(9), countRows(t, d, ""))
}
