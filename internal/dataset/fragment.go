// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package dataset

import (
	"context"
	"fmt"
	"path"
	"strconv"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/universalmind303/lancedb/internal/arrowutil"
	"github.com/universalmind303/lancedb/internal/codec"
	"github.com/universalmind303/lancedb/internal/expr"
	"github.com/universalmind303/lancedb/internal/index"
)

const ioConcurrency = 8

// writeDataFile stores cols, keyed by field id, as a new data file.
func (d *Dataset) writeDataFile(ctx context.Context, fieldIDs []int, cols []arrow.Array, rows int64) (DataFile, error) {
	fields := make([]arrow.Field, len(cols))
	for i, col := range cols {
		fields[i] = arrow.Field{Name: strconv.Itoa(fieldIDs[i]), Type: col.DataType(), Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)
	rec := array.NewRecord(schema, cols, rows)
	defer rec.Release()

	data, err := codec.EncodeFile(schema, []arrow.Record{rec}, d.opts.Compression)
	if err != nil {
		return DataFile{}, err
	}
	rel := path.Join(dataDir, uuid.NewString()+".arrow")
	if err := d.store.Put(ctx, d.key(rel), data); err != nil {
		return DataFile{}, fmt.Errorf("failed to write data file: %w", err)
	}
	return DataFile{Path: rel, FieldIDs: append([]int(nil), fieldIDs...), Size: int64(len(data))}, nil
}

// writeFragments splits records, which follow m's schema, into new
// fragments. Fragment ids are taken from m.
func (d *Dataset) writeFragments(ctx context.Context, m *Manifest, records []arrow.Record) ([]Fragment, error) {
	return d.writeFragmentsSized(ctx, m, records, d.opts.MaxRowsPerFragment)
}

func (d *Dataset) writeFragmentsSized(ctx context.Context, m *Manifest, records []arrow.Record, maxRows int) ([]Fragment, error) {
	schema, err := m.ArrowSchema()
	if err != nil {
		return nil, err
	}
	rec, err := arrowutil.Concat(StripFieldIDs(schema), records)
	if err != nil {
		return nil, err
	}
	defer rec.Release()
	if rec.NumRows() == 0 {
		return nil, nil
	}

	ids := make([]int, schema.NumFields())
	for i, f := range schema.Fields() {
		ids[i] = FieldID(f)
	}

	var frags []Fragment
	step := int64(maxRows)
	for start := int64(0); start < rec.NumRows(); start += step {
		end := min(start+step, rec.NumRows())
		frags = append(frags, Fragment{ID: m.NextFragmentID, PhysicalRows: end - start})
		m.NextFragmentID++
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ioConcurrency)
	for i := range frags {
		i := i
		g.Go(func() error {
			start := int64(i) * step
			slice := rec.NewSlice(start, start+frags[i].PhysicalRows)
			defer slice.Release()
			df, err := d.writeDataFile(gctx, ids, slice.Columns(), slice.NumRows())
			if err != nil {
				return err
			}
			frags[i].Files = []DataFile{df}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return frags, nil
}

func (d *Dataset) readFile(ctx context.Context, df DataFile) (arrow.Record, error) {
	if rec, ok := d.shared.files.Get(df.Path); ok {
		return rec, nil
	}
	data, err := d.store.Get(ctx, d.key(df.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to read data file %s: %w", df.Path, err)
	}
	schema, recs, err := codec.DecodeFile(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode data file %s: %w", df.Path, err)
	}
	rec, err := arrowutil.Concat(schema, recs)
	for _, r := range recs {
		r.Release()
	}
	if err != nil {
		return nil, err
	}
	d.shared.files.Add(df.Path, rec)
	return rec, nil
}

func (d *Dataset) readDeletion(ctx context.Context, del *DeletionFile) (*roaring.Bitmap, error) {
	if del == nil {
		return roaring.New(), nil
	}
	if bm, ok := d.shared.deletions.Get(del.Path); ok {
		return bm, nil
	}
	data, err := d.store.Get(ctx, d.key(del.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to read deletion file %s: %w", del.Path, err)
	}
	bm := roaring.New()
	if err := bm.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("failed to decode deletion file %s: %w", del.Path, err)
	}
	d.shared.deletions.Add(del.Path, bm)
	return bm, nil
}

func (d *Dataset) writeDeletion(ctx context.Context, fragID uint32, version int, deleted *roaring.Bitmap) (*DeletionFile, error) {
	deleted.RunOptimize()
	data, err := deleted.ToBytes()
	if err != nil {
		return nil, err
	}
	rel := path.Join(deletionsDir, fmt.Sprintf("%d-%d-%s.bin", fragID, version, uuid.NewString()))
	if err := d.store.Put(ctx, d.key(rel), data); err != nil {
		return nil, fmt.Errorf("failed to write deletion file: %w", err)
	}
	return &DeletionFile{Path: rel, NumDeleted: int64(deleted.GetCardinality()), Size: int64(len(data))}, nil
}

// fragData is a fragment's rows under one schema plus its deletion vector.
// rec holds every physical row; deleted rows are masked, not removed.
type fragData struct {
	frag    Fragment
	rec     arrow.Record
	deleted *roaring.Bitmap
}

func (f *fragData) live(i int) bool {
	return !f.deleted.Contains(uint32(i))
}

func (f *fragData) addr(i int) uint64 {
	return index.RowAddress(f.frag.ID, uint32(i))
}

func (f *fragData) release() {
	f.rec.Release()
}

// readFragment assembles the columns of schema for frag. Columns missing
// from every data file read as nulls.
func (d *Dataset) readFragment(ctx context.Context, schema *arrow.Schema, frag Fragment) (*fragData, error) {
	cols := make([]arrow.Array, schema.NumFields())
	for i, f := range schema.Fields() {
		id := FieldID(f)
		for j := len(frag.Files) - 1; j >= 0 && cols[i] == nil; j-- {
			df := frag.Files[j]
			if !containsInt(df.FieldIDs, id) {
				continue
			}
			rec, err := d.readFile(ctx, df)
			if err != nil {
				releaseAll(cols)
				return nil, err
			}
			idx := rec.Schema().FieldIndices(strconv.Itoa(id))
			if len(idx) == 0 {
				releaseAll(cols)
				return nil, fmt.Errorf("data file %s lacks field %d", df.Path, id)
			}
			col := rec.Column(idx[0])
			col.Retain()
			cols[i] = col
		}
		if cols[i] == nil {
			cols[i] = arrowutil.NullArray(f.Type, int(frag.PhysicalRows))
		}
	}
	deleted, err := d.readDeletion(ctx, frag.Deletion)
	if err != nil {
		releaseAll(cols)
		return nil, err
	}
	rec := array.NewRecord(StripFieldIDs(schema), cols, frag.PhysicalRows)
	releaseAll(cols)
	return &fragData{frag: frag, rec: rec, deleted: deleted}, nil
}

// readFragments loads frags concurrently, preserving order.
func (d *Dataset) readFragments(ctx context.Context, schema *arrow.Schema, frags []Fragment) ([]*fragData, error) {
	out := make([]*fragData, len(frags))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ioConcurrency)
	for i, frag := range frags {
		i, frag := i, frag
		g.Go(func() error {
			fd, err := d.readFragment(gctx, schema, frag)
			if err != nil {
				return err
			}
			out[i] = fd
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		releaseFragments(out)
		return nil, err
	}
	return out, nil
}

func releaseFragments(fds []*fragData) {
	for _, fd := range fds {
		if fd != nil {
			fd.release()
		}
	}
}

// recordRow exposes one row of a record to the expression evaluator.
type recordRow struct {
	rec  arrow.Record
	cols map[string]int
	i    int
}

func newRecordRow(rec arrow.Record) *recordRow {
	cols := make(map[string]int, rec.NumCols())
	for i, f := range rec.Schema().Fields() {
		cols[f.Name] = i
	}
	return &recordRow{rec: rec, cols: cols}
}

func (r *recordRow) Get(column string) (interface{}, bool) {
	c, ok := r.cols[column]
	if !ok {
		return nil, false
	}
	v, err := arrowutil.ValueAt(r.rec.Column(c), r.i)
	if err != nil {
		return nil, true
	}
	return v, true
}

// matching returns the offsets of live rows of fd that pass filter. A nil
// filter matches every live row.
func matching(fd *fragData, filter expr.Expression) ([]int, error) {
	var out []int
	row := newRecordRow(fd.rec)
	for i := 0; i < int(fd.rec.NumRows()); i++ {
		if !fd.live(i) {
			continue
		}
		if filter != nil {
			row.i = i
			ok, err := expr.Matches(filter, row)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out = append(out, i)
	}
	return out, nil
}

func takeOffsets(ctx context.Context, rec arrow.Record, offsets []int) (arrow.Record, error) {
	idx := make([]int64, len(offsets))
	for i, off := range offsets {
		idx[i] = int64(off)
	}
	return arrowutil.Take(ctx, rec, idx)
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func releaseAll(arrs []arrow.Array) {
	for _, a := range arrs {
		if a != nil {
			a.Release()
		}
	}
}
