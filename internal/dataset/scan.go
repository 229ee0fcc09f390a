// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package dataset

import (
	"context"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/universalmind303/lancedb/internal/arrowutil"
	"github.com/universalmind303/lancedb/internal/expr"
	"github.com/universalmind303/lancedb/internal/index"
	"github.com/universalmind303/lancedb/pkg/contracts"
)

const (
	RowIDColumn    = "_rowid"
	DistanceColumn = "_distance"
	ScoreColumn    = "_score"

	// DefaultSearchLimit applies to vector and full-text searches without a limit.
	DefaultSearchLimit = 10
	defaultNprobes     = 20
)

// Query is a fully described read. A non-nil Vector makes it a vector
// search and a non-empty FullText a full-text search; otherwise it is a
// scan.
type Query struct {
	Columns   []string
	Filter    string
	Limit     int
	Offset    int
	WithRowID bool

	Vector       []float32
	VectorColumn string
	Metric       *index.Metric
	Nprobes      int
	// RefineFactor is accepted for compatibility; vector indices keep full
	// vectors, so distances are always exact.
	RefineFactor int
	Postfilter   bool
	BypassIndex  bool

	FullText   string
	TextColumn string
}

// hit is one result row before materialization.
type hit struct {
	fd    *fragData
	off   int
	score float32
}

func (h hit) addr() uint64 { return h.fd.addr(h.off) }

// plan holds the fragments loaded for one query.
type plan struct {
	s      *Snapshot
	schema *arrow.Schema // logical
	fds    []*fragData
	byID   map[uint32]*fragData
	pred   expr.Expression
}

func (s *Snapshot) newPlan(ctx context.Context, filter string) (*plan, error) {
	logical := s.Schema()
	pred, err := ParseFilter(filter, logical)
	if err != nil {
		return nil, err
	}
	fds, err := s.ds.readFragments(ctx, s.schema, s.m.Fragments)
	if err != nil {
		return nil, err
	}
	p := &plan{s: s, schema: logical, fds: fds, byID: make(map[uint32]*fragData, len(fds)), pred: pred}
	for _, fd := range fds {
		p.byID[fd.frag.ID] = fd
	}
	return p, nil
}

func (p *plan) release() { releaseFragments(p.fds) }

// restriction is what a scalar index says about the fragments it covers.
type restriction struct {
	covered map[uint32]bool
	rows    *roaring64.Bitmap
}

// restrictions consults scalar indices for the conjuncts of the filter.
func (p *plan) restrictions(ctx context.Context) ([]restriction, error) {
	if p.pred == nil {
		return nil, nil
	}
	var out []restriction
	for _, c := range expr.Conjuncts(p.pred) {
		pr, ok := expr.AsPredicate(c)
		if !ok {
			continue
		}
		meta, ok := p.s.indexOn(pr.Column, index.KindBTree, index.KindBitmap, index.KindLabelList)
		if !ok {
			continue
		}
		ix, err := p.s.ds.loadIndex(ctx, meta)
		if err != nil {
			return nil, err
		}
		scalar, ok := ix.(index.ScalarIndex)
		if !ok {
			continue
		}
		rows, ok := scalar.Query(pr)
		if !ok {
			continue
		}
		covered := make(map[uint32]bool, len(meta.Fragments))
		for _, id := range meta.Fragments {
			covered[id] = true
		}
		out = append(out, restriction{covered: covered, rows: rows})
	}
	return out, nil
}

// filtered returns the live rows passing the filter, per fragment, in
// address order. Scalar indices narrow the rows evaluated; the filter is
// still checked on every candidate.
func (p *plan) filtered(ctx context.Context) (map[uint32]*roaring.Bitmap, []hit, error) {
	rs, err := p.restrictions(ctx)
	if err != nil {
		return nil, nil, err
	}
	allowed := make(map[uint32]*roaring.Bitmap, len(p.fds))
	var hits []hit
	for _, fd := range p.fds {
		row := newRecordRow(fd.rec)
		bm := roaring.New()
		for i := 0; i < int(fd.rec.NumRows()); i++ {
			if !fd.live(i) {
				continue
			}
			if !admitted(rs, fd.frag.ID, fd.addr(i)) {
				continue
			}
			if p.pred != nil {
				row.i = i
				ok, err := expr.Matches(p.pred, row)
				if err != nil {
					return nil, nil, fmt.Errorf("evaluate filter: %v: %w", err, contracts.ErrValidation)
				}
				if !ok {
					continue
				}
			}
			bm.Add(uint32(i))
			hits = append(hits, hit{fd: fd, off: i})
		}
		allowed[fd.frag.ID] = bm
	}
	return allowed, hits, nil
}

func admitted(rs []restriction, frag uint32, addr uint64) bool {
	for _, r := range rs {
		if r.covered[frag] && !r.rows.Contains(addr) {
			return false
		}
	}
	return true
}

// accept reports whether addr is a live row of this snapshot and, when
// allowed is non-nil, passed the prefilter.
func (p *plan) accept(allowed map[uint32]*roaring.Bitmap) func(addr uint64) bool {
	return func(addr uint64) bool {
		fd, ok := p.byID[index.FragmentOf(addr)]
		if !ok {
			return false
		}
		off := uint32(addr)
		if int64(off) >= fd.frag.PhysicalRows || fd.deleted.Contains(off) {
			return false
		}
		if allowed != nil {
			return allowed[fd.frag.ID].Contains(off)
		}
		return true
	}
}

func (p *plan) hitAt(addr uint64, score float32) hit {
	return hit{fd: p.byID[index.FragmentOf(addr)], off: int(uint32(addr)), score: score}
}

// CountRows counts live rows passing filter.
func (s *Snapshot) CountRows(ctx context.Context, filter string) (int64, error) {
	if filter == "" {
		var n int64
		for _, f := range s.m.Fragments {
			n += f.LiveRows()
		}
		return n, nil
	}
	p, err := s.newPlan(ctx, filter)
	if err != nil {
		return 0, err
	}
	defer p.release()
	_, hits, err := p.filtered(ctx)
	if err != nil {
		return 0, err
	}
	return int64(len(hits)), nil
}

// Execute runs q against the snapshot and returns a single record.
func (s *Snapshot) Execute(ctx context.Context, q Query) (arrow.Record, error) {
	logical := s.Schema()
	columns := q.Columns
	if len(columns) == 0 {
		columns = make([]string, logical.NumFields())
		for i, f := range logical.Fields() {
			columns[i] = f.Name
		}
	}
	for _, c := range columns {
		if !hasColumn(logical)(c) {
			return nil, fmt.Errorf("select column %q: %w", c, contracts.ErrValidation)
		}
	}
	if q.Offset < 0 || q.Limit < 0 {
		return nil, fmt.Errorf("limit and offset must not be negative: %w", contracts.ErrValidation)
	}

	p, err := s.newPlan(ctx, q.Filter)
	if err != nil {
		return nil, err
	}
	defer p.release()

	var (
		hits  []hit
		extra string
	)
	switch {
	case q.Vector != nil:
		hits, err = p.vectorSearch(ctx, q)
		extra = DistanceColumn
	case q.FullText != "":
		hits, err = p.fullTextSearch(ctx, q)
		extra = ScoreColumn
	default:
		_, hits, err = p.filtered(ctx)
		hits = page(hits, q.Offset, q.Limit)
	}
	if err != nil {
		return nil, err
	}
	return p.materialize(ctx, hits, columns, extra, q.WithRowID)
}

func page(hits []hit, offset, limit int) []hit {
	if offset >= len(hits) {
		return nil
	}
	hits = hits[offset:]
	if limit > 0 && limit < len(hits) {
		hits = hits[:limit]
	}
	return hits
}

func (p *plan) vectorColumn(name string) (int, *arrow.FixedSizeListType, error) {
	if name == "" {
		for i, f := range p.schema.Fields() {
			if !isVectorType(f.Type) {
				continue
			}
			if name != "" {
				return 0, nil, fmt.Errorf("multiple vector columns, choose one with Column(): %w", contracts.ErrValidation)
			}
			name = p.schema.Field(i).Name
		}
		if name == "" {
			return 0, nil, fmt.Errorf("table has no vector column: %w", contracts.ErrValidation)
		}
	}
	idx := p.schema.FieldIndices(name)
	if len(idx) == 0 {
		return 0, nil, fmt.Errorf("vector column %q: %w", name, contracts.ErrValidation)
	}
	f := p.schema.Field(idx[0])
	if !isVectorType(f.Type) {
		return 0, nil, fmt.Errorf("column %q is %s, not a vector: %w", name, f.Type, contracts.ErrValidation)
	}
	return idx[0], f.Type.(*arrow.FixedSizeListType), nil
}

func (p *plan) vectorSearch(ctx context.Context, q Query) ([]hit, error) {
	col, fsl, err := p.vectorColumn(q.VectorColumn)
	if err != nil {
		return nil, err
	}
	name := p.schema.Field(col).Name
	if int(fsl.Len()) != len(q.Vector) {
		return nil, fmt.Errorf("query vector has %d dimensions, column %q has %d: %w", len(q.Vector), name, fsl.Len(), contracts.ErrValidation)
	}
	k := q.Limit
	if k <= 0 {
		k = DefaultSearchLimit
	}
	fetch := k + q.Offset

	meta, indexed := p.s.indexOn(name, index.KindVector)
	metric := index.MetricL2
	if indexed {
		metric, _ = index.ParseMetric(meta.Metric)
	}
	if q.Metric != nil {
		metric = *q.Metric
	}
	if indexed && (q.BypassIndex || meta.Metric != metric.String()) {
		indexed = false
	}

	var allowed map[uint32]*roaring.Bitmap
	if p.pred != nil && !q.Postfilter {
		if allowed, _, err = p.filtered(ctx); err != nil {
			return nil, err
		}
	}
	accept := p.accept(allowed)

	top := index.NewTopK(fetch)
	covered := map[uint32]bool{}
	if indexed {
		for _, id := range meta.Fragments {
			covered[id] = true
		}
		ix, err := p.s.ds.loadIndex(ctx, meta)
		if err != nil {
			return nil, err
		}
		ivf, ok := ix.(*index.IVF)
		if !ok {
			return nil, fmt.Errorf("index %s is not a vector index", meta.Name)
		}
		nprobes := q.Nprobes
		if nprobes <= 0 {
			nprobes = defaultNprobes
		}
		neighbors, err := ivf.Search(q.Vector, fetch, nprobes, metric, func(addr uint64) bool {
			return covered[index.FragmentOf(addr)] && accept(addr)
		})
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			top.Push(n)
		}
	}
	for _, fd := range p.fds {
		if covered[fd.frag.ID] {
			continue
		}
		arr := fd.rec.Column(col).(*array.FixedSizeList)
		for i := 0; i < arr.Len(); i++ {
			addr := fd.addr(i)
			if arr.IsNull(i) || !accept(addr) {
				continue
			}
			top.Push(index.Neighbor{Addr: addr, Distance: index.Distance(metric, q.Vector, vectorAt(arr, i))})
		}
	}

	neighbors := top.Sorted()
	hits := make([]hit, 0, len(neighbors))
	for _, n := range neighbors {
		hits = append(hits, p.hitAt(n.Addr, n.Distance))
	}
	if p.pred != nil && q.Postfilter {
		hits, err = p.postfilter(hits)
		if err != nil {
			return nil, err
		}
	}
	return page(hits, q.Offset, k), nil
}

func (p *plan) postfilter(hits []hit) ([]hit, error) {
	out := hits[:0]
	for _, h := range hits {
		row := newRecordRow(h.fd.rec)
		row.i = h.off
		ok, err := expr.Matches(p.pred, row)
		if err != nil {
			return nil, fmt.Errorf("evaluate filter: %v: %w", err, contracts.ErrValidation)
		}
		if ok {
			out = append(out, h)
		}
	}
	return out, nil
}

// vectorAt returns row i of a fixed size list of floats as float32.
func vectorAt(arr *array.FixedSizeList, i int) []float32 {
	n := int(arr.DataType().(*arrow.FixedSizeListType).Len())
	start := (arr.Offset() + i) * n
	switch values := arr.ListValues().(type) {
	case *array.Float32:
		return values.Float32Values()[start : start+n]
	case *array.Float64:
		out := make([]float32, n)
		for j, v := range values.Float64Values()[start : start+n] {
			out[j] = float32(v)
		}
		return out
	case *array.Float16:
		out := make([]float32, n)
		for j := range out {
			out[j] = values.Value(start + j).Float32()
		}
		return out
	}
	return nil
}

func (p *plan) textColumn(name string) (string, error) {
	if name != "" {
		idx := p.schema.FieldIndices(name)
		if len(idx) == 0 || !isStringType(p.schema.Field(idx[0]).Type) {
			return "", fmt.Errorf("full-text column %q must be an existing string column: %w", name, contracts.ErrValidation)
		}
		return name, nil
	}
	var indexed []string
	for _, ix := range p.s.m.Indices {
		if ix.Kind() == index.KindFTS {
			indexed = append(indexed, ix.Columns[0])
		}
	}
	if len(indexed) == 1 {
		return indexed[0], nil
	}
	if len(indexed) > 1 {
		return "", fmt.Errorf("several full-text indices, choose a column: %w", contracts.ErrValidation)
	}
	for _, f := range p.schema.Fields() {
		if isStringType(f.Type) {
			if name != "" {
				return "", fmt.Errorf("several string columns, choose one: %w", contracts.ErrValidation)
			}
			name = f.Name
		}
	}
	if name == "" {
		return "", fmt.Errorf("table has no string column to search: %w", contracts.ErrValidation)
	}
	return name, nil
}

func (p *plan) fullTextSearch(ctx context.Context, q Query) ([]hit, error) {
	name, err := p.textColumn(q.TextColumn)
	if err != nil {
		return nil, err
	}
	k := q.Limit
	if k <= 0 {
		k = DefaultSearchLimit
	}
	fetch := k + q.Offset

	var allowed map[uint32]*roaring.Bitmap
	if p.pred != nil {
		if allowed, _, err = p.filtered(ctx); err != nil {
			return nil, err
		}
	}
	accept := p.accept(allowed)

	var results []index.Hit
	covered := map[uint32]bool{}
	if meta, ok := p.s.indexOn(name, index.KindFTS); ok {
		for _, id := range meta.Fragments {
			covered[id] = true
		}
		ix, err := p.s.ds.loadIndex(ctx, meta)
		if err != nil {
			return nil, err
		}
		fts, ok := ix.(*index.FTS)
		if !ok {
			return nil, fmt.Errorf("index %s is not a full-text index", meta.Name)
		}
		hits, err := fts.Search(q.FullText, fetch, func(addr uint64) bool {
			return covered[index.FragmentOf(addr)] && accept(addr)
		})
		if err != nil {
			return nil, err
		}
		results = append(results, hits...)
	}

	// Rows outside the index are searched through a temporary index.
	col := p.schema.FieldIndices(name)[0]
	var (
		addrs  []uint64
		values []interface{}
	)
	for _, fd := range p.fds {
		if covered[fd.frag.ID] {
			continue
		}
		for i := 0; i < int(fd.rec.NumRows()); i++ {
			if !accept(fd.addr(i)) {
				continue
			}
			v, err := arrowutil.ValueAt(fd.rec.Column(col), i)
			if err != nil {
				return nil, err
			}
			addrs = append(addrs, fd.addr(i))
			values = append(values, v)
		}
	}
	if len(addrs) > 0 {
		tmp, err := index.NewFTS()
		if err != nil {
			return nil, err
		}
		defer tmp.Close()
		if err := tmp.Add(addrs, values); err != nil {
			return nil, err
		}
		hits, err := tmp.Search(q.FullText, fetch, nil)
		if err != nil {
			return nil, err
		}
		results = append(results, hits...)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Addr < results[j].Addr
	})
	hits := make([]hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, p.hitAt(r.Addr, float32(r.Score)))
	}
	return page(hits, q.Offset, k), nil
}

// materialize gathers the hit rows, in hit order, projected onto columns,
// followed by the extra score column and the row id when requested.
func (p *plan) materialize(ctx context.Context, hits []hit, columns []string, extra string, withRowID bool) (arrow.Record, error) {
	fields := make([]arrow.Field, 0, len(columns)+2)
	for _, c := range columns {
		fields = append(fields, p.schema.Field(p.schema.FieldIndices(c)[0]))
	}
	if extra != "" {
		fields = append(fields, arrow.Field{Name: extra, Type: arrow.PrimitiveTypes.Float32})
	}
	if withRowID {
		fields = append(fields, arrow.Field{Name: RowIDColumn, Type: arrow.PrimitiveTypes.Uint64})
	}
	md := p.schema.Metadata()
	outSchema := arrow.NewSchema(fields, &md)
	if len(hits) == 0 {
		return arrowutil.EmptyRecord(outSchema), nil
	}

	// Take each fragment's rows in one call, then reorder into hit order.
	var (
		order  []*fragData
		groups = map[*fragData][]int64{}
		pos    = make([]int64, len(hits))
	)
	for _, h := range hits {
		if _, ok := groups[h.fd]; !ok {
			order = append(order, h.fd)
		}
		groups[h.fd] = append(groups[h.fd], int64(h.off))
	}
	base := map[*fragData]int64{}
	var offset int64
	parts := make([]arrow.Record, 0, len(order))
	defer func() { releaseRecords(parts) }()
	for _, fd := range order {
		base[fd] = offset
		taken, err := arrowutil.Take(ctx, fd.rec, groups[fd])
		if err != nil {
			return nil, err
		}
		parts = append(parts, taken)
		offset += int64(len(groups[fd]))
	}
	seen := map[*fragData]int64{}
	identity := true
	for i, h := range hits {
		pos[i] = base[h.fd] + seen[h.fd]
		seen[h.fd]++
		if pos[i] != int64(i) {
			identity = false
		}
	}
	gathered, err := arrowutil.Concat(p.schema, parts)
	if err != nil {
		return nil, err
	}
	if !identity {
		reordered, err := arrowutil.Take(ctx, gathered, pos)
		gathered.Release()
		if err != nil {
			return nil, err
		}
		gathered = reordered
	}
	defer gathered.Release()

	projected, err := arrowutil.Project(gathered, columns)
	if err != nil {
		return nil, err
	}
	defer projected.Release()

	cols := make([]arrow.Array, 0, len(fields))
	for i := 0; i < int(projected.NumCols()); i++ {
		col := projected.Column(i)
		col.Retain()
		cols = append(cols, col)
	}
	if extra != "" {
		b := array.NewFloat32Builder(memory.DefaultAllocator)
		for _, h := range hits {
			b.Append(h.score)
		}
		cols = append(cols, b.NewArray())
		b.Release()
	}
	if withRowID {
		b := array.NewUint64Builder(memory.DefaultAllocator)
		for _, h := range hits {
			b.Append(h.addr())
		}
		cols = append(cols, b.NewArray())
		b.Release()
	}
	out := array.NewRecord(outSchema, cols, int64(len(hits)))
	releaseAll(cols)
	return out, nil
}
