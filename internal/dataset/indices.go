// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package dataset

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/google/uuid"

	"github.com/universalmind303/lancedb/internal/arrowutil"
	"github.com/universalmind303/lancedb/internal/index"
	"github.com/universalmind303/lancedb/pkg/contracts"
)

// IndexSpec describes an index to build.
type IndexSpec struct {
	Column string
	Name   string // defaults to <column>_idx
	Type   contracts.IndexType
	// Metric applies to vector indices; nil means l2.
	Metric        *index.Metric
	Replace       bool
	NumPartitions int
	MaxIterations int
	SampleRate    int
}

// KindOf maps an index type to the structure that serves it.
func KindOf(t contracts.IndexType) index.Kind {
	switch {
	case t.IsVector():
		return index.KindVector
	case t == contracts.IndexTypeBitmap:
		return index.KindBitmap
	case t == contracts.IndexTypeLabelList:
		return index.KindLabelList
	case t == contracts.IndexTypeFts:
		return index.KindFTS
	}
	return index.KindBTree
}

func (ix IndexMeta) Kind() index.Kind {
	t, _ := contracts.ParseIndexType(ix.IndexType)
	return KindOf(t)
}

func isVectorType(dt arrow.DataType) bool {
	fsl, ok := dt.(*arrow.FixedSizeListType)
	if !ok {
		return false
	}
	switch fsl.Elem().ID() {
	case arrow.FLOAT16, arrow.FLOAT32, arrow.FLOAT64:
		return true
	}
	return false
}

func isStringType(dt arrow.DataType) bool {
	return dt.ID() == arrow.STRING || dt.ID() == arrow.LARGE_STRING
}

// resolveIndexType validates t against the column type, resolving auto.
func resolveIndexType(t contracts.IndexType, f arrow.Field) (contracts.IndexType, error) {
	vector := isVectorType(f.Type)
	if t == contracts.IndexTypeAuto {
		if vector {
			return contracts.IndexTypeIvfPq, nil
		}
		t = contracts.IndexTypeBTree
	}
	switch {
	case t.IsVector():
		if !vector {
			return t, fmt.Errorf("%s index needs a fixed size list of floats, column %q is %s: %w", t, f.Name, f.Type, contracts.ErrValidation)
		}
	case t == contracts.IndexTypeFts:
		if !isStringType(f.Type) {
			return t, fmt.Errorf("FTS index needs a string column, %q is %s: %w", f.Name, f.Type, contracts.ErrValidation)
		}
	case t == contracts.IndexTypeLabelList:
		if _, ok := f.Type.(arrow.ListLikeType); !ok {
			return t, fmt.Errorf("LABEL_LIST index needs a list column, %q is %s: %w", f.Name, f.Type, contracts.ErrValidation)
		}
	default:
		if vector || arrow.IsNested(f.Type.ID()) {
			return t, fmt.Errorf("%s index needs a scalar column, %q is %s: %w", t, f.Name, f.Type, contracts.ErrValidation)
		}
	}
	return t, nil
}

// newIndex creates an empty index able to hold values of field f.
func newIndex(kind index.Kind, f arrow.Field) (index.Index, error) {
	switch kind {
	case index.KindBTree:
		return index.NewBTree(f.Type), nil
	case index.KindBitmap:
		return index.NewBitmap(f.Type), nil
	case index.KindLabelList:
		return index.NewLabelList(f.Type.(arrow.ListLikeType).Elem()), nil
	case index.KindFTS:
		return index.NewFTS()
	}
	return nil, fmt.Errorf("index kind %s cannot be created empty", kind)
}

// addToIndex inserts rows; vector rows go through ivf.Add.
func addToIndex(ix index.Index, addrs []uint64, values []interface{}) error {
	switch x := ix.(type) {
	case *index.IVF:
		a, vecs, err := vectorRows(addrs, values)
		if err != nil {
			return err
		}
		return x.Add(a, vecs)
	case index.ScalarIndex:
		return x.Add(addrs, values)
	case *index.FTS:
		return x.Add(addrs, values)
	}
	return fmt.Errorf("unsupported index %T", ix)
}

// vectorRows drops null vectors and widens the rest to float32.
func vectorRows(addrs []uint64, values []interface{}) ([]uint64, [][]float32, error) {
	outAddrs := make([]uint64, 0, len(addrs))
	vecs := make([][]float32, 0, len(values))
	for i, v := range values {
		switch x := v.(type) {
		case nil:
			continue
		case []float32:
			vecs = append(vecs, x)
		case []float64:
			f := make([]float32, len(x))
			for j, y := range x {
				f[j] = float32(y)
			}
			vecs = append(vecs, f)
		default:
			return nil, nil, fmt.Errorf("expected a vector, got %T", v)
		}
		outAddrs = append(outAddrs, addrs[i])
	}
	return outAddrs, vecs, nil
}

// columnRows returns the addresses and values of the live rows of field
// across frags.
func (d *Dataset) columnRows(ctx context.Context, field arrow.Field, frags []Fragment) ([]uint64, []interface{}, error) {
	sub := arrow.NewSchema([]arrow.Field{field}, nil)
	fds, err := d.readFragments(ctx, sub, frags)
	if err != nil {
		return nil, nil, err
	}
	defer releaseFragments(fds)
	var (
		addrs  []uint64
		values []interface{}
	)
	for _, fd := range fds {
		col := fd.rec.Column(0)
		for i := 0; i < col.Len(); i++ {
			if !fd.live(i) {
				continue
			}
			v, err := arrowutil.ValueAt(col, i)
			if err != nil {
				return nil, nil, err
			}
			addrs = append(addrs, fd.addr(i))
			values = append(values, v)
		}
	}
	return addrs, values, nil
}

func (d *Dataset) writeIndex(ctx context.Context, ix index.Index) (string, int64, error) {
	data, err := ix.Encode()
	if err != nil {
		return "", 0, fmt.Errorf("failed to encode index: %w", err)
	}
	id := uuid.NewString()
	if err := d.store.Put(ctx, d.key(indexPath(id)), data); err != nil {
		return "", 0, fmt.Errorf("failed to write index: %w", err)
	}
	d.shared.indices.Add(id, ix)
	return id, int64(len(data)), nil
}

// loadIndex returns the decoded index, shared through the cache. Callers
// must not modify it; use decodeIndex for a private copy.
func (d *Dataset) loadIndex(ctx context.Context, meta IndexMeta) (index.Index, error) {
	if ix, ok := d.shared.indices.Get(meta.UUID); ok {
		return ix, nil
	}
	ix, err := d.decodeIndex(ctx, meta)
	if err != nil {
		return nil, err
	}
	d.shared.indices.Add(meta.UUID, ix)
	return ix, nil
}

func (d *Dataset) decodeIndex(ctx context.Context, meta IndexMeta) (index.Index, error) {
	data, err := d.store.Get(ctx, d.key(indexPath(meta.UUID)))
	if err != nil {
		return nil, fmt.Errorf("failed to read index %s: %w", meta.Name, err)
	}
	return index.Decode(meta.Kind(), data)
}

// CreateIndex builds an index over the live rows of spec.Column. With
// Replace unset an existing index on the column is an error; otherwise it
// is replaced.
func (d *Dataset) CreateIndex(ctx context.Context, spec IndexSpec) (*Snapshot, error) {
	return d.commit(ctx, "CreateIndex", func(m *Manifest) error {
		schema, err := m.ArrowSchema()
		if err != nil {
			return err
		}
		idx := schema.FieldIndices(spec.Column)
		if len(idx) == 0 {
			return fmt.Errorf("column %q: %w", spec.Column, contracts.ErrNotFound)
		}
		field := schema.Field(idx[0])
		t, err := resolveIndexType(spec.Type, field)
		if err != nil {
			return err
		}
		name := spec.Name
		if name == "" {
			name = spec.Column + "_idx"
		}

		kept := make([]IndexMeta, 0, len(m.Indices))
		for _, existing := range m.Indices {
			sameColumn := existing.Columns[0] == spec.Column
			if sameColumn && !spec.Replace {
				return fmt.Errorf("index on column %q: %w", spec.Column, contracts.ErrAlreadyExists)
			}
			if !sameColumn && existing.Name == name {
				return fmt.Errorf("index %q: %w", name, contracts.ErrAlreadyExists)
			}
			if !sameColumn {
				kept = append(kept, existing)
			}
		}

		addrs, values, err := d.columnRows(ctx, field, m.Fragments)
		if err != nil {
			return err
		}
		meta := IndexMeta{
			Name:      name,
			Columns:   []string{spec.Column},
			FieldID:   FieldID(field),
			IndexType: t.String(),
			CreatedAt: time.Now().UTC(),
		}
		var ix index.Index
		if kind := KindOf(t); kind == index.KindVector {
			metric := index.MetricL2
			if spec.Metric != nil {
				metric = *spec.Metric
			}
			a, vecs, err := vectorRows(addrs, values)
			if err != nil {
				return err
			}
			if len(vecs) == 0 {
				return fmt.Errorf("cannot train a vector index on column %q without rows: %w", spec.Column, contracts.ErrValidation)
			}
			ivf, err := index.TrainIVF(a, vecs, index.IVFConfig{
				Metric:        metric,
				NumPartitions: spec.NumPartitions,
				MaxIterations: spec.MaxIterations,
				SampleRate:    spec.SampleRate,
			})
			if err != nil {
				return fmt.Errorf("%v: %w", err, contracts.ErrValidation)
			}
			ix = ivf
			meta.Metric = metric.String()
			meta.Config = map[string]string{"num_partitions": strconv.Itoa(len(ivf.Centroids))}
		} else {
			ix, err = newIndex(kind, field)
			if err != nil {
				return err
			}
			if err := addToIndex(ix, addrs, values); err != nil {
				return fmt.Errorf("%v: %w", err, contracts.ErrValidation)
			}
		}

		id, size, err := d.writeIndex(ctx, ix)
		if err != nil {
			return err
		}
		meta.UUID = id
		meta.Size = size
		for _, f := range m.Fragments {
			meta.Fragments = append(meta.Fragments, f.ID)
		}
		m.Indices = append(kept, meta)
		return nil
	})
}

// DropIndex removes the named index.
func (d *Dataset) DropIndex(ctx context.Context, name string) (*Snapshot, error) {
	return d.commit(ctx, "DropIndex", func(m *Manifest) error {
		for i, ix := range m.Indices {
			if ix.Name == name {
				m.Indices = append(m.Indices[:i], m.Indices[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("index %q: %w", name, contracts.ErrNotFound)
	})
}

// IndexStats reports how many live rows the named index covers.
func (s *Snapshot) IndexStats(name string) (*contracts.IndexStats, error) {
	for _, ix := range s.m.Indices {
		if ix.Name != name {
			continue
		}
		covered := map[uint32]bool{}
		for _, id := range ix.Fragments {
			covered[id] = true
		}
		stats := &contracts.IndexStats{IndexType: ix.IndexType, DistanceType: ix.Metric, NumIndices: 1}
		for _, f := range s.m.Fragments {
			if covered[f.ID] {
				stats.NumIndexedRows += f.LiveRows()
			} else {
				stats.NumUnindexedRows += f.LiveRows()
			}
		}
		return stats, nil
	}
	return nil, fmt.Errorf("index %q: %w", name, contracts.ErrNotFound)
}

// indexOn returns the index covering column with one of kinds.
func (s *Snapshot) indexOn(column string, kinds ...index.Kind) (IndexMeta, bool) {
	for _, ix := range s.m.Indices {
		if ix.Columns[0] != column {
			continue
		}
		for _, k := range kinds {
			if ix.Kind() == k {
				return ix, true
			}
		}
	}
	return IndexMeta{}, false
}
