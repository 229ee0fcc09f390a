// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package dataset

import (
	"context"
	"fmt"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"

	"github.com/universalmind303/lancedb/internal/arrowutil"
	"github.com/universalmind303/lancedb/internal/expr"
	"github.com/universalmind303/lancedb/pkg/contracts"
)

// Conform projects rec onto schema. Extra columns are dropped, missing
// nullable columns are filled with nulls and columns whose type differs are
// converted value by value. Anything else is a validation error.
func Conform(rec arrow.Record, schema *arrow.Schema) (arrow.Record, error) {
	out := StripFieldIDs(schema)
	cols := make([]arrow.Array, out.NumFields())
	n := int(rec.NumRows())
	for i, f := range out.Fields() {
		idx := rec.Schema().FieldIndices(f.Name)
		if len(idx) == 0 {
			if !f.Nullable {
				releaseAll(cols)
				return nil, fmt.Errorf("missing non-nullable column %q: %w", f.Name, contracts.ErrValidation)
			}
			cols[i] = arrowutil.NullArray(f.Type, n)
			continue
		}
		col := rec.Column(idx[0])
		if arrow.TypeEqual(col.DataType(), f.Type) {
			col.Retain()
		} else {
			converted, err := convertColumn(col, f.Type)
			if err != nil {
				releaseAll(cols)
				return nil, fmt.Errorf("column %q: cannot convert %s to %s: %v: %w",
					f.Name, col.DataType(), f.Type, err, contracts.ErrValidation)
			}
			col = converted
		}
		cols[i] = col
		if !f.Nullable && col.NullN() > 0 {
			releaseAll(cols)
			return nil, fmt.Errorf("column %q is not nullable but has %d nulls: %w", f.Name, col.NullN(), contracts.ErrValidation)
		}
	}
	conformed := array.NewRecord(out, cols, int64(n))
	releaseAll(cols)
	return conformed, nil
}

func convertColumn(col arrow.Array, dt arrow.DataType) (arrow.Array, error) {
	values := make([]interface{}, col.Len())
	for i := range values {
		v, err := arrowutil.ValueAt(col, i)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return arrowutil.BuildColumn(dt, values)
}

func conformAll(records []arrow.Record, schema *arrow.Schema) ([]arrow.Record, error) {
	out := make([]arrow.Record, 0, len(records))
	for _, rec := range records {
		c, err := Conform(rec, schema)
		if err != nil {
			releaseRecords(out)
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func releaseRecords(recs []arrow.Record) {
	for _, r := range recs {
		r.Release()
	}
}

// ParseFilter parses a predicate and checks its columns against schema.
func ParseFilter(filter string, schema *arrow.Schema) (expr.Expression, error) {
	if filter == "" {
		return nil, nil
	}
	e, err := expr.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("invalid filter %q: %v: %w", filter, err, contracts.ErrValidation)
	}
	if err := expr.CheckColumns(e, hasColumn(schema)); err != nil {
		return nil, fmt.Errorf("invalid filter %q: %v: %w", filter, err, contracts.ErrValidation)
	}
	return e, nil
}

func hasColumn(schema *arrow.Schema) func(string) bool {
	return func(name string) bool {
		return len(schema.FieldIndices(name)) > 0
	}
}

// Append adds records as new fragments. With overwrite the new version
// holds only these rows and no indices.
func (d *Dataset) Append(ctx context.Context, records []arrow.Record, overwrite bool) (*Snapshot, error) {
	op := "Append"
	if overwrite {
		op = "Overwrite"
	}
	return d.commit(ctx, op, func(m *Manifest) error {
		schema, err := m.ArrowSchema()
		if err != nil {
			return err
		}
		conformed, err := conformAll(records, schema)
		if err != nil {
			return err
		}
		defer releaseRecords(conformed)
		frags, err := d.writeFragments(ctx, m, conformed)
		if err != nil {
			return err
		}
		if overwrite {
			m.Fragments = frags
			m.Indices = nil
			return nil
		}
		m.Fragments = append(m.Fragments, frags...)
		return nil
	})
}
