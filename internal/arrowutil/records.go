// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package arrowutil

import (
	"context"
	"fmt"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/compute"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

// Concat merges records sharing schema into a single record.
func Concat(schema *arrow.Schema, records []arrow.Record) (arrow.Record, error) {
	if len(records) == 1 {
		records[0].Retain()
		return records[0], nil
	}
	if len(records) == 0 {
		return EmptyRecord(schema), nil
	}
	cols := make([]arrow.Array, schema.NumFields())
	for c := range cols {
		parts := make([]arrow.Array, len(records))
		for i, rec := range records {
			parts[i] = rec.Column(c)
		}
		arr, err := array.Concatenate(parts, memory.DefaultAllocator)
		if err != nil {
			release(cols[:c])
			return nil, fmt.Errorf("concatenate column %s: %w", schema.Field(c).Name, err)
		}
		cols[c] = arr
	}
	var rows int64
	for _, rec := range records {
		rows += rec.NumRows()
	}
	rec := array.NewRecord(schema, cols, rows)
	release(cols)
	return rec, nil
}

func release(arrs []arrow.Array) {
	for _, a := range arrs {
		a.Release()
	}
}

// EmptyRecord returns a zero-row record with schema.
func EmptyRecord(schema *arrow.Schema) arrow.Record {
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	return b.NewRecord()
}

// NullArray returns an all-null array of length n.
func NullArray(dt arrow.DataType, n int) arrow.Array {
	return array.MakeArrayOfNull(memory.DefaultAllocator, dt, n)
}

// Take returns the rows of rec at the given indices, in that order.
func Take(ctx context.Context, rec arrow.Record, indices []int64) (arrow.Record, error) {
	ib := array.NewInt64Builder(memory.DefaultAllocator)
	defer ib.Release()
	ib.AppendValues(indices, nil)
	idx := ib.NewInt64Array()
	defer idx.Release()

	cols := make([]arrow.Array, rec.NumCols())
	for c := range cols {
		arr, err := compute.TakeArray(ctx, rec.Column(c), idx)
		if err != nil {
			release(cols[:c])
			return nil, fmt.Errorf("take column %s: %w", rec.ColumnName(c), err)
		}
		cols[c] = arr
	}
	out := array.NewRecord(rec.Schema(), cols, int64(len(indices)))
	release(cols)
	return out, nil
}

// Filter keeps the rows of rec whose mask entry is true.
func Filter(ctx context.Context, rec arrow.Record, mask []bool) (arrow.Record, error) {
	bb := array.NewBooleanBuilder(memory.DefaultAllocator)
	defer bb.Release()
	bb.AppendValues(mask, nil)
	m := bb.NewBooleanArray()
	defer m.Release()
	return compute.FilterRecordBatch(ctx, rec, m, compute.DefaultFilterOptions())
}

// Project reorders and subsets the columns of rec to match names.
func Project(rec arrow.Record, names []string) (arrow.Record, error) {
	fields := make([]arrow.Field, len(names))
	cols := make([]arrow.Array, len(names))
	for i, name := range names {
		idx := rec.Schema().FieldIndices(name)
		if len(idx) == 0 {
			return nil, fmt.Errorf("column %q not found", name)
		}
		fields[i] = rec.Schema().Field(idx[0])
		cols[i] = rec.Column(idx[0])
	}
	md := rec.Schema().Metadata()
	return array.NewRecord(arrow.NewSchema(fields, &md), cols, rec.NumRows()), nil
}

// BuildColumn builds an array of type dt from Go values.
func BuildColumn(dt arrow.DataType, values []interface{}) (arrow.Array, error) {
	b := array.NewBuilder(memory.DefaultAllocator, dt)
	defer b.Release()
	for i, v := range values {
		if err := AppendValue(b, v); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
	}
	return b.NewArray(), nil
}
