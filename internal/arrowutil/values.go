// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

// Package arrowutil converts between Arrow arrays and plain Go values.
package arrowutil

import (
	"fmt"
	"math"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/float16"
)

// ValueAt returns the Go value of arr[i], or nil when it is null.
// Integers and floats keep their Arrow width, vectors become []float32 or
// []float64, timestamps and dates become time.Time.
//
//nolint:gocyclo
func ValueAt(arr arrow.Array, i int) (interface{}, error) {
	if arr.IsNull(i) {
		return nil, nil
	}
	switch a := arr.(type) {
	case *array.Int8:
		return a.Value(i), nil
	case *array.Int16:
		return a.Value(i), nil
	case *array.Int32:
		return a.Value(i), nil
	case *array.Int64:
		return a.Value(i), nil
	case *array.Uint8:
		return a.Value(i), nil
	case *array.Uint16:
		return a.Value(i), nil
	case *array.Uint32:
		return a.Value(i), nil
	case *array.Uint64:
		return a.Value(i), nil
	case *array.Float16:
		return a.Value(i).Float32(), nil
	case *array.Float32:
		return a.Value(i), nil
	case *array.Float64:
		return a.Value(i), nil
	case *array.Boolean:
		return a.Value(i), nil
	case *array.String:
		return a.Value(i), nil
	case *array.LargeString:
		return a.Value(i), nil
	case *array.Binary:
		return append([]byte(nil), a.Value(i)...), nil
	case *array.LargeBinary:
		return append([]byte(nil), a.Value(i)...), nil
	case *array.FixedSizeBinary:
		return append([]byte(nil), a.Value(i)...), nil
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return a.Value(i).ToTime(unit), nil
	case *array.Date32:
		return a.Value(i).ToTime(), nil
	case *array.Date64:
		return a.Value(i).ToTime(), nil
	case *array.FixedSizeList:
		n := int(a.DataType().(*arrow.FixedSizeListType).Len())
		start := (a.Offset() + i) * n
		return listValues(a.ListValues(), start, start+n)
	case *array.List:
		start, end := a.ValueOffsets(i)
		return listValues(a.ListValues(), int(start), int(end))
	case *array.LargeList:
		start, end := a.ValueOffsets(i)
		return listValues(a.ListValues(), int(start), int(end))
	case *array.Struct:
		st := a.DataType().(*arrow.StructType)
		out := make(map[string]interface{}, a.NumField())
		for f := 0; f < a.NumField(); f++ {
			v, err := ValueAt(a.Field(f), i)
			if err != nil {
				return nil, err
			}
			out[st.Field(f).Name] = v
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported Arrow type: %s", arr.DataType())
}

func listValues(values arrow.Array, start, end int) (interface{}, error) {
	switch v := values.(type) {
	case *array.Float32:
		out := make([]float32, end-start)
		copy(out, v.Float32Values()[start:end])
		return out, nil
	case *array.Float64:
		out := make([]float64, end-start)
		copy(out, v.Float64Values()[start:end])
		return out, nil
	case *array.Float16:
		out := make([]float32, end-start)
		for j := start; j < end; j++ {
			out[j-start] = v.Value(j).Float32()
		}
		return out, nil
	}
	out := make([]interface{}, 0, end-start)
	for j := start; j < end; j++ {
		item, err := ValueAt(values, j)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// RecordToRows converts a record into one map per row keyed by column name.
func RecordToRows(rec arrow.Record) ([]map[string]interface{}, error) {
	rows := make([]map[string]interface{}, rec.NumRows())
	for i := range rows {
		rows[i] = make(map[string]interface{}, rec.NumCols())
	}
	for c, field := range rec.Schema().Fields() {
		col := rec.Column(c)
		for i := range rows {
			v, err := ValueAt(col, i)
			if err != nil {
				return nil, fmt.Errorf("failed to convert column %s: %w", field.Name, err)
			}
			rows[i][field.Name] = v
		}
	}
	return rows, nil
}

// AppendValue appends v to b, converting between Go numeric types as long
// as the value fits the column type. A nil v appends a null.
//
//nolint:gocyclo
func AppendValue(b array.Builder, v interface{}) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch bb := b.(type) {
	case *array.Int8Builder:
		n, err := toInt(v, math.MinInt8, math.MaxInt8)
		bb.Append(int8(n))
		return err
	case *array.Int16Builder:
		n, err := toInt(v, math.MinInt16, math.MaxInt16)
		bb.Append(int16(n))
		return err
	case *array.Int32Builder:
		n, err := toInt(v, math.MinInt32, math.MaxInt32)
		bb.Append(int32(n))
		return err
	case *array.Int64Builder:
		n, err := toInt(v, math.MinInt64, math.MaxInt64)
		bb.Append(n)
		return err
	case *array.Uint8Builder:
		n, err := toInt(v, 0, math.MaxUint8)
		bb.Append(uint8(n))
		return err
	case *array.Uint16Builder:
		n, err := toInt(v, 0, math.MaxUint16)
		bb.Append(uint16(n))
		return err
	case *array.Uint32Builder:
		n, err := toInt(v, 0, math.MaxUint32)
		bb.Append(uint32(n))
		return err
	case *array.Uint64Builder:
		if u, ok := v.(uint64); ok {
			bb.Append(u)
			return nil
		}
		n, err := toInt(v, 0, math.MaxInt64)
		bb.Append(uint64(n))
		return err
	case *array.Float16Builder:
		f, err := toFloat(v)
		bb.Append(float16.New(float32(f)))
		return err
	case *array.Float32Builder:
		f, err := toFloat(v)
		bb.Append(float32(f))
		return err
	case *array.Float64Builder:
		f, err := toFloat(v)
		bb.Append(f)
		return err
	case *array.BooleanBuilder:
		x, ok := v.(bool)
		if !ok {
			bb.AppendNull()
			return typeError(v, "bool")
		}
		bb.Append(x)
		return nil
	case *array.StringBuilder:
		s, ok := v.(string)
		if !ok {
			bb.AppendNull()
			return typeError(v, "string")
		}
		bb.Append(s)
		return nil
	case *array.LargeStringBuilder:
		s, ok := v.(string)
		if !ok {
			bb.AppendNull()
			return typeError(v, "string")
		}
		bb.Append(s)
		return nil
	case *array.BinaryBuilder:
		switch x := v.(type) {
		case []byte:
			bb.Append(x)
		case string:
			bb.AppendString(x)
		default:
			bb.AppendNull()
			return typeError(v, "binary")
		}
		return nil
	case *array.TimestampBuilder:
		unit := bb.Type().(*arrow.TimestampType).Unit
		switch x := v.(type) {
		case time.Time:
			ts, err := arrow.TimestampFromTime(x, unit)
			bb.Append(ts)
			return err
		default:
			n, err := toInt(v, math.MinInt64, math.MaxInt64)
			bb.Append(arrow.Timestamp(n))
			return err
		}
	case *array.Date32Builder:
		x, ok := v.(time.Time)
		if !ok {
			bb.AppendNull()
			return typeError(v, "date")
		}
		bb.Append(arrow.Date32FromTime(x))
		return nil
	case *array.FixedSizeListBuilder:
		n := int(bb.Type().(*arrow.FixedSizeListType).Len())
		items, err := toList(v)
		if err != nil {
			bb.AppendNull()
			return err
		}
		if len(items) != n {
			bb.AppendNull()
			return fmt.Errorf("expected %d list items, got %d", n, len(items))
		}
		bb.Append(true)
		for _, item := range items {
			if err := AppendValue(bb.ValueBuilder(), item); err != nil {
				return err
			}
		}
		return nil
	case *array.ListBuilder:
		items, err := toList(v)
		if err != nil {
			bb.AppendNull()
			return err
		}
		bb.Append(true)
		for _, item := range items {
			if err := AppendValue(bb.ValueBuilder(), item); err != nil {
				return err
			}
		}
		return nil
	}
	b.AppendNull()
	return fmt.Errorf("unsupported builder %T", b)
}

func typeError(v interface{}, want string) error {
	return fmt.Errorf("cannot use %T value as %s", v, want)
}

func toInt(v interface{}, lo, hi int64) (int64, error) {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int8:
		n = int64(x)
	case int16:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case uint8:
		n = int64(x)
	case uint16:
		n = int64(x)
	case uint32:
		n = int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("value %d out of range", x)
		}
		n = int64(x)
	case float32:
		if float64(x) != math.Trunc(float64(x)) {
			return 0, fmt.Errorf("cannot use fractional value %v as integer", x)
		}
		n = int64(x)
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("cannot use fractional value %v as integer", x)
		}
		n = int64(x)
	default:
		return 0, typeError(v, "integer")
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("value %d out of range [%d, %d]", n, lo, hi)
	}
	return n, nil
}

func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int8:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	}
	return 0, typeError(v, "float")
}

func toList(v interface{}) ([]interface{}, error) {
	switch x := v.(type) {
	case []interface{}:
		return x, nil
	case []float32:
		out := make([]interface{}, len(x))
		for i, f := range x {
			out[i] = f
		}
		return out, nil
	case []float64:
		out := make([]interface{}, len(x))
		for i, f := range x {
			out[i] = f
		}
		return out, nil
	case []int64:
		out := make([]interface{}, len(x))
		for i, f := range x {
			out[i] = f
		}
		return out, nil
	case []string:
		out := make([]interface{}, len(x))
		for i, f := range x {
			out[i] = f
		}
		return out, nil
	}
	return nil, typeError(v, "list")
}
