// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package dataset

import (
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"

	"github.com/universalmind303/lancedb/internal/arrowutil"
	"github.com/universalmind303/lancedb/internal/expr"
	"github.com/universalmind303/lancedb/pkg/contracts"
)

// applyDeletions marks rows deleted. Fragments left without live rows are
// removed from m. The deletion files are written for version m.Version+1.
func (d *Dataset) applyDeletions(ctx context.Context, m *Manifest, deletions map[uint32][]int) error {
	kept := m.Fragments[:0]
	for _, frag := range m.Fragments {
		offsets := deletions[frag.ID]
		if len(offsets) == 0 {
			kept = append(kept, frag)
			continue
		}
		existing, err := d.readDeletion(ctx, frag.Deletion)
		if err != nil {
			return err
		}
		bm := existing.Clone()
		for _, off := range offsets {
			bm.Add(uint32(off))
		}
		if int64(bm.GetCardinality()) >= frag.PhysicalRows {
			continue
		}
		del, err := d.writeDeletion(ctx, frag.ID, m.Version+1, bm)
		if err != nil {
			return err
		}
		frag.Deletion = del
		kept = append(kept, frag)
	}
	m.Fragments = kept
	return nil
}

// Delete removes the rows matching filter. A filter matching nothing still
// produces a new version.
func (d *Dataset) Delete(ctx context.Context, filter string) (*Snapshot, error) {
	if filter == "" {
		return nil, fmt.Errorf("delete requires a predicate: %w", contracts.ErrValidation)
	}
	return d.commit(ctx, "Delete", func(m *Manifest) error {
		schema, err := m.ArrowSchema()
		if err != nil {
			return err
		}
		pred, err := ParseFilter(filter, StripFieldIDs(schema))
		if err != nil {
			return err
		}
		fds, err := d.readFragments(ctx, schema, m.Fragments)
		if err != nil {
			return err
		}
		defer releaseFragments(fds)

		deletions := map[uint32][]int{}
		for _, fd := range fds {
			offsets, err := matching(fd, pred)
			if err != nil {
				return fmt.Errorf("evaluate filter: %v: %w", err, contracts.ErrValidation)
			}
			if len(offsets) > 0 {
				deletions[fd.frag.ID] = offsets
			}
		}
		return d.applyDeletions(ctx, m, deletions)
	})
}

// Update rewrites the rows matching filter (every row when filter is
// empty). Each assignment is evaluated against the original row. Updated
// rows move to a new fragment and their old copies are deleted.
func (d *Dataset) Update(ctx context.Context, filter string, assignments map[string]expr.Expression) (*Snapshot, error) {
	if len(assignments) == 0 {
		return nil, fmt.Errorf("update requires at least one column: %w", contracts.ErrValidation)
	}
	return d.commit(ctx, "Update", func(m *Manifest) error {
		schema, err := m.ArrowSchema()
		if err != nil {
			return err
		}
		logical := StripFieldIDs(schema)
		pred, err := ParseFilter(filter, logical)
		if err != nil {
			return err
		}
		for col, e := range assignments {
			if !hasColumn(logical)(col) {
				return fmt.Errorf("update column %q: %w", col, contracts.ErrNotFound)
			}
			if err := expr.CheckColumns(e, hasColumn(logical)); err != nil {
				return fmt.Errorf("update column %q: %v: %w", col, err, contracts.ErrValidation)
			}
		}

		fds, err := d.readFragments(ctx, schema, m.Fragments)
		if err != nil {
			return err
		}
		defer releaseFragments(fds)

		deletions := map[uint32][]int{}
		var updated []arrow.Record
		defer func() { releaseRecords(updated) }()
		for _, fd := range fds {
			offsets, err := matching(fd, pred)
			if err != nil {
				return fmt.Errorf("evaluate filter: %v: %w", err, contracts.ErrValidation)
			}
			if len(offsets) == 0 {
				continue
			}
			rec, err := rewriteRows(ctx, fd.rec, offsets, assignments)
			if err != nil {
				return err
			}
			updated = append(updated, rec)
			deletions[fd.frag.ID] = offsets
		}
		conformed, err := conformAll(updated, schema)
		if err != nil {
			return err
		}
		defer releaseRecords(conformed)
		if err := d.applyDeletions(ctx, m, deletions); err != nil {
			return err
		}
		frags, err := d.writeFragments(ctx, m, conformed)
		if err != nil {
			return err
		}
		m.Fragments = append(m.Fragments, frags...)
		return nil
	})
}

// rewriteRows takes rows at offsets from rec and replaces assigned columns
// with the evaluated expressions.
func rewriteRows(ctx context.Context, rec arrow.Record, offsets []int, assignments map[string]expr.Expression) (arrow.Record, error) {
	taken, err := takeOffsets(ctx, rec, offsets)
	if err != nil {
		return nil, err
	}
	defer taken.Release()

	row := newRecordRow(rec)
	cols := make([]arrow.Array, rec.NumCols())
	for c, f := range rec.Schema().Fields() {
		e, ok := assignments[f.Name]
		if !ok {
			col := taken.Column(c)
			col.Retain()
			cols[c] = col
			continue
		}
		values := make([]interface{}, len(offsets))
		for i, off := range offsets {
			row.i = off
			v, err := expr.Eval(e, row)
			if err != nil {
				releaseAll(cols)
				return nil, fmt.Errorf("update column %q: %v: %w", f.Name, err, contracts.ErrValidation)
			}
			values[i] = v
		}
		col, err := arrowutil.BuildColumn(f.Type, values)
		if err != nil {
			releaseAll(cols)
			return nil, fmt.Errorf("update column %q: %v: %w", f.Name, err, contracts.ErrValidation)
		}
		cols[c] = col
	}
	out := array.NewRecord(rec.Schema(), cols, int64(len(offsets)))
	releaseAll(cols)
	return out, nil
}

// Restore publishes the content of version as the newest version.
func (d *Dataset) Restore(ctx context.Context, version int) (*Snapshot, error) {
	target, err := d.loadManifest(ctx, version)
	if err != nil {
		return nil, err
	}
	return d.commit(ctx, "Restore", func(m *Manifest) error {
		restored := target.clone()
		m.Schema = restored.Schema
		m.schema = nil
		m.Fragments = restored.Fragments
		m.Indices = restored.Indices
		m.MaxFieldID = max(m.MaxFieldID, restored.MaxFieldID)
		m.NextFragmentID = max(m.NextFragmentID, restored.NextFragmentID)
		return nil
	})
}

// AddColumns computes new columns for every fragment and stores them in
// new data files alongside the existing ones.
func (d *Dataset) AddColumns(ctx context.Context, transforms []contracts.ColumnTransform) (*Snapshot, error) {
	if len(transforms) == 0 {
		return nil, fmt.Errorf("no columns to add: %w", contracts.ErrValidation)
	}
	return d.commit(ctx, "AddColumns", func(m *Manifest) error {
		schema, err := m.ArrowSchema()
		if err != nil {
			return err
		}
		logical := StripFieldIDs(schema)
		exprs := make([]expr.Expression, len(transforms))
		seen := map[string]bool{}
		for i, t := range transforms {
			if t.Name == "" {
				return fmt.Errorf("column name is empty: %w", contracts.ErrValidation)
			}
			if hasColumn(logical)(t.Name) || seen[t.Name] {
				return fmt.Errorf("column %q: %w", t.Name, contracts.ErrAlreadyExists)
			}
			seen[t.Name] = true
			e, err := ParseFilter(t.Expression, logical)
			if err != nil {
				return err
			}
			if e == nil {
				return fmt.Errorf("column %q has no expression: %w", t.Name, contracts.ErrValidation)
			}
			exprs[i] = e
		}

		fds, err := d.readFragments(ctx, schema, m.Fragments)
		if err != nil {
			return err
		}
		defer releaseFragments(fds)

		// values[f][t] holds transform t evaluated over fragment f.
		values := make([][][]interface{}, len(fds))
		for fi, fd := range fds {
			values[fi] = make([][]interface{}, len(exprs))
			row := newRecordRow(fd.rec)
			for ti, e := range exprs {
				vals := make([]interface{}, fd.rec.NumRows())
				for i := range vals {
					if !fd.live(i) {
						continue
					}
					row.i = i
					v, err := expr.Eval(e, row)
					if err != nil {
						return fmt.Errorf("column %q: %v: %w", transforms[ti].Name, err, contracts.ErrValidation)
					}
					vals[i] = v
				}
				values[fi][ti] = vals
			}
		}

		fields := append([]arrow.Field(nil), schema.Fields()...)
		ids := make([]int, len(exprs))
		types := make([]arrow.DataType, len(exprs))
		for ti, e := range exprs {
			var all []interface{}
			for fi := range values {
				all = append(all, values[fi][ti]...)
			}
			dt, err := inferType(e, all)
			if err != nil {
				return fmt.Errorf("column %q: %v: %w", transforms[ti].Name, err, contracts.ErrValidation)
			}
			m.MaxFieldID++
			ids[ti] = m.MaxFieldID
			types[ti] = dt
			fields = append(fields, withFieldID(arrow.Field{Name: transforms[ti].Name, Type: dt, Nullable: true}, m.MaxFieldID))
		}

		for fi, fd := range fds {
			cols := make([]arrow.Array, len(exprs))
			for ti := range exprs {
				col, err := arrowutil.BuildColumn(types[ti], values[fi][ti])
				if err != nil {
					releaseAll(cols)
					return fmt.Errorf("column %q: %v: %w", transforms[ti].Name, err, contracts.ErrValidation)
				}
				cols[ti] = col
			}
			df, err := d.writeDataFile(ctx, ids, cols, fd.frag.PhysicalRows)
			releaseAll(cols)
			if err != nil {
				return err
			}
			for i := range m.Fragments {
				if m.Fragments[i].ID == fd.frag.ID {
					m.Fragments[i].Files = append(m.Fragments[i].Files, df)
				}
			}
		}
		md := schema.Metadata()
		return m.setSchema(arrow.NewSchema(fields, &md))
	})
}

// inferType picks the Arrow type of a computed column from its expression
// and its values.
func inferType(e expr.Expression, values []interface{}) (arrow.DataType, error) {
	if c, ok := e.(*expr.CastExpr); ok {
		switch c.Type {
		case "int", "integer", "bigint":
			return arrow.PrimitiveTypes.Int64, nil
		case "float", "double", "real":
			return arrow.PrimitiveTypes.Float64, nil
		case "boolean", "bool":
			return arrow.FixedWidthTypes.Boolean, nil
		default:
			return arrow.BinaryTypes.String, nil
		}
	}
	for _, v := range values {
		switch x := v.(type) {
		case nil:
			continue
		case int64:
			return arrow.PrimitiveTypes.Int64, nil
		case float64:
			return arrow.PrimitiveTypes.Float64, nil
		case string:
			return arrow.BinaryTypes.String, nil
		case bool:
			return arrow.FixedWidthTypes.Boolean, nil
		case time.Time:
			return arrow.FixedWidthTypes.Timestamp_us, nil
		case []byte:
			return arrow.BinaryTypes.Binary, nil
		case []float32:
			return arrow.FixedSizeListOf(int32(len(x)), arrow.PrimitiveTypes.Float32), nil
		case []float64:
			return arrow.FixedSizeListOf(int32(len(x)), arrow.PrimitiveTypes.Float64), nil
		default:
			return nil, fmt.Errorf("cannot store values of type %T", v)
		}
	}
	return arrow.BinaryTypes.String, nil
}

// AlterColumns applies schema-only changes. Making a column non-nullable
// fails when live rows hold nulls.
func (d *Dataset) AlterColumns(ctx context.Context, alterations []contracts.ColumnAlteration) (*Snapshot, error) {
	if len(alterations) == 0 {
		return nil, fmt.Errorf("no alterations given: %w", contracts.ErrValidation)
	}
	return d.commit(ctx, "AlterColumns", func(m *Manifest) error {
		schema, err := m.ArrowSchema()
		if err != nil {
			return err
		}
		fields := append([]arrow.Field(nil), schema.Fields()...)
		find := func(name string) int {
			for i, f := range fields {
				if f.Name == name {
					return i
				}
			}
			return -1
		}
		for _, alt := range alterations {
			i := find(alt.Path)
			if i < 0 {
				return fmt.Errorf("column %q: %w", alt.Path, contracts.ErrNotFound)
			}
			if alt.Nullable != nil {
				if !*alt.Nullable && fields[i].Nullable {
					if err := d.checkNoNulls(ctx, m, schema, fields[i]); err != nil {
						return err
					}
				}
				fields[i].Nullable = *alt.Nullable
			}
			if alt.Rename != nil && *alt.Rename != alt.Path {
				newName := *alt.Rename
				if newName == "" {
					return fmt.Errorf("column %q: empty new name: %w", alt.Path, contracts.ErrValidation)
				}
				if find(newName) >= 0 {
					return fmt.Errorf("column %q: %w", newName, contracts.ErrAlreadyExists)
				}
				fields[i].Name = newName
				for j := range m.Indices {
					for k, c := range m.Indices[j].Columns {
						if c == alt.Path {
							m.Indices[j].Columns[k] = newName
						}
					}
				}
			}
		}
		md := schema.Metadata()
		return m.setSchema(arrow.NewSchema(fields, &md))
	})
}

func (d *Dataset) checkNoNulls(ctx context.Context, m *Manifest, schema *arrow.Schema, field arrow.Field) error {
	sub := arrow.NewSchema([]arrow.Field{field}, nil)
	fds, err := d.readFragments(ctx, sub, m.Fragments)
	if err != nil {
		return err
	}
	defer releaseFragments(fds)
	for _, fd := range fds {
		col := fd.rec.Column(0)
		for i := 0; i < col.Len(); i++ {
			if fd.live(i) && col.IsNull(i) {
				return fmt.Errorf("column %q contains nulls: %w", field.Name, contracts.ErrValidation)
			}
		}
	}
	return nil
}

// DropColumns removes columns from the schema. Their bytes stay in the
// data files until compaction rewrites them. Indices on dropped columns
// are removed.
func (d *Dataset) DropColumns(ctx context.Context, columns []string) (*Snapshot, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("no columns to drop: %w", contracts.ErrValidation)
	}
	return d.commit(ctx, "DropColumns", func(m *Manifest) error {
		schema, err := m.ArrowSchema()
		if err != nil {
			return err
		}
		drop := map[string]bool{}
		for _, c := range columns {
			if !hasColumn(schema)(c) {
				return fmt.Errorf("column %q: %w", c, contracts.ErrNotFound)
			}
			drop[c] = true
		}
		var fields []arrow.Field
		for _, f := range schema.Fields() {
			if !drop[f.Name] {
				fields = append(fields, f)
			}
		}
		if len(fields) == 0 {
			return fmt.Errorf("cannot drop every column: %w", contracts.ErrValidation)
		}
		indices := m.Indices[:0]
		for _, ix := range m.Indices {
			if !drop[ix.Columns[0]] {
				indices = append(indices, ix)
			}
		}
		m.Indices = indices
		md := schema.Metadata()
		return m.setSchema(arrow.NewSchema(fields, &md))
	})
}
