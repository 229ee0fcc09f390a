// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package dataset

import (
	"context"
	"fmt"
	"strings"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/spaolacci/murmur3"

	"github.com/universalmind303/lancedb/internal/arrowutil"
	"github.com/universalmind303/lancedb/internal/expr"
	"github.com/universalmind303/lancedb/pkg/contracts"
)

const (
	sourcePrefix = "source."
	targetPrefix = "target."
)

// MergeSpec describes an upsert keyed on On. Conditions may qualify columns
// with "source." or "target."; unqualified names refer to the target row.
type MergeSpec struct {
	On []string

	UpdateMatched    bool
	MatchedCondition string

	InsertNotMatched bool

	DeleteNotMatchedBySource    bool
	NotMatchedBySourceCondition string
}

// MergeStats counts the rows touched by a merge.
type MergeStats struct {
	Inserted int64
	Updated  int64
	Deleted  int64
}

// joinRow resolves qualified column names against a target/source pair.
type joinRow struct {
	target *recordRow
	source *recordRow
}

func (r joinRow) Get(column string) (interface{}, bool) {
	switch {
	case strings.HasPrefix(column, sourcePrefix):
		if r.source == nil {
			return nil, true
		}
		return r.source.Get(strings.TrimPrefix(column, sourcePrefix))
	case strings.HasPrefix(column, targetPrefix):
		return r.target.Get(strings.TrimPrefix(column, targetPrefix))
	}
	return r.target.Get(column)
}

func parseJoinCondition(cond string, schema *arrow.Schema) (expr.Expression, error) {
	if cond == "" {
		return nil, nil
	}
	e, err := expr.Parse(cond)
	if err != nil {
		return nil, fmt.Errorf("invalid merge condition %q: %v: %w", cond, err, contracts.ErrValidation)
	}
	has := hasColumn(schema)
	err = expr.CheckColumns(e, func(name string) bool {
		name = strings.TrimPrefix(strings.TrimPrefix(name, sourcePrefix), targetPrefix)
		return has(name)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid merge condition %q: %v: %w", cond, err, contracts.ErrValidation)
	}
	return e, nil
}

// keyTable maps the hashed key of every source row to its row index.
type keyTable struct {
	rec     arrow.Record
	cols    []int
	buckets map[uint64][]int
}

// keyOf returns the key values of row i, or nil if any of them is null.
func keyOf(rec arrow.Record, cols []int, i int) ([]interface{}, error) {
	key := make([]interface{}, len(cols))
	for j, c := range cols {
		v, err := arrowutil.ValueAt(rec.Column(c), i)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, nil
		}
		key[j] = expr.Normalize(v)
	}
	return key, nil
}

func hashKey(key []interface{}) uint64 {
	h := murmur3.New64()
	for _, v := range key {
		fmt.Fprintf(h, "%T:%v\x00", v, v)
	}
	return h.Sum64()
}

func sameKey(a, b []interface{}) bool {
	for i := range a {
		if c, err := expr.Compare(a[i], b[i]); err != nil || c != 0 {
			return false
		}
	}
	return true
}

func newKeyTable(rec arrow.Record, on []string) (*keyTable, error) {
	kt := &keyTable{rec: rec, buckets: map[uint64][]int{}}
	for _, name := range on {
		kt.cols = append(kt.cols, rec.Schema().FieldIndices(name)[0])
	}
	for i := 0; i < int(rec.NumRows()); i++ {
		key, err := keyOf(rec, kt.cols, i)
		if err != nil {
			return nil, err
		}
		if key == nil {
			continue
		}
		if _, dup := kt.lookup(key); dup {
			return nil, fmt.Errorf("source has duplicate key %v: %w", key, contracts.ErrValidation)
		}
		h := hashKey(key)
		kt.buckets[h] = append(kt.buckets[h], i)
	}
	return kt, nil
}

func (kt *keyTable) lookup(key []interface{}) (int, bool) {
	for _, i := range kt.buckets[hashKey(key)] {
		other, err := keyOf(kt.rec, kt.cols, i)
		if err == nil && sameKey(key, other) {
			return i, true
		}
	}
	return 0, false
}

// MergeInsert reconciles records against the table in one version. Source
// keys must be unique; rows with a null key never match.
func (d *Dataset) MergeInsert(ctx context.Context, spec MergeSpec, records []arrow.Record) (*Snapshot, *MergeStats, error) {
	if len(spec.On) == 0 {
		return nil, nil, fmt.Errorf("merge insert requires at least one key column: %w", contracts.ErrValidation)
	}
	if !spec.UpdateMatched && !spec.InsertNotMatched && !spec.DeleteNotMatchedBySource {
		return nil, nil, fmt.Errorf("merge insert has no clause configured: %w", contracts.ErrValidation)
	}
	stats := &MergeStats{}
	snap, err := d.commit(ctx, "Merge", func(m *Manifest) error {
		*stats = MergeStats{}
		schema, err := m.ArrowSchema()
		if err != nil {
			return err
		}
		logical := StripFieldIDs(schema)
		for _, c := range spec.On {
			if !hasColumn(logical)(c) {
				return fmt.Errorf("merge key %q: %w", c, contracts.ErrNotFound)
			}
		}
		matchedCond, err := parseJoinCondition(spec.MatchedCondition, logical)
		if err != nil {
			return err
		}
		bySourceCond, err := parseJoinCondition(spec.NotMatchedBySourceCondition, logical)
		if err != nil {
			return err
		}

		conformed, err := conformAll(records, schema)
		if err != nil {
			return err
		}
		source, err := arrowutil.Concat(logical, conformed)
		releaseRecords(conformed)
		if err != nil {
			return err
		}
		defer source.Release()
		keys, err := newKeyTable(source, spec.On)
		if err != nil {
			return err
		}

		fds, err := d.readFragments(ctx, schema, m.Fragments)
		if err != nil {
			return err
		}
		defer releaseFragments(fds)

		sourceRow := newRecordRow(source)
		matched := make([]bool, source.NumRows())
		var (
			emit      []int64
			deletions = map[uint32][]int{}
		)
		for _, fd := range fds {
			targetRow := newRecordRow(fd.rec)
			cols := make([]int, len(spec.On))
			for j, name := range spec.On {
				cols[j] = fd.rec.Schema().FieldIndices(name)[0]
			}
			for i := 0; i < int(fd.rec.NumRows()); i++ {
				if !fd.live(i) {
					continue
				}
				targetRow.i = i
				key, err := keyOf(fd.rec, cols, i)
				if err != nil {
					return err
				}
				si, found := -1, false
				if key != nil {
					si, found = keys.lookup(key)
				}
				if found {
					matched[si] = true
					if !spec.UpdateMatched {
						continue
					}
					sourceRow.i = si
					ok, err := evalJoin(matchedCond, joinRow{target: targetRow, source: sourceRow})
					if err != nil {
						return err
					}
					if ok {
						deletions[fd.frag.ID] = append(deletions[fd.frag.ID], i)
						emit = append(emit, int64(si))
						stats.Updated++
					}
					continue
				}
				if spec.DeleteNotMatchedBySource {
					ok, err := evalJoin(bySourceCond, joinRow{target: targetRow})
					if err != nil {
						return err
					}
					if ok {
						deletions[fd.frag.ID] = append(deletions[fd.frag.ID], i)
						stats.Deleted++
					}
				}
			}
		}
		if spec.InsertNotMatched {
			for i := range matched {
				if !matched[i] {
					emit = append(emit, int64(i))
					stats.Inserted++
				}
			}
		}

		if err := d.applyDeletions(ctx, m, deletions); err != nil {
			return err
		}
		if len(emit) == 0 {
			return nil
		}
		rows, err := arrowutil.Take(ctx, source, emit)
		if err != nil {
			return err
		}
		defer rows.Release()
		frags, err := d.writeFragments(ctx, m, []arrow.Record{rows})
		if err != nil {
			return err
		}
		m.Fragments = append(m.Fragments, frags...)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return snap, stats, nil
}

func evalJoin(cond expr.Expression, row joinRow) (bool, error) {
	if cond == nil {
		return true, nil
	}
	ok, err := expr.Matches(cond, row)
	if err != nil {
		return false, fmt.Errorf("evaluate merge condition: %v: %w", err, contracts.ErrValidation)
	}
	return ok, nil
}
