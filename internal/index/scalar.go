// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package index

import (
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/universalmind303/lancedb/internal/arrowutil"
	"github.com/universalmind303/lancedb/internal/expr"
)

// ScalarIndex answers single-column predicates with the set of matching
// row addresses. ok is false when the predicate shape is not supported.
type ScalarIndex interface {
	Index
	Add(addrs []uint64, values []interface{}) error
	Query(p expr.Predicate) (result *roaring64.Bitmap, ok bool)
}

// BTree keeps values sorted for equality and range lookups.
type BTree struct {
	Type    arrow.DataType
	entries []btreeEntry
	nulls   *roaring64.Bitmap
}

type btreeEntry struct {
	value interface{}
	addr  uint64
}

func NewBTree(dt arrow.DataType) *BTree {
	return &BTree{Type: dt, nulls: roaring64.New()}
}

func (b *BTree) Kind() Kind { return KindBTree }

func (b *BTree) Len() int { return len(b.entries) + int(b.nulls.GetCardinality()) }

func (b *BTree) Add(addrs []uint64, values []interface{}) error {
	for i, v := range values {
		if v == nil {
			b.nulls.Add(addrs[i])
			continue
		}
		b.entries = append(b.entries, btreeEntry{value: expr.Normalize(v), addr: addrs[i]})
	}
	var sortErr error
	sort.SliceStable(b.entries, func(i, j int) bool {
		c, err := expr.Compare(b.entries[i].value, b.entries[j].value)
		if err != nil && sortErr == nil {
			sortErr = err
		}
		return c < 0
	})
	return sortErr
}

// lowerBound returns the first position whose value is >= v (or > v when strict).
func (b *BTree) lowerBound(v interface{}, strict bool) int {
	return sort.Search(len(b.entries), func(i int) bool {
		c, err := expr.Compare(b.entries[i].value, v)
		if err != nil {
			return true
		}
		if strict {
			return c > 0
		}
		return c >= 0
	})
}

func (b *BTree) collect(lo, hi int) *roaring64.Bitmap {
	out := roaring64.New()
	for i := lo; i < hi; i++ {
		out.Add(b.entries[i].addr)
	}
	return out
}

func (b *BTree) comparable(v interface{}) bool {
	if len(b.entries) == 0 {
		return true
	}
	_, err := expr.Compare(b.entries[0].value, v)
	return err == nil
}

func (b *BTree) Query(p expr.Predicate) (*roaring64.Bitmap, bool) {
	if p.Op == "IS NULL" {
		return b.nulls.Clone(), true
	}
	for _, v := range p.Values {
		if !b.comparable(v) {
			return nil, false
		}
	}
	n := len(b.entries)
	switch p.Op {
	case "=":
		return b.collect(b.lowerBound(p.Values[0], false), b.lowerBound(p.Values[0], true)), true
	case "IN":
		out := roaring64.New()
		for _, v := range p.Values {
			out.Or(b.collect(b.lowerBound(v, false), b.lowerBound(v, true)))
		}
		return out, true
	case "<":
		return b.collect(0, b.lowerBound(p.Values[0], false)), true
	case "<=":
		return b.collect(0, b.lowerBound(p.Values[0], true)), true
	case ">":
		return b.collect(b.lowerBound(p.Values[0], true), n), true
	case ">=":
		return b.collect(b.lowerBound(p.Values[0], false), n), true
	case "BETWEEN":
		lo, hi := b.lowerBound(p.Values[0], false), b.lowerBound(p.Values[1], true)
		if hi < lo {
			hi = lo
		}
		return b.collect(lo, hi), true
	case "!=":
		out := b.collect(0, b.lowerBound(p.Values[0], false))
		out.Or(b.collect(b.lowerBound(p.Values[0], true), n))
		return out, true
	}
	return nil, false
}

func (b *BTree) Retain(keep func(addr uint64) bool) int {
	dropped := 0
	w := 0
	for _, e := range b.entries {
		if keep(e.addr) {
			b.entries[w] = e
			w++
		} else {
			dropped++
		}
	}
	b.entries = b.entries[:w]
	dropped += retainBitmap(b.nulls, keep)
	return dropped
}

func (b *BTree) Encode() ([]byte, error) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "value", Type: b.Type, Nullable: true},
		{Name: "addr", Type: arrow.PrimitiveTypes.Uint64},
	}, nil)
	rb := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer rb.Release()
	ab := rb.Field(1).(*array.Uint64Builder)
	for _, e := range b.entries {
		if err := arrowutil.AppendValue(rb.Field(0), e.value); err != nil {
			return nil, err
		}
		ab.Append(e.addr)
	}
	for _, addr := range b.nulls.ToArray() {
		rb.Field(0).AppendNull()
		ab.Append(addr)
	}
	rec := rb.NewRecord()
	defer rec.Release()
	return encodeSections(rec)
}

func DecodeBTree(data []byte) (*BTree, error) {
	recs, err := decodeSections(data, 1)
	if err != nil {
		return nil, err
	}
	rec := recs[0]
	b := NewBTree(rec.Schema().Field(0).Type)
	addrs := rec.Column(1).(*array.Uint64)
	for i := 0; i < int(rec.NumRows()); i++ {
		v, err := arrowutil.ValueAt(rec.Column(0), i)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
		}
		if v == nil {
			b.nulls.Add(addrs.Value(i))
			continue
		}
		// Entries were written in sorted order.
		b.entries = append(b.entries, btreeEntry{value: expr.Normalize(v), addr: addrs.Value(i)})
	}
	return b, nil
}

// Bitmap maps each distinct value to the set of rows holding it. With
// Labels set the indexed column is a list and every element is a key.
type Bitmap struct {
	Type   arrow.DataType // element type
	Labels bool
	keys   map[string]*bitmapKey
	nulls  *roaring64.Bitmap
}

type bitmapKey struct {
	value interface{}
	rows  *roaring64.Bitmap
}

func NewBitmap(dt arrow.DataType) *Bitmap {
	return &Bitmap{Type: dt, keys: map[string]*bitmapKey{}, nulls: roaring64.New()}
}

// NewLabelList indexes a list column of elements of type elem.
func NewLabelList(elem arrow.DataType) *Bitmap {
	b := NewBitmap(elem)
	b.Labels = true
	return b
}

func (b *Bitmap) Kind() Kind {
	if b.Labels {
		return KindLabelList
	}
	return KindBitmap
}

func (b *Bitmap) Len() int {
	all := b.nulls.Clone()
	for _, k := range b.keys {
		all.Or(k.rows)
	}
	return int(all.GetCardinality())
}

func keyOf(v interface{}) string {
	return fmt.Sprintf("%T:%v", v, v)
}

func (b *Bitmap) addKey(v interface{}, addr uint64) {
	v = expr.Normalize(v)
	k := keyOf(v)
	entry, ok := b.keys[k]
	if !ok {
		entry = &bitmapKey{value: v, rows: roaring64.New()}
		b.keys[k] = entry
	}
	entry.rows.Add(addr)
}

func (b *Bitmap) Add(addrs []uint64, values []interface{}) error {
	for i, v := range values {
		if v == nil {
			b.nulls.Add(addrs[i])
			continue
		}
		if !b.Labels {
			b.addKey(v, addrs[i])
			continue
		}
		items, ok := v.([]interface{})
		if !ok {
			return fmt.Errorf("label list index expects list values, got %T", v)
		}
		for _, item := range items {
			if item != nil {
				b.addKey(item, addrs[i])
			}
		}
	}
	return nil
}

func (b *Bitmap) Query(p expr.Predicate) (*roaring64.Bitmap, bool) {
	if p.Op == "IS NULL" {
		return b.nulls.Clone(), true
	}
	if b.Labels {
		if p.Op != "HAS" {
			return nil, false
		}
		if k, ok := b.keys[keyOf(expr.Normalize(p.Values[0]))]; ok {
			return k.rows.Clone(), true
		}
		return b.scan(func(v interface{}) bool {
			c, err := expr.Compare(v, p.Values[0])
			return err == nil && c == 0
		}), true
	}
	if p.Op == "HAS" {
		return nil, false
	}
	return b.scan(p.Satisfies), true
}

// scan unions the rows of every key accepted by match. Keys are few, so
// range predicates walk them all.
func (b *Bitmap) scan(match func(interface{}) bool) *roaring64.Bitmap {
	out := roaring64.New()
	for _, k := range b.keys {
		if match(k.value) {
			out.Or(k.rows)
		}
	}
	return out
}

func (b *Bitmap) Retain(keep func(addr uint64) bool) int {
	// Count rows, not keys: a label row may appear under several keys.
	before := b.Len()
	for name, k := range b.keys {
		retainBitmap(k.rows, keep)
		if k.rows.IsEmpty() {
			delete(b.keys, name)
		}
	}
	retainBitmap(b.nulls, keep)
	return before - b.Len()
}

func (b *Bitmap) Encode() ([]byte, error) {
	md := arrow.NewMetadata([]string{"kind"}, []string{string(b.Kind())})
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "value", Type: b.Type, Nullable: true},
		{Name: "rows", Type: arrow.BinaryTypes.Binary},
	}, &md)
	rb := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer rb.Release()
	bin := rb.Field(1).(*array.BinaryBuilder)

	names := make([]string, 0, len(b.keys))
	for name := range b.keys {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		k := b.keys[name]
		raw, err := k.rows.ToBytes()
		if err != nil {
			return nil, err
		}
		if err := arrowutil.AppendValue(rb.Field(0), k.value); err != nil {
			return nil, err
		}
		bin.Append(raw)
	}
	raw, err := b.nulls.ToBytes()
	if err != nil {
		return nil, err
	}
	rb.Field(0).AppendNull()
	bin.Append(raw)

	rec := rb.NewRecord()
	defer rec.Release()
	return encodeSections(rec)
}

// DecodeBitmap restores a Bitmap or LabelList index.
func DecodeBitmap(data []byte) (*Bitmap, error) {
	recs, err := decodeSections(data, 1)
	if err != nil {
		return nil, err
	}
	rec := recs[0]
	b := NewBitmap(rec.Schema().Field(0).Type)
	b.Labels = metadataValue(rec.Schema().Metadata(), "kind") == string(KindLabelList)
	bin := rec.Column(1).(*array.Binary)
	for i := 0; i < int(rec.NumRows()); i++ {
		rows := roaring64.New()
		if err := rows.UnmarshalBinary(bin.Value(i)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
		}
		v, err := arrowutil.ValueAt(rec.Column(0), i)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
		}
		if v == nil {
			b.nulls = rows
			continue
		}
		v = expr.Normalize(v)
		b.keys[keyOf(v)] = &bitmapKey{value: v, rows: rows}
	}
	return b, nil
}

func retainBitmap(bm *roaring64.Bitmap, keep func(addr uint64) bool) int {
	dropped := 0
	for _, addr := range bm.ToArray() {
		if !keep(addr) {
			bm.Remove(addr)
			dropped++
		}
	}
	return dropped
}
