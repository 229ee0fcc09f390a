// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package index

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/blevesearch/bleve/v2"
)

const ftsField = "text"

// FTS is a full-text index over one string column. Documents are persisted
// as (addr, text) pairs and the inverted index is rebuilt in memory on load.
type FTS struct {
	docs  map[uint64]string
	index bleve.Index
}

// Hit is one full-text match.
type Hit struct {
	Addr  uint64
	Score float64
}

func NewFTS() (*FTS, error) {
	mapping := bleve.NewIndexMapping()
	idx, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, fmt.Errorf("failed to create full-text index: %w", err)
	}
	return &FTS{docs: map[uint64]string{}, index: idx}, nil
}

func (f *FTS) Kind() Kind { return KindFTS }

func (f *FTS) Len() int { return len(f.docs) }

// Add indexes text values; nil values are skipped.
func (f *FTS) Add(addrs []uint64, values []interface{}) error {
	batch := f.index.NewBatch()
	for i, v := range values {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("full-text index expects string values, got %T", v)
		}
		f.docs[addrs[i]] = s
		if err := batch.Index(strconv.FormatUint(addrs[i], 10), map[string]interface{}{ftsField: s}); err != nil {
			return err
		}
	}
	return f.index.Batch(batch)
}

// Search returns up to limit hits by descending score. accept, when
// non-nil, filters documents before the limit applies.
func (f *FTS) Search(text string, limit int, accept func(addr uint64) bool) ([]Hit, error) {
	if len(f.docs) == 0 || limit <= 0 {
		return nil, nil
	}
	q := bleve.NewMatchQuery(text)
	q.SetField(ftsField)
	req := bleve.NewSearchRequestOptions(q, len(f.docs), 0, false)
	res, err := f.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("full-text search failed: %w", err)
	}
	hits := make([]Hit, 0, min(limit, len(res.Hits)))
	for _, h := range res.Hits {
		addr, err := strconv.ParseUint(h.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: document id %q", ErrCorruptIndex, h.ID)
		}
		if accept != nil && !accept(addr) {
			continue
		}
		hits = append(hits, Hit{Addr: addr, Score: h.Score})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Addr < hits[j].Addr
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (f *FTS) Retain(keep func(addr uint64) bool) int {
	dropped := 0
	for addr := range f.docs {
		if keep(addr) {
			continue
		}
		delete(f.docs, addr)
		_ = f.index.Delete(strconv.FormatUint(addr, 10))
		dropped++
	}
	return dropped
}

func (f *FTS) Close() error {
	return f.index.Close()
}

var ftsSchema = arrow.NewSchema([]arrow.Field{
	{Name: "addr", Type: arrow.PrimitiveTypes.Uint64},
	{Name: "text", Type: arrow.BinaryTypes.String},
}, nil)

func (f *FTS) Encode() ([]byte, error) {
	addrs := make([]uint64, 0, len(f.docs))
	for addr := range f.docs {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	rb := array.NewRecordBuilder(memory.DefaultAllocator, ftsSchema)
	defer rb.Release()
	ab := rb.Field(0).(*array.Uint64Builder)
	tb := rb.Field(1).(*array.StringBuilder)
	for _, addr := range addrs {
		ab.Append(addr)
		tb.Append(f.docs[addr])
	}
	rec := rb.NewRecord()
	defer rec.Release()
	return encodeSections(rec)
}

func DecodeFTS(data []byte) (*FTS, error) {
	recs, err := decodeSections(data, 1)
	if err != nil {
		return nil, err
	}
	rec := recs[0]
	addrCol, ok1 := rec.Column(0).(*array.Uint64)
	textCol, ok2 := rec.Column(1).(*array.String)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%w: unexpected full-text layout", ErrCorruptIndex)
	}
	f, err := NewFTS()
	if err != nil {
		return nil, err
	}
	addrs := make([]uint64, rec.NumRows())
	values := make([]interface{}, rec.NumRows())
	for i := range addrs {
		addrs[i] = addrCol.Value(i)
		values[i] = textCol.Value(i)
	}
	if err := f.Add(addrs, values); err != nil {
		return nil, err
	}
	return f, nil
}
