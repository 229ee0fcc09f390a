// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package index

import (
	"math"
	"testing"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/universalmind303/lancedb/internal/expr"
)

func TestDistance(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	assert.InDelta(t, 2.0, Distance(MetricL2, a, b), 1e-6)
	assert.InDelta(t, 1.0, Distance(MetricCosine, a, b), 1e-6)
	assert.InDelta(t, 0.0, Distance(MetricCosine, a, a), 1e-6)
	assert.InDelta(t, 1.0, Distance(MetricCosine, a, []float32{0, 0}), 1e-6)
	assert.InDelta(t, 1.0, Distance(MetricDot, a, b), 1e-6)
	assert.Equal(t, float32(2), Distance(MetricHamming, a, b))

	m, err := ParseMetric("COSINE")
	require.NoError(t, err)
	assert.Equal(t, MetricCosine, m)
	_, err = ParseMetric("manhattan")
	assert.Error(t, err)
}

func TestRowAddress(t *testing.T) {
	addr := RowAddress(3, 17)
	assert.Equal(t, uint32(3), FragmentOf(addr))
	assert.Equal(t, uint64(17), addr&math.MaxUint32)
}

func gridVectors(n int) ([]uint64, [][]float32) {
	addrs := make([]uint64, n)
	vecs := make([][]float32, n)
	for i := 0; i < n; i++ {
		addrs[i] = RowAddress(uint32(i/100), uint32(i%100))
		vecs[i] = []float32{float32(i), float32(i % 7)}
	}
	return addrs, vecs
}

func TestIVFSearchFindsExactNeighbor(t *testing.T) {
	addrs, vecs := gridVectors(500)
	ix, err := TrainIVF(addrs, vecs, IVFConfig{Metric: MetricL2, NumPartitions: 8, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, 500, ix.Len())
	assert.Len(t, ix.Centroids, 8)

	hits, err := ix.Search([]float32{250, 250 % 7}, 3, 8, MetricL2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, addrs[250], hits[0].Addr)
	assert.Equal(t, float32(0), hits[0].Distance)
	for i := 1; i < len(hits); i++ {
		assert.LessOrEqual(t, hits[i-1].Distance, hits[i].Distance)
	}

	_, err = ix.Search([]float32{1, 2, 3}, 3, 8, MetricL2, nil)
	assert.Error(t, err)
}

func TestIVFAcceptAndRetain(t *testing.T) {
	addrs, vecs := gridVectors(200)
	ix, err := TrainIVF(addrs, vecs, IVFConfig{Metric: MetricL2, NumPartitions: 4})
	require.NoError(t, err)

	notFirst := func(addr uint64) bool { return FragmentOf(addr) != 0 }
	hits, err := ix.Search([]float32{0, 0}, 5, 4, MetricL2, notFirst)
	require.NoError(t, err)
	for _, h := range hits {
		assert.Equal(t, uint32(1), FragmentOf(h.Addr))
	}

	dropped := ix.Retain(notFirst)
	assert.Equal(t, 100, dropped)
	assert.Equal(t, 100, ix.Len())
}

func TestIVFEncodeDecode(t *testing.T) {
	addrs, vecs := gridVectors(300)
	ix, err := TrainIVF(addrs, vecs, IVFConfig{Metric: MetricCosine, NumPartitions: 5})
	require.NoError(t, err)
	data, err := ix.Encode()
	require.NoError(t, err)

	decoded, err := Decode(KindVector, data)
	require.NoError(t, err)
	back := decoded.(*IVF)
	assert.Equal(t, MetricCosine, back.Metric)
	assert.Equal(t, 2, back.Dim)
	assert.Equal(t, ix.Centroids, back.Centroids)
	assert.Equal(t, 300, back.Len())

	want, _ := ix.Search(vecs[42], 4, 5, MetricCosine, nil)
	got, _ := back.Search(vecs[42], 4, 5, MetricCosine, nil)
	assert.Equal(t, want, got)
}

func TestTrainIVFErrors(t *testing.T) {
	_, err := TrainIVF(nil, nil, IVFConfig{})
	assert.Error(t, err)
	_, err = TrainIVF([]uint64{1}, [][]float32{{1}, {2}}, IVFConfig{})
	assert.Error(t, err)
}

func TestTopK(t *testing.T) {
	top := NewTopK(2)
	for i, d := range []float32{5, 1, 3, 0.5} {
		top.Push(Neighbor{Addr: uint64(i), Distance: d})
	}
	got := top.Sorted()
	require.Len(t, got, 2)
	assert.Equal(t, uint64(3), got[0].Addr)
	assert.Equal(t, uint64(1), got[1].Addr)
}

func pred(t *testing.T, filter string) expr.Predicate {
	t.Helper()
	e, err := expr.Parse(filter)
	require.NoError(t, err)
	p, ok := expr.AsPredicate(e)
	require.True(t, ok, filter)
	return p
}

func TestBTreeQueries(t *testing.T) {
	b := NewBTree(arrow.PrimitiveTypes.Int32)
	require.NoError(t, b.Add(
		[]uint64{0, 1, 2, 3, 4, 5},
		[]interface{}{int32(5), int32(1), int32(3), nil, int32(3), int32(9)},
	))
	assert.Equal(t, 6, b.Len())

	cases := map[string][]uint64{
		"x = 3":             {2, 4},
		"x != 3":            {0, 1, 5},
		"x < 3":             {1},
		"x <= 3":            {1, 2, 4},
		"x > 3":             {0, 5},
		"x >= 5":            {0, 5},
		"x IN (1, 9)":       {1, 5},
		"x BETWEEN 2 AND 5": {0, 2, 4},
		"x BETWEEN 6 AND 2": {},
		"x IS NULL":         {3},
		"7 < x":             {5},
	}
	for filter, want := range cases {
		got, ok := b.Query(pred(t, filter))
		require.True(t, ok, filter)
		assert.ElementsMatch(t, want, got.ToArray(), filter)
	}

	_, ok := b.Query(pred(t, "x = 'abc'"))
	assert.False(t, ok)

	data, err := b.Encode()
	require.NoError(t, err)
	back, err := DecodeBTree(data)
	require.NoError(t, err)
	got, _ := back.Query(pred(t, "x >= 3"))
	assert.ElementsMatch(t, []uint64{0, 2, 4, 5}, got.ToArray())
	got, _ = back.Query(pred(t, "x IS NULL"))
	assert.Equal(t, []uint64{3}, got.ToArray())

	assert.Equal(t, 2, back.Retain(func(addr uint64) bool { return addr > 1 }))
	got, _ = back.Query(pred(t, "x < 100"))
	assert.ElementsMatch(t, []uint64{2, 4, 5}, got.ToArray())
}

func TestBitmapQueries(t *testing.T) {
	b := NewBitmap(arrow.BinaryTypes.String)
	require.NoError(t, b.Add(
		[]uint64{10, 11, 12, 13},
		[]interface{}{"red", "blue", "red", nil},
	))
	got, ok := b.Query(pred(t, "color = 'red'"))
	require.True(t, ok)
	assert.Equal(t, []uint64{10, 12}, got.ToArray())

	got, _ = b.Query(pred(t, "color IN ('blue', 'green')"))
	assert.Equal(t, []uint64{11}, got.ToArray())

	got, _ = b.Query(pred(t, "color IS NULL"))
	assert.Equal(t, []uint64{13}, got.ToArray())

	_, ok = b.Query(pred(t, "array_has(color, 'red')"))
	assert.False(t, ok)

	data, err := b.Encode()
	require.NoError(t, err)
	decoded, err := Decode(KindBitmap, data)
	require.NoError(t, err)
	assert.Equal(t, KindBitmap, decoded.Kind())
	assert.Equal(t, 4, decoded.Len())

	assert.Equal(t, 1, b.Retain(func(addr uint64) bool { return addr != 12 }))
	got, _ = b.Query(pred(t, "color = 'red'"))
	assert.Equal(t, []uint64{10}, got.ToArray())
}

func TestLabelListQueries(t *testing.T) {
	b := NewLabelList(arrow.BinaryTypes.String)
	require.NoError(t, b.Add(
		[]uint64{1, 2, 3},
		[]interface{}{[]interface{}{"a", "b"}, []interface{}{"b"}, nil},
	))
	assert.Equal(t, KindLabelList, b.Kind())
	assert.Equal(t, 3, b.Len())

	got, ok := b.Query(pred(t, "array_has(tags, 'b')"))
	require.True(t, ok)
	assert.Equal(t, []uint64{1, 2}, got.ToArray())

	got, ok = b.Query(pred(t, "array_has(tags, 'z')"))
	require.True(t, ok)
	assert.True(t, got.IsEmpty())

	_, ok = b.Query(pred(t, "tags = 'a'"))
	assert.False(t, ok)

	assert.Error(t, b.Add([]uint64{4}, []interface{}{"not a list"}))

	data, err := b.Encode()
	require.NoError(t, err)
	back, err := DecodeBitmap(data)
	require.NoError(t, err)
	assert.True(t, back.Labels)
	got, _ = back.Query(pred(t, "array_has(tags, 'a')"))
	assert.Equal(t, []uint64{1}, got.ToArray())
}

func TestFTSSearch(t *testing.T) {
	f, err := NewFTS()
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.Add(
		[]uint64{1, 2, 3, 4},
		[]interface{}{"the quick brown fox", "lazy dogs sleep", "a quick quick fox jumps", nil},
	))
	assert.Equal(t, 3, f.Len())

	hits, err := f.Search("quick fox", 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	addrs := []uint64{hits[0].Addr, hits[1].Addr}
	assert.ElementsMatch(t, []uint64{1, 3}, addrs)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)

	hits, err = f.Search("quick", 10, func(addr uint64) bool { return addr != 3 })
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, uint64(1), hits[0].Addr)

	hits, err = f.Search("fox", 1, nil)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	data, err := f.Encode()
	require.NoError(t, err)
	back, err := DecodeFTS(data)
	require.NoError(t, err)
	defer back.Close()
	hits, err = back.Search("dogs", 5, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, uint64(2), hits[0].Addr)

	assert.Equal(t, 1, back.Retain(func(addr uint64) bool { return addr != 2 }))
	hits, err = back.Search("dogs", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestDecodeCorrupt(t *testing.T) {
	_, err := Decode(KindBTree, []byte{1, 2})
	assert.ErrorIs(t, err, ErrCorruptIndex)
	_, err = Decode("nope", nil)
	assert.ErrorIs(t, err, ErrCorruptIndex)
}
