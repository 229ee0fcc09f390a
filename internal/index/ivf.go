// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package index

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

// IVFConfig controls training.
type IVFConfig struct {
	Metric        Metric
	NumPartitions int // 0 = sqrt(rows)
	MaxIterations int // 0 = 50
	SampleRate    int // training sample per partition, 0 = 256
	Seed          int64
}

// IVF is an inverted-file vector index. Vectors are clustered around
// k-means centroids; a query scans only the nprobes nearest partitions.
// Full vectors are kept in each partition, so distances are exact.
type IVF struct {
	Metric    Metric
	Dim       int
	Centroids [][]float32
	parts     []partition
}

type partition struct {
	addrs   []uint64
	vectors []float32 // flattened, Dim per row
}

// Neighbor is one search hit.
type Neighbor struct {
	Addr     uint64
	Distance float32
}

// TrainIVF clusters vectors and assigns each to its nearest centroid.
func TrainIVF(addrs []uint64, vectors [][]float32, cfg IVFConfig) (*IVF, error) {
	if len(addrs) != len(vectors) {
		return nil, fmt.Errorf("got %d addresses for %d vectors", len(addrs), len(vectors))
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("cannot train a vector index on an empty column")
	}
	dim := len(vectors[0])
	k := cfg.NumPartitions
	if k <= 0 {
		k = int(math.Sqrt(float64(len(vectors))))
	}
	k = max(1, min(k, len(vectors)))
	iters := cfg.MaxIterations
	if iters <= 0 {
		iters = 50
	}
	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 256
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	sample := vectors
	if limit := k * sampleRate; len(sample) > limit {
		perm := rng.Perm(len(vectors))[:limit]
		sample = make([][]float32, limit)
		for i, j := range perm {
			sample[i] = vectors[j]
		}
	}

	ix := &IVF{Metric: cfg.Metric, Dim: dim, Centroids: kmeans(sample, k, iters, cfg.Metric, rng)}
	ix.parts = make([]partition, len(ix.Centroids))
	if err := ix.Add(addrs, vectors); err != nil {
		return nil, err
	}
	return ix, nil
}

func kmeans(data [][]float32, k, iters int, metric Metric, rng *rand.Rand) [][]float32 {
	dim := len(data[0])
	centroids := make([][]float32, k)
	for i, j := range rng.Perm(len(data))[:k] {
		centroids[i] = append([]float32(nil), data[j]...)
	}
	assign := make([]int, len(data))
	for iter := 0; iter < iters; iter++ {
		changed := 0
		for i, v := range data {
			c := nearest(centroids, v, metric)
			if c != assign[i] || iter == 0 {
				changed++
			}
			assign[i] = c
		}
		sums := make([][]float64, k)
		counts := make([]int, k)
		for i := range sums {
			sums[i] = make([]float64, dim)
		}
		for i, v := range data {
			c := assign[i]
			counts[c]++
			for d, x := range v {
				sums[c][d] += float64(x)
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				// Re-seed empty clusters from a random point.
				copy(centroids[c], data[rng.Intn(len(data))])
				continue
			}
			for d := range centroids[c] {
				centroids[c][d] = float32(sums[c][d] / float64(counts[c]))
			}
		}
		if changed == 0 {
			break
		}
	}
	return centroids
}

func nearest(centroids [][]float32, v []float32, metric Metric) int {
	best, bestD := 0, float32(math.Inf(1))
	for i, c := range centroids {
		if d := Distance(metric, c, v); d < bestD {
			best, bestD = i, d
		}
	}
	return best
}

func (ix *IVF) Kind() Kind { return KindVector }

func (ix *IVF) Len() int {
	n := 0
	for _, p := range ix.parts {
		n += len(p.addrs)
	}
	return n
}

// Add assigns new vectors to existing partitions without retraining.
func (ix *IVF) Add(addrs []uint64, vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != ix.Dim {
			return fmt.Errorf("vector dimension %d does not match index dimension %d", len(v), ix.Dim)
		}
		c := nearest(ix.Centroids, v, ix.Metric)
		ix.parts[c].addrs = append(ix.parts[c].addrs, addrs[i])
		ix.parts[c].vectors = append(ix.parts[c].vectors, v...)
	}
	return nil
}

func (ix *IVF) Retain(keep func(addr uint64) bool) int {
	dropped := 0
	for pi := range ix.parts {
		p := &ix.parts[pi]
		w := 0
		for r, addr := range p.addrs {
			if !keep(addr) {
				dropped++
				continue
			}
			p.addrs[w] = addr
			copy(p.vectors[w*ix.Dim:(w+1)*ix.Dim], p.vectors[r*ix.Dim:(r+1)*ix.Dim])
			w++
		}
		p.addrs = p.addrs[:w]
		p.vectors = p.vectors[:w*ix.Dim]
	}
	return dropped
}

// Search returns up to k neighbors ordered by ascending distance. accept,
// when non-nil, filters candidates before they compete for the top k.
func (ix *IVF) Search(query []float32, k, nprobes int, metric Metric, accept func(addr uint64) bool) ([]Neighbor, error) {
	if len(query) != ix.Dim {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(query), ix.Dim)
	}
	if nprobes <= 0 {
		nprobes = 20
	}
	nprobes = min(nprobes, len(ix.Centroids))

	order := make([]int, len(ix.Centroids))
	dists := make([]float32, len(ix.Centroids))
	for i, c := range ix.Centroids {
		order[i] = i
		dists[i] = Distance(ix.Metric, c, query)
	}
	sort.Slice(order, func(a, b int) bool { return dists[order[a]] < dists[order[b]] })

	top := NewTopK(k)
	for _, pi := range order[:nprobes] {
		p := ix.parts[pi]
		for r, addr := range p.addrs {
			if accept != nil && !accept(addr) {
				continue
			}
			top.Push(Neighbor{Addr: addr, Distance: Distance(metric, query, p.vectors[r*ix.Dim:(r+1)*ix.Dim])})
		}
	}
	return top.Sorted(), nil
}

// TopK keeps the k smallest-distance neighbors seen.
type TopK struct {
	k int
	h neighborHeap
}

func NewTopK(k int) *TopK {
	return &TopK{k: k}
}

func (t *TopK) Push(n Neighbor) {
	if t.k <= 0 {
		return
	}
	if len(t.h) < t.k {
		heap.Push(&t.h, n)
		return
	}
	if n.Distance < t.h[0].Distance {
		t.h[0] = n
		heap.Fix(&t.h, 0)
	}
}

// Sorted returns the kept neighbors by ascending distance, ties by address.
func (t *TopK) Sorted() []Neighbor {
	out := append([]Neighbor(nil), t.h...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Addr < out[j].Addr
	})
	return out
}

// neighborHeap is a max-heap on distance.
type neighborHeap []Neighbor

func (h neighborHeap) Len() int            { return len(h) }
func (h neighborHeap) Less(i, j int) bool  { return h[i].Distance > h[j].Distance }
func (h neighborHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *neighborHeap) Push(x interface{}) { *h = append(*h, x.(Neighbor)) }
func (h *neighborHeap) Pop() interface{} {
	old := *h
	n := old[len(old)-1]
	*h = old[:len(old)-1]
	return n
}

var ivfEntrySchema = func(dim int) *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "partition", Type: arrow.PrimitiveTypes.Int32},
		{Name: "addr", Type: arrow.PrimitiveTypes.Uint64},
		{Name: "vector", Type: arrow.FixedSizeListOf(int32(dim), arrow.PrimitiveTypes.Float32)},
	}, nil)
}

// Encode writes two IPC streams: centroids, then entries.
func (ix *IVF) Encode() ([]byte, error) {
	mem := memory.DefaultAllocator
	md := arrow.NewMetadata([]string{"metric", "dim"}, []string{ix.Metric.String(), fmt.Sprint(ix.Dim)})
	centroidSchema := arrow.NewSchema([]arrow.Field{
		{Name: "centroid", Type: arrow.FixedSizeListOf(int32(ix.Dim), arrow.PrimitiveTypes.Float32)},
	}, &md)
	cb := array.NewRecordBuilder(mem, centroidSchema)
	defer cb.Release()
	fl := cb.Field(0).(*array.FixedSizeListBuilder)
	for _, c := range ix.Centroids {
		fl.Append(true)
		fl.ValueBuilder().(*array.Float32Builder).AppendValues(c, nil)
	}
	centroids := cb.NewRecord()
	defer centroids.Release()

	eb := array.NewRecordBuilder(mem, ivfEntrySchema(ix.Dim))
	defer eb.Release()
	pb := eb.Field(0).(*array.Int32Builder)
	ab := eb.Field(1).(*array.Uint64Builder)
	vb := eb.Field(2).(*array.FixedSizeListBuilder)
	for pi, p := range ix.parts {
		for r, addr := range p.addrs {
			pb.Append(int32(pi))
			ab.Append(addr)
			vb.Append(true)
			vb.ValueBuilder().(*array.Float32Builder).AppendValues(p.vectors[r*ix.Dim:(r+1)*ix.Dim], nil)
		}
	}
	entries := eb.NewRecord()
	defer entries.Release()

	return encodeSections(centroids, entries)
}

// DecodeIVF restores an index written by IVF.Encode.
func DecodeIVF(data []byte) (*IVF, error) {
	recs, err := decodeSections(data, 2)
	if err != nil {
		return nil, err
	}
	centroids, entries := recs[0], recs[1]
	md := centroids.Schema().Metadata()
	metric, err := ParseMetric(metadataValue(md, "metric"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}
	fsl, ok := centroids.Column(0).(*array.FixedSizeList)
	if !ok {
		return nil, fmt.Errorf("%w: centroid column", ErrCorruptIndex)
	}
	dim := int(fsl.DataType().(*arrow.FixedSizeListType).Len())
	values := fsl.ListValues().(*array.Float32).Float32Values()

	ix := &IVF{Metric: metric, Dim: dim}
	for i := 0; i < fsl.Len(); i++ {
		start := (fsl.Offset() + i) * dim
		ix.Centroids = append(ix.Centroids, append([]float32(nil), values[start:start+dim]...))
	}
	ix.parts = make([]partition, len(ix.Centroids))

	parts := entries.Column(0).(*array.Int32)
	addrs := entries.Column(1).(*array.Uint64)
	vecs := entries.Column(2).(*array.FixedSizeList)
	vvals := vecs.ListValues().(*array.Float32).Float32Values()
	for i := 0; i < int(entries.NumRows()); i++ {
		pi := int(parts.Value(i))
		if pi < 0 || pi >= len(ix.parts) {
			return nil, fmt.Errorf("%w: partition %d", ErrCorruptIndex, pi)
		}
		start := (vecs.Offset() + i) * dim
		ix.parts[pi].addrs = append(ix.parts[pi].addrs, addrs.Value(i))
		ix.parts[pi].vectors = append(ix.parts[pi].vectors, vvals[start:start+dim]...)
	}
	return ix, nil
}
