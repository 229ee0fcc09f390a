// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package index

import (
	"fmt"
	"strings"

	"github.com/viterin/vek/vek32"
)

// Metric is a vector distance function.
type Metric int

const (
	MetricL2 Metric = iota
	MetricCosine
	MetricDot
	MetricHamming
)

func (m Metric) String() string {
	switch m {
	case MetricCosine:
		return "cosine"
	case MetricDot:
		return "dot"
	case MetricHamming:
		return "hamming"
	default:
		return "l2"
	}
}

// ParseMetric accepts the names produced by Metric.String.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(s) {
	case "", "l2", "euclidean":
		return MetricL2, nil
	case "cosine":
		return MetricCosine, nil
	case "dot":
		return MetricDot, nil
	case "hamming":
		return MetricHamming, nil
	}
	return MetricL2, fmt.Errorf("unknown distance type %q", s)
}

// Distance returns the distance between a and b; smaller is closer.
// L2 is squared euclidean, cosine is 1 - cosine similarity and dot is
// 1 - dot product. Hamming counts positions whose non-zero-ness differs.
func Distance(m Metric, a, b []float32) float32 {
	switch m {
	case MetricCosine:
		if vek32.Norm(a) == 0 || vek32.Norm(b) == 0 {
			return 1
		}
		return 1 - vek32.CosineSimilarity(a, b)
	case MetricDot:
		return 1 - vek32.Dot(a, b)
	case MetricHamming:
		var d float32
		for i := range a {
			if (a[i] != 0) != (b[i] != 0) {
				d++
			}
		}
		return d
	default:
		d := vek32.Distance(a, b)
		return d * d
	}
}
