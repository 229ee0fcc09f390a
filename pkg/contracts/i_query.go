// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package contracts

import (
	"context"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
)

// IQueryBuilder describes a plain scan. Builder methods return a new
// builder and never touch storage; only Execute, ExecuteAsync, Iterate and
// ToRows run the query.
type IQueryBuilder interface {
	Select(columns ...string) IQueryBuilder
	Filter(condition string) IQueryBuilder
	Limit(limit int) IQueryBuilder
	Offset(offset int) IQueryBuilder
	WithRowID() IQueryBuilder
	ApplyOptions(options *QueryOptions) IQueryBuilder
	Execute(ctx context.Context) ([]arrow.Record, error)
	ExecuteAsync(ctx context.Context) (<-chan []arrow.Record, <-chan error)
	Iterate(ctx context.Context) (array.RecordReader, error)
	ToRows(ctx context.Context) ([]map[string]interface{}, error)
}

// IVectorQueryBuilder describes a vector similarity query. Results carry a
// _distance column and are ordered by ascending distance.
type IVectorQueryBuilder interface {
	Select(columns ...string) IVectorQueryBuilder
	Filter(condition string) IVectorQueryBuilder
	Limit(limit int) IVectorQueryBuilder
	Offset(offset int) IVectorQueryBuilder
	WithRowID() IVectorQueryBuilder
	Column(name string) IVectorQueryBuilder
	DistanceType(distance DistanceType) IVectorQueryBuilder
	Nprobes(n int) IVectorQueryBuilder
	RefineFactor(factor int) IVectorQueryBuilder
	Postfilter() IVectorQueryBuilder
	BypassVectorIndex() IVectorQueryBuilder
	ApplyOptions(options *QueryOptions) IVectorQueryBuilder
	Execute(ctx context.Context) ([]arrow.Record, error)
	ExecuteAsync(ctx context.Context) (<-chan []arrow.Record, <-chan error)
	Iterate(ctx context.Context) (array.RecordReader, error)
	ToRows(ctx context.Context) ([]map[string]interface{}, error)
}

// IFullTextQueryBuilder describes a full-text query. Results carry a _score
// column and are ordered by descending score.
type IFullTextQueryBuilder interface {
	Select(columns ...string) IFullTextQueryBuilder
	Filter(condition string) IFullTextQueryBuilder
	Limit(limit int) IFullTextQueryBuilder
	WithRowID() IFullTextQueryBuilder
	Column(name string) IFullTextQueryBuilder
	Execute(ctx context.Context) ([]arrow.Record, error)
	Iterate(ctx context.Context) (array.RecordReader, error)
	ToRows(ctx context.Context) ([]map[string]interface{}, error)
}

// IMergeInsertBuilder configures an upsert. With no clause configured,
// Execute fails with ErrValidation.
type IMergeInsertBuilder interface {
	// WhenMatchedUpdateAll replaces matched rows with the incoming row.
	// A non-empty condition restricts the update to target rows matching it.
	WhenMatchedUpdateAll(condition string) IMergeInsertBuilder
	WhenNotMatchedInsertAll() IMergeInsertBuilder
	// WhenNotMatchedBySourceDelete deletes target rows without an incoming key.
	WhenNotMatchedBySourceDelete(condition string) IMergeInsertBuilder
	Execute(ctx context.Context, records []arrow.Record) error
}

// QueryOptions provides additional configuration for queries
type QueryOptions struct {
	MaxResults        int
	UseFullPrecision  bool
	BypassVectorIndex bool
}

// DistanceType represents vector distance metrics
type DistanceType int

const (
	DistanceTypeL2 DistanceType = iota
	DistanceTypeCosine
	DistanceTypeDot
	DistanceTypeHamming
)

func (d DistanceType) String() string {
	switch d {
	case DistanceTypeCosine:
		return "cosine"
	case DistanceTypeDot:
		return "dot"
	case DistanceTypeHamming:
		return "hamming"
	default:
		return "l2"
	}
}

// ParseDistanceType accepts the names produced by DistanceType.String.
func ParseDistanceType(s string) (DistanceType, bool) {
	switch s {
	case "l2", "euclidean", "":
		return DistanceTypeL2, true
	case "cosine":
		return DistanceTypeCosine, true
	case "dot":
		return DistanceTypeDot, true
	case "hamming":
		return DistanceTypeHamming, true
	}
	return DistanceTypeL2, false
}
