// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package contracts

import (
	"strings"
	"time"
)

// IndexType represents the type of index to create
type IndexType int

const (
	IndexTypeAuto IndexType = iota
	IndexTypeIvfPq
	IndexTypeIvfFlat
	IndexTypeHnswPq
	IndexTypeHnswSq
	IndexTypeBTree
	IndexTypeBitmap
	IndexTypeLabelList
	IndexTypeFts
)

var indexTypeNames = map[IndexType]string{
	IndexTypeAuto:      "auto",
	IndexTypeIvfPq:     "IVF_PQ",
	IndexTypeIvfFlat:   "IVF_FLAT",
	IndexTypeHnswPq:    "IVF_HNSW_PQ",
	IndexTypeHnswSq:    "IVF_HNSW_SQ",
	IndexTypeBTree:     "BTREE",
	IndexTypeBitmap:    "BITMAP",
	IndexTypeLabelList: "LABEL_LIST",
	IndexTypeFts:       "FTS",
}

func (t IndexType) String() string {
	if s, ok := indexTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

// ParseIndexType is the inverse of IndexType.String. Matching is case-insensitive.
func ParseIndexType(s string) (IndexType, bool) {
	for t, name := range indexTypeNames {
		if strings.EqualFold(name, s) {
			return t, true
		}
	}
	return IndexTypeAuto, false
}

// IsVector reports whether the index type ranks rows by vector distance.
func (t IndexType) IsVector() bool {
	switch t {
	case IndexTypeIvfPq, IndexTypeIvfFlat, IndexTypeHnswPq, IndexTypeHnswSq:
		return true
	}
	return false
}

// IndexInfo represents information about an index on a table
type IndexInfo struct {
	Name      string   `json:"name"`
	Columns   []string `json:"columns"`
	IndexType string   `json:"index_type"`
}

// IndexConfig describes a registered index as returned by ListIndices.
type IndexConfig struct {
	Name         string   `json:"name"`
	Columns      []string `json:"columns"`
	IndexType    string   `json:"index_type"`
	DistanceType string   `json:"distance_type,omitempty"`
}

// IndexStats reports how much of the table an index covers.
type IndexStats struct {
	IndexType        string `json:"index_type"`
	DistanceType     string `json:"distance_type,omitempty"`
	NumIndexedRows   int64  `json:"num_indexed_rows"`
	NumUnindexedRows int64  `json:"num_unindexed_rows"`
	NumIndices       int    `json:"num_indices"`
}

// IndexOptions configures CreateIndexWithOptions. Nil fields take defaults.
type IndexOptions struct {
	IndexType IndexType
	Name      *string
	// Replace an existing index on the same column. Defaults to true.
	Replace      *bool
	DistanceType *DistanceType
	// IVF partitions; defaults to sqrt(num_rows).
	NumPartitions *int
	MaxIterations *int
	SampleRate    *int
}

// QueryConfig represents the configuration for a select query
type QueryConfig struct {
	Columns      []string      `json:"columns,omitempty"`
	Where        string        `json:"where,omitempty"`
	Limit        *int          `json:"limit,omitempty"`
	Offset       *int          `json:"offset,omitempty"`
	VectorSearch *VectorSearch `json:"vector_search,omitempty"`
	FTSSearch    *FTSSearch    `json:"fts_search,omitempty"`
}

// VectorSearch represents vector similarity search parameters
type VectorSearch struct {
	Column string    `json:"column"`
	Vector []float32 `json:"vector"`
	K      int       `json:"k"`
}

// FTSSearch represents full-text search parameters
type FTSSearch struct {
	Column string `json:"column"`
	Query  string `json:"query"`
}

// QueryResult represents the result of a select query
type QueryResult struct {
	Rows []map[string]interface{} `json:"rows"`
}

// Expr marks an Update value as an SQL expression evaluated against the
// existing row, e.g. Expr("price * 2"). Any other value is a literal.
type Expr string

// ColumnTransform defines a new column computed from an SQL expression.
type ColumnTransform struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
}

// ColumnAlteration renames a column or changes its nullability.
type ColumnAlteration struct {
	Path     string  `json:"path"`
	Rename   *string `json:"rename,omitempty"`
	Nullable *bool   `json:"nullable,omitempty"`
}

// VersionInfo describes one committed version of a table.
type VersionInfo struct {
	Version   int               `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Operation string            `json:"operation"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// TableStats summarises the physical layout of the current version.
type TableStats struct {
	NumRows           int64 `json:"num_rows"`
	NumDeletedRows    int64 `json:"num_deleted_rows"`
	NumFragments      int   `json:"num_fragments"`
	NumSmallFragments int   `json:"num_small_fragments"`
	NumDataFiles      int   `json:"num_data_files"`
	TotalBytes        int64 `json:"total_bytes"`
}

// OptimizeOptions configures Optimize.
type OptimizeOptions struct {
	// Versions older than this are pruned. Defaults to 7 days.
	CleanupOlderThan *time.Duration
	// Fragments with fewer physical rows are compaction candidates.
	TargetRowsPerFragment *int
	// Fraction of deleted rows above which a fragment is rewritten.
	MaterializeDeletionsThreshold *float64
}

// OptimizeStats aggregates the work done by the three optimize phases.
type OptimizeStats struct {
	FragmentsRemoved int   `json:"fragments_removed"`
	FragmentsAdded   int   `json:"fragments_added"`
	FilesRemoved     int   `json:"files_removed"`
	FilesAdded       int   `json:"files_added"`
	VersionsPruned   int   `json:"versions_pruned"`
	BytesRemoved     int64 `json:"bytes_removed"`
	IndicesUpdated   int   `json:"indices_updated"`
}
