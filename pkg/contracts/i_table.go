// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package contracts

import (
	"context"

	"github.com/apache/arrow/go/v17/arrow"
)

// ITable represents the interface for LanceDB table operations.
// Both the native and the remote backend implement it; operations a backend
// cannot serve fail with ErrUnsupported rather than doing nothing.
type ITable interface {
	// Name returns the name of the table
	Name() string

	// IsOpen returns true if the table is currently open and available for operations
	IsOpen() bool

	// Close closes the table and releases associated resources. Calling it
	// more than once is safe.
	Close() error

	// Schema returns the Arrow schema of the table
	Schema(ctx context.Context) (*arrow.Schema, error)

	// Add inserts a single Arrow Record into the table
	Add(ctx context.Context, record arrow.Record, options *AddDataOptions) error

	// AddRecords adds multiple records as a single new version
	AddRecords(ctx context.Context, records []arrow.Record, options *AddDataOptions) error

	// Query creates a new query builder for constructing complex queries
	Query() IQueryBuilder

	// Search creates a vector similarity query for the given target vector
	Search(vector []float32) IVectorQueryBuilder

	// SearchText embeds text with the table's embedding function and creates
	// a vector similarity query for the result
	SearchText(text string) IVectorQueryBuilder

	// FullTextQuery creates a full-text query against an FTS-indexed column
	FullTextQuery(text string) IFullTextQueryBuilder

	// Count returns the total number of rows in the table
	Count(ctx context.Context) (int64, error)

	// CountRows returns the number of rows matching filter, or all rows when filter is empty
	CountRows(ctx context.Context, filter string) (int64, error)

	// Version returns the current version number of the table
	Version(ctx context.Context) (int, error)

	// ListVersions returns every version that has not been pruned
	ListVersions(ctx context.Context) ([]VersionInfo, error)

	// Checkout pins the table to a past version. Mutations fail until
	// CheckoutLatest or Restore is called.
	Checkout(ctx context.Context, version int) error

	// CheckoutLatest returns the table to tracking the latest version
	CheckoutLatest(ctx context.Context) error

	// Restore commits the checked out version's content as a new latest version
	Restore(ctx context.Context) error

	// Update modifies existing records in the table based on the given filter.
	// Values are literals unless they are of type Expr. An empty filter updates every row.
	Update(ctx context.Context, filter string, updates map[string]interface{}) error

	// Delete removes records from the table that match the given filter
	Delete(ctx context.Context, filter string) error

	// CreateIndex creates an index on the specified columns using the given index type
	CreateIndex(ctx context.Context, columns []string, indexType IndexType) error

	// CreateIndexWithName creates an index with a custom name on the specified columns
	CreateIndexWithName(ctx context.Context, columns []string, indexType IndexType, name string) error

	// CreateIndexWithOptions creates an index on column with full control over its configuration
	CreateIndexWithOptions(ctx context.Context, column string, options *IndexOptions) error

	// GetAllIndexes returns information about all indexes present on the table
	GetAllIndexes(ctx context.Context) ([]IndexInfo, error)

	// ListIndices returns the configuration of every registered index in creation order
	ListIndices(ctx context.Context) ([]IndexConfig, error)

	// IndexStats reports coverage for the named index
	IndexStats(ctx context.Context, name string) (*IndexStats, error)

	// DropIndex removes the named index
	DropIndex(ctx context.Context, name string) error

	// AddColumns adds columns computed from SQL expressions over existing columns
	AddColumns(ctx context.Context, transforms []ColumnTransform) error

	// AlterColumns renames columns or changes their nullability
	AlterColumns(ctx context.Context, alterations []ColumnAlteration) error

	// DropColumns removes columns from the schema; data is reclaimed by compaction
	DropColumns(ctx context.Context, columns []string) error

	// MergeInsert starts an upsert keyed on the given columns
	MergeInsert(on ...string) IMergeInsertBuilder

	// Optimize compacts data files, prunes old versions and refreshes indices
	Optimize(ctx context.Context, options *OptimizeOptions) (*OptimizeStats, error)

	// Stats describes the physical layout of the current version
	Stats(ctx context.Context) (*TableStats, error)

	// Select executes a query with the provided configuration and returns the results
	Select(ctx context.Context, config QueryConfig) ([]map[string]interface{}, error)

	// SelectWithColumns returns all records with only the specified columns
	SelectWithColumns(ctx context.Context, columns []string) ([]map[string]interface{}, error)

	// SelectWithFilter returns records that match the given filter condition
	SelectWithFilter(ctx context.Context, filter string) ([]map[string]interface{}, error)

	// VectorSearch performs vector similarity search on the specified column
	// Returns the k most similar records to the given vector
	VectorSearch(ctx context.Context, column string, vector []float32, k int) ([]map[string]interface{}, error)

	// VectorSearchWithFilter performs vector similarity search with an additional filter condition
	VectorSearchWithFilter(ctx context.Context, column string, vector []float32, k int, filter string) ([]map[string]interface{}, error)

	// FullTextSearch performs full-text search on the specified column
	FullTextSearch(ctx context.Context, column string, query string) ([]map[string]interface{}, error)

	// FullTextSearchWithFilter performs full-text search with an additional filter condition
	FullTextSearchWithFilter(ctx context.Context, column string, query string, filter string) ([]map[string]interface{}, error)

	// SelectWithLimit returns a limited number of records with optional offset
	SelectWithLimit(ctx context.Context, limit int, offset int) ([]map[string]interface{}, error)
}

// AddDataOptions configures how data is added to a Table
type AddDataOptions struct {
	Mode WriteMode
}

// WriteMode specifies how data should be written to a Table
type WriteMode int

const (
	WriteModeAppend WriteMode = iota
	WriteModeOverwrite
)

func (m WriteMode) String() string {
	if m == WriteModeOverwrite {
		return "overwrite"
	}
	return "append"
}
