// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package contracts

import (
	"context"
	"log/slog"

	"github.com/apache/arrow/go/v17/arrow"
)

type IConnection interface {
	Close() error
	TableNames(ctx context.Context) ([]string, error)
	OpenTable(ctx context.Context, name string) (ITable, error)
	CreateTable(ctx context.Context, name string, schema ISchema) (ITable, error)
	// CreateTableWithData creates a table and writes records as its first
	// version. A nil schema is inferred from the first record.
	CreateTableWithData(ctx context.Context, name string, schema ISchema, records []arrow.Record) (ITable, error)
	DropTable(ctx context.Context, name string) error
	IsClosed() bool
}

// ConnectionOptions holds options for establishing a database connection
type ConnectionOptions struct {
	Region *string
	// ReadConsistencyInterval in seconds. Nil means a handle only observes
	// its own writes, 0 checks for new versions on every read.
	ReadConsistencyInterval *int
	StorageOptions          *StorageOptions

	// Remote (db://) connections
	APIKey            *string
	HostOverride      *string
	MaxRetries        *int
	RequestsPerSecond *float64

	// Native connections
	DataFileCompression *string // none, lz4, zstd or snappy
	FragmentCacheSize   *int

	EmbeddingRegistry IEmbeddingRegistry
	Logger            *slog.Logger
}
