// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package lancedb

import (
	"github.com/apache/arrow/go/v17/arrow"

	"github.com/universalmind303/lancedb/pkg/contracts"
	"github.com/universalmind303/lancedb/pkg/internal"
)

// NewSchema wraps an Arrow schema. Embedding definitions stored in its
// metadata are kept.
func NewSchema(schema *arrow.Schema) (contracts.ISchema, error) {
	return internal.NewSchema(schema)
}

// NewSchemaBuilder returns a fluent schema builder.
func NewSchemaBuilder() contracts.ISchemaBuilder {
	return internal.NewSchemaBuilder()
}

// NewMemoryRegistry returns an empty embedding function registry.
func NewMemoryRegistry() contracts.IEmbeddingRegistry {
	return internal.NewMemoryRegistry()
}

type (
	ConnectionOptions = contracts.ConnectionOptions
	StorageOptions    = contracts.StorageOptions
	S3Config          = contracts.S3Config
	IndexType         = contracts.IndexType
	VectorDataType    = contracts.VectorDataType
)

const (
	IndexTypeAuto      = contracts.IndexTypeAuto
	IndexTypeIvfPq     = contracts.IndexTypeIvfPq
	IndexTypeIvfFlat   = contracts.IndexTypeIvfFlat
	IndexTypeHnswPq    = contracts.IndexTypeHnswPq
	IndexTypeHnswSq    = contracts.IndexTypeHnswSq
	IndexTypeBTree     = contracts.IndexTypeBTree
	IndexTypeBitmap    = contracts.IndexTypeBitmap
	IndexTypeLabelList = contracts.IndexTypeLabelList
	IndexTypeFts       = contracts.IndexTypeFts

	VectorDataTypeFloat16 = contracts.VectorDataTypeFloat16
	VectorDataTypeFloat32 = contracts.VectorDataTypeFloat32
	VectorDataTypeFloat64 = contracts.VectorDataTypeFloat64
)
