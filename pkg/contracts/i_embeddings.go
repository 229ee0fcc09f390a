// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package contracts

import (
	"context"

	"github.com/apache/arrow/go/v17/arrow"
)

// IEmbeddingFunction turns source values (usually text) into vectors.
type IEmbeddingFunction interface {
	// SourceType is the Arrow type of the input column.
	SourceType() arrow.DataType
	// DestType is the Arrow type of the produced column, normally a
	// fixed size list of float32.
	DestType() arrow.DataType
	// Embed computes one output value per input value.
	Embed(ctx context.Context, source arrow.Array) (arrow.Array, error)
}

// IEmbeddingRegistry maps function names to embedding functions.
type IEmbeddingRegistry interface {
	Register(name string, fn IEmbeddingFunction) error
	Get(name string) (IEmbeddingFunction, bool)
	Functions() []string
}

// EmbeddingDefinition binds an embedding function to a source and a destination column.
type EmbeddingDefinition struct {
	SourceColumn string `json:"source_column"`
	// DestColumn defaults to "<SourceColumn>_embedding".
	DestColumn string `json:"dest_column"`
	Function   string `json:"embedding_name"`
}
