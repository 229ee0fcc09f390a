// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"

	"github.com/universalmind303/lancedb/pkg/contracts"
)

// EmbeddingsMetadataKey is the schema metadata key holding the JSON encoded
// embedding definitions of a table.
const EmbeddingsMetadataKey = "lancedb::embeddings"

// MemoryRegistry is an in-process embedding function registry.
type MemoryRegistry struct {
	mu    sync.RWMutex
	funcs map[string]contracts.IEmbeddingFunction
}

var _ contracts.IEmbeddingRegistry = (*MemoryRegistry)(nil)

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{funcs: make(map[string]contracts.IEmbeddingFunction)}
}

// Register adds fn under name. Names are unique.
func (r *MemoryRegistry) Register(name string, fn contracts.IEmbeddingFunction) error {
	if name == "" || fn == nil {
		return fmt.Errorf("embedding function needs a name and an implementation: %w", contracts.ErrValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.funcs[name]; ok {
		return fmt.Errorf("embedding function %q: %w", name, contracts.ErrAlreadyExists)
	}
	r.funcs[name] = fn
	return nil
}

func (r *MemoryRegistry) Get(name string) (contracts.IEmbeddingFunction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Functions lists the registered names in sorted order.
func (r *MemoryRegistry) Functions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeEmbedding(def contracts.EmbeddingDefinition) contracts.EmbeddingDefinition {
	if def.DestColumn == "" {
		def.DestColumn = def.SourceColumn + "_embedding"
	}
	return def
}

// EncodeEmbeddings stores defs as schema metadata.
func EncodeEmbeddings(defs []contracts.EmbeddingDefinition) (arrow.Metadata, error) {
	raw, err := json.Marshal(defs)
	if err != nil {
		return arrow.Metadata{}, fmt.Errorf("failed to encode embedding definitions: %w", err)
	}
	return arrow.NewMetadata([]string{EmbeddingsMetadataKey}, []string{string(raw)}), nil
}

// DecodeEmbeddings reads the embedding definitions stored on schema.
func DecodeEmbeddings(schema *arrow.Schema) ([]contracts.EmbeddingDefinition, error) {
	md := schema.Metadata()
	i := md.FindKey(EmbeddingsMetadataKey)
	if i < 0 || md.Values()[i] == "" {
		return nil, nil
	}
	raw := md.Values()[i]
	var defs []contracts.EmbeddingDefinition
	if err := json.Unmarshal([]byte(raw), &defs); err != nil {
		return nil, fmt.Errorf("invalid %s metadata: %v: %w", EmbeddingsMetadataKey, err, contracts.ErrValidation)
	}
	for i := range defs {
		defs[i] = normalizeEmbedding(defs[i])
	}
	return defs, nil
}

// chooseEmbedding picks the definition used to embed a text query. column
// selects by destination column; otherwise the first definition wins.
func chooseEmbedding(defs []contracts.EmbeddingDefinition, column string) (contracts.EmbeddingDefinition, error) {
	if len(defs) == 0 {
		return contracts.EmbeddingDefinition{}, fmt.Errorf("no embedding function defined: %w", contracts.ErrConfiguration)
	}
	if column == "" {
		return defs[0], nil
	}
	for _, def := range defs {
		if def.DestColumn == column {
			return def, nil
		}
	}
	return contracts.EmbeddingDefinition{}, fmt.Errorf("no embedding function defined for column %q: %w", column, contracts.ErrConfiguration)
}

func lookupFunction(registry contracts.IEmbeddingRegistry, def contracts.EmbeddingDefinition) (contracts.IEmbeddingFunction, error) {
	if registry == nil {
		return nil, fmt.Errorf("embedding function %q: no registry configured: %w", def.Function, contracts.ErrConfiguration)
	}
	fn, ok := registry.Get(def.Function)
	if !ok {
		return nil, fmt.Errorf("embedding function %q is not registered: %w", def.Function, contracts.ErrConfiguration)
	}
	return fn, nil
}

// embedQuery computes the query vector for text.
func embedQuery(ctx context.Context, registry contracts.IEmbeddingRegistry, def contracts.EmbeddingDefinition, text string) ([]float32, error) {
	fn, err := lookupFunction(registry, def)
	if err != nil {
		return nil, err
	}
	b := array.NewStringBuilder(memoryPool)
	b.Append(text)
	src := b.NewArray()
	b.Release()
	defer src.Release()

	out, err := fn.Embed(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("embedding function %q: %w", def.Function, err)
	}
	defer out.Release()
	fsl, ok := out.(*array.FixedSizeList)
	if !ok || fsl.Len() != 1 {
		return nil, fmt.Errorf("embedding function %q must return one fixed size list: %w", def.Function, contracts.ErrConfiguration)
	}
	vec, err := listFloats(fsl, 0)
	if err != nil {
		return nil, fmt.Errorf("embedding function %q: %w", def.Function, err)
	}
	return vec, nil
}

func listFloats(fsl *array.FixedSizeList, i int) ([]float32, error) {
	start, end := fsl.ValueOffsets(i)
	switch values := fsl.ListValues().(type) {
	case *array.Float32:
		return append([]float32(nil), values.Float32Values()[start:end]...), nil
	case *array.Float64:
		out := make([]float32, 0, end-start)
		for _, v := range values.Float64Values()[start:end] {
			out = append(out, float32(v))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported embedding element type %s", values.DataType())
	}
}

// fillEmbeddings appends the destination column of every definition whose
// source column is present and destination column is missing in rec.
func fillEmbeddings(ctx context.Context, registry contracts.IEmbeddingRegistry, defs []contracts.EmbeddingDefinition, rec arrow.Record) (arrow.Record, error) {
	fields := append([]arrow.Field(nil), rec.Schema().Fields()...)
	cols := append([]arrow.Array(nil), rec.Columns()...)
	var added []arrow.Array
	defer func() {
		for _, a := range added {
			a.Release()
		}
	}()

	for _, def := range defs {
		if rec.Schema().HasField(def.DestColumn) {
			continue
		}
		idx := rec.Schema().FieldIndices(def.SourceColumn)
		if len(idx) == 0 {
			continue
		}
		fn, err := lookupFunction(registry, def)
		if err != nil {
			return nil, err
		}
		out, err := fn.Embed(ctx, rec.Column(idx[0]))
		if err != nil {
			return nil, fmt.Errorf("embedding function %q: %w", def.Function, err)
		}
		added = append(added, out)
		if int64(out.Len()) != rec.NumRows() {
			return nil, fmt.Errorf("embedding function %q returned %d values for %d rows: %w",
				def.Function, out.Len(), rec.NumRows(), contracts.ErrValidation)
		}
		fields = append(fields, arrow.Field{Name: def.DestColumn, Type: out.DataType(), Nullable: true})
		cols = append(cols, out)
	}
	if len(added) == 0 {
		rec.Retain()
		return rec, nil
	}
	md := rec.Schema().Metadata()
	return array.NewRecord(arrow.NewSchema(fields, &md), cols, rec.NumRows()), nil
}

// EmbedText embeds a text query with the embedding function declared on
// schema. column selects a definition by destination column; empty picks
// the first. It returns the vector and the column to search.
func EmbedText(ctx context.Context, registry contracts.IEmbeddingRegistry, schema *arrow.Schema, column, text string) ([]float32, string, error) {
	defs, err := DecodeEmbeddings(schema)
	if err != nil {
		return nil, "", err
	}
	def, err := chooseEmbedding(defs, column)
	if err != nil {
		return nil, "", err
	}
	vec, err := embedQuery(ctx, registry, def, text)
	if err != nil {
		return nil, "", err
	}
	return vec, def.DestColumn, nil
}

// WithEmbeddings returns records with the embedding columns declared on
// schema filled in. The caller releases the result.
func WithEmbeddings(ctx context.Context, registry contracts.IEmbeddingRegistry, schema *arrow.Schema, records []arrow.Record) ([]arrow.Record, error) {
	defs, err := DecodeEmbeddings(schema)
	if err != nil {
		return nil, err
	}
	out := make([]arrow.Record, 0, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		filled, err := fillEmbeddings(ctx, registry, defs, rec)
		if err != nil {
			ReleaseRecords(out)
			return nil, err
		}
		out = append(out, filled)
	}
	return out, nil
}
