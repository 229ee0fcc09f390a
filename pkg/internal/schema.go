// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package internal

import (
	"fmt"

	"github.com/apache/arrow/go/v17/arrow"

	"github.com/universalmind303/lancedb/pkg/contracts"
)

// Schema represents a LanceDB table schema
type Schema struct {
	schema *arrow.Schema
}

var _ contracts.ISchema = (*Schema)(nil)

// NewSchema creates a new schema from Arrow schema
func NewSchema(schema *arrow.Schema) (contracts.ISchema, error) {
	if schema == nil {
		return nil, fmt.Errorf("schema is nil: %w", contracts.ErrValidation)
	}
	if _, err := DecodeEmbeddings(schema); err != nil {
		return nil, err
	}
	return &Schema{schema: schema}, nil
}

// SchemaBuilder provides a fluent interface for building schemas
type SchemaBuilder struct {
	fields     []arrow.Field
	embeddings []contracts.EmbeddingDefinition
}

var _ contracts.ISchemaBuilder = (*SchemaBuilder)(nil)

// NewSchemaBuilder creates a new schema builder
func NewSchemaBuilder() contracts.ISchemaBuilder {
	return &SchemaBuilder{
		fields: make([]arrow.Field, 0),
	}
}

// AddField adds a regular field to the schema
func (sb *SchemaBuilder) AddField(name string, dataType arrow.DataType, nullable bool) contracts.ISchemaBuilder {
	sb.fields = append(sb.fields, arrow.Field{
		Name:     name,
		Type:     dataType,
		Nullable: nullable,
	})
	return sb
}

// AddVectorField adds a fixed size list vector field to the schema
func (sb *SchemaBuilder) AddVectorField(name string, dimension int, dataType contracts.VectorDataType, nullable bool) contracts.ISchemaBuilder {
	sb.fields = append(sb.fields, VectorField(name, dimension, dataType, nullable))
	return sb
}

func (sb *SchemaBuilder) AddInt32Field(name string, nullable bool) contracts.ISchemaBuilder {
	return sb.AddField(name, arrow.PrimitiveTypes.Int32, nullable)
}

func (sb *SchemaBuilder) AddInt64Field(name string, nullable bool) contracts.ISchemaBuilder {
	return sb.AddField(name, arrow.PrimitiveTypes.Int64, nullable)
}

func (sb *SchemaBuilder) AddFloat32Field(name string, nullable bool) contracts.ISchemaBuilder {
	return sb.AddField(name, arrow.PrimitiveTypes.Float32, nullable)
}

func (sb *SchemaBuilder) AddFloat64Field(name string, nullable bool) contracts.ISchemaBuilder {
	return sb.AddField(name, arrow.PrimitiveTypes.Float64, nullable)
}

func (sb *SchemaBuilder) AddStringField(name string, nullable bool) contracts.ISchemaBuilder {
	return sb.AddField(name, arrow.BinaryTypes.String, nullable)
}

func (sb *SchemaBuilder) AddBinaryField(name string, nullable bool) contracts.ISchemaBuilder {
	return sb.AddField(name, arrow.BinaryTypes.Binary, nullable)
}

func (sb *SchemaBuilder) AddBooleanField(name string, nullable bool) contracts.ISchemaBuilder {
	return sb.AddField(name, arrow.FixedWidthTypes.Boolean, nullable)
}

// AddTimestampField adds a timestamp field to the schema
func (sb *SchemaBuilder) AddTimestampField(name string, unit arrow.TimeUnit, nullable bool) contracts.ISchemaBuilder {
	return sb.AddField(name, &arrow.TimestampType{Unit: unit}, nullable)
}

// AddEmbedding declares an embedding column. It is checked by Build.
func (sb *SchemaBuilder) AddEmbedding(def contracts.EmbeddingDefinition) contracts.ISchemaBuilder {
	sb.embeddings = append(sb.embeddings, def)
	return sb
}

// Build creates the final schema
func (sb *SchemaBuilder) Build() (contracts.ISchema, error) {
	seen := make(map[string]bool, len(sb.fields))
	for _, f := range sb.fields {
		if f.Name == "" {
			return nil, fmt.Errorf("field name must not be empty: %w", contracts.ErrValidation)
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("duplicate field %q: %w", f.Name, contracts.ErrValidation)
		}
		seen[f.Name] = true
	}

	defs := make([]contracts.EmbeddingDefinition, len(sb.embeddings))
	for i, def := range sb.embeddings {
		def = normalizeEmbedding(def)
		if def.Function == "" {
			return nil, fmt.Errorf("embedding for %q has no function name: %w", def.SourceColumn, contracts.ErrValidation)
		}
		if !seen[def.SourceColumn] {
			return nil, fmt.Errorf("embedding source column %q is not a field: %w", def.SourceColumn, contracts.ErrValidation)
		}
		if !seen[def.DestColumn] {
			return nil, fmt.Errorf("embedding destination column %q is not a field: %w", def.DestColumn, contracts.ErrValidation)
		}
		defs[i] = def
	}

	var md *arrow.Metadata
	if len(defs) > 0 {
		m, err := EncodeEmbeddings(defs)
		if err != nil {
			return nil, err
		}
		md = &m
	}
	return NewSchema(arrow.NewSchema(sb.fields, md))
}

// Fields returns the fields in the schema
func (s *Schema) Fields() []arrow.Field {
	if s.schema != nil {
		return s.schema.Fields()
	}
	return nil
}

// NumFields returns the number of fields in the schema
func (s *Schema) NumFields() int {
	if s.schema != nil {
		return s.schema.NumFields()
	}
	return 0
}

// Field returns the field at the given index
func (s *Schema) Field(index int) (arrow.Field, error) {
	if s.schema == nil {
		return arrow.Field{}, fmt.Errorf("schema is nil")
	}
	if index < 0 || index >= s.schema.NumFields() {
		return arrow.Field{}, fmt.Errorf("field index %d out of range", index)
	}
	return s.schema.Field(index), nil
}

// FieldByName returns the field with the given name
func (s *Schema) FieldByName(name string) (arrow.Field, error) {
	if s.schema == nil {
		return arrow.Field{}, fmt.Errorf("schema is nil")
	}
	if idx := s.schema.FieldIndices(name); len(idx) > 0 {
		return s.schema.Field(idx[0]), nil
	}
	return arrow.Field{}, fmt.Errorf("field '%s': %w", name, contracts.ErrNotFound)
}

// HasField checks if a field with the given name exists
func (s *Schema) HasField(name string) bool {
	_, err := s.FieldByName(name)
	return err == nil
}

// String returns a string representation of the schema
func (s *Schema) String() string {
	if s.schema != nil {
		return s.schema.String()
	}
	return "nil schema"
}

// ToArrowSchema returns the underlying Arrow schema
func (s *Schema) ToArrowSchema() *arrow.Schema {
	return s.schema
}

// EmbeddingDefinitions returns the embedding columns stored in the schema metadata.
func (s *Schema) EmbeddingDefinitions() []contracts.EmbeddingDefinition {
	if s.schema == nil {
		return nil
	}
	defs, _ := DecodeEmbeddings(s.schema)
	return defs
}

// VectorField is a convenience function to create a vector field
func VectorField(name string, dimension int, dataType contracts.VectorDataType, nullable bool) arrow.Field {
	var itemType arrow.DataType
	switch dataType {
	case contracts.VectorDataTypeFloat16:
		itemType = arrow.FixedWidthTypes.Float16
	case contracts.VectorDataTypeFloat64:
		itemType = arrow.PrimitiveTypes.Float64
	default:
		itemType = arrow.PrimitiveTypes.Float32
	}

	return arrow.Field{
		Name:     name,
		Type:     arrow.FixedSizeListOf(int32(dimension), itemType),
		Nullable: nullable,
	}
}
