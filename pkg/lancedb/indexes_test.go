// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package lancedb

import (
	"context"
	"fmt"
	"testing"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/universalmind303/lancedb/pkg/contracts"
)

func TestGetAllIndexes(t *testing.T) {
	ctx := context.Background()

	conn, err := Connect(ctx, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("❌Failed to connect: %v", err)
	}
	defer conn.Close()

	const dim = 128
	fields := []arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "category", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "score", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "embedding", Type: arrow.FixedSizeListOf(dim, arrow.PrimitiveTypes.Float32), Nullable: false},
	}
	arrowSchema := arrow.NewSchema(fields, nil)
	schema, err := NewSchema(arrowSchema)
	if err != nil {
		t.Fatalf("❌Failed to create schema: %v", err)
	}

	table, err := conn.CreateTable(ctx, "test_indexes", schema)
	if err != nil {
		t.Fatalf("❌Failed to create table: %v", err)
	}
	defer table.Close()

	const numRecords = 300
	pool := memory.NewGoAllocator()
	b := array.NewRecordBuilder(pool, arrowSchema)
	defer b.Release()
	categoryOptions := []string{"A", "B", "C", "D", "E"}
	for i := 0; i < numRecords; i++ {
		b.Field(0).(*array.Int32Builder).Append(int32(i + 1))
		b.Field(1).(*array.StringBuilder).Append(fmt.Sprintf("User_%d", i+1))
		b.Field(2).(*array.StringBuilder).Append(categoryOptions[i%len(categoryOptions)])
		b.Field(3).(*array.Float64Builder).Append(80.0 + float64(i%20))
		lb := b.Field(4).(*array.FixedSizeListBuilder)
		lb.Append(true)
		vb := lb.ValueBuilder().(*array.Float32Builder)
		for j := 0; j < dim; j++ {
			vb.Append(float32(i)*0.1 + float32(j)*0.001)
		}
	}
	record := b.NewRecord()
	defer record.Release()

	if err := table.Add(ctx, record, nil); err != nil {
		t.Fatalf("❌Failed to add data: %v", err)
	}

	indexes, err := table.GetAllIndexes(ctx)
	if err != nil {
		t.Fatalf("❌Failed to get indexes: %v", err)
	}
	if len(indexes) != 0 {
		t.Fatalf("❌Expected no indexes on a fresh table, got %v", indexes)
	}

	indexesToCreate := []struct {
		columns    []string
		indexType  IndexType
		customName string
	}{
		{[]string{"id"}, IndexTypeBTree, "id_btree_idx"},
		{[]string{"category"}, IndexTypeBitmap, "category_bitmap_idx"},
		{[]string{"name"}, IndexTypeFts, "name_fts_idx"},
		{[]string{"embedding"}, IndexTypeIvfPq, "embedding_ivf_pq_idx"},
		{[]string{"embedding"}, IndexTypeIvfFlat, "embedding_ivf_flat_idx"},
		{[]string{"embedding"}, IndexTypeHnswPq, "embedding_hnsw_pq_idx"},
	}

	for _, spec := range indexesToCreate {
		if err := table.CreateIndexWithName(ctx, spec.columns, spec.indexType, spec.customName); err != nil {
			t.Fatalf("❌ Failed to create %s: %v", spec.customName, err)
		}
		indexes, err = table.GetAllIndexes(ctx)
		if err != nil {
			t.Fatalf("❌ Failed to get indexes after %s: %v", spec.customName, err)
		}
		t.Logf("%d indexes after creating %s", len(indexes), spec.customName)
	}

	// Vector indices on the same column replace each other.
	want := map[string]string{
		"id_btree_idx":          "BTREE",
		"category_bitmap_idx":   "BITMAP",
		"name_fts_idx":          "FTS",
		"embedding_hnsw_pq_idx": "IVF_HNSW_PQ",
	}
	finalIndexes, err := table.GetAllIndexes(ctx)
	if err != nil {
		t.Fatalf("❌Failed to get final indexes: %v", err)
	}
	if len(finalIndexes) != len(want) {
		t.Fatalf("❌Expected %d indexes, got %d: %v", len(want), len(finalIndexes), finalIndexes)
	}
	for _, idx := range finalIndexes {
		typ, ok := want[idx.Name]
		if !ok {
			t.Errorf("❌Unexpected index %s", idx.Name)
			continue
		}
		if idx.IndexType != typ {
			t.Errorf("❌Index %s has type %s, expected %s", idx.Name, idx.IndexType, typ)
		}
		if len(idx.Columns) != 1 {
			t.Errorf("❌Index %s covers %v, expected a single column", idx.Name, idx.Columns)
		}
	}

	// Indexed search still finds the exact row.
	query := make([]float32, dim)
	for j := range query {
		query[j] = 42*0.1 + float32(j)*0.001
	}
	rows, err := table.Search(query).Limit(1).Select("id").ToRows(ctx)
	if err != nil {
		t.Fatalf("❌Vector search failed: %v", err)
	}
	if len(rows) != 1 || fmt.Sprint(rows[0]["id"]) != "43" {
		t.Fatalf("❌Expected id 43 as nearest neighbour, got %v", rows)
	}

	if err := table.DropIndex(ctx, "category_bitmap_idx"); err != nil {
		t.Fatalf("❌Failed to drop index: %v", err)
	}
	if err := table.DropIndex(ctx, "category_bitmap_idx"); !contracts.IsNotFoundError(err) {
		t.Fatalf("❌Dropping a missing index should be NotFound, got %v", err)
	}

	table.Close()
	if _, err := table.GetAllIndexes(ctx); !contracts.IsUseAfterCloseError(err) {
		t.Fatalf("❌GetAllIndexes on a closed table should fail with UseAfterClose, got %v", err)
	}
}
