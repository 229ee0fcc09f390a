// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package tests

import (
	"context"
	"sort"
	"testing"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/universalmind303/lancedb/pkg/contracts"
	"github.com/universalmind303/lancedb/pkg/lancedb"
)

const embeddingDim = 128

var studentSchema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: arrow.PrimitiveTypes.Int32},
	{Name: "name", Type: arrow.BinaryTypes.String},
	{Name: "category", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "score", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "embedding", Type: arrow.FixedSizeListOf(embeddingDim, arrow.PrimitiveTypes.Float32)},
	{Name: "labels", Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: true},
}, nil)

var students = []struct {
	name     string
	category string
	score    float64
	labels   []string
}{
	{"Alice", "A", 95.5, []string{"student", "athlete"}},
	{"Bob", "B", 87.2, []string{"engineer"}},
	{"Charlie", "A", 92.8, []string{"artist", "musician"}},
	{"Diana", "C", 88.9, []string{"scientist"}},
	{"Eve", "B", 94.1, []string{"doctor", "researcher"}},
}

// studentVector is the embedding of the i-th student. Vectors move away
// from studentVector(0) as i grows.
func studentVector(i int) []float32 {
	v := make([]float32, embeddingDim)
	for j := range v {
		v[j] = float32(i)*0.1 + float32(j)*0.001
	}
	return v
}

func createStudentsTable(t *testing.T) contracts.ITable {
	t.Helper()
	ctx := context.Background()
	conn := openDB(t, t.TempDir())

	schema, err := lancedb.NewSchema(studentSchema)
	require.NoError(t, err)
	table, err := conn.CreateTable(ctx, "students", schema)
	require.NoError(t, err)
	t.Cleanup(func() { table.Close() })

	rec := buildRecord(t, studentSchema, func(b *array.RecordBuilder) {
		emb := b.Field(4).(*array.FixedSizeListBuilder)
		labels := b.Field(5).(*array.ListBuilder)
		for i, s := range students {
			b.Field(0).(*array.Int32Builder).Append(int32(i + 1))
			b.Field(1).(*array.StringBuilder).Append(s.name)
			b.Field(2).(*array.StringBuilder).Append(s.category)
			b.Field(3).(*array.Float64Builder).Append(s.score)
			emb.Append(true)
			emb.ValueBuilder().(*array.Float32Builder).AppendValues(studentVector(i), nil)
			labels.Append(true)
			for _, l := range s.labels {
				labels.ValueBuilder().(*array.StringBuilder).Append(l)
			}
		}
	})
	require.NoError(t, table.Add(ctx, rec, nil), "❌Failed to add data")
	return table
}

func namesOf(rows []map[string]interface{}) []string {
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, row["name"].(string))
	}
	return out
}

func sortedNames(rows []map[string]interface{}) []string {
	out := namesOf(rows)
	sort.Strings(out)
	return out
}

func TestSelectQueries(t *testing.T) {
	ctx := context.Background()
	table := createStudentsTable(t)

	t.Run("Select All Records", func(t *testing.T) {
		results, err := table.Select(ctx, contracts.QueryConfig{})
		require.NoError(t, err)
		require.Len(t, results, len(students))
		for i, row := range results {
			assert.Equal(t, students[i].name, row["name"])
			assert.ElementsMatch(t, students[i].labels, row["labels"])
		}
	})

	t.Run("Select Specific Columns", func(t *testing.T) {
		results, err := table.SelectWithColumns(ctx, []string{"id", "name"})
		require.NoError(t, err)
		require.Len(t, results, len(students))
		for _, row := range results {
			assert.Len(t, row, 2)
			assert.Contains(t, row, "id")
			assert.Contains(t, row, "name")
		}
	})

	t.Run("Select with Filter", func(t *testing.T) {
		cases := []struct {
			filter string
			want   []string
		}{
			{"score > 90", []string{"Alice", "Charlie", "Eve"}},
			{"category = 'B'", []string{"Bob", "Eve"}},
			{"category IN ('A', 'C') AND score < 93", []string{"Charlie", "Diana"}},
			{"name LIKE 'D%'", []string{"Diana"}},
			{"score BETWEEN 87 AND 89", []string{"Bob", "Diana"}},
			{"category IS NULL", []string{}},
		}
		for _, tc := range cases {
			results, err := table.SelectWithFilter(ctx, tc.filter)
			require.NoError(t, err, tc.filter)
			assert.Equal(t, tc.want, sortedNames(results), tc.filter)
		}

		_, err := table.SelectWithFilter(ctx, "score >")
		assert.ErrorIs(t, err, contracts.ErrValidation)
	})

	t.Run("Select with Limit and Offset", func(t *testing.T) {
		results, err := table.SelectWithLimit(ctx, 3, 0)
		require.NoError(t, err)
		assert.Len(t, results, 3)

		results, err = table.SelectWithLimit(ctx, 10, 3)
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})

	t.Run("Vector Search", func(t *testing.T) {
		results, err := table.VectorSearch(ctx, "embedding", studentVector(0), 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"Alice", "Bob", "Charlie"}, namesOf(results))

		var last float64 = -1
		for _, row := range results {
			d, ok := row["_distance"].(float32)
			require.True(t, ok, "missing _distance in %v", row)
			assert.GreaterOrEqual(t, float64(d), last)
			last = float64(d)
		}
	})

	t.Run("Vector Search with Filter", func(t *testing.T) {
		results, err := table.VectorSearchWithFilter(ctx, "embedding", studentVector(0), 5, "category = 'A'")
		require.NoError(t, err)
		assert.Equal(t, []string{"Alice", "Charlie"}, namesOf(results))
	})

	t.Run("Vector Search Builder", func(t *testing.T) {
		rows, err := table.Search(studentVector(4)).
			Column("embedding").
			DistanceType(contracts.DistanceTypeL2).
			Select("name").
			Limit(2).
			ToRows(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Eve", "Diana"}, namesOf(rows))

		// The default limit applies when none is set.
		rows, err = table.Search(studentVector(0)).ToRows(ctx)
		require.NoError(t, err)
		assert.Len(t, rows, len(students))

		_, err = table.Search(make([]float32, 3)).ToRows(ctx)
		assert.ErrorIs(t, err, contracts.ErrValidation)
	})

	t.Run("Complex Query Configuration", func(t *testing.T) {
		limit := 2
		results, err := table.Select(ctx, contracts.QueryConfig{
			Columns: []string{"id", "name", "score"},
			Where:   "score > 85",
			Limit:   &limit,
			VectorSearch: &contracts.VectorSearch{
				Column: "embedding",
				Vector: studentVector(1),
				K:      5,
			},
		})
		require.NoError(t, err)
		require.Len(t, results, limit)
		assert.Equal(t, "Bob", results[0]["name"])
		for _, row := range results {
			for _, col := range []string{"id", "name", "score"} {
				assert.Contains(t, row, col)
			}
			assert.NotContains(t, row, "category")
		}
	})

	t.Run("Full-Text Search", func(t *testing.T) {
		results, err := table.Select(ctx, contracts.QueryConfig{
			FTSSearch: &contracts.FTSSearch{Column: "name", Query: "alice"},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"Alice"}, namesOf(results))
		assert.Contains(t, results[0], "_score")

		results, err = table.FullTextSearchWithFilter(ctx, "name", "alice", "category = 'B'")
		require.NoError(t, err)
		assert.Empty(t, results)

		rows, err := table.FullTextQuery("eve").Column("name").Select("id").ToRows(ctx)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, int32(5), rows[0]["id"])
	})

	t.Run("Iterate and ExecuteAsync", func(t *testing.T) {
		reader, err := table.Query().Filter("score > 90").Select("name").Iterate(ctx)
		require.NoError(t, err)
		defer reader.Release()
		var n int64
		for reader.Next() {
			n += reader.Record().NumRows()
		}
		require.NoError(t, reader.Err())
		assert.EqualValues(t, 3, n)

		batches, errs := table.Query().Limit(2).ExecuteAsync(ctx)
		recs := <-batches
		require.NoError(t, <-errs)
		var rows int64
		for _, r := range recs {
			rows += r.NumRows()
			r.Release()
		}
		assert.EqualValues(t, 2, rows)
	})

	t.Run("Error Handling - Closed Table", func(t *testing.T) {
		require.NoError(t, table.Close())
		_, err := table.Select(ctx, contracts.QueryConfig{})
		assert.True(t, contracts.IsUseAfterCloseError(err), "got %v", err)
	})
}

func TestSelectAfterMutations(t *testing.T) {
	ctx := context.Background()
	table := createStudentsTable(t)

	require.NoError(t, table.Delete(ctx, "category = 'B'"))
	require.NoError(t, table.Update(ctx, "name = 'Diana'", map[string]interface{}{"score": 99.0}))

	results, err := table.SelectWithFilter(ctx, "score > 90")
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice", "Charlie", "Diana"}, sortedNames(results))

	// Deleted rows never come back from a vector search.
	results, err = table.VectorSearch(ctx, "embedding", studentVector(1), 5)
	require.NoError(t, err)
	assert.NotContains(t, namesOf(results), "Bob")
	assert.NotContains(t, namesOf(results), "Eve")

	// The previous version still holds them.
	v, err := table.Version(ctx)
	require.NoError(t, err)
	require.NoError(t, table.Checkout(ctx, v-2))
	n, err := table.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, len(students), n)
}
