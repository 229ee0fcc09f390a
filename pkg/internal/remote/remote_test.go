// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package remote

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/universalmind303/lancedb/internal/codec"
	"github.com/universalmind303/lancedb/pkg/contracts"
)

var itemsSchema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "vector", Type: arrow.FixedSizeListOf(2, arrow.PrimitiveTypes.Float32)},
}, nil)

func itemsRecord(t *testing.T, ids ...int64) arrow.Record {
	t.Helper()
	b := array.NewRecordBuilder(memory.DefaultAllocator, itemsSchema)
	defer b.Release()
	for _, id := range ids {
		b.Field(0).(*array.Int64Builder).Append(id)
		lb := b.Field(1).(*array.FixedSizeListBuilder)
		lb.Append(true)
		lb.ValueBuilder().(*array.Float32Builder).AppendValues([]float32{float32(id), float32(id)}, nil)
	}
	return b.NewRecord()
}

// fakeServer records requests and serves canned responses per path.
type fakeServer struct {
	t        *testing.T
	mu       sync.Mutex
	requests []recordedRequest
	handlers map[string]http.HandlerFunc
}

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	f := &fakeServer{t: t, handlers: map[string]http.HandlerFunc{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.requests = append(f.requests, recordedRequest{r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Clone(), body})
		h, ok := f.handlers[r.URL.Path]
		f.mu.Unlock()
		if !ok {
			http.Error(w, "no route "+r.URL.Path, http.StatusNotFound)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeServer) handle(path string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[path] = h
}

func (f *fakeServer) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func (f *fakeServer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeServer) describeItems(version int) {
	schema, err := codec.EncodeSchema(itemsSchema)
	require.NoError(f.t, err)
	f.handle("/v1/table/items/describe/", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(describeResponse{
			Table: "items", Version: version, Schema: schema,
			Stats: tableStats{NumRows: 2, NumFragments: 1},
		})
	})
}

func connect(t *testing.T, srv *httptest.Server, extra func(*contracts.ConnectionOptions)) *Connection {
	t.Helper()
	key := "sk-test"
	retries := 2
	delay := 1
	opts := &contracts.ConnectionOptions{
		APIKey:         &key,
		HostOverride:   &srv.URL,
		MaxRetries:     &retries,
		StorageOptions: &contracts.StorageOptions{RetryDelay: &delay},
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if extra != nil {
		extra(opts)
	}
	conn, err := NewConnection(context.Background(), "db://mydb", opts)
	require.NoError(t, err)
	return conn
}

func openItems(t *testing.T, f *fakeServer, conn *Connection) contracts.ITable {
	t.Helper()
	f.describeItems(3)
	tbl, err := conn.OpenTable(context.Background(), "items")
	require.NoError(t, err)
	return tbl
}

func TestNewConnectionValidation(t *testing.T) {
	ctx := context.Background()
	_, err := NewConnection(ctx, "db://mydb", nil)
	assert.ErrorIs(t, err, contracts.ErrConfiguration)

	key := "k"
	_, err = NewConnection(ctx, "s3://bucket", &contracts.ConnectionOptions{APIKey: &key})
	assert.ErrorIs(t, err, contracts.ErrConfiguration)

	conn, err := NewConnection(ctx, "db://mydb", &contracts.ConnectionOptions{APIKey: &key})
	require.NoError(t, err)
	assert.Equal(t, "https://mydb.us-east-1.api.lancedb.com", conn.client.base.String())
}

func TestHeadersAndTableNamesPaging(t *testing.T) {
	f, srv := newFakeServer(t)
	f.handle("/v1/table/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page_token") == "" {
			_ = json.NewEncoder(w).Encode(listTablesResponse{Tables: []string{"a", "b"}, PageToken: "b"})
			return
		}
		_ = json.NewEncoder(w).Encode(listTablesResponse{Tables: []string{"c"}})
	})
	conn := connect(t, srv, nil)

	names, err := conn.TableNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, names)

	req := f.last()
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "sk-test", req.Header.Get("x-api-key"))
	assert.Equal(t, "mydb", req.Header.Get("x-lancedb-database"))
	assert.Contains(t, req.Query, "page_token=b")
}

func TestErrorMapping(t *testing.T) {
	ctx := context.Background()
	f, srv := newFakeServer(t)
	f.handle("/v1/table/dup/create/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(requestIDHeader, "req-42")
		http.Error(w, "table dup already exists", http.StatusConflict)
	})
	conn := connect(t, srv, nil)

	_, err := conn.OpenTable(ctx, "missing")
	assert.ErrorIs(t, err, contracts.ErrNotFound)

	rec := itemsRecord(t, 1)
	defer rec.Release()
	_, err = conn.CreateTableWithData(ctx, "dup", nil, []arrow.Record{rec})
	require.ErrorIs(t, err, contracts.ErrAlreadyExists)
	var herr *HTTPError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "req-42", herr.RequestID)
	assert.Contains(t, err.Error(), "already exists")
}

func TestRetriesTransientFailures(t *testing.T) {
	f, srv := newFakeServer(t)
	var calls atomic.Int32
	f.handle("/v1/table/items/count_rows/", func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("7"))
	})
	conn := connect(t, srv, nil)
	tbl := openItems(t, f, conn)

	n, err := tbl.CountRows(context.Background(), "id > 1")
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)
	assert.EqualValues(t, 3, calls.Load())
	assert.JSONEq(t, `{"predicate":"id > 1"}`, string(f.last().Body))

	calls.Store(-10)
	_, err = tbl.Count(context.Background())
	var herr *HTTPError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, http.StatusServiceUnavailable, herr.Status)
}

func TestDescribeBackedReads(t *testing.T) {
	ctx := context.Background()
	f, srv := newFakeServer(t)
	conn := connect(t, srv, nil)
	tbl := openItems(t, f, conn)

	v, err := tbl.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	schema, err := tbl.Schema(ctx)
	require.NoError(t, err)
	assert.True(t, schema.Equal(itemsSchema))
	stats, err := tbl.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.NumRows)
}

func TestInsertSendsArrowStream(t *testing.T) {
	ctx := context.Background()
	f, srv := newFakeServer(t)
	f.handle("/v1/table/items/insert/", func(w http.ResponseWriter, _ *http.Request) {})
	conn := connect(t, srv, nil)
	tbl := openItems(t, f, conn)

	rec := itemsRecord(t, 1, 2, 3)
	defer rec.Release()
	require.NoError(t, tbl.Add(ctx, rec, &contracts.AddDataOptions{Mode: contracts.WriteModeOverwrite}))

	req := f.last()
	assert.Equal(t, contentTypeArrow, req.Header.Get("Content-Type"))
	assert.Equal(t, "mode=overwrite", req.Query)
	_, recs, err := codec.DecodeStream(req.Body)
	require.NoError(t, err)
	defer func() {
		for _, r := range recs {
			r.Release()
		}
	}()
	require.Len(t, recs, 1)
	assert.EqualValues(t, 3, recs[0].NumRows())
}

func TestVectorQueryRoundTrip(t *testing.T) {
	ctx := context.Background()
	f, srv := newFakeServer(t)
	f.handle("/v1/table/items/query/", func(w http.ResponseWriter, _ *http.Request) {
		rec := itemsRecord(t, 1)
		defer rec.Release()
		body, err := codec.EncodeStream(itemsSchema, []arrow.Record{rec})
		require.NoError(t, err)
		_, _ = w.Write(body)
	})
	conn := connect(t, srv, nil)
	tbl := openItems(t, f, conn)

	rows, err := tbl.Search([]float32{0, 0}).
		Limit(1).
		Filter("id < 5").
		DistanceType(contracts.DistanceTypeCosine).
		Postfilter().
		ToRows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 1, rows[0]["id"])

	var sent queryRequest
	require.NoError(t, json.Unmarshal(f.last().Body, &sent))
	assert.Equal(t, []float32{0, 0}, sent.Vector)
	assert.Equal(t, 1, sent.K)
	assert.Equal(t, "id < 5", sent.Filter)
	assert.Equal(t, "cosine", sent.DistanceType)
	assert.False(t, sent.Prefilter)

	_, err = tbl.FullTextQuery("fox").Column("text").Execute(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(f.last().Body, &sent))
	require.NotNil(t, sent.FullTextQuery)
	assert.Equal(t, []string{"text"}, sent.FullTextQuery.Columns)
	assert.Equal(t, defaultQueryLimit, sent.K)
}

func TestMutationsAndIndices(t *testing.T) {
	ctx := context.Background()
	f, srv := newFakeServer(t)
	for _, p := range []string{"delete", "update", "create_index", "merge_insert"} {
		f.handle("/v1/table/items/"+p+"/", func(w http.ResponseWriter, _ *http.Request) {})
	}
	f.handle("/v1/table/items/index/list/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"indexes":[{"index_name":"vector_idx","columns":["vector"],"index_type":"IVF_PQ"}]}`))
	})
	conn := connect(t, srv, nil)
	tbl := openItems(t, f, conn)

	require.NoError(t, tbl.Delete(ctx, "id = 1"))
	assert.JSONEq(t, `{"predicate":"id = 1"}`, string(f.last().Body))
	assert.ErrorIs(t, tbl.Delete(ctx, " "), contracts.ErrValidation)

	require.NoError(t, tbl.Update(ctx, "id = 2", map[string]interface{}{
		"name":  "it's",
		"score": contracts.Expr("score + 1"),
	}))
	assert.JSONEq(t, `{"predicate":"id = 2","updates":[["name","'it''s'"],["score","score + 1"]]}`, string(f.last().Body))

	require.NoError(t, tbl.CreateIndex(ctx, []string{"vector"}, contracts.IndexTypeIvfPq))
	var ci createIndexRequest
	require.NoError(t, json.Unmarshal(f.last().Body, &ci))
	assert.Equal(t, createIndexRequest{Column: "vector", IndexType: "IVF_PQ", Replace: true}, ci)

	indices, err := tbl.ListIndices(ctx)
	require.NoError(t, err)
	require.Len(t, indices, 1)
	assert.Equal(t, "vector_idx", indices[0].Name)

	rec := itemsRecord(t, 5)
	defer rec.Release()
	err = tbl.MergeInsert("id").WhenMatchedUpdateAll("").WhenNotMatchedInsertAll().Execute(ctx, []arrow.Record{rec})
	require.NoError(t, err)
	q := f.last().Query
	assert.Contains(t, q, "on=id")
	assert.Contains(t, q, "when_matched_update_all=true")
	assert.Contains(t, q, "when_not_matched_insert_all=true")
	assert.NotContains(t, q, "by_source")
}

func TestUnsupportedOperations(t *testing.T) {
	ctx := context.Background()
	f, srv := newFakeServer(t)
	conn := connect(t, srv, nil)
	tbl := openItems(t, f, conn)
	before := f.count()

	assert.ErrorIs(t, tbl.Checkout(ctx, 1), contracts.ErrUnsupported)
	assert.ErrorIs(t, tbl.CheckoutLatest(ctx), contracts.ErrUnsupported)
	assert.ErrorIs(t, tbl.Restore(ctx), contracts.ErrUnsupported)
	assert.ErrorIs(t, tbl.AddColumns(ctx, nil), contracts.ErrUnsupported)
	assert.ErrorIs(t, tbl.AlterColumns(ctx, nil), contracts.ErrUnsupported)
	assert.ErrorIs(t, tbl.DropColumns(ctx, []string{"id"}), contracts.ErrUnsupported)
	_, err := tbl.Optimize(ctx, nil)
	assert.ErrorIs(t, err, contracts.ErrUnsupported)
	_, err = tbl.Query().Limit(5).Execute(ctx)
	assert.ErrorIs(t, err, contracts.ErrUnsupported)
	_, err = tbl.SelectWithFilter(ctx, "id = 1")
	assert.ErrorIs(t, err, contracts.ErrUnsupported)

	assert.Equal(t, before, f.count(), "unsupported operations must not reach the server")

	require.NoError(t, tbl.Close())
	require.NoError(t, tbl.Close())
	assert.ErrorIs(t, tbl.Checkout(ctx, 1), contracts.ErrUseAfterClose)
	_, err = tbl.Count(ctx)
	assert.ErrorIs(t, err, contracts.ErrUseAfterClose)
}

func TestSQLLiteral(t *testing.T) {
	cases := map[string]interface{}{
		"NULL":      nil,
		"TRUE":      true,
		"42":        42,
		"1.5":       1.5,
		"'a''b'":    "a'b",
		"[1, 2.5]":  []float32{1, 2.5},
		"price * 2": contracts.Expr("price * 2"),
	}
	for want, v := range cases {
		got, err := sqlLiteral(v)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := sqlLiteral(struct{}{})
	assert.ErrorIs(t, err, contracts.ErrValidation)
	assert.True(t, strings.HasPrefix(mustLiteral(t, float32(0.25)), "0.25"))
}

func mustLiteral(t *testing.T, v interface{}) string {
	t.Helper()
	s, err := sqlLiteral(v)
	require.NoError(t, err)
	return s
}
