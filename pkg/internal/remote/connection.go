// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/apache/arrow/go/v17/arrow"

	"github.com/universalmind303/lancedb/internal/codec"
	"github.com/universalmind303/lancedb/internal/logging"
	"github.com/universalmind303/lancedb/pkg/contracts"
	"github.com/universalmind303/lancedb/pkg/internal"
)

const pageSize = 100

// Connection talks to a LanceDB Cloud database.
type Connection struct {
	client   *client
	registry contracts.IEmbeddingRegistry
	log      *logging.Logger

	mu     sync.RWMutex
	closed bool
}

var _ contracts.IConnection = (*Connection)(nil)

// NewConnection connects to the database named by a db://<database> URI.
// No request is made until the first operation.
func NewConnection(_ context.Context, uri string, options *contracts.ConnectionOptions) (*Connection, error) {
	log := logging.Default()
	if options != nil && options.Logger != nil {
		log = logging.New(options.Logger)
	}
	c, err := newClient(uri, options, log)
	if err != nil {
		return nil, contracts.NewTableError("connect", "", err)
	}
	conn := &Connection{client: c, log: log}
	if options != nil {
		conn.registry = options.EmbeddingRegistry
	}
	return conn, nil
}

func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Connection) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Connection) check(op, name string) error {
	if c.IsClosed() {
		return contracts.NewTableError(op, name, fmt.Errorf("connection is closed: %w", contracts.ErrUseAfterClose))
	}
	return nil
}

// TableNames pages through the table list.
func (c *Connection) TableNames(ctx context.Context) ([]string, error) {
	if err := c.check("table_names", ""); err != nil {
		return nil, err
	}
	var names []string
	token := ""
	for {
		q := url.Values{"limit": {fmt.Sprint(pageSize)}}
		if token != "" {
			q.Set("page_token", token)
		}
		data, err := c.client.do(ctx, http.MethodGet, "/v1/table/", q, "", nil)
		if err != nil {
			return nil, contracts.NewTableError("table_names", "", err)
		}
		var resp listTablesResponse
		if err := decodeJSON(data, &resp); err != nil {
			return nil, contracts.NewTableError("table_names", "", err)
		}
		names = append(names, resp.Tables...)
		if resp.PageToken == "" || len(resp.Tables) == 0 {
			return names, nil
		}
		token = resp.PageToken
	}
}

// OpenTable checks that the table exists and returns a handle to it.
func (c *Connection) OpenTable(ctx context.Context, name string) (contracts.ITable, error) {
	if err := c.check("open_table", name); err != nil {
		return nil, err
	}
	t := newTable(c, name)
	if _, err := t.describe(ctx, "open_table"); err != nil {
		return nil, err
	}
	return t, nil
}

func (c *Connection) CreateTable(ctx context.Context, name string, schema contracts.ISchema) (contracts.ITable, error) {
	if schema == nil || schema.ToArrowSchema() == nil {
		return nil, contracts.NewTableError("create_table", name, fmt.Errorf("schema is nil: %w", contracts.ErrValidation))
	}
	return c.CreateTableWithData(ctx, name, schema, nil)
}

// CreateTableWithData sends the schema and the initial records as one
// Arrow IPC stream.
func (c *Connection) CreateTableWithData(ctx context.Context, name string, schema contracts.ISchema, records []arrow.Record) (contracts.ITable, error) {
	if err := c.check("create_table", name); err != nil {
		return nil, err
	}
	var arrowSchema *arrow.Schema
	switch {
	case schema != nil && schema.ToArrowSchema() != nil:
		arrowSchema = schema.ToArrowSchema()
	case len(records) > 0:
		arrowSchema = records[0].Schema()
	default:
		return nil, contracts.NewTableError("create_table", name,
			fmt.Errorf("a schema or at least one record is required: %w", contracts.ErrValidation))
	}

	filled, err := internal.WithEmbeddings(ctx, c.registry, arrowSchema, records)
	if err != nil {
		return nil, contracts.NewTableError("create_table", name, err)
	}
	defer internal.ReleaseRecords(filled)
	body, err := codec.EncodeStream(arrowSchema, filled)
	if err != nil {
		return nil, contracts.NewTableError("create_table", name, err)
	}
	if _, err := c.client.do(ctx, http.MethodPost, tablePath(name, "create"), nil, contentTypeArrow, body); err != nil {
		return nil, contracts.NewTableError("create_table", name, err)
	}
	c.log.WithTable(name).InfoContext(ctx, "remote table created")
	return newTable(c, name), nil
}

func (c *Connection) DropTable(ctx context.Context, name string) error {
	if err := c.check("drop_table", name); err != nil {
		return err
	}
	if _, err := c.client.do(ctx, http.MethodPost, tablePath(name, "drop"), nil, "", nil); err != nil {
		return contracts.NewTableError("drop_table", name, err)
	}
	return nil
}

func tablePath(name string, parts ...string) string {
	p := "/v1/table/" + url.PathEscape(name) + "/"
	for _, part := range parts {
		p += part + "/"
	}
	return p
}
