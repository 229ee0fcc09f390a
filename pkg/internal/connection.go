// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package internal

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/apache/arrow/go/v17/arrow"

	"github.com/universalmind303/lancedb/internal/dataset"
	"github.com/universalmind303/lancedb/internal/logging"
	"github.com/universalmind303/lancedb/internal/objectstore"
	"github.com/universalmind303/lancedb/pkg/contracts"
)

// tableSuffix is appended to a table name to form its directory.
const tableSuffix = ".lance"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-.]+$`)

// Connection represents a connection to a LanceDB database stored in an
// object store.
type Connection struct {
	uri         string
	store       objectstore.Store
	dsOpts      dataset.Options
	registry    contracts.IEmbeddingRegistry
	consistency *time.Duration
	log         *logging.Logger

	mu     sync.RWMutex
	closed bool
}

var _ contracts.IConnection = (*Connection)(nil)

// NewConnection opens the database at uri.
func NewConnection(ctx context.Context, uri string, options *contracts.ConnectionOptions) (*Connection, error) {
	var logger *logging.Logger
	if options != nil && options.Logger != nil {
		logger = logging.New(options.Logger)
	} else {
		logger = logging.Default()
	}

	sopts, err := storeOptions(options)
	if err != nil {
		return nil, contracts.NewTableError("connect", "", err)
	}
	dopts, err := datasetOptions(options, logger)
	if err != nil {
		return nil, contracts.NewTableError("connect", "", err)
	}
	consistency, err := readConsistency(options)
	if err != nil {
		return nil, contracts.NewTableError("connect", "", err)
	}
	store, err := objectstore.Open(ctx, uri, sopts)
	if err != nil {
		return nil, contracts.NewTableError("connect", "", fmt.Errorf("failed to connect to LanceDB at %s: %w", uri, err))
	}

	c := &Connection{
		uri:         uri,
		store:       store,
		dsOpts:      dopts,
		consistency: consistency,
		log:         logger,
	}
	if options != nil {
		c.registry = options.EmbeddingRegistry
	}
	return c, nil
}

// Close marks the connection closed. Tables opened from it stop working.
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

// URI returns the database location this connection was opened with.
func (c *Connection) URI() string { return c.uri }

func (c *Connection) check(op, name string) error {
	if c.closed {
		return contracts.NewTableError(op, name, fmt.Errorf("connection is closed: %w", contracts.ErrUseAfterClose))
	}
	return nil
}

func validateTableName(name string) error {
	if !tableNamePattern.MatchString(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid table name %q: %w", name, contracts.ErrValidation)
	}
	return nil
}

// TableNames returns the sorted names of all tables in the database
func (c *Connection) TableNames(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.check("table_names", ""); err != nil {
		return nil, err
	}

	prefixes, err := c.store.ListPrefixes(ctx, "")
	if err != nil {
		return nil, contracts.NewTableError("table_names", "", fmt.Errorf("failed to get table names: %w", err))
	}
	names := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		dir := strings.TrimSuffix(p, "/")
		if !strings.HasSuffix(dir, tableSuffix) {
			continue
		}
		ok, err := dataset.Exists(ctx, c.store, dir)
		if err != nil {
			return nil, contracts.NewTableError("table_names", "", err)
		}
		if ok {
			names = append(names, strings.TrimSuffix(dir, tableSuffix))
		}
	}
	return names, nil
}

// OpenTable opens an existing table in the database
func (c *Connection) OpenTable(ctx context.Context, name string) (contracts.ITable, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.check("open_table", name); err != nil {
		return nil, err
	}
	if err := validateTableName(name); err != nil {
		return nil, contracts.NewTableError("open_table", name, err)
	}

	ds, err := dataset.Open(ctx, c.store, name+tableSuffix, c.tableOptions(name))
	if err != nil {
		return nil, contracts.NewTableError("open_table", name, fmt.Errorf("failed to open table %s: %w", name, err))
	}
	return newTable(ctx, c, name, ds)
}

// CreateTable creates a new empty table in the database
func (c *Connection) CreateTable(ctx context.Context, name string, schema contracts.ISchema) (contracts.ITable, error) {
	if schema == nil || schema.ToArrowSchema() == nil {
		return nil, contracts.NewTableError("create_table", name, fmt.Errorf("schema is nil: %w", contracts.ErrValidation))
	}
	return c.CreateTableWithData(ctx, name, schema, nil)
}

// CreateTableWithData creates a table whose first version holds records.
// When schema is nil it is taken from the first record.
func (c *Connection) CreateTableWithData(ctx context.Context, name string, schema contracts.ISchema, records []arrow.Record) (contracts.ITable, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.check("create_table", name); err != nil {
		return nil, err
	}
	if err := validateTableName(name); err != nil {
		return nil, contracts.NewTableError("create_table", name, err)
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

	filled, err := WithEmbeddings(ctx, c.registry, arrowSchema, records)
	if err != nil {
		return nil, contracts.NewTableError("create_table", name, err)
	}
	defer ReleaseRecords(filled)

	ds, err := dataset.Create(ctx, c.store, name+tableSuffix, arrowSchema, filled, c.tableOptions(name))
	if err != nil {
		return nil, contracts.NewTableError("create_table", name, fmt.Errorf("failed to create table %s: %w", name, err))
	}
	c.log.WithTable(name).LogMutation(ctx, "create_table", 1, nil)
	return newTable(ctx, c, name, ds)
}

// DropTable deletes a table and all of its versions
func (c *Connection) DropTable(ctx context.Context, name string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.check("drop_table", name); err != nil {
		return err
	}
	if err := validateTableName(name); err != nil {
		return contracts.NewTableError("drop_table", name, err)
	}
	if err := dataset.Drop(ctx, c.store, name+tableSuffix); err != nil {
		return contracts.NewTableError("drop_table", name, fmt.Errorf("failed to drop table %s: %w", name, err))
	}
	c.log.WithTable(name).InfoContext(ctx, "table dropped")
	return nil
}

func (c *Connection) tableOptions(name string) dataset.Options {
	opts := c.dsOpts
	opts.Logger = c.log.WithTable(name)
	return opts
}
