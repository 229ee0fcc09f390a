// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

/*
Package lancedb is a pure Go client for LanceDB, an embedded and cloud vector
database.

Tables are versioned collections of Arrow record batches. Every mutation
commits a new immutable version; readers keep a consistent snapshot while
writers commit. The same contracts.IConnection and contracts.ITable
interfaces are served by two backends: an in-process dataset engine for
local, in-memory and S3 storage, and an HTTP client for LanceDB Cloud.

# Basic Usage

	db, err := lancedb.Connect(ctx, "./my_database", nil)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	schema, err := lancedb.NewSchemaBuilder().
		AddInt64Field("id", false).
		AddVectorField("embedding", 128, lancedb.VectorDataTypeFloat32, false).
		AddStringField("text", true).
		Build()
	if err != nil {
		log.Fatal(err)
	}

	table, err := db.CreateTable(ctx, "documents", schema)
	if err != nil {
		log.Fatal(err)
	}
	defer table.Close()

# Connection Types

	lancedb.Connect(ctx, "memory://scratch", nil)          // process-local, shared by name
	lancedb.Connect(ctx, "/path/to/database", nil)         // local directory
	lancedb.Connect(ctx, "s3://my-bucket/db-prefix", opts) // AWS S3, or MinIO when S3Config.Endpoint is set
	lancedb.Connect(ctx, "db://my-database", opts)         // LanceDB Cloud, opts.APIKey required

ConnectWithConfig reads the same settings from a YAML or JSON file and
LANCEDB_* environment variables.

# Queries

Query builders are immutable values. Nothing touches storage until a
terminal call (Execute, ExecuteAsync, Iterate or ToRows):

	rows, err := table.Search([]float32{0.1, 0.2}).
		Filter("text IS NOT NULL").
		DistanceType(contracts.DistanceTypeCosine).
		Limit(5).
		ToRows(ctx)

	reader, err := table.Query().Filter("id > 100").Iterate(ctx)

	hits, err := table.FullTextQuery("quick fox").Column("text").Execute(ctx)

# Versions

	v, _ := table.Version(ctx)
	_ = table.Checkout(ctx, v-1) // read-only time travel
	_ = table.Restore(ctx)       // commit the checked-out data as a new version
	_ = table.CheckoutLatest(ctx)

Optimize compacts small fragments, prunes versions older than the
configured age and brings indices up to date. Versions still held by a
checked-out handle are never pruned.

# Embeddings

Register functions in a registry passed through ConnectionOptions and bind
them to columns with ISchemaBuilder.AddEmbedding. Add then fills the
destination column, and SearchText embeds the query string.

# Errors

Failed operations return a *contracts.TableError naming the operation and
the table. Match the cause with errors.Is against contracts.ErrNotFound,
contracts.ErrAlreadyExists, contracts.ErrValidation and the other
sentinels.

# Thread Safety

Connections and tables are safe for concurrent use. Arrow records returned
by queries are owned by the caller and must be released.
*/
package lancedb
