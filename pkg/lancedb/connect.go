// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package lancedb

import (
	"context"
	"fmt"
	"strings"

	"github.com/universalmind303/lancedb/internal/config"
	"github.com/universalmind303/lancedb/pkg/contracts"
	"github.com/universalmind303/lancedb/pkg/internal"
	"github.com/universalmind303/lancedb/pkg/internal/remote"
)

// Connect establishes a connection to a LanceDB database.
//
// db://<database> URIs connect to LanceDB Cloud and need options.APIKey.
// memory://<name>, file:// URIs, plain paths and s3://bucket/prefix open
// the database in process.
//
//nolint:gocritic
func Connect(ctx context.Context, uri string, options *contracts.ConnectionOptions) (contracts.IConnection, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, fmt.Errorf("failed to connect: empty uri: %w", contracts.ErrConfiguration)
	}
	if strings.HasPrefix(uri, "db://") {
		conn, err := remote.NewConnection(ctx, uri, options)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to LanceDB at %s: %w", uri, err)
		}
		return conn, nil
	}
	conn, err := internal.NewConnection(ctx, uri, options)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ConnectWithConfig connects using a YAML or JSON configuration file with
// LANCEDB_* environment variables applied on top. An empty path reads the
// environment only.
func ConnectWithConfig(ctx context.Context, path string, registry contracts.IEmbeddingRegistry) (contracts.IConnection, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	opts, err := cfg.ConnectionOptions()
	if err != nil {
		return nil, err
	}
	opts.EmbeddingRegistry = registry
	return Connect(ctx, cfg.URI, opts)
}
