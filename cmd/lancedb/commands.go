// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/universalmind303/lancedb/internal/config"
	"github.com/universalmind303/lancedb/pkg/contracts"
	"github.com/universalmind303/lancedb/pkg/lancedb"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	uri        string
	apiKey     string
	json       bool
}

func (g *globalFlags) connect(ctx context.Context) (contracts.IConnection, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.uri != "" {
		cfg.URI = g.uri
	}
	if g.apiKey != "" {
		cfg.APIKey = g.apiKey
	}
	opts, err := cfg.ConnectionOptions()
	if err != nil {
		return nil, err
	}
	return lancedb.Connect(ctx, cfg.URI, opts)
}

// withTable opens the named table for the duration of fn.
func (g *globalFlags) withTable(ctx context.Context, name string, fn func(contracts.ITable) error) error {
	conn, err := g.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	tbl, err := conn.OpenTable(ctx, name)
	if err != nil {
		return err
	}
	defer tbl.Close()
	return fn(tbl)
}

func (g *globalFlags) print(w io.Writer, v interface{}, text func(io.Writer) error) error {
	if g.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return text(w)
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "lancedb",
		Short: "Inspect and maintain LanceDB databases",
		Long: `Inspect and maintain LanceDB databases.

The database is taken from --uri, then LANCEDB_URI, then the uri field of
--config. db://<name> URIs talk to LanceDB Cloud and need an API key.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "YAML or JSON configuration file")
	root.PersistentFlags().StringVarP(&g.uri, "uri", "u", "", "Database URI")
	root.PersistentFlags().StringVar(&g.apiKey, "api-key", "", "API key for db:// URIs")
	root.PersistentFlags().BoolVar(&g.json, "json", false, "Output as JSON")

	root.AddCommand(
		newTablesCmd(g),
		newDescribeCmd(g),
		newCountCmd(g),
		newQueryCmd(g),
		newVersionsCmd(g),
		newRestoreCmd(g),
		newOptimizeCmd(g),
		newCreateIndexCmd(g),
		newDropIndexCmd(g),
		newDropCmd(g),
	)
	return root
}

func newTablesCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := g.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()
			names, err := conn.TableNames(cmd.Context())
			if err != nil {
				return err
			}
			sort.Strings(names)
			return g.print(cmd.OutOrStdout(), names, func(w io.Writer) error {
				for _, n := range names {
					fmt.Fprintln(w, n)
				}
				return nil
			})
		},
	}
}

type describeOutput struct {
	Name    string                  `json:"name"`
	Version int                     `json:"version"`
	Fields  []fieldOutput           `json:"fields"`
	Stats   *contracts.TableStats   `json:"stats"`
	Indices []contracts.IndexConfig `json:"indices"`
}

type fieldOutput struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

func newDescribeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <table>",
		Short: "Show schema, version, statistics and indices of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return g.withTable(ctx, args[0], func(tbl contracts.ITable) error {
				out := describeOutput{Name: tbl.Name()}
				var err error
				if out.Version, err = tbl.Version(ctx); err != nil {
					return err
				}
				schema, err := tbl.Schema(ctx)
				if err != nil {
					return err
				}
				for _, f := range schema.Fields() {
					out.Fields = append(out.Fields, fieldOutput{Name: f.Name, Type: f.Type.String(), Nullable: f.Nullable})
				}
				if out.Stats, err = tbl.Stats(ctx); err != nil {
					return err
				}
				if out.Indices, err = tbl.ListIndices(ctx); err != nil {
					return err
				}
				return g.print(cmd.OutOrStdout(), out, func(w io.Writer) error {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintf(tw, "Table:\t%s\n", out.Name)
					fmt.Fprintf(tw, "Version:\t%d\n", out.Version)
					fmt.Fprintf(tw, "Rows:\t%d (%d deleted)\n", out.Stats.NumRows, out.Stats.NumDeletedRows)
					fmt.Fprintf(tw, "Fragments:\t%d (%d small)\n", out.Stats.NumFragments, out.Stats.NumSmallFragments)
					fmt.Fprintln(tw, "\nColumn\tType\tNullable")
					for _, f := range out.Fields {
						fmt.Fprintf(tw, "%s\t%s\t%t\n", f.Name, f.Type, f.Nullable)
					}
					if len(out.Indices) > 0 {
						fmt.Fprintln(tw, "\nIndex\tColumns\tType")
						for _, ix := range out.Indices {
							fmt.Fprintf(tw, "%s\t%s\t%s\n", ix.Name, strings.Join(ix.Columns, ","), ix.IndexType)
						}
					}
					return tw.Flush()
				})
			})
		},
	}
}

func newCountCmd(g *globalFlags) *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:   "count <table>",
		Short: "Count rows, optionally matching a filter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return g.withTable(ctx, args[0], func(tbl contracts.ITable) error {
				n, err := tbl.CountRows(ctx, filter)
				if err != nil {
					return err
				}
				return g.print(cmd.OutOrStdout(), map[string]int64{"count": n}, func(w io.Writer) error {
					_, err := fmt.Fprintln(w, n)
					return err
				})
			})
		},
	}
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "SQL predicate")
	return cmd
}

func newQueryCmd(g *globalFlags) *cobra.Command {
	var (
		filter  string
		limit   int
		columns []string
	)
	cmd := &cobra.Command{
		Use:   "query <table>",
		Short: "Print matching rows as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return g.withTable(ctx, args[0], func(tbl contracts.ITable) error {
				q := tbl.Query().Limit(limit)
				if filter != "" {
					q = q.Filter(filter)
				}
				if len(columns) > 0 {
					q = q.Select(columns...)
				}
				rows, err := q.ToRows(ctx)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				for _, row := range rows {
					if err := enc.Encode(row); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "SQL predicate")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum rows, 0 for all")
	cmd.Flags().StringSliceVar(&columns, "columns", nil, "Columns to return")
	return cmd
}

func newVersionsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "versions <table>",
		Short: "List the versions of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return g.withTable(ctx, args[0], func(tbl contracts.ITable) error {
				versions, err := tbl.ListVersions(ctx)
				if err != nil {
					return err
				}
				return g.print(cmd.OutOrStdout(), versions, func(w io.Writer) error {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "Version\tTimestamp\tOperation")
					for _, v := range versions {
						fmt.Fprintf(tw, "%d\t%s\t%s\n", v.Version, v.Timestamp.Format(time.RFC3339), v.Operation)
					}
					return tw.Flush()
				})
			})
		},
	}
}

func newRestoreCmd(g *globalFlags) *cobra.Command {
	var version int
	cmd := &cobra.Command{
		Use:   "restore <table>",
		Short: "Make an older version the latest one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return g.withTable(ctx, args[0], func(tbl contracts.ITable) error {
				if err := tbl.Checkout(ctx, version); err != nil {
					return err
				}
				if err := tbl.Restore(ctx); err != nil {
					return err
				}
				latest, err := tbl.Version(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "restored version %d as version %d\n", version, latest)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "Version to restore")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func newOptimizeCmd(g *globalFlags) *cobra.Command {
	var (
		olderThan  time.Duration
		targetRows int
	)
	cmd := &cobra.Command{
		Use:   "optimize <table>",
		Short: "Compact fragments, prune old versions and update indices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return g.withTable(ctx, args[0], func(tbl contracts.ITable) error {
				opts := &contracts.OptimizeOptions{}
				if cmd.Flags().Changed("older-than") {
					opts.CleanupOlderThan = &olderThan
				}
				if targetRows > 0 {
					opts.TargetRowsPerFragment = &targetRows
				}
				stats, err := tbl.Optimize(ctx, opts)
				if err != nil {
					return err
				}
				return g.print(cmd.OutOrStdout(), stats, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "fragments: -%d +%d, versions pruned: %d, bytes removed: %d, indices updated: %d\n",
						stats.FragmentsRemoved, stats.FragmentsAdded, stats.VersionsPruned, stats.BytesRemoved, stats.IndicesUpdated)
					return err
				})
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Prune versions older than this (default 7 days)")
	cmd.Flags().IntVar(&targetRows, "target-rows", 0, "Target rows per fragment")
	return cmd
}

func newCreateIndexCmd(g *globalFlags) *cobra.Command {
	var (
		indexType string
		name      string
		replace   bool
		metric    string
	)
	cmd := &cobra.Command{
		Use:   "create-index <table> <column>",
		Short: "Build an index on a column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, ok := contracts.ParseIndexType(indexType)
			if !ok {
				return fmt.Errorf("unknown index type %q: %w", indexType, contracts.ErrValidation)
			}
			opts := &contracts.IndexOptions{IndexType: t, Replace: &replace}
			if name != "" {
				opts.Name = &name
			}
			if metric != "" {
				d, ok := contracts.ParseDistanceType(metric)
				if !ok {
					return fmt.Errorf("unknown distance type %q: %w", metric, contracts.ErrValidation)
				}
				opts.DistanceType = &d
			}
			ctx := cmd.Context()
			return g.withTable(ctx, args[0], func(tbl contracts.ITable) error {
				return tbl.CreateIndexWithOptions(ctx, args[1], opts)
			})
		},
	}
	cmd.Flags().StringVarP(&indexType, "type", "t", "auto", "Index type: auto, IVF_PQ, IVF_FLAT, IVF_HNSW_PQ, IVF_HNSW_SQ, BTREE, BITMAP, LABEL_LIST or FTS")
	cmd.Flags().StringVar(&name, "name", "", "Index name (default <column>_idx)")
	cmd.Flags().BoolVar(&replace, "replace", true, "Replace an existing index on the column")
	cmd.Flags().StringVar(&metric, "metric", "", "Distance type for vector indices: l2, cosine, dot or hamming")
	return cmd
}

func newDropIndexCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "drop-index <table> <index>",
		Short: "Drop an index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return g.withTable(ctx, args[0], func(tbl contracts.ITable) error {
				return tbl.DropIndex(ctx, args[1])
			})
		},
	}
}

func newDropCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "drop <table>",
		Short: "Drop a table and all of its versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := g.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()
			return conn.DropTable(cmd.Context(), args[0])
		},
	}
}
