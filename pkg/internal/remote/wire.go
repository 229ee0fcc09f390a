// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package remote

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/universalmind303/lancedb/pkg/contracts"
)

// Request and response bodies of the HTTP API. Record batches travel as
// Arrow IPC streams; everything else is JSON.

type listTablesResponse struct {
	Tables    []string `json:"tables"`
	PageToken string   `json:"page_token,omitempty"`
}

type describeResponse struct {
	Table   string `json:"table"`
	Version int    `json:"version"`
	// Schema is an Arrow IPC schema message.
	Schema []byte     `json:"schema"`
	Stats  tableStats `json:"stats"`
}

type tableStats struct {
	NumRows        int64 `json:"num_rows"`
	NumDeletedRows int64 `json:"num_deleted_rows"`
	NumFragments   int   `json:"num_fragments"`
	TotalBytes     int64 `json:"total_bytes"`
}

type predicateRequest struct {
	Predicate string `json:"predicate,omitempty"`
}

type updateRequest struct {
	Predicate string `json:"predicate,omitempty"`
	// Updates pairs a column with an SQL expression.
	Updates [][2]string `json:"updates"`
}

type fullTextQuery struct {
	Columns []string `json:"columns,omitempty"`
	Query   string   `json:"query"`
}

type queryRequest struct {
	Vector        []float32      `json:"vector,omitempty"`
	VectorColumn  string         `json:"vector_column,omitempty"`
	FullTextQuery *fullTextQuery `json:"full_text_query,omitempty"`
	K             int            `json:"k,omitempty"`
	Offset        int            `json:"offset,omitempty"`
	Filter        string         `json:"filter,omitempty"`
	Columns       []string       `json:"columns,omitempty"`
	Prefilter     bool           `json:"prefilter"`
	DistanceType  string         `json:"distance_type,omitempty"`
	Nprobes       int            `json:"nprobes,omitempty"`
	RefineFactor  int            `json:"refine_factor,omitempty"`
	BypassIndex   bool           `json:"bypass_vector_index,omitempty"`
	WithRowID     bool           `json:"with_row_id,omitempty"`
}

type createIndexRequest struct {
	Column        string `json:"column"`
	IndexType     string `json:"index_type"`
	Name          string `json:"name,omitempty"`
	DistanceType  string `json:"distance_type,omitempty"`
	Replace       bool   `json:"replace"`
	NumPartitions int    `json:"num_partitions,omitempty"`
}

type indexEntry struct {
	Name         string   `json:"index_name"`
	Columns      []string `json:"columns"`
	IndexType    string   `json:"index_type"`
	DistanceType string   `json:"distance_type,omitempty"`
}

type listIndicesResponse struct {
	Indexes []indexEntry `json:"indexes"`
}

type versionEntry struct {
	Version   int               `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Operation string            `json:"operation,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type listVersionsResponse struct {
	Versions []versionEntry `json:"versions"`
}

// sqlLiteral renders an update value as an SQL expression.
func sqlLiteral(v interface{}) (string, error) {
	switch x := v.(type) {
	case contracts.Expr:
		return string(x), nil
	case nil:
		return "NULL", nil
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'", nil
	case bool:
		if x {
			return "TRUE", nil
		}
		return "FALSE", nil
	case int:
		return strconv.Itoa(x), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float32:
		return formatFloat(float64(x), 32)
	case float64:
		return formatFloat(x, 64)
	case time.Time:
		return "timestamp '" + x.UTC().Format("2006-01-02 15:04:05.999999") + "'", nil
	case []float32:
		parts := make([]string, len(x))
		for i, f := range x {
			s, err := formatFloat(float64(f), 32)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	}
	return "", fmt.Errorf("unsupported update value of type %T: %w", v, contracts.ErrValidation)
}

func formatFloat(f float64, bits int) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("cannot send %v as an SQL literal: %w", f, contracts.ErrValidation)
	}
	return strconv.FormatFloat(f, 'g', -1, bits), nil
}
