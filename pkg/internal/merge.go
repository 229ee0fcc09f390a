// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package internal

import (
	"context"
	"fmt"

	"github.com/apache/arrow/go/v17/arrow"

	"github.com/universalmind303/lancedb/pkg/contracts"
)

// MergeRequest is the reconciliation policy accumulated by MergeInsertBuilder.
type MergeRequest struct {
	On []string

	UpdateMatched    bool
	MatchedCondition string

	InsertNotMatched bool

	DeleteNotMatchedBySource    bool
	NotMatchedBySourceCondition string
}

func (r MergeRequest) configured() bool {
	return r.UpdateMatched || r.InsertNotMatched || r.DeleteNotMatchedBySource
}

// MergeExecutor applies a MergeRequest to incoming records.
type MergeExecutor interface {
	ExecuteMerge(ctx context.Context, req MergeRequest, records []arrow.Record) error
}

// MergeInsertBuilder configures an upsert. Every method returns a new builder.
type MergeInsertBuilder struct {
	exec MergeExecutor
	req  MergeRequest
}

var _ contracts.IMergeInsertBuilder = MergeInsertBuilder{}

func NewMergeInsertBuilder(exec MergeExecutor, on []string) MergeInsertBuilder {
	return MergeInsertBuilder{exec: exec, req: MergeRequest{On: append([]string(nil), on...)}}
}

func (b MergeInsertBuilder) WhenMatchedUpdateAll(condition string) contracts.IMergeInsertBuilder {
	b.req.UpdateMatched = true
	b.req.MatchedCondition = condition
	return b
}

func (b MergeInsertBuilder) WhenNotMatchedInsertAll() contracts.IMergeInsertBuilder {
	b.req.InsertNotMatched = true
	return b
}

func (b MergeInsertBuilder) WhenNotMatchedBySourceDelete(condition string) contracts.IMergeInsertBuilder {
	b.req.DeleteNotMatchedBySource = true
	b.req.NotMatchedBySourceCondition = condition
	return b
}

func (b MergeInsertBuilder) Request() MergeRequest { return b.req }

// Execute reconciles records with the table in a single new version.
func (b MergeInsertBuilder) Execute(ctx context.Context, records []arrow.Record) error {
	if len(b.req.On) == 0 {
		return fmt.Errorf("merge insert needs at least one key column: %w", contracts.ErrValidation)
	}
	if !b.req.configured() {
		return fmt.Errorf("merge insert has no when-clause configured: %w", contracts.ErrValidation)
	}
	return b.exec.ExecuteMerge(ctx, b.req, records)
}
