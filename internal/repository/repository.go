// Package repository provides PostgreSQL persistence for the review pipeline.
//
// # Ownership
//
// Each table has exactly one writer:
//
//   - RecordStore is the only writer of bibliographic_records, and only ever
//     inserts. Conflicting inserts are ignored, so first-written data wins.
//   - ExtractionRepository writes the AI-derived columns for the pipeline and
//     merges evaluator validations key by key.
//   - ProcessingLogRepository only appends.
//   - AnalysisRepository overwrites one document per (project, analysis type).
//
// # Transactions
//
// Every repository takes a DBTX, which a pool, a transaction and a pgxmock
// pool all satisfy. Multi-statement writes run through database.RunInTx.
//
// # Queries
//
// Fixed statements are plain SQL. Reads with optional filters are built with
// squirrel using dollar placeholders.
package repository

import (
	sq "github.com/Masterminds/squirrel"

	"github.com/helixir/slr-pipeline/internal/database"
)

// DBTX is the database interface supporting both pool and transaction contexts.
type DBTX = database.DBTX

// psql builds PostgreSQL statements with $n placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Pagination defaults and bounds.
const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// applyPaginationDefaults normalizes limit and offset.
func applyPaginationDefaults(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// nullableInt maps zero to SQL NULL.
func nullableInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}
