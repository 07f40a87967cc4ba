// Package engine provides query execution against the analytical store.
// The Executor contract is what the tool dispatcher depends on; the
// Postgres implementation runs on a pooled database/sql handle shared by
// all sessions.
package engine

import "context"

// Result holds the rows returned by one query.
type Result struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// RowCount returns the number of rows in the result.
func (r *Result) RowCount() int {
	return len(r.Rows)
}

// Executor runs already-validated SQL and returns rows.
type Executor interface {
	// Execute runs sql with the given arguments.
	Execute(ctx context.Context, sql string, args ...any) (*Result, error)

	// Close releases the underlying connections.
	Close() error
}
