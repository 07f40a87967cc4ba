package toolkit

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// queryInput carries the SQL text for the query tools. The query field
// is schema-optional so an absent value surfaces as a validation
// failure in the envelope instead of a protocol rejection.
type queryInput struct {
	Query string `json:"query,omitempty"`
}

// terminalLimitPattern matches a single row-limit clause at the end of
// the statement.
var terminalLimitPattern = regexp.MustCompile(`(?i)\s+limit\s+(\d+)\s*$`)

// registerQueryTools registers validate_sql_query and execute_query.
func (d *Dispatcher) registerQueryTools() {
	mcp.AddTool(d.server, &mcp.Tool{
		Name: "validate_sql_query",
		Description: "Validate a SQL query against the security policy without " +
			"executing it. Returns the sanitized SQL or the rejection reasons.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(_ context.Context, _ *mcp.CallToolRequest, in queryInput) (*mcp.CallToolResult, any, error) {
		d.calls.Add(1)
		return jsonResult(d.toolkit.validator.Validate(in.Query)), nil, nil
	})

	mcp.AddTool(d.server, &mcp.Tool{
		Name: "execute_query",
		Description: "Validate and execute a read-only SQL query. Returns rows " +
			"plus metadata including hasMore pagination detection.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in queryInput) (*mcp.CallToolResult, any, error) {
		d.calls.Add(1)
		return d.executeQuery(ctx, in.Query), nil, nil
	})
}

// executeQuery validates first and only hands sanitized SQL to the
// engine. The engine is never called with text the validator rejected.
func (d *Dispatcher) executeQuery(ctx context.Context, query string) *mcp.CallToolResult {
	verdict := d.toolkit.validator.Validate(query)
	if !verdict.Valid {
		return failureResult(KindValidation, "query rejected by security policy", verdict.Problems)
	}

	fetchSQL, limit, paginate := d.planFetch(verdict.SanitizedSQL)

	result, err := d.toolkit.engine.Execute(ctx, fetchSQL)
	if err != nil {
		d.toolkit.log.Warn("toolkit: query failed",
			"session_id", d.sessionID, "error", err)
		return failureResult(KindExecution, err.Error(), nil)
	}

	rows := resultRows(result)
	hasMore := false
	if paginate && len(rows) > limit {
		rows = rows[:limit]
		hasMore = true
	}

	return jsonResult(QueryOutput{
		Data: rows,
		Metadata: QueryMetadata{
			RowCount: len(rows),
			HasMore:  hasMore,
			Tables:   verdict.Tables,
			Columns:  verdict.Columns,
		},
	})
}

// planFetch decides the SQL actually sent to the engine. A single
// terminal LIMIT n is rewritten to n+1 so one extra row can signal a
// following page; a query with no limit gets the default appended. SQL
// whose limit is not terminal (subqueries, OFFSET, FETCH FIRST) is left
// alone and reported without pagination.
func (d *Dispatcher) planFetch(sql string) (fetchSQL string, limit int, paginate bool) {
	lower := strings.ToLower(sql)

	if m := terminalLimitPattern.FindStringSubmatch(sql); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return sql, 0, false
		}
		if n > d.toolkit.cfg.MaxLimit {
			n = d.toolkit.cfg.MaxLimit
		}
		trimmed := terminalLimitPattern.ReplaceAllString(sql, "")
		return fmt.Sprintf("%s LIMIT %d", trimmed, n+1), n, true
	}

	if strings.Contains(lower, "limit") || strings.Contains(lower, "offset") || strings.Contains(lower, "fetch first") {
		return sql, 0, false
	}

	n := d.toolkit.cfg.DefaultLimit
	return fmt.Sprintf("%s LIMIT %d", sql, n+1), n, true
}
