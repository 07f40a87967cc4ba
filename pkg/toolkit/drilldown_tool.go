package toolkit

import (
	"context"
	"fmt"
	"regexp"

	sq "github.com/Masterminds/squirrel"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-query-gateway/pkg/sqlguard"
)

// psq is the statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// cursorPattern matches a resumable numeric key.
var cursorPattern = regexp.MustCompile(`^\d+$`)

// drillDownInput addresses one parent's rows, optionally resuming after
// a cursor from a previous page.
type drillDownInput struct {
	ParentKey string `json:"parentKey,omitempty"`
	Cursor    string `json:"cursor,omitempty"`
}

// registerDrillDownTool registers execute_drill_down_query.
func (d *Dispatcher) registerDrillDownTool() {
	dd := d.toolkit.cfg.DrillDown
	mcp.AddTool(d.server, &mcp.Tool{
		Name: "execute_drill_down_query",
		Description: fmt.Sprintf("Page through %s rows scoped to one %s value. "+
			"Pass the cursor from the previous page to continue; omit it to start over.",
			dd.Table, dd.ParentColumn),
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in drillDownInput) (*mcp.CallToolResult, any, error) {
		d.calls.Add(1)
		return d.drillDown(ctx, in), nil, nil
	})
}

// drillDown fetches pageSize+1 rows ordered by the natural key and uses
// the extra row only to decide whether a following page exists. The
// cursor is stateless: it is the last returned row's key.
func (d *Dispatcher) drillDown(ctx context.Context, in drillDownInput) *mcp.CallToolResult {
	dd := d.toolkit.cfg.DrillDown

	if problems := d.checkDrillDownInput(in); len(problems) > 0 {
		return failureResult(KindValidation, "invalid drill-down arguments", problems)
	}

	builder := psq.Select(dd.Columns...).
		From(dd.Table).
		Where(sq.Eq{dd.ParentColumn: in.ParentKey}).
		OrderBy(dd.KeyColumn).
		Limit(uint64(dd.PageSize) + 1) //nolint:gosec // page size is a small config value
	if in.Cursor != "" {
		builder = builder.Where(sq.Gt{dd.KeyColumn: in.Cursor})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return failureResult(KindExecution, "building query: "+err.Error(), nil)
	}

	result, err := d.toolkit.engine.Execute(ctx, query, args...)
	if err != nil {
		d.toolkit.log.Warn("toolkit: drill-down failed",
			"session_id", d.sessionID, "parent_key", in.ParentKey, "error", err)
		return failureResult(KindExecution, err.Error(), nil)
	}

	rows := resultRows(result)
	hasMore := len(rows) > dd.PageSize
	if hasMore {
		rows = rows[:dd.PageSize]
	}

	nextCursor := ""
	if hasMore && len(rows) > 0 {
		nextCursor = fmt.Sprintf("%v", rows[len(rows)-1][dd.KeyColumn])
	}

	return jsonResult(QueryOutput{
		Data: rows,
		Metadata: QueryMetadata{
			RowCount:   len(rows),
			HasMore:    hasMore,
			NextCursor: nextCursor,
		},
	})
}

// checkDrillDownInput validates the fixed-width numeric parent key and
// the cursor format.
func (d *Dispatcher) checkDrillDownInput(in drillDownInput) []sqlguard.Problem {
	var problems []sqlguard.Problem
	if in.ParentKey == "" {
		problems = append(problems, sqlguard.Problem{
			Field: "parentKey", Message: "parentKey is required",
		})
	} else if !d.toolkit.keyPattern.MatchString(in.ParentKey) {
		problems = append(problems, sqlguard.Problem{
			Field:   "parentKey",
			Message: fmt.Sprintf("parentKey must be a %d-digit numeric code", d.toolkit.cfg.DrillDown.KeyLength),
		})
	}
	if in.Cursor != "" && !cursorPattern.MatchString(in.Cursor) {
		problems = append(problems, sqlguard.Problem{
			Field: "cursor", Message: "cursor must be a numeric key",
		})
	}
	return problems
}
