package toolkit

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-query-gateway/pkg/engine"
	"github.com/txn2/mcp-query-gateway/pkg/sqlguard"
)

// Failure kinds. A validation failure is safe to retry with fixed
// input; an execution failure happened after validation passed.
const (
	KindValidation = "validation"
	KindExecution  = "execution"
)

// maxSafeInteger is the largest integer exactly representable in a JSON
// number (IEEE 754 double).
const maxSafeInteger = 1<<53 - 1

// Failure is the structured error payload of a failed tool call.
type Failure struct {
	Kind     string             `json:"kind"`
	Message  string             `json:"message"`
	Problems []sqlguard.Problem `json:"problems,omitempty"`
}

// failureEnvelope wraps a Failure for the wire.
type failureEnvelope struct {
	Error Failure `json:"error"`
}

// QueryMetadata describes a page of query results.
type QueryMetadata struct {
	RowCount   int      `json:"rowCount"`
	HasMore    bool     `json:"hasMore"`
	NextCursor string   `json:"nextCursor,omitempty"`
	Tables     []string `json:"tables,omitempty"`
	Columns    []string `json:"columns,omitempty"`
}

// QueryOutput is the success payload of execute_query and
// execute_drill_down_query.
type QueryOutput struct {
	Data     []map[string]any `json:"data"`
	Metadata QueryMetadata    `json:"metadata"`
}

// jsonResult marshals v into a single text content block.
func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return failureResult(KindExecution, "encoding response: "+err.Error(), nil)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}

// failureResult builds an error result carrying the typed failure
// envelope. Tool failures travel in the result, never as Go errors, so
// the protocol layer treats them as normal responses.
func failureResult(kind, message string, problems []sqlguard.Problem) *mcp.CallToolResult {
	data, _ := json.MarshalIndent(failureEnvelope{Failure{
		Kind:     kind,
		Message:  message,
		Problems: problems,
	}}, "", "  ")
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		IsError: true,
	}
}

// resultRows converts an engine result into row maps with JSON-safe
// numeric values.
func resultRows(result *engine.Result) []map[string]any {
	rows := make([]map[string]any, 0, len(result.Rows))
	for _, raw := range result.Rows {
		row := make(map[string]any, len(result.Columns))
		for i, col := range result.Columns {
			if i < len(raw) {
				row[col] = safeNumber(raw[i])
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// safeNumber converts integers outside the JSON safe range to strings
// so serialization cannot silently lose precision. Safe values pass
// through unchanged.
func safeNumber(v any) any {
	switch n := v.(type) {
	case int64:
		if n > maxSafeInteger || n < -maxSafeInteger {
			return strconv.FormatInt(n, 10)
		}
		return n
	case uint64:
		if n > maxSafeInteger {
			return strconv.FormatUint(n, 10)
		}
		return n
	case float64:
		if n != math.Trunc(n) {
			return n
		}
		if n > maxSafeInteger || n < -maxSafeInteger {
			return strconv.FormatFloat(n, 'f', -1, 64)
		}
		return n
	default:
		return v
	}
}
