package toolkit

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// schemaInput is empty since the tool has no parameters.
type schemaInput struct{}

// registerSchemaTool registers get_information_schema.
func (d *Dispatcher) registerSchemaTool() {
	mcp.AddTool(d.server, &mcp.Tool{
		Name: "get_information_schema",
		Description: "Get the queryable schema (tables, columns, types) and the " +
			"active SQL security policy. Call this before writing queries.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(_ context.Context, _ *mcp.CallToolRequest, _ schemaInput) (*mcp.CallToolResult, any, error) {
		d.calls.Add(1)
		return jsonResult(d.toolkit.validator.Schema()), nil, nil
	})
}
