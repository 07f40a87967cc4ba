package toolkit

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-query-gateway/pkg/report"
	"github.com/txn2/mcp-query-gateway/pkg/sqlguard"
)

// reportInput carries tabular data plus presentation options for the
// document-generation tools.
type reportInput struct {
	Data     []map[string]any    `json:"data,omitempty"`
	Filename string              `json:"filename,omitempty"`
	Title    string              `json:"title,omitempty"`
	Columns  []report.ColumnSpec `json:"columns,omitempty"`
}

// registerReportTools registers the three document-generation tools.
func (d *Dispatcher) registerReportTools() {
	type renderer struct {
		name   string
		format string
		render func(report.Request) (*report.File, error)
	}

	for _, r := range []renderer{
		{"generate_excel_report", "Excel workbook", report.Excel},
		{"generate_csv_report", "CSV file", report.CSV},
		{"generate_pdf_report", "PDF document", report.PDF},
	} {
		render := r.render
		mcp.AddTool(d.server, &mcp.Tool{
			Name:        r.name,
			Description: fmt.Sprintf("Render tabular data as a downloadable %s.", r.format),
			Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
		}, func(_ context.Context, _ *mcp.CallToolRequest, in reportInput) (*mcp.CallToolResult, any, error) {
			d.calls.Add(1)
			return d.renderReport(render, in), nil, nil
		})
	}
}

// renderReport validates the input then hands it to the renderer.
func (d *Dispatcher) renderReport(render func(report.Request) (*report.File, error), in reportInput) *mcp.CallToolResult {
	if len(in.Data) == 0 {
		return failureResult(KindValidation, "invalid report arguments", []sqlguard.Problem{
			{Field: "data", Message: "data must contain at least one row"},
		})
	}
	if rowCap := d.toolkit.cfg.MaxReportRows; len(in.Data) > rowCap {
		return failureResult(KindValidation, "invalid report arguments", []sqlguard.Problem{
			{Field: "data", Message: fmt.Sprintf("data exceeds %d rows", rowCap)},
		})
	}

	file, err := render(report.Request{
		Data:     in.Data,
		Filename: in.Filename,
		Title:    in.Title,
		Columns:  in.Columns,
	})
	if err != nil {
		return failureResult(KindExecution, err.Error(), nil)
	}
	return jsonResult(file)
}
