package report

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	pdfPageWidth  = 612 // US Letter, points
	pdfPageHeight = 792
	pdfMargin     = 50
	pdfLineHeight = 14
	pdfFontSize   = 9
	pdfTitleSize  = 14
)

// PDF renders the request as a minimal single-font PDF table, returned
// base64-encoded. Rows that do not fit on the page are truncated with a
// trailing marker line.
func PDF(req Request) (*File, error) {
	cols := req.columns()
	raw := buildPDF(req, cols)

	return &File{
		Filename: req.filename("pdf"),
		MimeType: "application/pdf",
		Size:     len(raw),
		Content:  base64.StdEncoding.EncodeToString(raw),
		Encoding: EncodingBase64,
	}, nil
}

// buildPDF assembles the document: catalog, page tree, one page, a
// Helvetica font and a content stream of positioned text lines.
func buildPDF(req Request, cols []ColumnSpec) []byte {
	lines := textLines(req, cols)

	var content bytes.Buffer
	y := pdfPageHeight - pdfMargin
	if req.Title != "" {
		fmt.Fprintf(&content, "BT /F1 %d Tf %d %d Td (%s) Tj ET\n", pdfTitleSize, pdfMargin, y, escapePDF(req.Title))
		y -= 2 * pdfLineHeight
	}
	for _, line := range lines {
		if y < pdfMargin {
			fmt.Fprintf(&content, "BT /F1 %d Tf %d %d Td (...) Tj ET\n", pdfFontSize, pdfMargin, pdfMargin)
			break
		}
		fmt.Fprintf(&content, "BT /F1 %d Tf %d %d Td (%s) Tj ET\n", pdfFontSize, pdfMargin, y, escapePDF(line))
		y -= pdfLineHeight
	}

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d %d] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>",
			pdfPageWidth, pdfPageHeight),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", content.Len(), content.String()),
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects)+1)
	for i, obj := range objects {
		offsets[i+1] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for i := 1; i <= len(objects); i++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

// textLines flattens the table into pipe-separated text rows.
func textLines(req Request, cols []ColumnSpec) []string {
	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = c.Label
	}
	lines := []string{strings.Join(header, " | ")}

	cells := make([]string, len(cols))
	for _, row := range req.Data {
		for i, c := range cols {
			cells[i] = cellString(row[c.Key])
		}
		lines = append(lines, strings.Join(cells, " | "))
	}
	return lines
}

// escapePDF escapes the characters with meaning inside PDF strings.
func escapePDF(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "(", "\\(", ")", "\\)")
	return r.Replace(s)
}
