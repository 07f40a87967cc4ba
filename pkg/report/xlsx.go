package report

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strconv"
)

// xlsxMimeType is the OOXML spreadsheet media type.
const xlsxMimeType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Excel renders the request as a single-sheet XLSX workbook using inline
// strings, returned base64-encoded.
func Excel(req Request) (*File, error) {
	cols := req.columns()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	parts := []struct {
		name string
		body string
	}{
		{"[Content_Types].xml", xlsxContentTypes},
		{"_rels/.rels", xlsxRootRels},
		{"xl/workbook.xml", xlsxWorkbook},
		{"xl/_rels/workbook.xml.rels", xlsxWorkbookRels},
		{"xl/worksheets/sheet1.xml", buildSheet(req, cols)},
	}
	for _, p := range parts {
		f, err := zw.Create(p.name)
		if err != nil {
			return nil, fmt.Errorf("creating %s: %w", p.name, err)
		}
		if _, err := f.Write([]byte(p.body)); err != nil {
			return nil, fmt.Errorf("writing %s: %w", p.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("closing workbook: %w", err)
	}

	raw := buf.Bytes()
	return &File{
		Filename: req.filename("xlsx"),
		MimeType: xlsxMimeType,
		Size:     len(raw),
		Content:  base64.StdEncoding.EncodeToString(raw),
		Encoding: EncodingBase64,
	}, nil
}

// buildSheet renders the worksheet XML: optional title row, header row,
// then data rows. Strings are inline, numeric values are typed cells.
func buildSheet(req Request, cols []ColumnSpec) string {
	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n")
	b.WriteString(`<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"><sheetData>`)

	rowNum := 1
	if req.Title != "" {
		writeRow(&b, rowNum, []any{req.Title})
		rowNum++
	}

	header := make([]any, len(cols))
	for i, c := range cols {
		header[i] = c.Label
	}
	writeRow(&b, rowNum, header)
	rowNum++

	cells := make([]any, len(cols))
	for _, row := range req.Data {
		for i, c := range cols {
			cells[i] = row[c.Key]
		}
		writeRow(&b, rowNum, cells)
		rowNum++
	}

	b.WriteString(`</sheetData></worksheet>`)
	return b.String()
}

func writeRow(b *bytes.Buffer, num int, cells []any) {
	b.WriteString(`<row r="` + strconv.Itoa(num) + `">`)
	for _, v := range cells {
		switch t := v.(type) {
		case nil:
			b.WriteString(`<c t="inlineStr"><is><t></t></is></c>`)
		case int, int32, int64, float32, float64:
			b.WriteString(`<c><v>` + cellString(t) + `</v></c>`)
		default:
			b.WriteString(`<c t="inlineStr"><is><t>`)
			_ = xml.EscapeText(b, []byte(cellString(t)))
			b.WriteString(`</t></is></c>`)
		}
	}
	b.WriteString(`</row>`)
}

const xlsxContentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/><Default Extension="xml" ContentType="application/xml"/><Override PartName="/xl/workbook.xml" ContentType="application/vnd.openxmlformats-officedocument.spreadsheetml.sheet.main+xml"/><Override PartName="/xl/worksheets/sheet1.xml" ContentType="application/vnd.openxmlformats-officedocument.spreadsheetml.worksheet+xml"/></Types>`

const xlsxRootRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"><Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="xl/workbook.xml"/></Relationships>`

const xlsxWorkbook = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<workbook xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"><sheets><sheet name="Report" sheetId="1" r:id="rId1"/></sheets></workbook>`

const xlsxWorkbookRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"><Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/worksheet" Target="worksheets/sheet1.xml"/></Relationships>`
