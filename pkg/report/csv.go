package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// CSV renders the request as RFC 4180 CSV with a header row. The content
// is returned as plain text.
func CSV(req Request) (*File, error) {
	cols := req.columns()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = c.Label
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}

	record := make([]string, len(cols))
	for _, row := range req.Data {
		for i, c := range cols {
			record[i] = cellString(row[c.Key])
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("writing row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flushing csv: %w", err)
	}

	content := buf.String()
	return &File{
		Filename: req.filename("csv"),
		MimeType: "text/csv",
		Size:     len(content),
		Content:  content,
		Encoding: EncodingText,
	}, nil
}
