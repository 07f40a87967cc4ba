// Package report renders tabular tool results into downloadable files.
// Generators return the bytes plus enough metadata for the caller to
// save or forward the file; they never touch the filesystem.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Encoding values for File.Content.
const (
	EncodingText   = "text"
	EncodingBase64 = "base64"
)

// ColumnSpec projects and labels one column of the input data.
type ColumnSpec struct {
	Key   string `json:"key"`
	Label string `json:"label,omitempty"`
}

// File is the result of rendering a report.
type File struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Size     int    `json:"size"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// Request carries the data and presentation options for one report.
type Request struct {
	Data     []map[string]any `json:"data"`
	Filename string           `json:"filename,omitempty"`
	Title    string           `json:"title,omitempty"`
	Columns  []ColumnSpec     `json:"columns,omitempty"`
}

// columns resolves the effective column set: the explicit projection if
// given, otherwise the union of keys across all rows in sorted order.
func (r *Request) columns() []ColumnSpec {
	if len(r.Columns) > 0 {
		cols := make([]ColumnSpec, len(r.Columns))
		copy(cols, r.Columns)
		for i := range cols {
			if cols[i].Label == "" {
				cols[i].Label = cols[i].Key
			}
		}
		return cols
	}

	seen := make(map[string]struct{})
	var keys []string
	for _, row := range r.Data {
		for k := range row {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)

	cols := make([]ColumnSpec, len(keys))
	for i, k := range keys {
		cols[i] = ColumnSpec{Key: k, Label: k}
	}
	return cols
}

// filename returns the requested filename with the extension enforced,
// or a timestamped default.
func (r *Request) filename(ext string) string {
	name := strings.TrimSpace(r.Filename)
	if name == "" {
		name = "report-" + time.Now().Format("20060102-150405")
	}
	if !strings.HasSuffix(strings.ToLower(name), "."+ext) {
		name += "." + ext
	}
	return name
}

// cellString renders a single value for text output.
func cellString(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
