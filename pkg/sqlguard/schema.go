// Package sqlguard validates SQL query text against an allow-listed
// schema and a read-only statement policy before it may reach the query
// engine. It also serves as the source of truth for the queryable schema
// exposed to callers.
package sqlguard

// Column describes a queryable column.
type Column struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description,omitempty" yaml:"description"`
}

// Table describes an allow-listed table.
type Table struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description"`
	Columns     []Column `json:"columns" yaml:"columns"`
}

// Policy describes the active security policy.
type Policy struct {
	// ReadOnly indicates only SELECT statements are accepted.
	ReadOnly bool `json:"read_only" yaml:"read_only"`

	// MaxQueryLength is the maximum accepted query text length.
	MaxQueryLength int `json:"max_query_length" yaml:"max_query_length"`

	// MaxRows is the largest number of rows a single query returns.
	// When zero it is filled in from the serving limits at startup.
	MaxRows int `json:"max_rows" yaml:"max_rows"`

	// AllowedStatements lists the accepted leading keywords.
	AllowedStatements []string `json:"allowed_statements" yaml:"allowed_statements"`
}

// Schema is the queryable schema plus the active policy.
type Schema struct {
	Tables []Table `json:"tables" yaml:"tables"`
	Policy Policy  `json:"policy" yaml:"policy"`
}

// Problem is a single machine-checkable validation failure.
type Problem struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Verdict is the outcome of validating one query.
type Verdict struct {
	Valid        bool      `json:"valid"`
	SanitizedSQL string    `json:"sanitizedSQL,omitempty"`
	Problems     []Problem `json:"errors,omitempty"`
	Tables       []string  `json:"tables,omitempty"`
	Columns      []string  `json:"columns,omitempty"`
}

// Validator is the contract the dispatcher depends on.
type Validator interface {
	// Validate checks query text without executing it.
	Validate(query string) *Verdict

	// Schema returns the queryable schema and active policy.
	Schema() *Schema
}
