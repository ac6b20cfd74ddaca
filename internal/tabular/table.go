// Package tabular holds the in-memory form of a tabular data resource: an
// ordered schema of typed fields and a sequence of rows, plus the delimited
// text encoding used inside datapackage archives.
package tabular

import (
	"fmt"

	"dardanelles/internal/apperr"
)

var ErrSchemaMismatch = apperr.New(apperr.KindStructuralFormat, "schema_mismatch", "data does not match declared schema")

// Row maps a column name to a scalar cell value. A nil value is an empty cell.
type Row map[string]any

// Field is one named, typed column.
type Field struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`
}

// Schema is the ordered column list of a resource.
type Schema struct {
	PrimaryKey string  `json:"primaryKey,omitempty"`
	Fields     []Field `json:"fields"`
}

// Names returns the field names in declaration order.
func (s Schema) Names() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}

// Field looks up a field by name.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Table is a schema plus its rows.
type Table struct {
	Schema Schema
	Rows   []Row
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Column returns the values of one column, in row order.
func (t *Table) Column(name string) []any {
	out := make([]any, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[name]
	}
	return out
}

// Build creates a table from rows and an explicit column order, inferring
// each field's wire type from the column's values.
func Build(columns []string, rows []Row, primaryKey string) (*Table, error) {
	seen := make(map[string]struct{}, len(columns))
	fields := make([]Field, 0, len(columns))
	for _, name := range columns {
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		seen[name] = struct{}{}
		values := make([]any, len(rows))
		for i, row := range rows {
			values[i] = row[name]
		}
		wire, err := MapType(ColumnType(values))
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		fields = append(fields, Field{Name: name, Type: wire})
	}
	if primaryKey != "" {
		if _, ok := seen[primaryKey]; !ok {
			return nil, ErrSchemaMismatch.With("primaryKey", primaryKey)
		}
	}
	return &Table{
		Schema: Schema{PrimaryKey: primaryKey, Fields: fields},
		Rows:   rows,
	}, nil
}
