package tabular

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// WriteCSV writes the table as comma-delimited text with a header row.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	names := t.Schema.Names()
	if err := cw.Write(names); err != nil {
		return err
	}
	record := make([]string, len(names))
	for i, row := range t.Rows {
		for j, name := range names {
			cell, err := formatCell(row[name])
			if err != nil {
				return fmt.Errorf("row %d column %q: %w", i, name, err)
			}
			record[j] = cell
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatCell(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case bool:
		if x {
			return "True", nil
		}
		return "False", nil
	case float64:
		return formatFloat(x, 64), nil
	case float32:
		return formatFloat(float64(x), 32), nil
	case json.RawMessage:
		return string(x), nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Slice, reflect.Map, reflect.Array, reflect.Struct:
		raw, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
	return fmt.Sprint(v), nil
}

// formatFloat keeps a trailing ".0" on integral values so a float column
// still reads back as float.
func formatFloat(f float64, bits int) string {
	if math.IsNaN(f) {
		return ""
	}
	s := strconv.FormatFloat(f, 'g', -1, bits)
	if !strings.ContainsAny(s, ".eEIN") {
		s += ".0"
	}
	return s
}

// ReadCSV parses delimited text against a declared schema. The header must
// list exactly the schema's fields in order.
func ReadCSV(r io.Reader, schema Schema) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(schema.Fields)
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrSchemaMismatch.With("header", "missing")
		}
		return nil, ErrSchemaMismatch.Wrap(err)
	}
	names := schema.Names()
	if len(header) != len(names) {
		return nil, ErrSchemaMismatch.Withf("header has %d columns, schema declares %d", len(header), len(names))
	}
	for i := range names {
		if header[i] != names[i] {
			return nil, ErrSchemaMismatch.With(names[i], header[i])
		}
	}

	var records [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, ErrSchemaMismatch.Wrap(err)
		}
		records = append(records, rec)
	}

	rows := make([]Row, len(records))
	for i := range rows {
		rows[i] = make(Row, len(names))
	}
	for j, field := range schema.Fields {
		if err := parseColumn(field, records, j, rows); err != nil {
			return nil, err
		}
	}
	return &Table{Schema: schema, Rows: rows}, nil
}

func parseColumn(field Field, records [][]string, col int, rows []Row) error {
	switch field.Type {
	case Number:
		integral := true
		for _, rec := range records {
			cell := rec[col]
			if cell == "" {
				continue
			}
			if _, err := strconv.ParseInt(cell, 10, 64); err != nil {
				integral = false
				break
			}
		}
		for i, rec := range records {
			cell := rec[col]
			if cell == "" {
				rows[i][field.Name] = nil
				continue
			}
			if integral {
				n, _ := strconv.ParseInt(cell, 10, 64)
				rows[i][field.Name] = n
				continue
			}
			f, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return ErrSchemaMismatch.With(field.Name, cell)
			}
			rows[i][field.Name] = f
		}
	case Boolean:
		for i, rec := range records {
			switch rec[col] {
			case "":
				rows[i][field.Name] = nil
			case "True", "true", "TRUE", "1":
				rows[i][field.Name] = true
			case "False", "false", "FALSE", "0":
				rows[i][field.Name] = false
			default:
				return ErrSchemaMismatch.With(field.Name, rec[col])
			}
		}
	case String:
		for i, rec := range records {
			if rec[col] == "" {
				rows[i][field.Name] = nil
				continue
			}
			rows[i][field.Name] = rec[col]
		}
	default:
		return ErrUnsupportedType.With(field.Name, string(field.Type))
	}
	return nil
}
