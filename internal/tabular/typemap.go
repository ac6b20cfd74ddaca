package tabular

import (
	"encoding/json"
	"reflect"

	"dardanelles/internal/apperr"
)

// FieldType is the wire-level type of a column in a tabular resource schema.
type FieldType string

const (
	Number  FieldType = "number"
	String  FieldType = "string"
	Boolean FieldType = "boolean"
)

var ErrUnsupportedType = apperr.New(apperr.KindStructuralFormat, "unsupported_type", "unsupported column type")

var anyType = reflect.TypeOf((*any)(nil)).Elem()

// typeTable lists every native representation a column may have. Lookups
// compare reflect.Type values for equality; a named type whose underlying type
// is int is not an int.
var typeTable = []struct {
	native reflect.Type
	wire   FieldType
}{
	{reflect.TypeOf(int(0)), Number},
	{reflect.TypeOf(int8(0)), Number},
	{reflect.TypeOf(int16(0)), Number},
	{reflect.TypeOf(int32(0)), Number},
	{reflect.TypeOf(int64(0)), Number},
	{reflect.TypeOf(uint(0)), Number},
	{reflect.TypeOf(uint8(0)), Number},
	{reflect.TypeOf(uint16(0)), Number},
	{reflect.TypeOf(uint32(0)), Number},
	{reflect.TypeOf(uint64(0)), Number},
	{reflect.TypeOf(float32(0)), Number},
	{reflect.TypeOf(float64(0)), Number},
	{reflect.TypeOf(false), Boolean},
	{reflect.TypeOf(""), String},
	{anyType, String},
	{reflect.TypeOf([]any(nil)), String},
	{reflect.TypeOf([]string(nil)), String},
	{reflect.TypeOf(map[string]any(nil)), String},
	{reflect.TypeOf(json.RawMessage(nil)), String},
}

// MapType returns the wire type for a native column type.
func MapType(t reflect.Type) (FieldType, error) {
	if t == nil {
		return "", ErrUnsupportedType.With("", "<nil>")
	}
	for _, entry := range typeTable {
		if entry.native == t {
			return entry.wire, nil
		}
	}
	return "", ErrUnsupportedType.With("", t.String())
}

// ColumnType infers the native type of a column from its values: the common
// concrete type of the non-nil values, float64 when integer and float kinds
// are mixed, and the interface type for anything else (including a column of
// nils).
func ColumnType(values []any) reflect.Type {
	var (
		common  reflect.Type
		numeric = true
		floaty  bool
		mixed   bool
	)
	for _, v := range values {
		if v == nil {
			continue
		}
		t := reflect.TypeOf(v)
		switch t.Kind() {
		case reflect.Float32, reflect.Float64:
			floaty = true
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		default:
			numeric = false
		}
		if common == nil {
			common = t
			continue
		}
		if common != t {
			mixed = true
		}
	}
	switch {
	case common == nil:
		return anyType
	case !mixed:
		return common
	case numeric && floaty:
		return reflect.TypeOf(float64(0))
	case numeric:
		return reflect.TypeOf(int64(0))
	default:
		return anyType
	}
}
