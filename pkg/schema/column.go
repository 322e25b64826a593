// Package schema defines the fixed, typed shape of the records stored in
// blocks and the per-column ordering used to sort them.
package schema

import (
	"cmp"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrColumnOutOfRange is returned when a column index is outside the definition
	ErrColumnOutOfRange = errors.New("column index out of range")
	// ErrTypeMismatch is returned when a value does not match the column type
	ErrTypeMismatch = errors.New("value does not match column type")
	// ErrUnknownColumnType is returned when parsing an unknown column type name
	ErrUnknownColumnType = errors.New("unknown column type")
)

// ColumnType is the type tag of a single column
type ColumnType int

const (
	// Integer columns hold int64 values
	Integer ColumnType = iota
	// String columns hold string values
	String
	// Double columns hold float64 values
	Double
)

// String returns the upper-case name of the column type
func (t ColumnType) String() string {
	switch t {
	case Integer:
		return "INTEGER"
	case String:
		return "STRING"
	case Double:
		return "DOUBLE"
	default:
		return fmt.Sprintf("TYPE(%d)", int(t))
	}
}

// ParseColumnType parses a column type name such as "integer" or "DOUBLE"
func ParseColumnType(name string) (ColumnType, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "INTEGER", "INT":
		return Integer, nil
	case "STRING", "TEXT":
		return String, nil
	case "DOUBLE", "FLOAT":
		return Double, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownColumnType, name)
	}
}

// zero returns the zero value held by a fresh slot of this type
func (t ColumnType) zero() any {
	switch t {
	case Integer:
		return int64(0)
	case String:
		return ""
	case Double:
		return float64(0)
	default:
		panic(fmt.Sprintf("schema: unsupported column type %v", t))
	}
}

// ColumnDefinition is an immutable ordered sequence of column types.
// It is created once per relation and shared by reference.
type ColumnDefinition struct {
	types []ColumnType
}

// NewColumnDefinition creates a definition from the given column types
func NewColumnDefinition(types ...ColumnType) *ColumnDefinition {
	return &ColumnDefinition{types: append([]ColumnType(nil), types...)}
}

// ParseColumnDefinition parses a comma separated list of column type names
func ParseColumnDefinition(list string) (*ColumnDefinition, error) {
	parts := strings.Split(list, ",")
	types := make([]ColumnType, 0, len(parts))
	for _, part := range parts {
		t, err := ParseColumnType(part)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return NewColumnDefinition(types...), nil
}

// Len returns the number of columns
func (d *ColumnDefinition) Len() int {
	return len(d.types)
}

// Type returns the type of column i
func (d *ColumnDefinition) Type(i int) ColumnType {
	return d.types[i]
}

// Types returns a copy of the column types
func (d *ColumnDefinition) Types() []ColumnType {
	return append([]ColumnType(nil), d.types...)
}

// Equal reports whether both definitions have the same column types in the same order
func (d *ColumnDefinition) Equal(other *ColumnDefinition) bool {
	if d == other {
		return true
	}
	if d == nil || other == nil || len(d.types) != len(other.types) {
		return false
	}
	for i, t := range d.types {
		if other.types[i] != t {
			return false
		}
	}
	return true
}

// String renders the definition as a comma separated type list
func (d *ColumnDefinition) String() string {
	names := make([]string, len(d.types))
	for i, t := range d.types {
		names[i] = t.String()
	}
	return strings.Join(names, ",")
}

// CreateTuple returns a tuple of this shape holding zero values
func (d *ColumnDefinition) CreateTuple() Tuple {
	values := make([]any, len(d.types))
	for i, t := range d.types {
		values[i] = t.zero()
	}
	return Tuple{columns: d, values: values}
}

// ColumnComparator returns a comparator ordering tuples by column i.
// It panics if i is not a valid column index.
func (d *ColumnDefinition) ColumnComparator(i int) func(a, b Tuple) int {
	if i < 0 || i >= len(d.types) {
		panic(fmt.Sprintf("schema: comparator for column %d of %d-column definition", i, len(d.types)))
	}

	switch d.types[i] {
	case Integer:
		return func(a, b Tuple) int {
			return cmp.Compare(a.values[i].(int64), b.values[i].(int64))
		}
	case Double:
		return func(a, b Tuple) int {
			return cmp.Compare(a.values[i].(float64), b.values[i].(float64))
		}
	default:
		return func(a, b Tuple) int {
			return strings.Compare(a.values[i].(string), b.values[i].(string))
		}
	}
}

// ParseValue converts a textual field into the value stored by column i
func (d *ColumnDefinition) ParseValue(i int, text string) (any, error) {
	if i < 0 || i >= len(d.types) {
		return nil, fmt.Errorf("%w: %d", ErrColumnOutOfRange, i)
	}

	switch d.types[i] {
	case Integer:
		v, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: column %d: %v", ErrTypeMismatch, i, err)
		}
		return v, nil
	case Double:
		v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: column %d: %v", ErrTypeMismatch, i, err)
		}
		return v, nil
	default:
		return text, nil
	}
}

// FormatValue renders a value of column i the way ParseValue reads it back
func (d *ColumnDefinition) FormatValue(i int, v any) string {
	switch d.types[i] {
	case Integer:
		return strconv.FormatInt(v.(int64), 10)
	case Double:
		return strconv.FormatFloat(v.(float64), 'g', -1, 64)
	default:
		return v.(string)
	}
}
