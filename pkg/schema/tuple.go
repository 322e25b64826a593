package schema

import (
	"cmp"
	"fmt"
	"strings"
)

// Tuple is a fixed-arity record whose slot types are dictated by its
// ColumnDefinition. Tuples are mutable until stored into a block; a block
// keeps its own copy.
type Tuple struct {
	columns *ColumnDefinition
	values  []any
}

// NewTuple creates a tuple of the given shape from values, converting them
// with the same rules as Set
func NewTuple(columns *ColumnDefinition, values ...any) (Tuple, error) {
	if len(values) != columns.Len() {
		return Tuple{}, fmt.Errorf("%w: got %d values for %d columns", ErrColumnOutOfRange, len(values), columns.Len())
	}
	t := columns.CreateTuple()
	for i, v := range values {
		if err := t.Set(i, v); err != nil {
			return Tuple{}, err
		}
	}
	return t, nil
}

// Columns returns the definition the tuple conforms to
func (t Tuple) Columns() *ColumnDefinition {
	return t.columns
}

// Len returns the arity of the tuple
func (t Tuple) Len() int {
	return len(t.values)
}

// Get returns the value in slot i
func (t Tuple) Get(i int) any {
	return t.values[i]
}

// Int returns slot i of an INTEGER column
func (t Tuple) Int(i int) int64 {
	return t.values[i].(int64)
}

// Float returns slot i of a DOUBLE column
func (t Tuple) Float(i int) float64 {
	return t.values[i].(float64)
}

// Str returns slot i of a STRING column
func (t Tuple) Str(i int) string {
	return t.values[i].(string)
}

// Set assigns slot i. Integer kinds are widened to int64 and float32 to
// float64; any other mismatch returns ErrTypeMismatch.
func (t Tuple) Set(i int, v any) error {
	if i < 0 || i >= len(t.values) {
		return fmt.Errorf("%w: %d", ErrColumnOutOfRange, i)
	}

	converted, ok := convert(t.columns.types[i], v)
	if !ok {
		return fmt.Errorf("%w: column %d is %v, got %T", ErrTypeMismatch, i, t.columns.types[i], v)
	}
	t.values[i] = converted
	return nil
}

// Clone returns a deep copy of the tuple
func (t Tuple) Clone() Tuple {
	return Tuple{columns: t.columns, values: append([]any(nil), t.values...)}
}

// Equal reports whether both tuples have the same shape and slot values.
// DOUBLE slots are equal when their column comparator reports 0, so NaN
// equals NaN.
func (t Tuple) Equal(other Tuple) bool {
	if !t.columns.Equal(other.columns) {
		return false
	}
	for i := range t.values {
		if t.columns.types[i] == Double {
			if cmp.Compare(t.values[i].(float64), other.values[i].(float64)) != 0 {
				return false
			}
			continue
		}
		if t.values[i] != other.values[i] {
			return false
		}
	}
	return true
}

// String renders the tuple as (v0, v1, ...)
func (t Tuple) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, v := range t.values {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(t.columns.FormatValue(i, v))
	}
	sb.WriteByte(')')
	return sb.String()
}

func convert(typ ColumnType, v any) (any, bool) {
	switch typ {
	case Integer:
		switch n := v.(type) {
		case int64:
			return n, true
		case int:
			return int64(n), true
		case int32:
			return int64(n), true
		case int16:
			return int64(n), true
		case int8:
			return int64(n), true
		}
	case Double:
		switch f := v.(type) {
		case float64:
			return f, true
		case float32:
			return float64(f), true
		}
	case String:
		if s, ok := v.(string); ok {
			return s, true
		}
	}
	return nil, false
}
