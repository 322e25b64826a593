package schema

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformedTuple is returned when an encoded tuple cannot be decoded
var ErrMalformedTuple = errors.New("malformed tuple encoding")

// AppendTuple appends the wire encoding of t to b.
//
// Each column is one protobuf field numbered from 1: INTEGER as a zig-zag
// varint, DOUBLE as fixed64 and STRING as length-delimited bytes.
func AppendTuple(b []byte, t Tuple) []byte {
	for i, v := range t.values {
		num := protowire.Number(i + 1)
		switch t.columns.types[i] {
		case Integer:
			b = protowire.AppendTag(b, num, protowire.VarintType)
			b = protowire.AppendVarint(b, protowire.EncodeZigZag(v.(int64)))
		case Double:
			b = protowire.AppendTag(b, num, protowire.Fixed64Type)
			b = protowire.AppendFixed64(b, math.Float64bits(v.(float64)))
		case String:
			b = protowire.AppendTag(b, num, protowire.BytesType)
			b = protowire.AppendString(b, v.(string))
		}
	}
	return b
}

// DecodeTuple decodes a tuple of the given shape from its wire encoding.
// Slots missing from the encoding keep their zero value.
func DecodeTuple(columns *ColumnDefinition, b []byte) (Tuple, error) {
	t := columns.CreateTuple()
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Tuple{}, fmt.Errorf("%w: %v", ErrMalformedTuple, protowire.ParseError(n))
		}
		b = b[n:]

		col := int(num) - 1
		if col < 0 || col >= columns.Len() {
			return Tuple{}, fmt.Errorf("%w: field %d outside %d columns", ErrMalformedTuple, num, columns.Len())
		}

		switch {
		case columns.types[col] == Integer && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Tuple{}, fmt.Errorf("%w: %v", ErrMalformedTuple, protowire.ParseError(n))
			}
			t.values[col] = protowire.DecodeZigZag(v)
			b = b[n:]
		case columns.types[col] == Double && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return Tuple{}, fmt.Errorf("%w: %v", ErrMalformedTuple, protowire.ParseError(n))
			}
			t.values[col] = math.Float64frombits(v)
			b = b[n:]
		case columns.types[col] == String && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Tuple{}, fmt.Errorf("%w: %v", ErrMalformedTuple, protowire.ParseError(n))
			}
			t.values[col] = v
			b = b[n:]
		default:
			return Tuple{}, fmt.Errorf("%w: wire type %d for %v column %d", ErrMalformedTuple, typ, columns.types[col], col)
		}
	}
	return t, nil
}
