package block

import (
	"fmt"

	"github.com/KevoDB/blocksim/pkg/schema"
	"google.golang.org/protobuf/encoding/protowire"
)

// imageTupleField is the field number of each encoded tuple in a block image
const imageTupleField protowire.Number = 1

// encodeImage lays out the tuples as a sequence of length-delimited fields
func encodeImage(tuples []schema.Tuple) []byte {
	var b, scratch []byte
	for _, t := range tuples {
		scratch = schema.AppendTuple(scratch[:0], t)
		b = protowire.AppendTag(b, imageTupleField, protowire.BytesType)
		b = protowire.AppendBytes(b, scratch)
	}
	return b
}

// decodeImage is the inverse of encodeImage
func decodeImage(columns *schema.ColumnDefinition, b []byte) ([]schema.Tuple, error) {
	var tuples []schema.Tuple
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		if num != imageTupleField || typ != protowire.BytesType {
			return nil, fmt.Errorf("unexpected field %d of wire type %d", num, typ)
		}
		b = b[n:]

		raw, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		t, err := schema.DecodeTuple(columns, raw)
		if err != nil {
			return nil, err
		}
		tuples = append(tuples, t)
	}
	return tuples, nil
}
