// Package csvio loads relations from delimited text and writes them back.
// It only talks to relations through their sink and tuple iteration.
package csvio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/KevoDB/blocksim/pkg/relation"
	"github.com/KevoDB/blocksim/pkg/schema"
)

type options struct {
	comma  rune
	header bool
}

// Option configures reading and writing
type Option func(*options)

// WithComma sets the field delimiter
func WithComma(comma rune) Option {
	return func(o *options) {
		o.comma = comma
	}
}

// WithHeader skips the first record when loading and writes the column
// types as the first record when writing
func WithHeader() Option {
	return func(o *options) {
		o.header = true
	}
}

func buildOptions(opts []Option) options {
	o := options{comma: ','}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Load parses every record of r into a tuple of the given shape and adds it
// to out. It returns the number of tuples added.
func Load(out *relation.BlockOutput, columns *schema.ColumnDefinition, r io.Reader, opts ...Option) (int, error) {
	o := buildOptions(opts)

	reader := csv.NewReader(r)
	reader.Comma = o.comma
	reader.FieldsPerRecord = columns.Len()
	reader.ReuseRecord = true

	if o.header {
		if _, err := reader.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				return 0, nil
			}
			return 0, fmt.Errorf("failed to read header: %w", err)
		}
	}

	count := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("failed to read record: %w", err)
		}

		tuple := columns.CreateTuple()
		for i, field := range record {
			value, err := columns.ParseValue(i, field)
			if err != nil {
				line, _ := reader.FieldPos(i)
				return count, fmt.Errorf("line %d: %w", line, err)
			}
			if err := tuple.Set(i, value); err != nil {
				return count, err
			}
		}

		if err := out.Add(tuple); err != nil {
			return count, err
		}
		count++
	}
}

// LoadFile fills rel with the records of the file at path
func LoadFile(rel relation.Relation, path string, opts ...Option) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	var count int
	err = relation.Fill(rel, func(out *relation.BlockOutput) error {
		var err error
		count, err = Load(out, rel.Columns(), file, opts...)
		return err
	})
	return count, err
}

// Write writes every tuple of rel as one record to w
func Write(w io.Writer, rel relation.Relation, opts ...Option) error {
	o := buildOptions(opts)
	columns := rel.Columns()

	writer := csv.NewWriter(w)
	writer.Comma = o.comma

	record := make([]string, columns.Len())
	if o.header {
		for i := range record {
			record[i] = columns.Type(i).String()
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	err := relation.Scan(rel, func(t schema.Tuple) error {
		for i := range record {
			record[i] = columns.FormatValue(i, t.Get(i))
		}
		return writer.Write(record)
	})
	if err != nil {
		return err
	}

	writer.Flush()
	return writer.Error()
}

// WriteFile writes rel to the file at path, replacing its contents
func WriteFile(path string, rel relation.Relation, opts ...Option) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := Write(file, rel, opts...); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
