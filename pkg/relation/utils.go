package relation

import (
	"errors"
	"strings"

	"github.com/KevoDB/blocksim/pkg/schema"
)

// Fill opens the sink of r, passes it to fn and always closes it, so tuples
// added before a failure are still flushed
func Fill(r Relation, fn func(out *BlockOutput) error) error {
	out, err := r.BlockOutput()
	if err != nil {
		return err
	}
	fnErr := fn(out)
	return errors.Join(fnErr, out.Close())
}

// Scan calls fn with every tuple of r in order, loading one block at a time
func Scan(r Relation, fn func(t schema.Tuple) error) error {
	it := NewTupleIterator(r)
	defer it.Close()

	for it.SeekToFirst(); it.Valid(); it.Next() {
		if err := fn(it.Tuple()); err != nil {
			return err
		}
	}
	return it.Err()
}

// Tuples reads every tuple of r in order
func Tuples(r Relation) ([]schema.Tuple, error) {
	var tuples []schema.Tuple
	err := Scan(r, func(t schema.Tuple) error {
		tuples = append(tuples, t)
		return nil
	})
	return tuples, err
}

// CountTuples counts the tuples of r
func CountTuples(r Relation) (int, error) {
	count := 0
	err := Scan(r, func(schema.Tuple) error {
		count++
		return nil
	})
	return count, err
}

// EqualContent reports whether a and b hold equal tuples in the same order,
// regardless of how the tuples are laid out in blocks. Both relations are
// read side by side, so two blocks are resident at most.
func EqualContent(a, b Relation) (bool, error) {
	if !a.Columns().Equal(b.Columns()) {
		return false, nil
	}

	left := NewTupleIterator(a)
	defer left.Close()
	right := NewTupleIterator(b)
	defer right.Close()

	left.SeekToFirst()
	right.SeekToFirst()
	for left.Valid() && right.Valid() {
		if !left.Tuple().Equal(right.Tuple()) {
			return false, nil
		}
		left.Next()
		right.Next()
	}
	if err := errors.Join(left.Err(), right.Err()); err != nil {
		return false, err
	}
	return !left.Valid() && !right.Valid(), nil
}

// Format renders every tuple of r joined by sep
func Format(r Relation, sep string) (string, error) {
	var sb strings.Builder
	first := true
	err := Scan(r, func(t schema.Tuple) error {
		if !first {
			sb.WriteString(sep)
		}
		first = false
		sb.WriteString(t.String())
		return nil
	})
	return sb.String(), err
}
