// Package filtered provides iterators that skip tuples failing a predicate
package filtered

import (
	"github.com/KevoDB/blocksim/pkg/common/iterator"
	"github.com/KevoDB/blocksim/pkg/schema"
)

// TupleFilterFunc is a function type for filtering tuples
type TupleFilterFunc func(t schema.Tuple) bool

// FilteredIterator wraps an iterator and applies a tuple filter
type FilteredIterator struct {
	iter   iterator.Iterator
	filter TupleFilterFunc
}

// NewFilteredIterator creates a new iterator with a tuple filter
func NewFilteredIterator(iter iterator.Iterator, filter TupleFilterFunc) *FilteredIterator {
	return &FilteredIterator{
		iter:   iter,
		filter: filter,
	}
}

// Next advances to the next tuple that passes the filter
func (fi *FilteredIterator) Next() bool {
	for fi.iter.Next() {
		if fi.filter(fi.iter.Tuple()) {
			return true
		}
	}
	return false
}

// Tuple returns the current tuple
func (fi *FilteredIterator) Tuple() schema.Tuple {
	return fi.iter.Tuple()
}

// Valid returns true if the iterator is at a valid position
func (fi *FilteredIterator) Valid() bool {
	return fi.iter.Valid() && fi.filter(fi.iter.Tuple())
}

// Err returns the error of the wrapped iterator
func (fi *FilteredIterator) Err() error {
	return fi.iter.Err()
}

// Close closes the wrapped iterator
func (fi *FilteredIterator) Close() {
	fi.iter.Close()
}

// SeekToFirst positions at the first tuple that passes the filter
func (fi *FilteredIterator) SeekToFirst() {
	fi.iter.SeekToFirst()

	if fi.iter.Valid() && !fi.filter(fi.iter.Tuple()) {
		fi.Next()
	}
}

// ColumnRangeFilterFunc accepts tuples whose column lies in [lower, upper].
// A nil bound is open.
func ColumnRangeFilterFunc(columns *schema.ColumnDefinition, column int, lower, upper *schema.Tuple) TupleFilterFunc {
	compare := columns.ColumnComparator(column)
	return func(t schema.Tuple) bool {
		if lower != nil && compare(t, *lower) < 0 {
			return false
		}
		if upper != nil && compare(t, *upper) > 0 {
			return false
		}
		return true
	}
}

// NewColumnRangeIterator returns an iterator over the tuples whose column lies in [lower, upper]
func NewColumnRangeIterator(iter iterator.Iterator, columns *schema.ColumnDefinition, column int, lower, upper *schema.Tuple) *FilteredIterator {
	return NewFilteredIterator(iter, ColumnRangeFilterFunc(columns, column, lower, upper))
}
