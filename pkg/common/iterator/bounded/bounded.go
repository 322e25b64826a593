// Package bounded provides an iterator limited to a number of tuples
package bounded

import (
	"github.com/KevoDB/blocksim/pkg/common/iterator"
	"github.com/KevoDB/blocksim/pkg/schema"
)

// BoundedIterator wraps an iterator and stops after limit tuples
type BoundedIterator struct {
	iterator.Iterator
	limit int
	seen  int
}

// NewBoundedIterator creates a new bounded iterator. A negative limit is unbounded.
func NewBoundedIterator(iter iterator.Iterator, limit int) *BoundedIterator {
	return &BoundedIterator{
		Iterator: iter,
		limit:    limit,
	}
}

// SeekToFirst positions at the first tuple and resets the count
func (b *BoundedIterator) SeekToFirst() {
	b.seen = 0
	b.Iterator.SeekToFirst()
}

// Next advances unless the limit has been reached
func (b *BoundedIterator) Next() bool {
	if !b.Valid() {
		return false
	}
	b.seen++
	if !b.Valid() {
		return false
	}
	return b.Iterator.Next()
}

// Valid returns true while the wrapped iterator is valid and under the limit
func (b *BoundedIterator) Valid() bool {
	if b.limit >= 0 && b.seen >= b.limit {
		return false
	}
	return b.Iterator.Valid()
}

// Tuple returns the current tuple
func (b *BoundedIterator) Tuple() schema.Tuple {
	return b.Iterator.Tuple()
}
