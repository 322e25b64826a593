// Package composite provides iterators that combine several tuple sources
package composite

import (
	"github.com/KevoDB/blocksim/pkg/common/iterator"
	"github.com/KevoDB/blocksim/pkg/schema"
)

// MergingIterator merges sources that are each ordered by compare into one
// ordered sequence. When heads compare equal, the source earlier in the
// sources slice is taken first, so merging stable runs stays stable.
type MergingIterator struct {
	iterators []iterator.Iterator
	compare   func(a, b schema.Tuple) int

	// Index of the source holding the current tuple, -1 when exhausted
	current int
	err     error
}

// NewMergingIterator creates a new merging iterator.
// It is positioned once SeekToFirst is called.
func NewMergingIterator(iterators []iterator.Iterator, compare func(a, b schema.Tuple) int) *MergingIterator {
	return &MergingIterator{
		iterators: iterators,
		compare:   compare,
		current:   -1,
	}
}

// SeekToFirst positions every source at its first tuple and selects the smallest
func (m *MergingIterator) SeekToFirst() {
	m.err = nil
	for _, iter := range m.iterators {
		iter.SeekToFirst()
	}
	m.selectSmallest()
}

// Next advances the source that produced the current tuple
func (m *MergingIterator) Next() bool {
	if m.current < 0 {
		return false
	}
	m.iterators[m.current].Next()
	m.selectSmallest()
	return m.current >= 0
}

// Tuple returns the current tuple
func (m *MergingIterator) Tuple() schema.Tuple {
	return m.iterators[m.current].Tuple()
}

// Source returns the index of the source holding the current tuple
func (m *MergingIterator) Source() int {
	return m.current
}

// Valid returns true if the iterator is positioned at a valid tuple
func (m *MergingIterator) Valid() bool {
	return m.current >= 0
}

// Err returns the first error reported by a source
func (m *MergingIterator) Err() error {
	return m.err
}

// Close closes every source
func (m *MergingIterator) Close() {
	for _, iter := range m.iterators {
		iter.Close()
	}
	m.current = -1
}

// selectSmallest scans the heads of all sources. A linear scan suffices
// because the number of sources is bounded by the block budget.
func (m *MergingIterator) selectSmallest() {
	m.current = -1
	for i, iter := range m.iterators {
		if err := iter.Err(); err != nil {
			m.err = err
			m.current = -1
			return
		}
		if !iter.Valid() {
			continue
		}
		// strict comparison keeps the lower index on ties
		if m.current < 0 || m.compare(iter.Tuple(), m.iterators[m.current].Tuple()) < 0 {
			m.current = i
		}
	}
}
