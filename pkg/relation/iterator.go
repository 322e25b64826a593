package relation

import (
	"github.com/KevoDB/blocksim/pkg/block"
	"github.com/KevoDB/blocksim/pkg/common/iterator"
	"github.com/KevoDB/blocksim/pkg/schema"
)

// BlockIterator walks the block handles of a relation without loading them.
// It is restartable through SeekToFirst.
type BlockIterator interface {
	// SeekToFirst positions the iterator at the first block
	SeekToFirst()

	// Next advances the iterator to the next block
	Next() bool

	// Block returns the current block handle
	Block() *block.Block

	// Valid returns true if the iterator is positioned at a block
	Valid() bool
}

// SliceIterator iterates over a fixed slice of block handles
type SliceIterator struct {
	blocks []*block.Block
	index  int
}

// NewSliceIterator creates an iterator over blocks. The slice is not copied.
func NewSliceIterator(blocks []*block.Block) *SliceIterator {
	return &SliceIterator{blocks: blocks, index: -1}
}

// SeekToFirst positions the iterator at the first block
func (it *SliceIterator) SeekToFirst() {
	it.index = 0
}

// Next advances the iterator to the next block
func (it *SliceIterator) Next() bool {
	if it.index < len(it.blocks) {
		it.index++
	}
	return it.Valid()
}

// Block returns the current block handle
func (it *SliceIterator) Block() *block.Block {
	if !it.Valid() {
		return nil
	}
	return it.blocks[it.index]
}

// Valid returns true if the iterator is positioned at a block
func (it *SliceIterator) Valid() bool {
	return it.index >= 0 && it.index < len(it.blocks)
}

// TupleIterator reads the tuples of a relation in order, keeping at most one
// of its blocks resident. A block is released before the next one is loaded.
type TupleIterator struct {
	mgr    *block.Manager
	blocks BlockIterator

	access  *block.Access
	pos     int
	current schema.Tuple
	valid   bool
	err     error
}

var _ iterator.Iterator = (*TupleIterator)(nil)

// NewTupleIterator creates a tuple iterator over r.
// It is positioned once SeekToFirst is called.
func NewTupleIterator(r Relation) *TupleIterator {
	return &TupleIterator{mgr: r.Manager(), blocks: r.Iterator()}
}

// SeekToFirst positions the iterator at the first tuple
func (it *TupleIterator) SeekToFirst() {
	it.Close()
	it.err = nil
	it.blocks.SeekToFirst()
	it.pos = 0
	it.advance()
}

// Next advances the iterator to the next tuple
func (it *TupleIterator) Next() bool {
	if !it.valid {
		return false
	}
	it.pos++
	it.advance()
	return it.valid
}

// Tuple returns the current tuple
func (it *TupleIterator) Tuple() schema.Tuple {
	return it.current
}

// Valid returns true if the iterator is positioned at a tuple
func (it *TupleIterator) Valid() bool {
	return it.valid
}

// Err returns the load error that stopped the iteration, if any
func (it *TupleIterator) Err() error {
	return it.err
}

// Close releases the resident block, if any
func (it *TupleIterator) Close() {
	it.access.Close()
	it.access = nil
	it.valid = false
}

// advance positions on tuple pos of the current block, moving on to the
// following blocks while the current one is exhausted
func (it *TupleIterator) advance() {
	for {
		if it.access == nil {
			if !it.blocks.Valid() {
				it.valid = false
				return
			}
			access, err := it.mgr.Load(it.blocks.Block())
			if err != nil {
				it.err = err
				it.valid = false
				return
			}
			it.access = access
			it.pos = 0
		}

		if b := it.access.Block(); it.pos < b.Len() {
			it.current = b.Get(it.pos)
			it.valid = true
			return
		}

		it.access.Close()
		it.access = nil
		it.blocks.Next()
	}
}
