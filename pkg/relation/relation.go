// Package relation implements datasets stored as an ordered sequence of
// blocks, together with the sink that is the only way to grow them.
package relation

import (
	"errors"
	"fmt"

	"github.com/KevoDB/blocksim/pkg/block"
	"github.com/KevoDB/blocksim/pkg/schema"
)

var (
	// ErrOutputAlreadyOpen is returned when opening a second sink on a relation
	ErrOutputAlreadyOpen = errors.New("relation already has an open block output")

	// ErrOutputClosed is returned when adding to a closed sink
	ErrOutputClosed = errors.New("block output is closed")
)

// Relation is an ordered sequence of block handles of one shape
type Relation interface {
	// Columns returns the shape of every tuple in the relation
	Columns() *schema.ColumnDefinition

	// Manager returns the block manager the blocks belong to
	Manager() *block.Manager

	// EstimatedBlockCount returns the number of blocks without loading any
	EstimatedBlockCount() int

	// Iterator returns a lazy iterator over the block handles in insertion order
	Iterator() BlockIterator

	// Clear drops every block of the relation from the medium
	Clear() error

	// BlockOutput opens the single sink that appends tuples to the relation
	BlockOutput(opts ...OutputOption) (*BlockOutput, error)
}

// BlockRelation is the Relation backed by blocks of a Manager
type BlockRelation struct {
	mgr     *block.Manager
	columns *schema.ColumnDefinition
	blocks  []*block.Block
	output  *BlockOutput
}

// New creates an empty relation of the given shape
func New(mgr *block.Manager, columns *schema.ColumnDefinition) *BlockRelation {
	return &BlockRelation{mgr: mgr, columns: columns}
}

// Columns returns the shape of every tuple in the relation
func (r *BlockRelation) Columns() *schema.ColumnDefinition {
	return r.columns
}

// Manager returns the block manager the blocks belong to
func (r *BlockRelation) Manager() *block.Manager {
	return r.mgr
}

// EstimatedBlockCount returns the number of sealed blocks
func (r *BlockRelation) EstimatedBlockCount() int {
	return len(r.blocks)
}

// Iterator returns a lazy iterator over the sealed blocks
func (r *BlockRelation) Iterator() BlockIterator {
	return NewSliceIterator(r.blocks)
}

// Clear frees every block of the relation. It fails if a sink is open or a
// block is still resident; blocks freed before the failure stay freed.
func (r *BlockRelation) Clear() error {
	if r.output != nil {
		return fmt.Errorf("cannot clear relation: %w", ErrOutputAlreadyOpen)
	}
	for i, b := range r.blocks {
		if err := r.mgr.Free(b); err != nil {
			r.blocks = r.blocks[i:]
			return fmt.Errorf("cannot clear relation: %w", err)
		}
	}
	r.blocks = nil
	return nil
}

// BlockOutput opens the sink of the relation
func (r *BlockRelation) BlockOutput(opts ...OutputOption) (*BlockOutput, error) {
	if r.output != nil {
		return nil, ErrOutputAlreadyOpen
	}
	o := &BlockOutput{rel: r}
	for _, opt := range opts {
		opt(o)
	}
	r.output = o
	return o, nil
}

// String describes the relation without loading it
func (r *BlockRelation) String() string {
	return fmt.Sprintf("relation(%s, %d blocks)", r.columns, len(r.blocks))
}
