// Package block implements the fixed-capacity storage unit of the simulator
// and the Manager that bounds how many blocks may be resident at once while
// accounting every simulated load and store.
package block

import (
	"errors"
	"fmt"
	"slices"

	"github.com/KevoDB/blocksim/pkg/schema"
)

var (
	// ErrBlockFull is returned when appending to a block that holds blockCapacity tuples
	ErrBlockFull = errors.New("block is full")

	// ErrSchemaMismatch is returned when a tuple does not conform to the block's columns
	ErrSchemaMismatch = errors.New("tuple does not match block columns")

	// ErrTupleOutOfRange is returned when a tuple index is outside the block
	ErrTupleOutOfRange = errors.New("tuple index out of range")
)

// ID is the durable handle of a block on the medium
type ID uint64

// String returns the printable form of the id
func (id ID) String() string {
	return fmt.Sprintf("blk-%d", uint64(id))
}

// Block is an ordered sequence of at most Capacity tuples. Its handle is
// durable while its tuples are only reachable while it is resident; touching
// the tuples of a non-resident block panics.
type Block struct {
	id       ID
	mgr      *Manager
	columns  *schema.ColumnDefinition
	capacity int

	tuples   []schema.Tuple
	resident bool
	refs     int
	dirty    bool
	freed    bool
}

// ID returns the durable handle of the block
func (b *Block) ID() ID {
	return b.id
}

// Columns returns the shape of the tuples stored in the block
func (b *Block) Columns() *schema.ColumnDefinition {
	return b.columns
}

// Capacity returns the maximum number of tuples the block can hold
func (b *Block) Capacity() int {
	return b.capacity
}

// Resident reports whether the block is currently loaded
func (b *Block) Resident() bool {
	return b.resident
}

// Dirty reports whether the resident content differs from the stored image
func (b *Block) Dirty() bool {
	return b.dirty
}

// Len returns the number of tuples in the block
func (b *Block) Len() int {
	b.mustBeResident()
	return len(b.tuples)
}

// Full reports whether the block holds Capacity tuples
func (b *Block) Full() bool {
	b.mustBeResident()
	return len(b.tuples) >= b.capacity
}

// Get returns a copy of tuple i
func (b *Block) Get(i int) schema.Tuple {
	b.mustBeResident()
	return b.tuples[i].Clone()
}

// Tuples returns copies of all tuples in block order
func (b *Block) Tuples() []schema.Tuple {
	b.mustBeResident()
	out := make([]schema.Tuple, len(b.tuples))
	for i, t := range b.tuples {
		out[i] = t.Clone()
	}
	return out
}

// Append stores a copy of t after the last tuple
func (b *Block) Append(t schema.Tuple) error {
	b.mustBeResident()
	if !t.Columns().Equal(b.columns) {
		return fmt.Errorf("%w: got %s, block holds %s", ErrSchemaMismatch, t.Columns(), b.columns)
	}
	if len(b.tuples) >= b.capacity {
		return fmt.Errorf("%w: %s holds %d tuples", ErrBlockFull, b.id, b.capacity)
	}
	b.tuples = append(b.tuples, t.Clone())
	b.dirty = true
	return nil
}

// Set replaces tuple i with a copy of t
func (b *Block) Set(i int, t schema.Tuple) error {
	b.mustBeResident()
	if !t.Columns().Equal(b.columns) {
		return fmt.Errorf("%w: got %s, block holds %s", ErrSchemaMismatch, t.Columns(), b.columns)
	}
	if i < 0 || i >= len(b.tuples) {
		return fmt.Errorf("%w: %d of %d tuples", ErrTupleOutOfRange, i, len(b.tuples))
	}
	b.tuples[i] = t.Clone()
	b.dirty = true
	return nil
}

// Truncate keeps the first n tuples
func (b *Block) Truncate(n int) {
	b.mustBeResident()
	if n < 0 || n > len(b.tuples) {
		panic(fmt.Sprintf("block: truncate %s to %d of %d tuples", b.id, n, len(b.tuples)))
	}
	if n == len(b.tuples) {
		return
	}
	clear(b.tuples[n:])
	b.tuples = b.tuples[:n]
	b.dirty = true
}

// Sort stably orders the tuples of the block by column
func (b *Block) Sort(column int) {
	b.mustBeResident()
	slices.SortStableFunc(b.tuples, b.columns.ColumnComparator(column))
	b.dirty = true
}

func (b *Block) mustBeResident() {
	if !b.resident {
		panic(fmt.Sprintf("block: %s accessed while not resident", b.id))
	}
}
