package relation

import (
	"github.com/KevoDB/blocksim/pkg/block"
	"github.com/KevoDB/blocksim/pkg/schema"
)

// OutputOption configures a BlockOutput
type OutputOption func(*BlockOutput)

// Pipelined makes the sink hand its sealed blocks off to the consumer of an
// operation result: they are written back without output cost.
func Pipelined() OutputOption {
	return func(o *BlockOutput) {
		o.pipelined = true
	}
}

// BlockOutput buffers tuples into one resident block of its relation at a
// time. A full block is sealed immediately: it is appended to the relation
// and written back. Close seals a partially filled block.
type BlockOutput struct {
	rel       *BlockRelation
	current   *block.Access
	pipelined bool
	closed    bool
	added     int
	sealed    int
}

// Add appends a copy of t, allocating a block when none is open
func (o *BlockOutput) Add(t schema.Tuple) error {
	if o.closed {
		return ErrOutputClosed
	}

	if o.current == nil {
		access, err := o.rel.mgr.Allocate(o.rel.columns)
		if err != nil {
			return err
		}
		o.current = access
	}

	b := o.current.Block()
	if err := b.Append(t); err != nil {
		return err
	}
	o.added++

	if b.Full() {
		o.seal()
	}
	return nil
}

// Count returns the number of tuples added so far
func (o *BlockOutput) Count() int {
	return o.added
}

// Blocks returns the number of blocks sealed so far
func (o *BlockOutput) Blocks() int {
	return o.sealed
}

// Close seals the open block, if any, and detaches the sink from its
// relation. An open block that never received a tuple is discarded.
// Closing twice is a no-op.
func (o *BlockOutput) Close() error {
	if o.closed {
		return nil
	}
	if o.current != nil {
		if o.current.Block().Len() == 0 {
			o.rel.mgr.Discard(o.current)
			o.current = nil
		} else {
			o.seal()
		}
	}
	o.detach()
	return nil
}

// Abort discards the open block without appending it and detaches the
// sink. Blocks sealed earlier stay in the relation.
func (o *BlockOutput) Abort() {
	if o.closed {
		return
	}
	if o.current != nil {
		o.rel.mgr.Discard(o.current)
		o.current = nil
	}
	o.detach()
}

func (o *BlockOutput) seal() {
	o.rel.blocks = append(o.rel.blocks, o.current.Block())
	if o.pipelined {
		o.current.Handoff()
	} else {
		o.current.Close()
	}
	o.current = nil
	o.sealed++
}

func (o *BlockOutput) detach() {
	o.closed = true
	if o.rel.output == o {
		o.rel.output = nil
	}
}
