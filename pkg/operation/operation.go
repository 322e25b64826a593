// Package operation defines the contract relational algorithms implement to
// plug into callers: a side-effect free cost estimate and an execution.
package operation

import (
	"errors"
	"fmt"

	"github.com/KevoDB/blocksim/pkg/relation"
)

var (
	// ErrRelationSizeExceedsCapacity is returned when no plan within the block budget exists
	ErrRelationSizeExceedsCapacity = errors.New("relation size exceeds capacity")

	// ErrInvalidSortColumn is returned when the sort column is not a column of the input
	ErrInvalidSortColumn = errors.New("invalid sort column")

	// ErrSchemaMismatch is returned when input and output relations have different columns
	ErrSchemaMismatch = errors.New("input and output columns differ")

	// ErrOutputNotEmpty is returned when the output relation already holds blocks
	ErrOutputNotEmpty = errors.New("output relation is not empty")

	// ErrSameRelation is returned when input and output are the same relation
	ErrSameRelation = errors.New("input and output are the same relation")
)

// Operation is a relational algorithm over block-backed relations
type Operation interface {
	// EstimatedIOCost returns an upper bound of the I/O cost of executing
	// the operation on input. It performs no I/O.
	EstimatedIOCost(input relation.Relation) int

	// Execute runs the operation, writing its result to output. The block
	// manager holds as many resident blocks afterwards as before, whether
	// or not Execute fails.
	Execute(input, output relation.Relation) error
}

// SortOperation is an Operation that orders its input by one column
type SortOperation interface {
	Operation

	// SortColumn returns the index of the column the result is ordered by
	SortColumn() int
}

// CheckRelations validates the relations handed to Execute before any I/O
// is performed
func CheckRelations(input, output relation.Relation) error {
	if input == output {
		return ErrSameRelation
	}
	if !input.Columns().Equal(output.Columns()) {
		return fmt.Errorf("%w: input %s, output %s", ErrSchemaMismatch, input.Columns(), output.Columns())
	}
	if input.Manager() != output.Manager() {
		return fmt.Errorf("%w: relations belong to different block managers", ErrSchemaMismatch)
	}
	if n := output.EstimatedBlockCount(); n > 0 {
		return fmt.Errorf("%w: %d blocks", ErrOutputNotEmpty, n)
	}
	return nil
}
