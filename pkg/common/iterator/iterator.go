package iterator

import "github.com/KevoDB/blocksim/pkg/schema"

// Iterator defines the interface for iterating over tuples.
// Implementations backed by blocks keep at most one block resident at a
// time and must be closed to release it.
type Iterator interface {
	// SeekToFirst positions the iterator at the first tuple
	SeekToFirst()

	// Next advances the iterator to the next tuple
	Next() bool

	// Tuple returns the current tuple
	Tuple() schema.Tuple

	// Valid returns true if the iterator is positioned at a valid tuple
	Valid() bool

	// Err returns the error that stopped the iteration, if any
	Err() error

	// Close releases any block held by the iterator
	Close()
}
