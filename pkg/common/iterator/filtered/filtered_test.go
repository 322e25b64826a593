package filtered

import (
	"testing"

	"github.com/KevoDB/blocksim/pkg/common/iterator/bounded"
	"github.com/KevoDB/blocksim/pkg/schema"
)

var testColumns = schema.NewColumnDefinition(schema.Integer)

// sliceIterator is a simple in-memory iterator for testing
type sliceIterator struct {
	tuples []schema.Tuple
	index  int
	closed bool
}

func newSliceIterator(t *testing.T, keys ...int) *sliceIterator {
	t.Helper()
	it := &sliceIterator{index: -1}
	for _, k := range keys {
		tup, err := schema.NewTuple(testColumns, k)
		if err != nil {
			t.Fatalf("Failed to build tuple: %v", err)
		}
		it.tuples = append(it.tuples, tup)
	}
	return it
}

func (s *sliceIterator) SeekToFirst()        { s.index = 0 }
func (s *sliceIterator) Tuple() schema.Tuple { return s.tuples[s.index] }
func (s *sliceIterator) Valid() bool         { return s.index >= 0 && s.index < len(s.tuples) }
func (s *sliceIterator) Err() error          { return nil }
func (s *sliceIterator) Close()              { s.closed = true }

func (s *sliceIterator) Next() bool {
	if s.index < len(s.tuples) {
		s.index++
	}
	return s.Valid()
}

func keyTuple(t *testing.T, k int) *schema.Tuple {
	t.Helper()
	tup, err := schema.NewTuple(testColumns, k)
	if err != nil {
		t.Fatalf("Failed to build tuple: %v", err)
	}
	return &tup
}

func TestFilteredIterator_ColumnRange(t *testing.T) {
	tests := []struct {
		name         string
		lower, upper *schema.Tuple
		expected     []int64
	}{
		{"closed range", keyTuple(t, 3), keyTuple(t, 6), []int64{5, 3, 6}},
		{"open lower", nil, keyTuple(t, 2), []int64{1, 2}},
		{"open upper", keyTuple(t, 7), nil, []int64{8, 9}},
		{"empty range", keyTuple(t, 10), nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newSliceIterator(t, 8, 1, 5, 3, 9, 2, 6)
			it := NewColumnRangeIterator(src, testColumns, 0, tt.lower, tt.upper)

			var got []int64
			for it.SeekToFirst(); it.Valid(); it.Next() {
				got = append(got, it.Tuple().Int(0))
			}
			if len(got) != len(tt.expected) {
				t.Fatalf("Expected %v, got %v", tt.expected, got)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("Position %d: expected %d, got %d", i, tt.expected[i], got[i])
				}
			}

			it.Close()
			if !src.closed {
				t.Error("Close did not reach the wrapped iterator")
			}
		})
	}
}

func TestBoundedOverFiltered(t *testing.T) {
	src := newSliceIterator(t, 1, 2, 3, 4, 5, 6)
	even := NewFilteredIterator(src, func(tup schema.Tuple) bool { return tup.Int(0)%2 == 0 })
	limited := bounded.NewBoundedIterator(even, 2)

	var got []int64
	for limited.SeekToFirst(); limited.Valid(); limited.Next() {
		got = append(got, limited.Tuple().Int(0))
	}
	if len(got) != 2 || got[0] != 2 || got[1] != 4 {
		t.Errorf("Expected [2 4], got %v", got)
	}

	unbounded := bounded.NewBoundedIterator(newSliceIterator(t, 1, 2, 3), -1)
	count := 0
	for unbounded.SeekToFirst(); unbounded.Valid(); unbounded.Next() {
		count++
	}
	if count != 3 {
		t.Errorf("Expected 3 tuples without limit, got %d", count)
	}
}
