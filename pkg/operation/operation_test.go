package operation

import (
	"errors"
	"testing"

	"github.com/KevoDB/blocksim/pkg/block"
	"github.com/KevoDB/blocksim/pkg/common/log"
	"github.com/KevoDB/blocksim/pkg/medium"
	"github.com/KevoDB/blocksim/pkg/relation"
	"github.com/KevoDB/blocksim/pkg/schema"
)

func newTestManager(t *testing.T) *block.Manager {
	t.Helper()
	med, err := medium.New(medium.Options{Logger: log.NewDiscardLogger()})
	if err != nil {
		t.Fatalf("Failed to create medium: %v", err)
	}
	t.Cleanup(func() { med.Close() })

	mgr, err := block.NewManager(2, 2, med, block.WithLogger(log.NewDiscardLogger()))
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	return mgr
}

func TestCheckRelations(t *testing.T) {
	ints := schema.NewColumnDefinition(schema.Integer)
	doubles := schema.NewColumnDefinition(schema.Double)
	mgr := newTestManager(t)

	input := relation.New(mgr, ints)
	filled := relation.New(mgr, ints)
	err := relation.Fill(filled, func(out *relation.BlockOutput) error {
		tup, _ := schema.NewTuple(ints, 1)
		return out.Add(tup)
	})
	if err != nil {
		t.Fatalf("Fill failed: %v", err)
	}

	tests := []struct {
		name   string
		output relation.Relation
		want   error
	}{
		{"valid", relation.New(mgr, ints), nil},
		{"equal shape from a new definition", relation.New(mgr, schema.NewColumnDefinition(schema.Integer)), nil},
		{"same relation", input, ErrSameRelation},
		{"different columns", relation.New(mgr, doubles), ErrSchemaMismatch},
		{"different manager", relation.New(newTestManager(t), ints), ErrSchemaMismatch},
		{"non-empty output", filled, ErrOutputNotEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckRelations(input, tt.output)
			if tt.want == nil {
				if err != nil {
					t.Errorf("Unexpected error %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}
