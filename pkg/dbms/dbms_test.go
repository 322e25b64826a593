package dbms

import (
	"errors"
	"testing"

	"github.com/KevoDB/blocksim/pkg/common/log"
	"github.com/KevoDB/blocksim/pkg/config"
	"github.com/KevoDB/blocksim/pkg/relation"
	"github.com/KevoDB/blocksim/pkg/schema"
)

func newTestDBMS(t *testing.T, totalBlocks, blockCapacity int) *DBMS {
	t.Helper()
	d, err := Open(totalBlocks, blockCapacity, WithLogger(log.NewDiscardLogger()))
	if err != nil {
		t.Fatalf("Failed to open dbms: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.NewConfig(0, 2)
	if _, err := New(cfg, WithLogger(log.NewDiscardLogger())); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}

	cfg = config.NewDefaultConfig()
	cfg.MediumCodec = "lz4"
	if _, err := New(cfg, WithLogger(log.NewDiscardLogger())); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for unknown codec, got %v", err)
	}
}

func TestDBMS_Budget(t *testing.T) {
	d := newTestDBMS(t, 3, 2)

	mgr := d.BlockManager()
	if mgr.TotalBlocks() != 3 || mgr.BlockCapacity() != 2 {
		t.Errorf("Expected budget 3x2, got %dx%d", mgr.TotalBlocks(), mgr.BlockCapacity())
	}
	if mgr.UsedBlocks() != 0 {
		t.Errorf("Expected no resident blocks, got %d", mgr.UsedBlocks())
	}
}

func TestDBMS_TrackIOCost(t *testing.T) {
	d := newTestDBMS(t, 3, 2)
	columns := schema.NewColumnDefinition(schema.Integer)
	rel := d.CreateRelation(columns)

	cost, err := d.TrackIOCost(func() error {
		return relation.Fill(rel, func(out *relation.BlockOutput) error {
			for i := 0; i < 5; i++ {
				tup, _ := schema.NewTuple(columns, i)
				if err := out.Add(tup); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("Fill failed: %v", err)
	}
	if cost.InputCost != 0 || cost.OutputCost != 3 {
		t.Errorf("Expected in=0 out=3, got %s", cost)
	}

	s := d.GetStats()
	if s["output_cost"].(int) != 3 || s["medium_images"].(int) != 3 {
		t.Errorf("Unexpected stats %v", s)
	}
	if s["store_ops"].(uint64) != 3 {
		t.Errorf("Expected 3 store ops, got %v", s["store_ops"])
	}
}

func TestDBMS_NamedRelations(t *testing.T) {
	d := newTestDBMS(t, 2, 2)
	columns := schema.NewColumnDefinition(schema.String)

	if _, err := d.CreateNamedRelation("b", columns); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	a, err := d.CreateNamedRelation("a", columns)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := d.CreateNamedRelation("a", columns); !errors.Is(err, ErrRelationExists) {
		t.Errorf("Expected ErrRelationExists, got %v", err)
	}

	got, err := d.Relation("a")
	if err != nil || got != a {
		t.Errorf("Expected to find relation a, got %v (%v)", got, err)
	}
	if names := d.RelationNames(); len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Expected [a b], got %v", names)
	}

	err = relation.Fill(a, func(out *relation.BlockOutput) error {
		tup, _ := schema.NewTuple(columns, "x")
		return out.Add(tup)
	})
	if err != nil {
		t.Fatalf("Fill failed: %v", err)
	}
	if d.Medium().Len() != 1 {
		t.Fatalf("Expected 1 image, got %d", d.Medium().Len())
	}

	if err := d.DropRelation("a"); err != nil {
		t.Fatalf("Drop failed: %v", err)
	}
	if d.Medium().Len() != 0 {
		t.Errorf("Expected drop to free the images, got %d", d.Medium().Len())
	}
	if _, err := d.Relation("a"); !errors.Is(err, ErrRelationNotFound) {
		t.Errorf("Expected ErrRelationNotFound, got %v", err)
	}
	if err := d.DropRelation("a"); !errors.Is(err, ErrRelationNotFound) {
		t.Errorf("Expected ErrRelationNotFound, got %v", err)
	}
}

func TestDBMS_Close(t *testing.T) {
	d, err := Open(2, 2, WithLogger(log.NewDiscardLogger()))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
	if _, err := d.CreateNamedRelation("x", schema.NewColumnDefinition(schema.Integer)); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	expectPanic(t, "CreateRelation after Close", func() {
		d.CreateRelation(schema.NewColumnDefinition(schema.Integer))
	})
	expectPanic(t, "TrackIOCost after Close", func() {
		d.TrackIOCost(func() error { return nil })
	})
}

func expectPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("Expected panic: %s", name)
		}
	}()
	fn()
}

func TestDBMS_IndependentContexts(t *testing.T) {
	one := newTestDBMS(t, 2, 2)
	two := newTestDBMS(t, 5, 3)

	if one.BlockManager() == two.BlockManager() {
		t.Fatal("Contexts share a block manager")
	}
	if two.BlockManager().TotalBlocks() != 5 {
		t.Errorf("Expected 5 blocks, got %d", two.BlockManager().TotalBlocks())
	}
}
