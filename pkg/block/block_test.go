package block

import (
	"errors"
	"testing"

	"github.com/KevoDB/blocksim/pkg/common/log"
	"github.com/KevoDB/blocksim/pkg/medium"
	"github.com/KevoDB/blocksim/pkg/schema"
)

var testColumns = schema.NewColumnDefinition(schema.Integer, schema.String)

func newTestManager(t *testing.T, totalBlocks, blockCapacity int, opts ...Option) *Manager {
	t.Helper()
	med, err := medium.New(medium.Options{Codec: medium.CodecSnappy, VerifyChecksums: true, Logger: log.NewDiscardLogger()})
	if err != nil {
		t.Fatalf("Failed to create medium: %v", err)
	}
	t.Cleanup(func() { med.Close() })

	opts = append([]Option{WithLogger(log.NewDiscardLogger())}, opts...)
	mgr, err := NewManager(totalBlocks, blockCapacity, med, opts...)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	return mgr
}

func tuple(t *testing.T, key int, name string) schema.Tuple {
	t.Helper()
	tup, err := schema.NewTuple(testColumns, key, name)
	if err != nil {
		t.Fatalf("Failed to build tuple: %v", err)
	}
	return tup
}

// storeBlock allocates a block holding the given keys and writes it back
func storeBlock(t *testing.T, mgr *Manager, keys ...int) *Block {
	t.Helper()
	a, err := mgr.Allocate(testColumns)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	for _, k := range keys {
		if err := a.Block().Append(tuple(t, k, "v")); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	a.Close()
	return a.Block()
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

func TestNewManager_Invalid(t *testing.T) {
	med, err := medium.New(medium.Options{Logger: log.NewDiscardLogger()})
	if err != nil {
		t.Fatalf("Failed to create medium: %v", err)
	}
	defer med.Close()

	if _, err := NewManager(0, 2, med); !errors.Is(err, ErrInvalidBudget) {
		t.Errorf("Expected ErrInvalidBudget for zero blocks, got %v", err)
	}
	if _, err := NewManager(3, 0, med); !errors.Is(err, ErrInvalidBudget) {
		t.Errorf("Expected ErrInvalidBudget for zero capacity, got %v", err)
	}
	if _, err := NewManager(3, 2, nil); err == nil {
		t.Error("Expected error without a medium")
	}
}

func TestManager_AllocateBudget(t *testing.T) {
	mgr := newTestManager(t, 2, 4)

	first, err := mgr.Allocate(testColumns)
	if err != nil {
		t.Fatalf("First allocate failed: %v", err)
	}
	second, err := mgr.Allocate(testColumns)
	if err != nil {
		t.Fatalf("Second allocate failed: %v", err)
	}
	if mgr.UsedBlocks() != 2 || mgr.FreeBlocks() != 0 {
		t.Errorf("Expected 2 used and 0 free, got %d and %d", mgr.UsedBlocks(), mgr.FreeBlocks())
	}
	if first.Block().ID() == second.Block().ID() {
		t.Errorf("Expected distinct ids, both are %s", first.Block().ID())
	}

	if _, err := mgr.Allocate(testColumns); !errors.Is(err, ErrCapacityExhausted) {
		t.Errorf("Expected ErrCapacityExhausted, got %v", err)
	}

	mgr.Release(first, second)
	if mgr.UsedBlocks() != 0 {
		t.Errorf("Expected no resident blocks, got %d", mgr.UsedBlocks())
	}

	errs := mgr.Stats().GetStats()["errors"].(map[string]uint64)
	if errs["capacity_exhausted"] != 1 {
		t.Errorf("Expected one capacity_exhausted error, got %v", errs)
	}
}

func TestManager_CostAccounting(t *testing.T) {
	mgr := newTestManager(t, 3, 2)

	var b *Block
	cost, err := mgr.TrackIOCost(func() error {
		b = storeBlock(t, mgr, 1, 2)
		return nil
	})
	if err != nil {
		t.Fatalf("TrackIOCost failed: %v", err)
	}
	if cost != (Cost{InputCost: 0, OutputCost: 1}) {
		t.Errorf("Expected allocate and store to cost out=1, got %s", cost)
	}
	if b.Resident() {
		t.Error("Expected block to be non-resident after close")
	}

	cost, _ = mgr.TrackIOCost(func() error {
		a, err := mgr.Load(b)
		if err != nil {
			return err
		}
		defer a.Close()

		if a.Block().Len() != 2 || a.Block().Get(1).Int(0) != 2 {
			t.Errorf("Unexpected content after load")
		}

		// loading a resident block only adds a reference
		again, err := mgr.Load(b)
		if err != nil {
			return err
		}
		again.Close()
		if !b.Resident() {
			t.Error("Block released while another reference is held")
		}
		return nil
	})
	if cost != (Cost{InputCost: 1, OutputCost: 0}) {
		t.Errorf("Expected a clean load to cost in=1, got %s", cost)
	}

	cost, _ = mgr.TrackIOCost(func() error {
		a, err := mgr.Load(b)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Block().Set(0, tuple(t, 9, "changed"))
	})
	if cost != (Cost{InputCost: 1, OutputCost: 1}) {
		t.Errorf("Expected a modifying load to cost in=1 out=1, got %s", cost)
	}

	if mgr.Cost() != (Cost{InputCost: 2, OutputCost: 2}) {
		t.Errorf("Unexpected lifetime cost %s", mgr.Cost())
	}
	if mgr.UsedBlocks() != 0 {
		t.Errorf("Expected zero residency, got %d", mgr.UsedBlocks())
	}
}

func TestManager_LoadCapacityExhausted(t *testing.T) {
	mgr := newTestManager(t, 1, 2)
	stored := storeBlock(t, mgr, 1)

	held, err := mgr.Allocate(testColumns)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	defer held.Close()

	before := mgr.Cost()
	if _, err := mgr.Load(stored); !errors.Is(err, ErrCapacityExhausted) {
		t.Errorf("Expected ErrCapacityExhausted, got %v", err)
	}
	if mgr.Cost() != before {
		t.Errorf("Refused load changed cost from %s to %s", before, mgr.Cost())
	}
}

func TestManager_NestedTrackIOCost(t *testing.T) {
	mgr := newTestManager(t, 3, 2)
	b := storeBlock(t, mgr, 1)

	var inner Cost
	outer, err := mgr.TrackIOCost(func() error {
		a, err := mgr.Load(b)
		if err != nil {
			return err
		}
		a.Close()

		inner, err = mgr.TrackIOCost(func() error {
			a, err := mgr.Load(b)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Block().Append(tuple(t, 2, "x"))
		})
		return err
	})
	if err != nil {
		t.Fatalf("TrackIOCost failed: %v", err)
	}

	if inner != (Cost{InputCost: 1, OutputCost: 1}) {
		t.Errorf("Expected inner scope in=1 out=1, got %s", inner)
	}
	if outer != (Cost{InputCost: 2, OutputCost: 1}) {
		t.Errorf("Expected outer scope in=2 out=1, got %s", outer)
	}
}

func TestManager_TrackIOCostReturnsError(t *testing.T) {
	mgr := newTestManager(t, 1, 1)
	sentinel := errors.New("boom")

	cost, err := mgr.TrackIOCost(func() error {
		storeBlock(t, mgr, 1)
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("Expected sentinel error, got %v", err)
	}
	if cost.OutputCost != 1 {
		t.Errorf("Expected cost to be reported alongside the error, got %s", cost)
	}
}

func TestManager_Handoff(t *testing.T) {
	mgr := newTestManager(t, 2, 2)

	a, err := mgr.Allocate(testColumns)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if err := a.Block().Append(tuple(t, 5, "five")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	cost, _ := mgr.TrackIOCost(func() error {
		a.Handoff()
		a.Close()
		return nil
	})
	if cost.IOCost() != 0 {
		t.Errorf("Expected handoff to be free, got %s", cost)
	}

	loaded, err := mgr.Load(a.Block())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	defer loaded.Close()
	if loaded.Block().Get(0).Str(1) != "five" {
		t.Errorf("Handed off content was not persisted")
	}

	s := mgr.Stats().GetStats()
	if s["handoff_ops"].(uint64) != 1 {
		t.Errorf("Expected 1 handoff op, got %v", s["handoff_ops"])
	}
}

func TestManager_AllocateUnpinned(t *testing.T) {
	mgr := newTestManager(t, 1, 2)

	var blocks []*Block
	cost, _ := mgr.TrackIOCost(func() error {
		for i := 0; i < 5; i++ {
			blocks = append(blocks, mgr.AllocateUnpinned(testColumns))
		}
		return nil
	})
	if cost.IOCost() != 0 || mgr.UsedBlocks() != 0 {
		t.Errorf("Unpinned allocation used budget or cost: %s, %d resident", cost, mgr.UsedBlocks())
	}

	a, err := mgr.Load(blocks[3])
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if a.Block().Len() != 0 {
		t.Errorf("Expected empty block, got %d tuples", a.Block().Len())
	}
	a.Close()
	if mgr.Cost().InputCost != 1 {
		t.Errorf("Expected loading an unpinned block to cost one input, got %s", mgr.Cost())
	}
}

func TestManager_AccessCloseIdempotent(t *testing.T) {
	mgr := newTestManager(t, 2, 2)
	b := storeBlock(t, mgr, 1)

	first, _ := mgr.Load(b)
	second, _ := mgr.Load(b)

	first.Close()
	first.Close()
	if !b.Resident() {
		t.Fatal("Double close dropped a reference held by another access")
	}
	second.Close()
	if b.Resident() || mgr.UsedBlocks() != 0 {
		t.Error("Expected block to be released")
	}

	var nilAccess *Access
	nilAccess.Close()
	mgr.Release(nil, first)
}

func TestManager_DiscardAndFree(t *testing.T) {
	mgr := newTestManager(t, 2, 2)

	a, err := mgr.Allocate(testColumns)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	cost, _ := mgr.TrackIOCost(func() error {
		mgr.Discard(a)
		a.Close()
		return nil
	})
	if cost.IOCost() != 0 || mgr.UsedBlocks() != 0 {
		t.Errorf("Discard should be free and release budget: %s, %d resident", cost, mgr.UsedBlocks())
	}
	expectPanic(t, "load after discard", func() { mgr.Load(a.Block()) })

	b := storeBlock(t, mgr, 1)
	held, _ := mgr.Load(b)
	if err := mgr.Free(b); !errors.Is(err, ErrBlockResident) {
		t.Errorf("Expected ErrBlockResident, got %v", err)
	}
	held.Close()

	if err := mgr.Free(b); err != nil {
		t.Fatalf("Free failed: %v", err)
	}
	if err := mgr.Free(b); err != nil {
		t.Errorf("Second free should be a no-op, got %v", err)
	}
	expectPanic(t, "load after free", func() { mgr.Load(b) })
}

func TestManager_ForeignBlock(t *testing.T) {
	one := newTestManager(t, 2, 2)
	two := newTestManager(t, 2, 2)
	b := storeBlock(t, one, 1)

	expectPanic(t, "load of foreign block", func() { two.Load(b) })
}

func TestBlock_NonResidentAccessPanics(t *testing.T) {
	mgr := newTestManager(t, 1, 2)
	b := storeBlock(t, mgr, 1)

	expectPanic(t, "Len", func() { b.Len() })
	expectPanic(t, "Get", func() { b.Get(0) })
	expectPanic(t, "Append", func() { b.Append(tuple(t, 1, "x")) })
	expectPanic(t, "Tuples", func() { b.Tuples() })
}

func TestBlock_Append(t *testing.T) {
	mgr := newTestManager(t, 1, 2)
	a, err := mgr.Allocate(testColumns)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	defer a.Close()
	b := a.Block()

	src := tuple(t, 1, "one")
	if err := b.Append(src); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := src.Set(1, "mutated"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if b.Get(0).Str(1) != "one" {
		t.Errorf("Block aliases the appended tuple")
	}

	got := b.Get(0)
	got.Set(1, "mutated")
	if b.Get(0).Str(1) != "one" {
		t.Errorf("Get returned an aliased tuple")
	}

	if err := b.Append(tuple(t, 2, "two")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if !b.Full() {
		t.Error("Expected block to be full")
	}
	if err := b.Append(tuple(t, 3, "three")); !errors.Is(err, ErrBlockFull) {
		t.Errorf("Expected ErrBlockFull, got %v", err)
	}
	if b.Len() > b.Capacity() {
		t.Errorf("Block holds %d tuples over capacity %d", b.Len(), b.Capacity())
	}

	other, _ := schema.NewTuple(schema.NewColumnDefinition(schema.Double), 1.0)
	if err := b.Set(0, other); !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("Expected ErrSchemaMismatch, got %v", err)
	}

	for _, i := range []int{-1, 2} {
		err := b.Set(i, tuple(t, 4, "four"))
		if !errors.Is(err, ErrTupleOutOfRange) {
			t.Errorf("Set(%d): expected ErrTupleOutOfRange, got %v", i, err)
		}
		if errors.Is(err, schema.ErrColumnOutOfRange) {
			t.Errorf("Set(%d): tuple index reported as a column error", i)
		}
	}
	if err := b.Set(1, tuple(t, 4, "four")); err != nil || b.Get(1).Int(0) != 4 {
		t.Errorf("Expected Set(1) to replace the tuple, got %v", err)
	}
}

func TestBlock_SortAndTruncate(t *testing.T) {
	mgr := newTestManager(t, 1, 5)
	a, err := mgr.Allocate(testColumns)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	defer a.Close()
	b := a.Block()

	for i, k := range []int{3, 1, 3, 2, 1} {
		b.Append(tuple(t, k, string(rune('a'+i))))
	}
	b.Sort(0)

	var order string
	for _, tup := range b.Tuples() {
		order += tup.Str(1)
	}
	if order != "bedac" {
		t.Errorf("Expected stable order bedac, got %s", order)
	}

	b.Truncate(2)
	if b.Len() != 2 || b.Get(1).Str(1) != "e" {
		t.Errorf("Unexpected content after truncate")
	}
	expectPanic(t, "truncate beyond length", func() { b.Truncate(3) })
}

func TestImage_RoundTrip(t *testing.T) {
	tuples := []schema.Tuple{tuple(t, 1, "a"), tuple(t, -2, ""), tuple(t, 3, "ccc")}

	decoded, err := decodeImage(testColumns, encodeImage(tuples))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(decoded) != len(tuples) {
		t.Fatalf("Expected %d tuples, got %d", len(tuples), len(decoded))
	}
	for i := range tuples {
		if !decoded[i].Equal(tuples[i]) {
			t.Errorf("Tuple %d: %s != %s", i, decoded[i], tuples[i])
		}
	}

	empty, err := decodeImage(testColumns, encodeImage(nil))
	if err != nil || len(empty) != 0 {
		t.Errorf("Expected empty image to decode to nothing, got %v (%v)", empty, err)
	}

	if _, err := decodeImage(testColumns, []byte{0x08, 0x01}); err == nil {
		t.Error("Expected error for varint field in image")
	}
}
