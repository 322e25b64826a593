package block

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KevoDB/blocksim/pkg/common/log"
	"github.com/KevoDB/blocksim/pkg/medium"
	"github.com/KevoDB/blocksim/pkg/schema"
	"github.com/KevoDB/blocksim/pkg/stats"
)

var (
	// ErrCapacityExhausted is returned when an allocation or load would exceed the resident block budget
	ErrCapacityExhausted = errors.New("block budget exhausted")

	// ErrBlockResident is returned when freeing a block that is still loaded
	ErrBlockResident = errors.New("block is resident")

	// ErrInvalidBudget is returned when creating a manager with a non-positive budget or capacity
	ErrInvalidBudget = errors.New("invalid block budget")
)

// Cost is a pair of simulated I/O counters. InputCost counts block loads from
// the medium and OutputCost counts charged stores to it.
type Cost struct {
	InputCost  int
	OutputCost int
}

// IOCost returns the total of input and output cost
func (c Cost) IOCost() int {
	return c.InputCost + c.OutputCost
}

// Sub returns the cost accumulated since other was observed
func (c Cost) Sub(other Cost) Cost {
	return Cost{InputCost: c.InputCost - other.InputCost, OutputCost: c.OutputCost - other.OutputCost}
}

// String renders the cost as in/out/total
func (c Cost) String() string {
	return fmt.Sprintf("in=%d out=%d total=%d", c.InputCost, c.OutputCost, c.IOCost())
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger of the manager
func WithLogger(logger log.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithStats sets the statistics collector the manager reports block operations to
func WithStats(collector stats.Collector) Option {
	return func(m *Manager) {
		m.stats = collector
	}
}

// WithMetrics sets the telemetry metrics of the manager
func WithMetrics(metrics Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// Manager owns the budget of totalBlocks simultaneously resident blocks of
// blockCapacity tuples each. Every load from and charged store to the
// medium is counted. A Manager is not safe for concurrent use.
type Manager struct {
	totalBlocks   int
	blockCapacity int
	medium        *medium.Medium

	logger  log.Logger
	stats   stats.Collector
	metrics Metrics

	nextID   ID
	resident int
	cost     Cost
}

// NewManager creates a manager storing non-resident blocks on med
func NewManager(totalBlocks, blockCapacity int, med *medium.Medium, opts ...Option) (*Manager, error) {
	if totalBlocks < 1 {
		return nil, fmt.Errorf("%w: total blocks must be positive, got %d", ErrInvalidBudget, totalBlocks)
	}
	if blockCapacity < 1 {
		return nil, fmt.Errorf("%w: block capacity must be positive, got %d", ErrInvalidBudget, blockCapacity)
	}
	if med == nil {
		return nil, errors.New("block manager requires a medium")
	}

	m := &Manager{
		totalBlocks:   totalBlocks,
		blockCapacity: blockCapacity,
		medium:        med,
		nextID:        1,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = log.Component("block")
	}
	if m.stats == nil {
		m.stats = stats.NewAtomicCollector()
	}
	if m.metrics == nil {
		m.metrics = NewNoopMetrics()
	}

	m.logger.Debug("Block manager created with %d blocks of %d tuples", totalBlocks, blockCapacity)
	return m, nil
}

// TotalBlocks returns the resident block budget
func (m *Manager) TotalBlocks() int {
	return m.totalBlocks
}

// BlockCapacity returns the number of tuples a block can hold
func (m *Manager) BlockCapacity() int {
	return m.blockCapacity
}

// UsedBlocks returns the number of currently resident blocks
func (m *Manager) UsedBlocks() int {
	return m.resident
}

// FreeBlocks returns the number of blocks that can still be made resident
func (m *Manager) FreeBlocks() int {
	return m.totalBlocks - m.resident
}

// Cost returns the counters accumulated over the lifetime of the manager
func (m *Manager) Cost() Cost {
	return m.cost
}

// Stats returns the statistics collector of the manager
func (m *Manager) Stats() stats.Collector {
	return m.stats
}

// TrackIOCost runs fn and returns the cost incurred while it ran. Scopes
// nest: an inner scope reports only its own window and the counters seen by
// an outer scope are unaffected.
func (m *Manager) TrackIOCost(fn func() error) (Cost, error) {
	before := m.cost
	err := fn()
	return m.cost.Sub(before), err
}

// Allocate creates an empty resident block of the given shape. It takes one
// unit of the budget, held by the returned Access.
func (m *Manager) Allocate(columns *schema.ColumnDefinition) (*Access, error) {
	if err := m.reserve(stats.OpAllocate); err != nil {
		return nil, err
	}

	b := m.newBlock(columns)
	b.tuples = make([]schema.Tuple, 0, m.blockCapacity)
	b.resident = true
	b.refs = 1
	// no image exists yet, so the first release writes one
	b.dirty = true

	m.stats.TrackOperation(stats.OpAllocate)
	m.metrics.RecordAllocate(context.Background(), true)
	m.trackResidency()
	return &Access{mgr: m, block: b}, nil
}

// AllocateUnpinned creates an empty block directly on the medium. It uses no
// budget and incurs no cost.
func (m *Manager) AllocateUnpinned(columns *schema.ColumnDefinition) *Block {
	b := m.newBlock(columns)
	if err := m.medium.Write(uint64(b.id), encodeImage(nil)); err != nil {
		panic(fmt.Errorf("block: write image of %s: %w", b.id, err))
	}

	m.stats.TrackOperation(stats.OpAllocate)
	m.metrics.RecordAllocate(context.Background(), false)
	return b
}

// Load makes b resident and returns an Access holding one reference to it.
// Loading a resident block only adds a reference. Loading a non-resident
// block takes one unit of budget and one unit of input cost.
func (m *Manager) Load(b *Block) (*Access, error) {
	m.mustOwn(b)
	if b.resident {
		b.refs++
		return &Access{mgr: m, block: b}, nil
	}

	if err := m.reserve(stats.OpLoad); err != nil {
		return nil, err
	}

	start := time.Now()
	raw, err := m.medium.Read(uint64(b.id))
	if err != nil {
		panic(fmt.Errorf("block: read image of %s: %w", b.id, err))
	}
	tuples, err := decodeImage(b.columns, raw)
	if err != nil {
		panic(fmt.Errorf("block: decode image of %s: %w", b.id, err))
	}

	b.tuples = tuples
	b.resident = true
	b.refs = 1
	b.dirty = false
	m.cost.InputCost++

	m.stats.TrackOperationWithLatency(stats.OpLoad, uint64(time.Since(start).Nanoseconds()))
	m.metrics.RecordLoad(context.Background(), time.Since(start), len(tuples))
	m.trackResidency()
	return &Access{mgr: m, block: b}, nil
}

// Release closes each access in turn, freeing budget before a later Close
// would. Nil and already closed accesses are ignored.
func (m *Manager) Release(accesses ...*Access) {
	for _, a := range accesses {
		a.Close()
	}
}

// Discard drops the block held by a, which must be its only reference,
// without writing it back. The block is removed from the medium.
func (m *Manager) Discard(a *Access) {
	if a == nil || a.done {
		return
	}
	b := a.block
	if b.refs != 1 {
		panic(fmt.Sprintf("block: discard %s with %d references", b.id, b.refs))
	}
	a.done = true

	if m.medium.Contains(uint64(b.id)) {
		if err := m.medium.Delete(uint64(b.id)); err != nil {
			panic(fmt.Errorf("block: delete image of %s: %w", b.id, err))
		}
	}
	b.refs = 0
	b.tuples = nil
	b.resident = false
	b.dirty = false
	b.freed = true
	m.resident--

	m.stats.TrackOperation(stats.OpFree)
	m.trackResidency()
}

// Free removes the image of a non-resident block from the medium. The
// handle must not be used afterwards; freeing it again is a no-op.
func (m *Manager) Free(b *Block) error {
	if b.freed && b.mgr == m {
		return nil
	}
	m.mustOwn(b)
	if b.resident {
		return fmt.Errorf("%w: %s has %d references", ErrBlockResident, b.id, b.refs)
	}

	if err := m.medium.Delete(uint64(b.id)); err != nil {
		panic(fmt.Errorf("block: delete image of %s: %w", b.id, err))
	}
	b.freed = true
	m.stats.TrackOperation(stats.OpFree)
	return nil
}

// release drops one reference to b. The last reference writes a dirty block
// back to the medium, charging output cost unless the block is handed off.
func (m *Manager) release(b *Block, handoff bool) {
	if b.refs <= 0 {
		panic(fmt.Sprintf("block: release of unreferenced %s", b.id))
	}
	b.refs--
	if b.refs > 0 {
		return
	}

	if b.dirty {
		start := time.Now()
		if err := m.medium.Write(uint64(b.id), encodeImage(b.tuples)); err != nil {
			panic(fmt.Errorf("block: write image of %s: %w", b.id, err))
		}

		op := stats.OpStore
		if handoff {
			op = stats.OpHandoff
		} else {
			m.cost.OutputCost++
		}
		m.stats.TrackOperationWithLatency(op, uint64(time.Since(start).Nanoseconds()))
		m.metrics.RecordStore(context.Background(), time.Since(start), len(b.tuples), !handoff)
	} else {
		m.stats.TrackOperation(stats.OpRelease)
	}

	b.tuples = nil
	b.resident = false
	b.dirty = false
	m.resident--
	m.trackResidency()
}

// reserve takes one unit of budget for a block about to become resident
func (m *Manager) reserve(op stats.OperationType) error {
	if m.resident >= m.totalBlocks {
		m.stats.TrackError("capacity_exhausted")
		m.metrics.RecordCapacityExhausted(context.Background(), string(op))
		m.logger.Warn("Cannot %s block: %d of %d blocks resident", op, m.resident, m.totalBlocks)
		return fmt.Errorf("%w: %d of %d blocks resident", ErrCapacityExhausted, m.resident, m.totalBlocks)
	}
	m.resident++
	return nil
}

func (m *Manager) newBlock(columns *schema.ColumnDefinition) *Block {
	b := &Block{
		id:       m.nextID,
		mgr:      m,
		columns:  columns,
		capacity: m.blockCapacity,
	}
	m.nextID++
	return b
}

func (m *Manager) mustOwn(b *Block) {
	if b.mgr != m {
		panic(fmt.Sprintf("block: %s belongs to another manager", b.id))
	}
	if b.freed {
		panic(fmt.Sprintf("block: %s used after free", b.id))
	}
}

func (m *Manager) trackResidency() {
	m.stats.TrackResidency(uint64(m.resident))
	m.metrics.RecordResidency(context.Background(), m.resident, m.totalBlocks)
}

// Access is a scoped reference to a resident block. Closing it is
// idempotent, so it is always safe to defer Close right after acquiring it.
type Access struct {
	mgr   *Manager
	block *Block
	done  bool
}

// Block returns the resident block
func (a *Access) Block() *Block {
	return a.block
}

// Close drops the reference. If it was the last one, a modified block is
// written back at one unit of output cost and becomes non-resident.
func (a *Access) Close() {
	if a == nil || a.done {
		return
	}
	a.done = true
	a.mgr.release(a.block, false)
}

// Handoff drops the reference like Close, but a modified block is written
// back without output cost. It is used for operation results that are
// pipelined to their consumer.
func (a *Access) Handoff() {
	if a == nil || a.done {
		return
	}
	a.done = true
	a.mgr.release(a.block, true)
}
