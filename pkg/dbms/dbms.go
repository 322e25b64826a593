// Package dbms provides the storage context of one simulation run: the
// medium, the block manager that bounds residency on it, and the relations
// created against them. A DBMS is owned by its creator and passed to every
// component explicitly.
package dbms

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/KevoDB/blocksim/pkg/block"
	"github.com/KevoDB/blocksim/pkg/common/log"
	"github.com/KevoDB/blocksim/pkg/config"
	"github.com/KevoDB/blocksim/pkg/medium"
	"github.com/KevoDB/blocksim/pkg/relation"
	"github.com/KevoDB/blocksim/pkg/schema"
	"github.com/KevoDB/blocksim/pkg/stats"
	"github.com/KevoDB/blocksim/pkg/telemetry"
)

var (
	// ErrRelationExists is returned when registering a name twice
	ErrRelationExists = errors.New("relation already exists")

	// ErrRelationNotFound is returned when looking up an unknown name
	ErrRelationNotFound = errors.New("relation not found")

	// ErrClosed is returned when using a closed DBMS
	ErrClosed = errors.New("dbms is closed")
)

// Option configures a DBMS
type Option func(*DBMS)

// WithLogger sets the logger handed to every component
func WithLogger(logger log.Logger) Option {
	return func(d *DBMS) {
		d.logger = logger
	}
}

// WithTelemetry sets the telemetry the block manager reports to. The
// caller keeps ownership and shuts it down.
func WithTelemetry(tel telemetry.Telemetry) Option {
	return func(d *DBMS) {
		d.tel = tel
	}
}

// DBMS is the storage context of one simulation run
type DBMS struct {
	cfg     *config.Config
	logger  log.Logger
	tel     telemetry.Telemetry
	stats   *stats.AtomicCollector
	medium  *medium.Medium
	manager *block.Manager

	mu        sync.RWMutex
	relations map[string]*relation.BlockRelation
	closed    bool
}

// New creates a storage context from cfg
func New(cfg *config.Config, opts ...Option) (*DBMS, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &DBMS{
		cfg:       cfg,
		stats:     stats.NewAtomicCollector(),
		relations: make(map[string]*relation.BlockRelation),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = log.Component("dbms")
	}
	if d.tel == nil {
		d.tel = telemetry.NewNoop()
	}

	codec, err := medium.ParseCodec(cfg.MediumCodec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	med, err := medium.New(medium.Options{
		Codec:           codec,
		VerifyChecksums: cfg.VerifyChecksums,
		CacheBytes:      cfg.ImageCacheBytes,
		Logger:          d.logger.WithField("component", telemetry.ComponentMedium),
		Stats:           d.stats,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create medium: %w", err)
	}

	mgr, err := block.NewManager(cfg.TotalBlocks, cfg.BlockCapacity, med,
		block.WithLogger(d.logger.WithField("component", telemetry.ComponentBlock)),
		block.WithStats(d.stats),
		block.WithMetrics(block.NewMetrics(d.tel)),
	)
	if err != nil {
		med.Close()
		return nil, err
	}

	d.medium = med
	d.manager = mgr

	d.logger.Info("Storage context created with %d blocks of %d tuples, codec %s",
		cfg.TotalBlocks, cfg.BlockCapacity, codec)
	return d, nil
}

// Open creates a storage context with the default configuration and the given budget
func Open(totalBlocks, blockCapacity int, opts ...Option) (*DBMS, error) {
	return New(config.NewConfig(totalBlocks, blockCapacity), opts...)
}

// Config returns the configuration the context was created with
func (d *DBMS) Config() *config.Config {
	return d.cfg
}

// BlockManager returns the block manager of the context
func (d *DBMS) BlockManager() *block.Manager {
	return d.manager
}

// Medium returns the simulated medium of the context
func (d *DBMS) Medium() *medium.Medium {
	return d.medium
}

// Logger returns the logger of the context
func (d *DBMS) Logger() log.Logger {
	return d.logger
}

// Telemetry returns the telemetry of the context
func (d *DBMS) Telemetry() telemetry.Telemetry {
	return d.tel
}

// CreateRelation creates an empty anonymous relation. Using the context
// after Close is a programming error and panics.
func (d *DBMS) CreateRelation(columns *schema.ColumnDefinition) *relation.BlockRelation {
	d.mustBeOpen("CreateRelation")
	return relation.New(d.manager, columns)
}

// TrackIOCost runs fn and returns the I/O cost it incurred. It panics after Close.
func (d *DBMS) TrackIOCost(fn func() error) (block.Cost, error) {
	d.mustBeOpen("TrackIOCost")
	return d.manager.TrackIOCost(fn)
}

func (d *DBMS) mustBeOpen(op string) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		panic(fmt.Sprintf("dbms: %s after Close", op))
	}
}

// CreateNamedRelation creates an empty relation registered under name
func (d *DBMS) CreateNamedRelation(name string, columns *schema.ColumnDefinition) (*relation.BlockRelation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}
	if _, ok := d.relations[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrRelationExists, name)
	}
	rel := relation.New(d.manager, columns)
	d.relations[name] = rel
	return rel, nil
}

// Relation returns the relation registered under name
func (d *DBMS) Relation(name string) (*relation.BlockRelation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rel, ok := d.relations[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRelationNotFound, name)
	}
	return rel, nil
}

// RelationNames returns the registered names in sorted order
func (d *DBMS) RelationNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.relations))
	for name := range d.relations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DropRelation clears the relation registered under name and forgets it
func (d *DBMS) DropRelation(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	rel, ok := d.relations[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRelationNotFound, name)
	}
	if err := rel.Clear(); err != nil {
		return err
	}
	delete(d.relations, name)
	return nil
}

// GetStats returns the block operation statistics together with the
// budget, cost counters and medium footprint
func (d *DBMS) GetStats() map[string]interface{} {
	s := d.stats.GetStats()

	cost := d.manager.Cost()
	s["total_blocks"] = d.manager.TotalBlocks()
	s["block_capacity"] = d.manager.BlockCapacity()
	s["used_blocks"] = d.manager.UsedBlocks()
	s["input_cost"] = cost.InputCost
	s["output_cost"] = cost.OutputCost

	raw, stored := d.medium.Size()
	s["medium_images"] = d.medium.Len()
	s["medium_raw_bytes"] = raw
	s["medium_stored_bytes"] = stored

	d.mu.RLock()
	s["relations"] = len(d.relations)
	d.mu.RUnlock()
	return s
}

// Close drops every relation and the medium. Closing twice is a no-op.
// Relations created earlier must not be used afterwards.
func (d *DBMS) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	if used := d.manager.UsedBlocks(); used != 0 {
		d.logger.Warn("Closing storage context with %d resident blocks", used)
	}
	d.relations = nil
	return d.medium.Close()
}
