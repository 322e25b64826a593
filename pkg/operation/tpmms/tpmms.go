// Package tpmms implements the two-phase multiway merge sort of a relation
// that may be far larger than the resident block budget.
//
// Phase 1 reads the input in chunks of up to totalBlocks blocks, sorts each
// chunk in memory and writes it out as a sorted run. Phase 2 merges all runs
// in a single pass with one resident block per run plus one for the result,
// so a relation of N blocks is sortable only while ceil(N/B)+1 <= B.
package tpmms

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/KevoDB/blocksim/pkg/block"
	"github.com/KevoDB/blocksim/pkg/common/iterator"
	"github.com/KevoDB/blocksim/pkg/common/iterator/composite"
	"github.com/KevoDB/blocksim/pkg/common/log"
	"github.com/KevoDB/blocksim/pkg/operation"
	"github.com/KevoDB/blocksim/pkg/relation"
	"github.com/KevoDB/blocksim/pkg/schema"
	"github.com/KevoDB/blocksim/pkg/stats"
	"github.com/KevoDB/blocksim/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Phase names used in logs, spans and metrics
const (
	PhaseRuns  = "runs"
	PhaseMerge = "merge"
)

// Option configures a TPMMS
type Option func(*TPMMS)

// WithLogger sets the logger of the sort
func WithLogger(logger log.Logger) Option {
	return func(s *TPMMS) {
		s.logger = logger
	}
}

// WithTelemetry sets the telemetry used for spans and metrics
func WithTelemetry(tel telemetry.Telemetry) Option {
	return func(s *TPMMS) {
		s.tel = tel
		s.metrics = NewMetrics(tel)
	}
}

// TPMMS sorts relations of one block manager by a column
type TPMMS struct {
	mgr    *block.Manager
	column int

	logger  log.Logger
	tel     telemetry.Telemetry
	metrics Metrics
}

var _ operation.SortOperation = (*TPMMS)(nil)

// New creates a sort by sortColumn over relations of mgr
func New(mgr *block.Manager, sortColumn int, opts ...Option) *TPMMS {
	s := &TPMMS{
		mgr:    mgr,
		column: sortColumn,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.Component("tpmms")
	}
	if s.tel == nil {
		s.tel = telemetry.NewNoop()
	}
	if s.metrics == nil {
		s.metrics = NewNoopMetrics()
	}
	return s
}

// SortColumn returns the index of the column the result is ordered by
func (s *TPMMS) SortColumn() int {
	return s.column
}

// Runs returns the number of runs phase 1 produces for an input of blocks
// blocks, or ErrRelationSizeExceedsCapacity when the runs cannot be merged
// in one pass
func (s *TPMMS) Runs(blocks int) (int, error) {
	budget := s.mgr.TotalBlocks()
	runs := (blocks + budget - 1) / budget
	if runs+1 > budget {
		return runs, fmt.Errorf("%w: %d blocks form %d runs, merging them needs %d of %d blocks",
			operation.ErrRelationSizeExceedsCapacity, blocks, runs, runs+1, budget)
	}
	return runs, nil
}

// EstimatedIOCost returns 3N for an input of N blocks: phase 1 reads and
// writes every block once and phase 2 reads every run block once. The
// result is pipelined to the caller and not charged.
func (s *TPMMS) EstimatedIOCost(input relation.Relation) int {
	blocks := input.EstimatedBlockCount()
	estimate := 3 * blocks

	s.mgr.Stats().TrackOperation(stats.OpEstimate)
	s.metrics.RecordEstimate(context.Background(), blocks, estimate)
	return estimate
}

// Execute writes the tuples of input to output ordered by the sort column.
// Ties keep their input order. Output must be empty. On failure output is
// left empty and every intermediate run is dropped.
func (s *TPMMS) Execute(input, output relation.Relation) (err error) {
	if err := operation.CheckRelations(input, output); err != nil {
		return err
	}
	if input.Manager() != s.mgr {
		return fmt.Errorf("%w: relations belong to another block manager", operation.ErrSchemaMismatch)
	}
	columns := input.Columns()
	if s.column < 0 || s.column >= columns.Len() {
		return fmt.Errorf("%w: column %d of %d", operation.ErrInvalidSortColumn, s.column, columns.Len())
	}

	blocks := input.EstimatedBlockCount()
	runCount, err := s.Runs(blocks)
	if err != nil {
		s.mgr.Stats().TrackError("relation_size_exceeds_capacity")
		s.metrics.RecordCapacityRejected(context.Background(), blocks, s.mgr.TotalBlocks())
		s.logger.Warn("Refusing to sort %d blocks with a budget of %d", blocks, s.mgr.TotalBlocks())
		return err
	}
	if blocks == 0 {
		return nil
	}

	ctx, span := s.tel.StartSpan(context.Background(), "tpmms.execute",
		attribute.Int(telemetry.AttrSortColumn, s.column),
		attribute.Int(telemetry.AttrBlocks, blocks),
		attribute.Int(telemetry.AttrRuns, runCount),
	)
	defer span.End()

	start := s.mgr.Stats().StartSort()
	var total block.Cost

	var runs []*relation.BlockRelation
	defer func() {
		for _, run := range runs {
			if clearErr := run.Clear(); clearErr != nil {
				err = errors.Join(err, fmt.Errorf("failed to drop run: %w", clearErr))
			}
		}

		status := telemetry.StatusSuccess
		if err != nil {
			status = telemetry.StatusError
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.metrics.RecordSort(ctx, time.Since(start), len(runs), total, status)
		s.mgr.Stats().FinishSort(start, uint64(len(runs)), uint64(total.InputCost), uint64(total.OutputCost))
	}()

	phaseStart := time.Now()
	phaseCost, err := s.mgr.TrackIOCost(func() error {
		var err error
		runs, err = s.createRuns(ctx, input)
		return err
	})
	total = phaseCost
	s.metrics.RecordPhase(ctx, PhaseRuns, time.Since(phaseStart), phaseCost)
	if err != nil {
		return fmt.Errorf("failed to create runs: %w", err)
	}
	s.logger.Info("Created %d sorted runs from %d blocks (%s)", len(runs), blocks, phaseCost)

	phaseStart = time.Now()
	phaseCost, err = s.mgr.TrackIOCost(func() error {
		return s.merge(ctx, runs, output)
	})
	total.InputCost += phaseCost.InputCost
	total.OutputCost += phaseCost.OutputCost
	s.metrics.RecordPhase(ctx, PhaseMerge, time.Since(phaseStart), phaseCost)
	if err != nil {
		if clearErr := output.Clear(); clearErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to clear output: %w", clearErr))
		}
		return fmt.Errorf("failed to merge runs: %w", err)
	}
	s.logger.Info("Merged %d runs into %d blocks (%s)", len(runs), output.EstimatedBlockCount(), phaseCost)

	return nil
}

// createRuns turns each chunk of the input into one sorted run relation.
// The runs created so far are returned even on failure.
func (s *TPMMS) createRuns(ctx context.Context, input relation.Relation) ([]*relation.BlockRelation, error) {
	_, span := s.tel.StartSpan(ctx, "tpmms.runs", attribute.String(telemetry.AttrPhase, PhaseRuns))
	defer span.End()

	compare := input.Columns().ColumnComparator(s.column)
	var runs []*relation.BlockRelation

	it := input.Iterator()
	for it.SeekToFirst(); it.Valid(); {
		tuples, err := s.readChunk(it)
		if err != nil {
			return runs, err
		}
		slices.SortStableFunc(tuples, compare)

		run := relation.New(s.mgr, input.Columns())
		runs = append(runs, run)
		err = relation.Fill(run, func(out *relation.BlockOutput) error {
			for _, t := range tuples {
				if err := out.Add(t); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return runs, err
		}
		s.logger.Debug("Run %d holds %d tuples in %d blocks", len(runs)-1, len(tuples), run.EstimatedBlockCount())
	}
	return runs, nil
}

// readChunk loads up to totalBlocks blocks from it, copies their tuples and
// releases them again. The blocks are unmodified, so releasing is free.
func (s *TPMMS) readChunk(it relation.BlockIterator) ([]schema.Tuple, error) {
	chunk := make([]*block.Access, 0, s.mgr.TotalBlocks())
	defer func() {
		s.mgr.Release(chunk...)
	}()

	for ; it.Valid() && len(chunk) < s.mgr.TotalBlocks(); it.Next() {
		a, err := s.mgr.Load(it.Block())
		if err != nil {
			return nil, err
		}
		chunk = append(chunk, a)
	}

	var tuples []schema.Tuple
	for _, a := range chunk {
		tuples = append(tuples, a.Block().Tuples()...)
	}
	return tuples, nil
}

// merge streams the runs into output through one cursor per run. Ties are
// taken from the run with the lower index, which keeps the sort stable.
func (s *TPMMS) merge(ctx context.Context, runs []*relation.BlockRelation, output relation.Relation) error {
	_, span := s.tel.StartSpan(ctx, "tpmms.merge",
		attribute.String(telemetry.AttrPhase, PhaseMerge),
		attribute.Int(telemetry.AttrRuns, len(runs)),
	)
	defer span.End()

	cursors := make([]iterator.Iterator, len(runs))
	for i, run := range runs {
		cursors[i] = relation.NewTupleIterator(run)
	}
	merged := composite.NewMergingIterator(cursors, output.Columns().ColumnComparator(s.column))
	defer merged.Close()

	out, err := output.BlockOutput(relation.Pipelined())
	if err != nil {
		return err
	}

	for merged.SeekToFirst(); merged.Valid(); merged.Next() {
		if err := out.Add(merged.Tuple()); err != nil {
			out.Abort()
			return err
		}
	}
	if err := merged.Err(); err != nil {
		out.Abort()
		return err
	}
	return out.Close()
}
