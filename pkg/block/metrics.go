// ABOUTME: Block manager telemetry metrics interface and implementation for tracking simulated block I/O
// ABOUTME: Records loads, stores, allocations, residency and capacity exhaustion with a no-op default

package block

import (
	"context"
	"time"

	"github.com/KevoDB/blocksim/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Metrics defines the interface for block manager telemetry operations.
// All metrics are optional - implementations can safely be no-op.
type Metrics interface {
	telemetry.ComponentMetrics

	// RecordAllocate records a block allocation.
	RecordAllocate(ctx context.Context, pinned bool)

	// RecordLoad records a load of a non-resident block from the medium.
	RecordLoad(ctx context.Context, duration time.Duration, tuples int)

	// RecordStore records a write-back to the medium; charged is false for handoffs.
	RecordStore(ctx context.Context, duration time.Duration, tuples int, charged bool)

	// RecordResidency records the number of resident blocks against the budget.
	RecordResidency(ctx context.Context, resident, total int)

	// RecordCapacityExhausted records a load or allocation refused for lack of budget.
	RecordCapacityExhausted(ctx context.Context, opType string)
}

// blockMetrics implements Metrics using the telemetry interface.
type blockMetrics struct {
	tel telemetry.Telemetry
}

// NewMetrics creates a new block metrics implementation.
// If tel is nil, returns a no-op implementation.
func NewMetrics(tel telemetry.Telemetry) Metrics {
	if tel == nil {
		return &noopMetrics{}
	}
	return &blockMetrics{tel: tel}
}

// NewNoopMetrics creates a no-op block metrics implementation for testing.
func NewNoopMetrics() Metrics {
	return &noopMetrics{}
}

// RecordAllocate records a block allocation.
func (m *blockMetrics) RecordAllocate(ctx context.Context, pinned bool) {
	m.tel.RecordCounter(ctx, "blocksim.block.allocations.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentBlock),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeAllocate),
		attribute.Bool("block.pinned", pinned),
	)
}

// RecordLoad records a block load.
func (m *blockMetrics) RecordLoad(ctx context.Context, duration time.Duration, tuples int) {
	m.tel.RecordHistogram(ctx, "blocksim.block.load.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentBlock),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeLoad),
	)

	m.tel.RecordCounter(ctx, "blocksim.block.loads.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentBlock),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeLoad),
	)

	m.tel.RecordHistogram(ctx, "blocksim.block.tuples", float64(tuples),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentBlock),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeLoad),
	)
}

// RecordStore records a block write-back.
func (m *blockMetrics) RecordStore(ctx context.Context, duration time.Duration, tuples int, charged bool) {
	opType := telemetry.OpTypeStore
	if !charged {
		opType = telemetry.OpTypeHandoff
	}

	m.tel.RecordHistogram(ctx, "blocksim.block.store.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentBlock),
		attribute.String(telemetry.AttrOperationType, opType),
	)

	m.tel.RecordCounter(ctx, "blocksim.block.stores.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentBlock),
		attribute.String(telemetry.AttrOperationType, opType),
	)

	m.tel.RecordHistogram(ctx, "blocksim.block.tuples", float64(tuples),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentBlock),
		attribute.String(telemetry.AttrOperationType, opType),
	)
}

// RecordResidency records the resident block count.
func (m *blockMetrics) RecordResidency(ctx context.Context, resident, total int) {
	m.tel.RecordHistogram(ctx, "blocksim.block.resident", float64(resident),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentBlock),
		attribute.Int("block.budget", total),
	)
}

// RecordCapacityExhausted records a refused load or allocation.
func (m *blockMetrics) RecordCapacityExhausted(ctx context.Context, opType string) {
	m.tel.RecordCounter(ctx, "blocksim.block.capacity_exhausted.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentBlock),
		attribute.String(telemetry.AttrOperationType, opType),
		attribute.String(telemetry.AttrStatus, telemetry.StatusError),
	)
}

// Close releases any resources held by the metrics implementation.
func (m *blockMetrics) Close() error {
	return nil
}

// noopMetrics provides a no-operation implementation for testing or disabled telemetry.
type noopMetrics struct{}

// RecordAllocate is a no-op.
func (n *noopMetrics) RecordAllocate(ctx context.Context, pinned bool) {}

// RecordLoad is a no-op.
func (n *noopMetrics) RecordLoad(ctx context.Context, duration time.Duration, tuples int) {}

// RecordStore is a no-op.
func (n *noopMetrics) RecordStore(ctx context.Context, duration time.Duration, tuples int, charged bool) {
}

// RecordResidency is a no-op.
func (n *noopMetrics) RecordResidency(ctx context.Context, resident, total int) {}

// RecordCapacityExhausted is a no-op.
func (n *noopMetrics) RecordCapacityExhausted(ctx context.Context, opType string) {}

// Close is a no-op.
func (n *noopMetrics) Close() error {
	return nil
}
