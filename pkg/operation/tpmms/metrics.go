// ABOUTME: TPMMS telemetry metrics interface and implementation for tracking external sort executions
// ABOUTME: Records estimates, per-phase cost and duration, and capacity rejections with a no-op default

package tpmms

import (
	"context"
	"time"

	"github.com/KevoDB/blocksim/pkg/block"
	"github.com/KevoDB/blocksim/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Metrics defines the interface for TPMMS telemetry operations.
// All metrics are optional - implementations can safely be no-op.
type Metrics interface {
	telemetry.ComponentMetrics

	// RecordEstimate records a cost estimate for an input of the given size.
	RecordEstimate(ctx context.Context, blocks int, estimate int)

	// RecordPhase records the duration and cost of one phase.
	RecordPhase(ctx context.Context, phase string, duration time.Duration, cost block.Cost)

	// RecordSort records a finished execution.
	RecordSort(ctx context.Context, duration time.Duration, runs int, cost block.Cost, status string)

	// RecordCapacityRejected records an input refused by the feasibility check.
	RecordCapacityRejected(ctx context.Context, blocks int, budget int)
}

// tpmmsMetrics implements Metrics using the telemetry interface.
type tpmmsMetrics struct {
	tel telemetry.Telemetry
}

// NewMetrics creates a new TPMMS metrics implementation.
// If tel is nil, returns a no-op implementation.
func NewMetrics(tel telemetry.Telemetry) Metrics {
	if tel == nil {
		return &noopMetrics{}
	}
	return &tpmmsMetrics{tel: tel}
}

// NewNoopMetrics creates a no-op TPMMS metrics implementation for testing.
func NewNoopMetrics() Metrics {
	return &noopMetrics{}
}

// RecordEstimate records a cost estimate.
func (m *tpmmsMetrics) RecordEstimate(ctx context.Context, blocks int, estimate int) {
	m.tel.RecordCounter(ctx, "blocksim.tpmms.estimates.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentTPMMS),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeEstimate),
	)

	m.tel.RecordHistogram(ctx, "blocksim.tpmms.estimate.cost", float64(estimate),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentTPMMS),
		attribute.Int(telemetry.AttrBlocks, blocks),
	)
}

// RecordPhase records one phase of an execution.
func (m *tpmmsMetrics) RecordPhase(ctx context.Context, phase string, duration time.Duration, cost block.Cost) {
	m.tel.RecordHistogram(ctx, "blocksim.tpmms.phase.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentTPMMS),
		attribute.String(telemetry.AttrPhase, phase),
	)

	m.tel.RecordCounter(ctx, "blocksim.tpmms.phase.input_cost", int64(cost.InputCost),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentTPMMS),
		attribute.String(telemetry.AttrPhase, phase),
	)

	m.tel.RecordCounter(ctx, "blocksim.tpmms.phase.output_cost", int64(cost.OutputCost),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentTPMMS),
		attribute.String(telemetry.AttrPhase, phase),
	)
}

// RecordSort records a finished execution.
func (m *tpmmsMetrics) RecordSort(ctx context.Context, duration time.Duration, runs int, cost block.Cost, status string) {
	m.tel.RecordHistogram(ctx, "blocksim.tpmms.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentTPMMS),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeSort),
		attribute.String(telemetry.AttrStatus, status),
	)

	m.tel.RecordCounter(ctx, "blocksim.tpmms.sorts.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentTPMMS),
		attribute.String(telemetry.AttrStatus, status),
	)

	m.tel.RecordHistogram(ctx, "blocksim.tpmms.runs", float64(runs),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentTPMMS),
	)

	m.tel.RecordHistogram(ctx, "blocksim.tpmms.io_cost", float64(cost.IOCost()),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentTPMMS),
		attribute.String(telemetry.AttrStatus, status),
	)
}

// RecordCapacityRejected records a refused input.
func (m *tpmmsMetrics) RecordCapacityRejected(ctx context.Context, blocks int, budget int) {
	m.tel.RecordCounter(ctx, "blocksim.tpmms.rejected.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentTPMMS),
		attribute.String(telemetry.AttrErrorType, "relation_size_exceeds_capacity"),
		attribute.Int(telemetry.AttrBlocks, blocks),
		attribute.Int("block.budget", budget),
	)
}

// Close releases any resources held by the metrics implementation.
func (m *tpmmsMetrics) Close() error {
	return nil
}

// noopMetrics provides a no-operation implementation for testing or disabled telemetry.
type noopMetrics struct{}

// RecordEstimate is a no-op.
func (n *noopMetrics) RecordEstimate(ctx context.Context, blocks int, estimate int) {}

// RecordPhase is a no-op.
func (n *noopMetrics) RecordPhase(ctx context.Context, phase string, duration time.Duration, cost block.Cost) {
}

// RecordSort is a no-op.
func (n *noopMetrics) RecordSort(ctx context.Context, duration time.Duration, runs int, cost block.Cost, status string) {
}

// RecordCapacityRejected is a no-op.
func (n *noopMetrics) RecordCapacityRejected(ctx context.Context, blocks int, budget int) {}

// Close is a no-op.
func (n *noopMetrics) Close() error {
	return nil
}
