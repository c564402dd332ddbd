// ABOUTME: Store telemetry metrics interface and implementation for tracking map and allocator operations
// ABOUTME: Provides instrumentation for entry counts, block allocation, reuse, and defragmentation

package store

import (
	"context"

	"github.com/kvi-db/kvi/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Metrics defines the interface for store telemetry operations.
// All metrics are optional - implementations can safely be no-op.
type Metrics interface {
	telemetry.ComponentMetrics

	// RecordBlockCreated records a new Block being appended to the allocator.
	RecordBlockCreated(ctx context.Context, blockCount int)

	// RecordLargeAllocated records a value allocated outside of any block.
	RecordLargeAllocated(ctx context.Context, bytes int64)

	// RecordReusableBytes records the allocator-wide reusable byte count
	// after an allocation or release changes it.
	RecordReusableBytes(ctx context.Context, reusable int64)

	// RecordDefragment records a completed defragmentation pass.
	RecordDefragment(ctx context.Context, blocksReclaimed int, bytesMoved int64)
}

// storeMetrics implements Metrics using the telemetry interface.
type storeMetrics struct {
	tel telemetry.Telemetry
}

// NewMetrics creates a new store metrics implementation.
// If tel is nil, returns a no-op implementation.
func NewMetrics(tel telemetry.Telemetry) Metrics {
	if tel == nil {
		return &noopMetrics{}
	}
	return &storeMetrics{tel: tel}
}

// NewNoopMetrics creates a no-op store metrics implementation for testing.
func NewNoopMetrics() Metrics {
	return &noopMetrics{}
}

func (m *storeMetrics) RecordBlockCreated(ctx context.Context, blockCount int) {
	m.tel.RecordCounter(ctx, "kvi.allocator.block.created", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStore),
	)
	m.tel.RecordHistogram(ctx, "kvi.allocator.block.count", float64(blockCount),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStore),
	)
}

func (m *storeMetrics) RecordLargeAllocated(ctx context.Context, bytes int64) {
	m.tel.RecordCounter(ctx, "kvi.allocator.large.allocated", bytes,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStore),
	)
}

func (m *storeMetrics) RecordReusableBytes(ctx context.Context, reusable int64) {
	m.tel.RecordHistogram(ctx, "kvi.allocator.reusable.bytes", float64(reusable),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStore),
	)
}

func (m *storeMetrics) RecordDefragment(ctx context.Context, blocksReclaimed int, bytesMoved int64) {
	m.tel.RecordCounter(ctx, "kvi.allocator.defragment.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStore),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeDefragment),
	)
	m.tel.RecordHistogram(ctx, "kvi.allocator.defragment.blocks_reclaimed", float64(blocksReclaimed),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStore),
	)
	m.tel.RecordHistogram(ctx, "kvi.allocator.defragment.bytes_moved", float64(bytesMoved),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStore),
	)
}

// Close releases any resources held by the metrics implementation.
func (m *storeMetrics) Close() error {
	return nil
}

// noopMetrics provides a no-operation implementation for testing or disabled telemetry.
type noopMetrics struct{}

func (n *noopMetrics) RecordBlockCreated(ctx context.Context, blockCount int)         {}
func (n *noopMetrics) RecordLargeAllocated(ctx context.Context, bytes int64)          {}
func (n *noopMetrics) RecordReusableBytes(ctx context.Context, reusable int64)        {}
func (n *noopMetrics) RecordDefragment(ctx context.Context, blocks int, bytes int64)  {}
func (n *noopMetrics) Close() error                                                   { return nil }
