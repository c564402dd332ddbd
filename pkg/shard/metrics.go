// ABOUTME: Shard telemetry metrics interface and implementation for tracking per-shard command execution
// ABOUTME: Provides instrumentation for SET/GET/DEL operation counts and durations; KEYS is not recorded

package shard

import (
	"context"
	"time"

	"github.com/kvi-db/kvi/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Metrics defines the interface for shard telemetry operations. All
// metrics are optional - implementations can safely be no-op.
type Metrics interface {
	telemetry.ComponentMetrics

	// RecordOperation records a completed command's outcome and duration.
	RecordOperation(ctx context.Context, opType string, duration time.Duration, success bool)
}

type shardMetrics struct {
	tel telemetry.Telemetry
}

// NewMetrics creates a shard metrics implementation backed by tel. If tel
// is nil, returns a no-op implementation.
func NewMetrics(tel telemetry.Telemetry) Metrics {
	if tel == nil {
		return &noopMetrics{}
	}
	return &shardMetrics{tel: tel}
}

// NewNoopMetrics creates a no-op shard metrics implementation for testing.
func NewNoopMetrics() Metrics {
	return &noopMetrics{}
}

func (m *shardMetrics) RecordOperation(ctx context.Context, opType string, duration time.Duration, success bool) {
	status := telemetry.StatusSuccess
	if !success {
		status = telemetry.StatusError
	}

	m.tel.RecordHistogram(ctx, "kvi.shard.operation.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentShard),
		attribute.String(telemetry.AttrOperationType, opType),
		attribute.String(telemetry.AttrStatus, status),
	)

	m.tel.RecordCounter(ctx, "kvi.shard.operations.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentShard),
		attribute.String(telemetry.AttrOperationType, opType),
		attribute.String(telemetry.AttrStatus, status),
	)
}

func (m *shardMetrics) Close() error {
	return nil
}

type noopMetrics struct{}

func (n *noopMetrics) RecordOperation(ctx context.Context, opType string, duration time.Duration, success bool) {
}

func (n *noopMetrics) Close() error { return nil }
