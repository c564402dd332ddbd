package server

import (
	"context"
	"time"

	"github.com/kvi-db/kvi/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Metrics defines the interface for connection and accepter telemetry. All
// metrics are optional - implementations can safely be no-op.
type Metrics interface {
	telemetry.ComponentMetrics

	// RecordConnectionOpened counts an accepted TCP connection.
	RecordConnectionOpened(ctx context.Context)
	// RecordConnectionClosed records a connection's lifetime and the kind
	// of error, if any, that ended it.
	RecordConnectionClosed(ctx context.Context, duration time.Duration, errorType string)
	// RecordPipelineCommand counts one parsed pipeline command by name.
	RecordPipelineCommand(ctx context.Context, command string)
}

type connectionMetrics struct {
	tel telemetry.Telemetry
}

// NewMetrics creates a connection metrics implementation backed by tel. If
// tel is nil, returns a no-op implementation.
func NewMetrics(tel telemetry.Telemetry) Metrics {
	if tel == nil {
		return &noopMetrics{}
	}
	return &connectionMetrics{tel: tel}
}

// NewNoopMetrics creates a no-op connection metrics implementation for
// testing.
func NewNoopMetrics() Metrics {
	return &noopMetrics{}
}

func (m *connectionMetrics) RecordConnectionOpened(ctx context.Context) {
	m.tel.RecordCounter(ctx, "kvi.connection.opened.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentConnection),
	)
}

func (m *connectionMetrics) RecordConnectionClosed(ctx context.Context, duration time.Duration, errorType string) {
	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrComponent, telemetry.ComponentConnection),
	}
	if errorType != "" {
		attrs = append(attrs, attribute.String(telemetry.AttrErrorType, errorType))
	}
	m.tel.RecordHistogram(ctx, "kvi.connection.duration", duration.Seconds(), attrs...)
	m.tel.RecordCounter(ctx, "kvi.connection.closed.total", 1, attrs...)
}

func (m *connectionMetrics) RecordPipelineCommand(ctx context.Context, command string) {
	m.tel.RecordCounter(ctx, "kvi.connection.commands.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentConnection),
		attribute.String(telemetry.AttrOperationName, command),
	)
}

func (m *connectionMetrics) Close() error { return nil }

type noopMetrics struct{}

func (n *noopMetrics) RecordConnectionOpened(ctx context.Context)                              {}
func (n *noopMetrics) RecordConnectionClosed(ctx context.Context, d time.Duration, errType string) {}
func (n *noopMetrics) RecordPipelineCommand(ctx context.Context, command string)                {}
func (n *noopMetrics) Close() error                                                             { return nil }
