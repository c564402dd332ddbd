// ABOUTME: Telemetry constructor for kvi: validates configuration and returns a no-op Telemetry
// ABOUTME: No meter, tracer, resource or sampler is set up; exporters are not wired in

package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// TelemetryProvider holds the OpenTelemetry SDK handles a provider would
// use. It has no methods and does not implement Telemetry; New never
// constructs one.
type TelemetryProvider struct {
	config         Config
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	meter          metric.Meter
	tracer         oteltrace.Tracer
	resource       *sdkresource.Resource
}

// New returns the Telemetry for cfg. When cfg.Enabled is false it returns
// NewNoop() without validating cfg. When enabled, an invalid cfg is an
// error and a valid one also yields a no-op Telemetry: nothing is recorded
// or exported either way.
func New(cfg Config) (Telemetry, error) {
	if !cfg.Enabled {
		return NewNoop(), nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	// For now, return a no-op implementation until the OpenTelemetry API is properly configured
	// TODO: Implement full OpenTelemetry provider setup
	return NewNoop(), nil
}

// TODO: Implement full OpenTelemetry provider with proper API once interfaces are stable
