// ABOUTME: OpenTelemetry exporter factory for creating metric and trace exporters (OTLP, stdout)
// ABOUTME: Handles configuration and creation of various telemetry export destinations

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
)

// createMetricExporters creates metric exporters based on configuration.
func createMetricExporters(cfg Config) ([]metric.Exporter, error) {
	var exporters []metric.Exporter

	for _, exporterName := range cfg.Exporters {
		switch exporterName {
		case "stdout":
			exporter, err := createStdoutMetricExporter()
			if err != nil {
				return nil, fmt.Errorf("failed to create stdout metric exporter: %w", err)
			}
			exporters = append(exporters, exporter)

		default:
			// Skip unsupported metric exporters (otlp doesn't support metrics in this setup)
			continue
		}
	}

	if len(exporters) == 0 {
		// Default to stdout if no valid metric exporters configured
		exporter, err := createStdoutMetricExporter()
		if err != nil {
			return nil, fmt.Errorf("failed to create default stdout metric exporter: %w", err)
		}
		exporters = append(exporters, exporter)
	}

	return exporters, nil
}

// createTraceExporters creates trace exporters based on configuration.
func createTraceExporters(cfg Config) ([]trace.SpanExporter, error) {
	var exporters []trace.SpanExporter

	for _, exporterName := range cfg.Exporters {
		switch exporterName {
		case "otlp":
			exporter, err := createOTLPTraceExporter(cfg)
			if err != nil {
				return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
			}
			exporters = append(exporters, exporter)

		case "stdout":
			exporter, err := createStdoutTraceExporter()
			if err != nil {
				return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
			}
			exporters = append(exporters, exporter)

		default:
			continue
		}
	}

	if len(exporters) == 0 {
		// Default to stdout if no valid trace exporters configured
		exporter, err := createStdoutTraceExporter()
		if err != nil {
			return nil, fmt.Errorf("failed to create default stdout trace exporter: %w", err)
		}
		exporters = append(exporters, exporter)
	}

	return exporters, nil
}

// createStdoutMetricExporter creates a stdout metrics exporter.
func createStdoutMetricExporter() (metric.Exporter, error) {
	return stdoutmetric.New(
		stdoutmetric.WithPrettyPrint(),
	)
}

// createOTLPTraceExporter creates an OTLP trace exporter.
func createOTLPTraceExporter(cfg Config) (trace.SpanExporter, error) {
	ctx := context.Background()
	return otlptracegrpc.New(
		ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(), // Use insecure connection for development
	)
}

// createStdoutTraceExporter creates a stdout trace exporter.
func createStdoutTraceExporter() (trace.SpanExporter, error) {
	return stdouttrace.New(
		stdouttrace.WithPrettyPrint(),
	)
}
