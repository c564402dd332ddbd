// ABOUTME: Tests for telemetry provider creation and configuration handling using real provider operations
// ABOUTME: Validates provider initialization, configuration validation, and no-op fallback behavior

package telemetry

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		expectError bool
	}{
		{
			name:        "disabled telemetry returns noop",
			cfg:         Config{Enabled: false},
			expectError: false,
		},
		{
			name: "invalid config returns error",
			cfg: Config{
				Enabled:     true,
				ServiceName: "",
			},
			expectError: true,
		},
		{
			name: "valid enabled config returns noop (current implementation)",
			cfg: Config{
				ServiceName:        "test",
				ServiceVersion:     "1.0.0",
				Enabled:            true,
				Exporters:          []string{"stdout"},
				SampleRate:         1.0,
				OTLPEndpoint:       "http://localhost:4317",
				ExportTimeout:      DefaultConfig().ExportTimeout,
				BatchTimeout:       DefaultConfig().BatchTimeout,
				MaxQueueSize:       DefaultConfig().MaxQueueSize,
				MaxExportBatchSize: DefaultConfig().MaxExportBatchSize,
			},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tel, err := New(tt.cfg)

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, tel)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, tel)

			ctx := context.Background()
			tel.RecordHistogram(ctx, "test", 1.0)
			tel.RecordCounter(ctx, "test", 1)
		})
	}
}

func TestNewWithDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	tel, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, tel)

	ctx := context.Background()
	tel.RecordHistogram(ctx, "test.histogram", 1.5)
	tel.RecordCounter(ctx, "test.counter", 10)

	assert.NoError(t, tel.Shutdown(ctx))
}

func TestNewWithInvalidConfigs(t *testing.T) {
	invalidConfigs := []Config{
		{
			Enabled:     true,
			ServiceName: "",
		},
		{
			Enabled:        true,
			ServiceName:    "test",
			ServiceVersion: "",
		},
		{
			Enabled:        true,
			ServiceName:    "test",
			ServiceVersion: "1.0.0",
			SampleRate:     -0.1,
		},
		{
			Enabled:        true,
			ServiceName:    "test",
			ServiceVersion: "1.0.0",
			SampleRate:     1.1,
		},
	}

	for i, cfg := range invalidConfigs {
		t.Run(fmt.Sprintf("invalid_config_%d", i), func(t *testing.T) {
			tel, err := New(cfg)
			assert.Error(t, err)
			assert.Nil(t, tel)
		})
	}
}
