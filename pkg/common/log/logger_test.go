package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStandardLogger(WithOutput(&buf), WithLevel(LevelDebug))

	logger.Debug("this is a debug message")
	assert.Contains(t, buf.String(), "[debug]")
	assert.Contains(t, buf.String(), "this is a debug message")
	buf.Reset()

	logger.Info("this is an info message")
	assert.Contains(t, buf.String(), "[info]")
	buf.Reset()

	logger.Warn("this is a warning message")
	assert.Contains(t, buf.String(), "[warn]")
	buf.Reset()

	logger.Error("this is an error message")
	assert.Contains(t, buf.String(), "[error]")
	buf.Reset()

	withFields := logger.WithFields(map[string]interface{}{
		"component": "shard",
		"count":     123,
	})
	withFields.Info("message with fields")
	output := buf.String()
	assert.Contains(t, output, "component=shard")
	assert.Contains(t, output, "count=123")
	buf.Reset()

	withField := logger.WithField("conn_id", 7)
	withField.Info("message with a field")
	assert.Contains(t, buf.String(), "conn_id=7")
	buf.Reset()

	logger.SetLevel(LevelError)
	logger.Debug("should not appear")
	logger.Info("should not appear")
	logger.Warn("should not appear")
	logger.Error("should appear")
	output = buf.String()
	assert.NotContains(t, output, "should not appear")
	assert.Contains(t, output, "should appear")
	buf.Reset()

	logger.SetLevel(LevelInfo)
	logger.Info("formatted %s with %d params", "message", 2)
	assert.Contains(t, buf.String(), "formatted message with 2 params")
	buf.Reset()

	require.Equal(t, LevelInfo, logger.GetLevel())
}

func TestStandardLoggerNoneSuppressesEverything(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStandardLogger(WithOutput(&buf), WithLevel(LevelNone))

	logger.Error("should never appear")
	assert.Empty(t, buf.String())
}

func TestWithFieldsDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	base := NewStandardLogger(WithOutput(&buf), WithLevel(LevelInfo))

	child := base.WithField("shard", 2)
	base.Info("base message")
	assert.NotContains(t, buf.String(), "shard=2")
	buf.Reset()

	child.Info("child message")
	assert.Contains(t, buf.String(), "shard=2")
}

func TestDefaultLogger(t *testing.T) {
	originalLogger := defaultLogger
	defer func() { defaultLogger = originalLogger }()

	var buf bytes.Buffer
	SetDefaultLogger(NewStandardLogger(WithOutput(&buf), WithLevel(LevelInfo)))

	Info("global info message")
	assert.Contains(t, buf.String(), "[info]")
	assert.Contains(t, buf.String(), "global info message")
	buf.Reset()

	WithField("global", true).Info("global with field")
	assert.Contains(t, buf.String(), "global=true")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug": LevelDebug,
		"info":  LevelInfo,
		"warn":  LevelWarn,
		"error": LevelError,
		"none":  LevelNone,
		"DEBUG": LevelDebug,
	}
	for input, want := range cases {
		got, err := ParseLevel(input)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}
