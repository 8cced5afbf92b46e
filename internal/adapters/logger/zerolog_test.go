package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"Error":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestZerologLogger_LevelAndFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(LevelInfo, &buf, false)
	ctx := context.Background()

	l.Debug(ctx, "hidden")
	assert.Zero(t, buf.Len(), "debug must be filtered at info level")

	l.Error(ctx, errors.New("boom"), "order failed", map[string]interface{}{"symbol": "BTCUSDT"})

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, "order failed", line["message"])
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, "BTCUSDT", line["symbol"])
}

func TestZerologLogger_With(t *testing.T) {
	var buf bytes.Buffer
	l := New(LevelDebug, &buf, false).With(map[string]interface{}{"component": "feed"})
	l.Info(context.Background(), "started")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "feed", line["component"])
}
