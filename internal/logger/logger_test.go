package logger

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSafeHeaders_RedactsCredentials(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/conversations", nil)
	r.Header.Set("Authorization", "Bearer abc123")
	r.Header.Set("Accept", "application/json")

	got := SafeHeaders(r)
	assert.Contains(t, got, "Authorization=<redacted>")
	assert.Contains(t, got, "Accept=application/json")
	assert.NotContains(t, got, "abc123")
}

func TestLogRequest(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	prev := Log
	Log = zap.New(core).Sugar()
	t.Cleanup(func() { Log = prev })

	r := httptest.NewRequest("POST", "/api/messages", nil)
	r.Header.Set("Authorization", "Bearer abc123")
	LogRequest(r, 201, 5*time.Millisecond)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "/api/messages", fields["path"])
	assert.EqualValues(t, 201, fields["status"])
	assert.NotContains(t, fields["headers"], "abc123")
}

func TestInit_Levels(t *testing.T) {
	prev := Log
	t.Cleanup(func() { Log = prev })

	require.NoError(t, Init("warn", true))
	assert.False(t, Log.Desugar().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, Log.Desugar().Core().Enabled(zapcore.WarnLevel))

	require.NoError(t, Init("bogus", false))
	assert.True(t, Log.Desugar().Core().Enabled(zapcore.InfoLevel))
}
