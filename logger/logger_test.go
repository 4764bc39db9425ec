package logger

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var _ log.Logger = (*ZapAdapter)(nil)

func TestZapAdapterFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	a := NewZapAdapter(zap.New(core))

	a.Info("namespace ready", "tenant", "acme", "attempt", 2)
	a.Warn("odd", "dangling")
	a.Error("failed", 42, "value")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, map[string]any{"tenant": "acme", "attempt": int64(2)}, entries[0].ContextMap())
	assert.Empty(t, entries[1].Context)
	assert.Equal(t, map[string]any{"unknown_key": "value"}, entries[2].ContextMap())
}

func TestNew(t *testing.T) {
	l := New("debug", "json")
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)

	l = New("nonsense", "text")
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, l.Formatter)
}

func TestNewTemporalLogger(t *testing.T) {
	a, err := NewTemporalLogger("warn")
	require.NoError(t, err)
	assert.NotNil(t, a)
}
