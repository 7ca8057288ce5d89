package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"":        zapcore.InfoLevel,
		"DEBUG":   zapcore.DebugLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestCriticalDoesNotPanicInProduction(t *testing.T) {
	log, err := New("info")
	require.NoError(t, err)
	assert.NotPanics(t, func() { Critical(log, "budget exceeded") })
}

func TestCriticalUsesDPanicLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	Critical(zap.New(core), "dropping", zap.String("trace_id", "t1"))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.DPanicLevel, entry.Level)
	assert.Equal(t, "t1", entry.ContextMap()["trace_id"])
}

func TestLevelEncoder(t *testing.T) {
	enc := &sliceEncoder{}
	LevelEncoder(zapcore.DPanicLevel, enc)
	LevelEncoder(zapcore.WarnLevel, enc)
	assert.Equal(t, []string{"CRITICAL", "WARN"}, enc.items)
}

type sliceEncoder struct {
	zapcore.PrimitiveArrayEncoder
	items []string
}

func (s *sliceEncoder) AppendString(v string) { s.items = append(s.items, v) }
