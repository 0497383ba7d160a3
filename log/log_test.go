package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_Dev(t *testing.T) {
	l, err := New(Config{Dev: true, Level: zapcore.DebugLevel})
	require.NoError(t, err)
	require.NotNil(t, l)
}

func TestNew_Production(t *testing.T) {
	l, err := New(Config{Dev: false, Level: zapcore.InfoLevel})
	require.NoError(t, err)
	require.NotNil(t, l)
}

func TestForReplica_AddsFields(t *testing.T) {
	base := NoOp()
	child := ForReplica(base, 3, "cft")
	assert.NotNil(t, child)
}
