package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestConfigure(t *testing.T) {
	defer Configure("info", true)

	assert.Nil(t, Configure("debug", true))
	assert.Equal(t, zapcore.DebugLevel, level.Level())

	assert.Nil(t, Configure("", false))
	assert.Equal(t, zapcore.InfoLevel, level.Level(), "Empty level should fall back to info")

	assert.NotNil(t, Configure("loud", true), "Unknown level should be rejected")
}

func TestNewLogger(t *testing.T) {
	logg := NewLogger()
	assert.NotNil(t, logg)

	prefixed := Prefixed(logg, "scanner")
	assert.Equal(t, "[scanner] ", prefixed.tag)
	prefixed.Infof("cycle finished in %v", "1s")
}
