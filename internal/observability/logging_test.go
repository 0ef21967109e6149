package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/spec-kit/ticket-orchestrator/internal/config"
)

func TestNewLoggerLevels(t *testing.T) {
	tests := []struct {
		name  string
		cfg   config.LoggerConfig
		debug bool
		info  bool
	}{
		{name: "debug json", cfg: config.LoggerConfig{Level: "DEBUG", Format: "json"}, debug: true, info: true},
		{name: "warn console", cfg: config.LoggerConfig{Level: "warn", Format: "console", Service: "ticket-orchestrator"}},
		{name: "unknown level falls back to info", cfg: config.LoggerConfig{Level: "loud"}, info: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			logger, err := NewLogger(tc.cfg)
			require.NoError(t, err)
			assert.Equal(t, tc.debug, logger.Core().Enabled(zapcore.DebugLevel))
			assert.Equal(t, tc.info, logger.Core().Enabled(zapcore.InfoLevel))
			assert.True(t, logger.Core().Enabled(zapcore.ErrorLevel))
		})
	}
}
